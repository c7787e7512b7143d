package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/platform/database"
)

// Constraint names the instance table reports on unique violations.
const (
	constraintInstanceCode      = "uq_coupon_instances_code"
	constraintInstancePayment   = "uq_coupon_instances_external_payment_id"
	constraintInstanceBuyerCode = "uq_coupon_instances_buyer_code"
)

// InstanceModel is the GORM model for the coupon_instances table.
type InstanceModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Code              string     `gorm:"type:varchar(16);not null;uniqueIndex:uq_coupon_instances_code;uniqueIndex:uq_coupon_instances_buyer_code,priority:2"`
	TemplateID        uuid.UUID  `gorm:"type:uuid;not null;index"`
	BuyerID           *uuid.UUID `gorm:"type:uuid;uniqueIndex:uq_coupon_instances_buyer_code,priority:1"`
	BuyerResolution   string     `gorm:"type:varchar(20);not null"`
	ExternalPaymentID string     `gorm:"type:varchar(255);not null;uniqueIndex:uq_coupon_instances_external_payment_id"`
	PayerEmail        string     `gorm:"type:varchar(255);not null;default:''"`
	IssuedAt          time.Time  `gorm:"not null"`
	ExpiresAt         time.Time  `gorm:"not null"`
	RedeemedAt        *time.Time
	OrderID           *uuid.UUID `gorm:"type:uuid"`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

// TableName sets the table name.
func (InstanceModel) TableName() string { return "coupon_instances" }

// InstanceRepository implements coupon.InstanceRepository using GORM.
type InstanceRepository struct {
	db      *gorm.DB
	retrier *database.Retrier
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *gorm.DB, retrier *database.Retrier) *InstanceRepository {
	return &InstanceRepository{db: db, retrier: retrier}
}

// errPaymentAlreadyIssued stops a retried insert whose predecessor may have
// committed. It is not a driver error, so the retrier treats it as permanent.
var errPaymentAlreadyIssued = errors.New("payment already has a coupon")

// Create inserts a new instance. Retried attempts re-check the payment id
// first, so an insert whose commit was lost with the connection is reported
// as ErrDuplicatePayment instead of being repeated.
func (r *InstanceRepository) Create(ctx context.Context, inst *coupon.Instance) error {
	model := toInstanceModel(inst)
	attempt := 0
	err := r.retrier.Exec(ctx, "instance.create", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			var n int64
			if err := r.db.WithContext(ctx).Model(&InstanceModel{}).
				Where("external_payment_id = ?", model.ExternalPaymentID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return errPaymentAlreadyIssued
			}
		}
		return r.db.WithContext(ctx).Create(&model).Error
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errPaymentAlreadyIssued) {
		return coupon.ErrDuplicatePayment
	}

	if constraint, ok := database.UniqueViolation(err); ok {
		switch constraint {
		case constraintInstancePayment:
			return coupon.ErrDuplicatePayment
		case constraintInstanceCode, constraintInstanceBuyerCode:
			return coupon.ErrDuplicateCode
		}
	}
	return fmt.Errorf("create coupon instance: %w", err)
}

// FindByID returns an instance by ID.
func (r *InstanceRepository) FindByID(ctx context.Context, id uuid.UUID) (*coupon.Instance, error) {
	return r.findOne(ctx, "instance.find_by_id", "id = ?", id)
}

// FindByCode returns an instance by its redemption code.
func (r *InstanceRepository) FindByCode(ctx context.Context, code string) (*coupon.Instance, error) {
	return r.findOne(ctx, "instance.find_by_code", "code = ?", coupon.NormalizeCode(code))
}

// FindByBuyerAndCode returns the buyer's instance with code. Codes owned by
// other buyers are reported as not found.
func (r *InstanceRepository) FindByBuyerAndCode(ctx context.Context, buyerID uuid.UUID, code string) (*coupon.Instance, error) {
	return r.findOne(ctx, "instance.find_by_buyer_code", "buyer_id = ? AND code = ?", buyerID, coupon.NormalizeCode(code))
}

// FindByExternalPaymentID returns the instance issued for a payment.
func (r *InstanceRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*coupon.Instance, error) {
	return r.findOne(ctx, "instance.find_by_payment", "external_payment_id = ?", externalPaymentID)
}

// CodeExists reports whether any instance already uses code.
func (r *InstanceRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	count, err := database.Do(ctx, r.retrier, "instance.code_exists", func(ctx context.Context) (int64, error) {
		var n int64
		err := r.db.WithContext(ctx).Model(&InstanceModel{}).Where("code = ?", code).Count(&n).Error
		return n, err
	})
	if err != nil {
		return false, fmt.Errorf("check code exists: %w", err)
	}
	return count > 0, nil
}

// ListByBuyer returns a buyer's instances, newest first.
func (r *InstanceRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*coupon.Instance, error) {
	return r.findMany(ctx, "instance.list_by_buyer", func(db *gorm.DB) *gorm.DB {
		return db.Where("buyer_id = ?", buyerID).Order("issued_at DESC")
	})
}

// ListOrphaned returns instances without a buyer, oldest first.
func (r *InstanceRepository) ListOrphaned(ctx context.Context, limit int) ([]*coupon.Instance, error) {
	return r.findMany(ctx, "instance.list_orphaned", func(db *gorm.DB) *gorm.DB {
		q := db.Where("buyer_id IS NULL").Order("issued_at ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
}

// MarkRedeemed performs the guarded redemption update and increments the
// template's use counter in one transaction.
func (r *InstanceRepository) MarkRedeemed(ctx context.Context, id, orderID uuid.UUID, at time.Time) (bool, error) {
	at = at.UTC()
	updated, err := database.Do(ctx, r.retrier, "instance.mark_redeemed", func(ctx context.Context) (bool, error) {
		var rows int64
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&InstanceModel{}).
				Where("id = ? AND redeemed_at IS NULL", id).
				Updates(map[string]interface{}{
					"redeemed_at": at,
					"order_id":    orderID,
					"updated_at":  at,
				})
			if res.Error != nil {
				return res.Error
			}
			rows = res.RowsAffected
			if rows == 0 {
				return nil
			}
			return tx.Exec(
				`UPDATE coupon_templates SET current_uses = current_uses + 1, updated_at = ?
				 WHERE id = (SELECT template_id FROM coupon_instances WHERE id = ?)`,
				at, id,
			).Error
		})
		return rows > 0, err
	})
	if err != nil {
		return false, fmt.Errorf("mark coupon redeemed: %w", err)
	}
	return updated, nil
}

// AssignBuyer attaches a buyer to an orphaned instance.
func (r *InstanceRepository) AssignBuyer(ctx context.Context, id, buyerID uuid.UUID, at time.Time) (bool, error) {
	updated, err := database.Do(ctx, r.retrier, "instance.assign_buyer", func(ctx context.Context) (bool, error) {
		res := r.db.WithContext(ctx).Model(&InstanceModel{}).
			Where("id = ? AND buyer_id IS NULL", id).
			Updates(map[string]interface{}{
				"buyer_id":         buyerID,
				"buyer_resolution": string(coupon.ResolutionManual),
				"updated_at":       at.UTC(),
			})
		return res.RowsAffected > 0, res.Error
	})
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return false, coupon.ErrDuplicateCode
		}
		return false, fmt.Errorf("assign coupon buyer: %w", err)
	}
	return updated, nil
}

func (r *InstanceRepository) findOne(ctx context.Context, operation, query string, args ...interface{}) (*coupon.Instance, error) {
	model, err := database.Do(ctx, r.retrier, operation, func(ctx context.Context) (*InstanceModel, error) {
		var m InstanceModel
		err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error
		return &m, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, coupon.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("find coupon instance: %w", err)
	}
	return toInstanceDomain(model), nil
}

func (r *InstanceRepository) findMany(ctx context.Context, operation string, scope func(*gorm.DB) *gorm.DB) ([]*coupon.Instance, error) {
	models, err := database.Do(ctx, r.retrier, operation, func(ctx context.Context) ([]InstanceModel, error) {
		var ms []InstanceModel
		err := scope(r.db.WithContext(ctx)).Find(&ms).Error
		return ms, err
	})
	if err != nil {
		return nil, fmt.Errorf("list coupon instances: %w", err)
	}

	instances := make([]*coupon.Instance, len(models))
	for i := range models {
		instances[i] = toInstanceDomain(&models[i])
	}
	return instances, nil
}

func toInstanceModel(i *coupon.Instance) InstanceModel {
	return InstanceModel{
		ID:                i.ID(),
		Code:              i.Code(),
		TemplateID:        i.TemplateID(),
		BuyerID:           i.BuyerID(),
		BuyerResolution:   string(i.Resolution()),
		ExternalPaymentID: i.ExternalPaymentID(),
		PayerEmail:        i.PayerEmail(),
		IssuedAt:          i.IssuedAt(),
		ExpiresAt:         i.ExpiresAt(),
		RedeemedAt:        i.RedeemedAt(),
		OrderID:           i.OrderID(),
		CreatedAt:         i.CreatedAt(),
		UpdatedAt:         i.UpdatedAt(),
	}
}

func toInstanceDomain(m *InstanceModel) *coupon.Instance {
	return coupon.ReconstructInstance(
		m.ID, m.Code, m.TemplateID, m.BuyerID, coupon.BuyerResolution(m.BuyerResolution),
		m.ExternalPaymentID, m.PayerEmail,
		m.IssuedAt, m.ExpiresAt, m.RedeemedAt, m.OrderID,
		m.CreatedAt, m.UpdatedAt,
	)
}
