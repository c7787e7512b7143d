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

// TemplateModel is the GORM model for the coupon_templates table.
type TemplateModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Kind            string     `gorm:"type:varchar(20);not null"`
	DiscountPercent int        `gorm:"not null"`
	SalePriceCents  int64      `gorm:"not null;index"`
	Active          bool       `gorm:"not null;default:true"`
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	MaxUses         int        `gorm:"not null;default:0"`
	CurrentUses     int        `gorm:"not null;default:0"`
	Description     string     `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time  `gorm:"not null"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

// TableName sets the table name.
func (TemplateModel) TableName() string { return "coupon_templates" }

// RestrictionModel is the GORM model for the category_restrictions table.
type RestrictionModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TemplateID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_category_restrictions"`
	CategoryID string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_category_restrictions"`
	Kind       string    `gorm:"type:varchar(20);not null;uniqueIndex:uq_category_restrictions"`
}

// TableName sets the table name.
func (RestrictionModel) TableName() string { return "category_restrictions" }

// TemplateRepository implements coupon.TemplateRepository using GORM.
// Templates are read on every call; nothing is cached, so edits to a
// template's window or active flag apply to the next validation.
type TemplateRepository struct {
	db      *gorm.DB
	retrier *database.Retrier
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *gorm.DB, retrier *database.Retrier) *TemplateRepository {
	return &TemplateRepository{db: db, retrier: retrier}
}

// FindActiveBySalePrice returns the active template whose sale price equals
// amountCents exactly. When several match, the oldest wins, ties broken by id.
func (r *TemplateRepository) FindActiveBySalePrice(ctx context.Context, amountCents int64) (*coupon.Template, error) {
	model, err := database.Do(ctx, r.retrier, "template.find_by_sale_price", func(ctx context.Context) (*TemplateModel, error) {
		var m TemplateModel
		err := r.db.WithContext(ctx).
			Where("active = ? AND sale_price_cents = ?", true, amountCents).
			Order("created_at ASC").
			Order("id ASC").
			First(&m).Error
		return &m, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", coupon.ErrTemplateNotFound, amountCents)
		}
		return nil, fmt.Errorf("find template by sale price: %w", err)
	}
	return toTemplateDomain(model), nil
}

// FindByID returns a template by ID regardless of its active flag.
func (r *TemplateRepository) FindByID(ctx context.Context, id uuid.UUID) (*coupon.Template, error) {
	model, err := database.Do(ctx, r.retrier, "template.find_by_id", func(ctx context.Context) (*TemplateModel, error) {
		var m TemplateModel
		err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
		return &m, err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, coupon.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("find template: %w", err)
	}
	return toTemplateDomain(model), nil
}

// ListRestrictions returns the category restrictions of a template.
func (r *TemplateRepository) ListRestrictions(ctx context.Context, templateID uuid.UUID) ([]coupon.Restriction, error) {
	models, err := database.Do(ctx, r.retrier, "template.list_restrictions", func(ctx context.Context) ([]RestrictionModel, error) {
		var ms []RestrictionModel
		err := r.db.WithContext(ctx).Where("template_id = ?", templateID).Find(&ms).Error
		return ms, err
	})
	if err != nil {
		return nil, fmt.Errorf("list restrictions: %w", err)
	}

	restrictions := make([]coupon.Restriction, len(models))
	for i, m := range models {
		restrictions[i] = coupon.Restriction{
			ID:         m.ID,
			TemplateID: m.TemplateID,
			CategoryID: m.CategoryID,
			Kind:       coupon.RestrictionKind(m.Kind),
		}
	}
	return restrictions, nil
}

// ListActive returns all active templates ordered by sale price.
func (r *TemplateRepository) ListActive(ctx context.Context) ([]*coupon.Template, error) {
	models, err := database.Do(ctx, r.retrier, "template.list_active", func(ctx context.Context) ([]TemplateModel, error) {
		var ms []TemplateModel
		err := r.db.WithContext(ctx).
			Where("active = ?", true).
			Order("sale_price_cents ASC").
			Find(&ms).Error
		return ms, err
	})
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}

	templates := make([]*coupon.Template, len(models))
	for i := range models {
		templates[i] = toTemplateDomain(&models[i])
	}
	return templates, nil
}

func toTemplateDomain(m *TemplateModel) *coupon.Template {
	return coupon.ReconstructTemplate(
		m.ID, coupon.Kind(m.Kind), m.DiscountPercent, m.SalePriceCents, m.Active,
		m.ValidFrom, m.ValidUntil, m.MaxUses, m.CurrentUses, m.Description,
		m.CreatedAt, m.UpdatedAt,
	)
}

// ToTemplateModel maps a template to its persistence model. Used by seeding
// and tests.
func ToTemplateModel(t *coupon.Template) TemplateModel {
	return TemplateModel{
		ID:              t.ID(),
		Kind:            string(t.Kind()),
		DiscountPercent: t.DiscountPercent(),
		SalePriceCents:  t.SalePriceCents(),
		Active:          t.Active(),
		ValidFrom:       t.ValidFrom(),
		ValidUntil:      t.ValidUntil(),
		MaxUses:         t.MaxUses(),
		CurrentUses:     t.CurrentUses(),
		Description:     t.Description(),
		CreatedAt:       t.CreatedAt(),
		UpdatedAt:       t.UpdatedAt(),
	}
}
