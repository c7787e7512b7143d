package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/domain/storefront"
	"github.com/storefront/service-coupon/internal/platform/domain"
)

const defaultOrphanLimit = 100

// CouponAdminService supports manual reconciliation of coupons.
type CouponAdminService struct {
	templates coupon.TemplateRepository
	instances coupon.InstanceRepository
	users     storefront.UserDirectory
	now       func() time.Time
	logger    *zap.Logger
}

// NewCouponAdminService creates a new CouponAdminService.
func NewCouponAdminService(
	templates coupon.TemplateRepository,
	instances coupon.InstanceRepository,
	users storefront.UserDirectory,
	logger *zap.Logger,
) *CouponAdminService {
	return &CouponAdminService{
		templates: templates,
		instances: instances,
		users:     users,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// ListOrphans returns coupons that were issued without a buyer.
func (s *CouponAdminService) ListOrphans(ctx context.Context, limit int) ([]*CouponDTO, error) {
	if limit <= 0 {
		limit = defaultOrphanLimit
	}
	instances, err := s.instances.ListOrphaned(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	dtos := make([]*CouponDTO, len(instances))
	for i, inst := range instances {
		dtos[i] = toCouponDTO(inst, nil, now, true)
	}
	return dtos, nil
}

// AssignBuyer attaches an orphaned coupon to a registered buyer. Assigning
// the same buyer twice is a no-op.
func (s *CouponAdminService) AssignBuyer(ctx context.Context, instanceID, buyerID uuid.UUID) (*CouponDTO, error) {
	user, err := s.users.FindByID(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.NewNotFoundError("buyer", buyerID.String())
	}

	updated, err := s.instances.AssignBuyer(ctx, instanceID, buyerID, s.now())
	if err != nil {
		return nil, err
	}

	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !updated && !inst.OwnedBy(buyerID) {
		return nil, coupon.ErrNotOrphaned
	}

	if updated {
		s.logger.Info("orphaned coupon assigned",
			zap.String("instance_id", instanceID.String()),
			zap.String("buyer_id", buyerID.String()),
		)
	}
	return toCouponDTO(inst, nil, s.now(), true), nil
}

// InspectCoupon returns a coupon and its template by code.
func (s *CouponAdminService) InspectCoupon(ctx context.Context, code string) (*CouponDetailDTO, error) {
	inst, err := s.instances.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tmpl, err := s.templates.FindByID(ctx, inst.TemplateID())
	if err != nil && !errors.Is(err, coupon.ErrTemplateNotFound) {
		return nil, err
	}

	detail := &CouponDetailDTO{Coupon: toCouponDTO(inst, tmpl, now, true)}
	if tmpl != nil {
		detail.Template = toTemplateDTO(tmpl, now)
	}
	return detail, nil
}
