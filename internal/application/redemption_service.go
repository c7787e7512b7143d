package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/domain/storefront"
	"github.com/storefront/service-coupon/internal/metrics"
)

// RedemptionService validates coupons at checkout and redeems them when the
// order completes.
type RedemptionService struct {
	templates coupon.TemplateRepository
	instances coupon.InstanceRepository
	products  storefront.ProductDirectory
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *zap.Logger
}

// NewRedemptionService creates a new RedemptionService.
func NewRedemptionService(
	templates coupon.TemplateRepository,
	instances coupon.InstanceRepository,
	products storefront.ProductDirectory,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RedemptionService {
	return &RedemptionService{
		templates: templates,
		instances: instances,
		products:  products,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// ValidateCoupon checks whether buyerID may apply code to the selected line
// item and computes the discount. It never writes. Business rejections are
// returned as an invalid result; errors are infrastructure failures only.
func (s *RedemptionService) ValidateCoupon(ctx context.Context, buyerID uuid.UUID, req ValidateCouponRequest) (*ValidationResultDTO, error) {
	code := coupon.NormalizeCode(req.Code)
	now := s.now()

	inst, err := s.instances.FindByBuyerAndCode(ctx, buyerID, code)
	if errors.Is(err, coupon.ErrInstanceNotFound) {
		return s.reject(code, coupon.ReasonNotFound), nil
	}
	if err != nil {
		return nil, err
	}

	if inst.IsRedeemed() {
		return s.reject(code, coupon.ReasonAlreadyUsed), nil
	}
	if now.After(inst.ExpiresAt()) {
		return s.reject(code, coupon.ReasonExpired), nil
	}

	tmpl, err := s.templates.FindByID(ctx, inst.TemplateID())
	if err != nil {
		return nil, fmt.Errorf("load template for coupon: %w", err)
	}
	if !tmpl.Active() {
		return s.reject(code, coupon.ReasonInactive), nil
	}
	if reason := tmpl.CheckWindow(now); reason != "" {
		return s.reject(code, reason), nil
	}
	if tmpl.UsageExhausted() {
		return s.reject(code, coupon.ReasonUsageLimitReached), nil
	}

	if _, ok := coupon.LineTotal(req.Item.UnitPriceCents, req.Item.Quantity); !ok {
		return s.reject(code, coupon.ReasonInvalidItem), nil
	}

	category, err := s.products.CategoryOf(ctx, req.Item.ProductID)
	if err != nil {
		return nil, fmt.Errorf("resolve product category: %w", err)
	}
	restrictions, err := s.templates.ListRestrictions(ctx, tmpl.ID())
	if err != nil {
		return nil, err
	}
	if reason := coupon.EvaluateRestrictions(restrictions, category); reason != "" {
		return s.reject(code, reason), nil
	}

	discount := tmpl.DiscountFor(req.Item.UnitPriceCents, req.Item.Quantity)
	if req.Totals.SubtotalCents > 0 && discount > req.Totals.SubtotalCents {
		discount = req.Totals.SubtotalCents
	}

	s.metrics.ObserveValidation("")
	return &ValidationResultDTO{
		Valid:         true,
		Code:          code,
		DiscountCents: discount,
		InstanceID:    inst.ID(),
	}, nil
}

func (s *RedemptionService) reject(code string, reason coupon.Reason) *ValidationResultDTO {
	s.metrics.ObserveValidation(reason)
	return &ValidationResultDTO{
		Valid:   false,
		Code:    code,
		Reason:  string(reason),
		Message: reason.Message(),
	}
}

// RedeemCoupon marks the instance used against orderID. Exactly one of any
// number of concurrent callers succeeds; the rest get ErrAlreadyRedeemed. A
// repeat call with the same order succeeds as a replay.
func (s *RedemptionService) RedeemCoupon(ctx context.Context, instanceID, orderID uuid.UUID) (*RedemptionDTO, error) {
	now := s.now()

	updated, err := s.instances.MarkRedeemed(ctx, instanceID, orderID, now)
	if err != nil {
		s.metrics.ObserveRedemption(metrics.ResultError)
		return nil, err
	}
	if updated {
		s.metrics.ObserveRedemption(metrics.ResultRedeemed)
		s.logger.Info("coupon redeemed",
			zap.String("instance_id", instanceID.String()),
			zap.String("order_id", orderID.String()),
		)
		return &RedemptionDTO{InstanceID: instanceID, OrderID: orderID, RedeemedAt: now}, nil
	}

	inst, err := s.instances.FindByID(ctx, instanceID)
	if errors.Is(err, coupon.ErrInstanceNotFound) {
		s.metrics.ObserveRedemption(metrics.ResultNotFound)
		return nil, err
	}
	if err != nil {
		s.metrics.ObserveRedemption(metrics.ResultError)
		return nil, err
	}

	if inst.IsRedeemed() && inst.OrderID() != nil && *inst.OrderID() == orderID {
		s.metrics.ObserveRedemption(metrics.ResultReplayed)
		return &RedemptionDTO{InstanceID: instanceID, OrderID: orderID, RedeemedAt: *inst.RedeemedAt(), Replayed: true}, nil
	}

	s.metrics.ObserveRedemption(metrics.ResultAlreadyUsed)
	s.logger.Info("coupon redemption rejected, already used",
		zap.String("instance_id", instanceID.String()),
		zap.String("order_id", orderID.String()),
	)
	return nil, coupon.ErrAlreadyRedeemed
}

// GetMyCoupons returns the buyer's coupons with their derived state.
func (s *RedemptionService) GetMyCoupons(ctx context.Context, buyerID uuid.UUID) ([]*CouponDTO, error) {
	instances, err := s.instances.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	templates := make(map[uuid.UUID]*coupon.Template)
	dtos := make([]*CouponDTO, len(instances))
	for i, inst := range instances {
		tmpl, ok := templates[inst.TemplateID()]
		if !ok {
			tmpl, err = s.templates.FindByID(ctx, inst.TemplateID())
			if err != nil && !errors.Is(err, coupon.ErrTemplateNotFound) {
				return nil, err
			}
			templates[inst.TemplateID()] = tmpl
		}
		dtos[i] = toCouponDTO(inst, tmpl, now, false)
	}
	return dtos, nil
}
