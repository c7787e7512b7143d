package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront/service-coupon/internal/domain/coupon"
)

// LineItemRequest is the cart line a coupon is being applied to.
type LineItemRequest struct {
	ProductID      uuid.UUID `json:"product_id" binding:"required"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
}

// CartTotalsRequest carries the cart totals at validation time.
type CartTotalsRequest struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
}

// ValidateCouponRequest holds data to validate a coupon at checkout.
type ValidateCouponRequest struct {
	Code   string            `json:"code" binding:"required"`
	Item   LineItemRequest   `json:"item"`
	Totals CartTotalsRequest `json:"totals"`
}

// RedeemCouponRequest holds data to redeem a coupon on order completion.
type RedeemCouponRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
}

// AssignBuyerRequest holds data to reconcile an orphaned coupon.
type AssignBuyerRequest struct {
	BuyerID uuid.UUID `json:"buyer_id" binding:"required"`
}

// ValidationResultDTO is the result of validating a coupon. Rejections are
// reported here, not as errors.
type ValidationResultDTO struct {
	Valid         bool      `json:"valid"`
	Code          string    `json:"code"`
	DiscountCents int64     `json:"discount_cents"`
	Reason        string    `json:"reason,omitempty"`
	Message       string    `json:"message,omitempty"`
	InstanceID    uuid.UUID `json:"instance_id,omitempty"`
}

// RedemptionDTO is the result of a successful redemption.
type RedemptionDTO struct {
	InstanceID uuid.UUID `json:"instance_id"`
	OrderID    uuid.UUID `json:"order_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
	// Replayed is set when the coupon had already been redeemed against the
	// same order, e.g. after a lost response.
	Replayed bool `json:"replayed"`
}

// CouponDTO is the API representation of an issued coupon.
type CouponDTO struct {
	ID                uuid.UUID  `json:"id"`
	Code              string     `json:"code"`
	TemplateID        uuid.UUID  `json:"template_id"`
	BuyerID           *uuid.UUID `json:"buyer_id,omitempty"`
	BuyerResolution   string     `json:"buyer_resolution"`
	State             string     `json:"state"`
	DiscountPercent   int        `json:"discount_percent,omitempty"`
	ExternalPaymentID string     `json:"external_payment_id,omitempty"`
	PayerEmail        string     `json:"payer_email,omitempty"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	RedeemedAt        *time.Time `json:"redeemed_at,omitempty"`
	OrderID           *uuid.UUID `json:"order_id,omitempty"`
}

// TemplateDTO is the storefront listing of a purchasable coupon.
type TemplateDTO struct {
	ID              uuid.UUID  `json:"id"`
	Kind            string     `json:"kind"`
	DiscountPercent int        `json:"discount_percent"`
	SalePriceCents  int64      `json:"sale_price_cents"`
	FaceValue       string     `json:"face_value"`
	Description     string     `json:"description,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	Available       bool       `json:"available"`
}

// CouponDetailDTO combines an instance with its template for operators.
type CouponDetailDTO struct {
	Coupon   *CouponDTO   `json:"coupon"`
	Template *TemplateDTO `json:"template"`
}

// FormatCents renders minor units as a fixed two-decimal amount.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func toCouponDTO(i *coupon.Instance, t *coupon.Template, now time.Time, includePayment bool) *CouponDTO {
	dto := &CouponDTO{
		ID:              i.ID(),
		Code:            i.Code(),
		TemplateID:      i.TemplateID(),
		BuyerID:         i.BuyerID(),
		BuyerResolution: string(i.Resolution()),
		State:           string(i.StateAt(now)),
		IssuedAt:        i.IssuedAt(),
		ExpiresAt:       i.ExpiresAt(),
		RedeemedAt:      i.RedeemedAt(),
		OrderID:         i.OrderID(),
	}
	if t != nil {
		dto.DiscountPercent = t.DiscountPercent()
	}
	if includePayment {
		dto.ExternalPaymentID = i.ExternalPaymentID()
		dto.PayerEmail = i.PayerEmail()
	}
	return dto
}

func toTemplateDTO(t *coupon.Template, now time.Time) *TemplateDTO {
	return &TemplateDTO{
		ID:              t.ID(),
		Kind:            string(t.Kind()),
		DiscountPercent: t.DiscountPercent(),
		SalePriceCents:  t.SalePriceCents(),
		FaceValue:       FormatCents(t.SalePriceCents()),
		Description:     t.Description(),
		ValidFrom:       t.ValidFrom(),
		ValidUntil:      t.ValidUntil(),
		Available:       t.Active() && t.CheckWindow(now) == "" && !t.UsageExhausted(),
	}
}
