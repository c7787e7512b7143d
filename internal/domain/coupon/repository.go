package coupon

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TemplateRepository reads the coupon catalog.
type TemplateRepository interface {
	// FindActiveBySalePrice returns the active template selling for exactly
	// amountCents, or ErrTemplateNotFound.
	FindActiveBySalePrice(ctx context.Context, amountCents int64) (*Template, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Template, error)
	ListRestrictions(ctx context.Context, templateID uuid.UUID) ([]Restriction, error)
	ListActive(ctx context.Context) ([]*Template, error)
}

// InstanceRepository persists issued coupons.
type InstanceRepository interface {
	// Create inserts a new instance. A clash on the payment id yields
	// ErrDuplicatePayment, a clash on the code ErrDuplicateCode.
	Create(ctx context.Context, inst *Instance) error
	FindByID(ctx context.Context, id uuid.UUID) (*Instance, error)
	FindByCode(ctx context.Context, code string) (*Instance, error)
	FindByBuyerAndCode(ctx context.Context, buyerID uuid.UUID, code string) (*Instance, error)
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*Instance, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*Instance, error)
	ListOrphaned(ctx context.Context, limit int) ([]*Instance, error)
	// MarkRedeemed sets the redemption timestamp and order only while the
	// instance is unredeemed, and bumps the template's use counter in the same
	// transaction. It reports whether a row was updated.
	MarkRedeemed(ctx context.Context, id, orderID uuid.UUID, at time.Time) (bool, error)
	// AssignBuyer sets the buyer only while the instance is orphaned.
	AssignBuyer(ctx context.Context, id, buyerID uuid.UUID, at time.Time) (bool, error)
}
