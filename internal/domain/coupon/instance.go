package coupon

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an instance. Expired is derived from the
// clock and never stored.
type State string

const (
	StateIssued   State = "issued"
	StateRedeemed State = "redeemed"
	StateExpired  State = "expired"
)

// BuyerResolution records how the owning buyer was determined at issuance.
type BuyerResolution string

const (
	ResolutionSessionHint BuyerResolution = "session_hint"
	ResolutionEmail       BuyerResolution = "email"
	// ResolutionRecentSession is the low-confidence fallback: the freshest
	// session near the payment time, which can misattribute a coupon.
	ResolutionRecentSession BuyerResolution = "recent_session"
	ResolutionOrphaned      BuyerResolution = "orphaned"
	// ResolutionManual marks an orphan reconciled by an operator.
	ResolutionManual BuyerResolution = "manual"
)

// LowConfidence reports whether the attribution needs manual review.
func (r BuyerResolution) LowConfidence() bool {
	return r == ResolutionRecentSession || r == ResolutionOrphaned
}

// DefaultValidity is how long an issued coupon can be redeemed.
const DefaultValidity = 30 * 24 * time.Hour

// Instance is one issued coupon.
type Instance struct {
	id                uuid.UUID
	code              string
	templateID        uuid.UUID
	buyerID           *uuid.UUID
	resolution        BuyerResolution
	externalPaymentID string
	payerEmail        string
	issuedAt          time.Time
	expiresAt         time.Time
	redeemedAt        *time.Time
	orderID           *uuid.UUID
	createdAt         time.Time
	updatedAt         time.Time
}

// NewInstance creates an unredeemed instance expiring validity after issuedAt.
// A nil buyerID produces an orphaned instance.
func NewInstance(code string, templateID uuid.UUID, buyerID *uuid.UUID, resolution BuyerResolution, externalPaymentID, payerEmail string, issuedAt time.Time, validity time.Duration) (*Instance, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("coupon code is required")
	}
	if externalPaymentID == "" {
		return nil, fmt.Errorf("external payment id is required")
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	if buyerID == nil {
		resolution = ResolutionOrphaned
	}

	issuedAt = issuedAt.UTC()
	return &Instance{
		id:                uuid.New(),
		code:              code,
		templateID:        templateID,
		buyerID:           buyerID,
		resolution:        resolution,
		externalPaymentID: externalPaymentID,
		payerEmail:        strings.ToLower(strings.TrimSpace(payerEmail)),
		issuedAt:          issuedAt,
		expiresAt:         issuedAt.Add(validity),
		createdAt:         issuedAt,
		updatedAt:         issuedAt,
	}, nil
}

// ReconstructInstance rebuilds an Instance from persistence.
func ReconstructInstance(id uuid.UUID, code string, templateID uuid.UUID, buyerID *uuid.UUID, resolution BuyerResolution, externalPaymentID, payerEmail string, issuedAt, expiresAt time.Time, redeemedAt *time.Time, orderID *uuid.UUID, createdAt, updatedAt time.Time) *Instance {
	return &Instance{
		id: id, code: code, templateID: templateID, buyerID: buyerID, resolution: resolution,
		externalPaymentID: externalPaymentID, payerEmail: payerEmail,
		issuedAt: issuedAt, expiresAt: expiresAt, redeemedAt: redeemedAt, orderID: orderID,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

// StateAt derives the lifecycle state at now. Redeemed wins over expired.
func (i *Instance) StateAt(now time.Time) State {
	if i.redeemedAt != nil {
		return StateRedeemed
	}
	if now.After(i.expiresAt) {
		return StateExpired
	}
	return StateIssued
}

// IsRedeemed reports whether the instance has been used.
func (i *Instance) IsRedeemed() bool { return i.redeemedAt != nil }

// IsOrphaned reports whether no buyer owns the instance.
func (i *Instance) IsOrphaned() bool { return i.buyerID == nil }

// OwnedBy reports whether buyerID owns the instance.
func (i *Instance) OwnedBy(buyerID uuid.UUID) bool {
	return i.buyerID != nil && *i.buyerID == buyerID
}

// AssignBuyer attaches an orphaned instance to a buyer.
func (i *Instance) AssignBuyer(buyerID uuid.UUID, at time.Time) error {
	if i.buyerID != nil {
		return ErrNotOrphaned
	}
	i.buyerID = &buyerID
	i.resolution = ResolutionManual
	i.updatedAt = at.UTC()
	return nil
}

// Getters.
func (i *Instance) ID() uuid.UUID                { return i.id }
func (i *Instance) Code() string                 { return i.code }
func (i *Instance) TemplateID() uuid.UUID        { return i.templateID }
func (i *Instance) BuyerID() *uuid.UUID          { return i.buyerID }
func (i *Instance) Resolution() BuyerResolution  { return i.resolution }
func (i *Instance) ExternalPaymentID() string    { return i.externalPaymentID }
func (i *Instance) PayerEmail() string           { return i.payerEmail }
func (i *Instance) IssuedAt() time.Time          { return i.issuedAt }
func (i *Instance) ExpiresAt() time.Time         { return i.expiresAt }
func (i *Instance) RedeemedAt() *time.Time       { return i.redeemedAt }
func (i *Instance) OrderID() *uuid.UUID          { return i.orderID }
func (i *Instance) CreatedAt() time.Time         { return i.createdAt }
func (i *Instance) UpdatedAt() time.Time         { return i.updatedAt }
