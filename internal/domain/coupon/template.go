package coupon

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"
)

// Kind is the plan a template is sold as.
type Kind string

const (
	KindBasic   Kind = "basic"
	KindPremium Kind = "premium"
	KindGift    Kind = "gift"
)

// Valid reports whether k is one of the known plan kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBasic, KindPremium, KindGift:
		return true
	}
	return false
}

// Template is the catalog entry a sold coupon is issued from.
type Template struct {
	id              uuid.UUID
	kind            Kind
	discountPercent int
	salePriceCents  int64
	active          bool
	validFrom       *time.Time
	validUntil      *time.Time
	maxUses         int
	currentUses     int
	description     string
	createdAt       time.Time
	updatedAt       time.Time
}

// NewTemplate creates an active template. maxUses of zero means unlimited.
func NewTemplate(kind Kind, discountPercent int, salePriceCents int64, validFrom, validUntil *time.Time, maxUses int, description string) (*Template, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid template kind: %s", kind)
	}
	if discountPercent < 0 || discountPercent > 100 {
		return nil, fmt.Errorf("discount percent must be within 0..100, got %d", discountPercent)
	}
	if salePriceCents <= 0 {
		return nil, fmt.Errorf("sale price must be positive")
	}
	if validFrom != nil && validUntil != nil && validUntil.Before(*validFrom) {
		return nil, fmt.Errorf("valid_until must not be before valid_from")
	}
	if maxUses < 0 {
		return nil, fmt.Errorf("max uses cannot be negative")
	}

	now := time.Now().UTC()
	return &Template{
		id:              uuid.New(),
		kind:            kind,
		discountPercent: discountPercent,
		salePriceCents:  salePriceCents,
		active:          true,
		validFrom:       validFrom,
		validUntil:      validUntil,
		maxUses:         maxUses,
		description:     description,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

// ReconstructTemplate rebuilds a Template from persistence.
func ReconstructTemplate(id uuid.UUID, kind Kind, discountPercent int, salePriceCents int64, active bool, validFrom, validUntil *time.Time, maxUses, currentUses int, description string, createdAt, updatedAt time.Time) *Template {
	return &Template{
		id: id, kind: kind, discountPercent: discountPercent, salePriceCents: salePriceCents,
		active: active, validFrom: validFrom, validUntil: validUntil,
		maxUses: maxUses, currentUses: currentUses, description: description,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

// CheckWindow evaluates the template's own validity window at now. It is
// independent of any instance expiration and is re-read on every attempt.
func (t *Template) CheckWindow(now time.Time) Reason {
	if t.validFrom != nil && now.Before(*t.validFrom) {
		return ReasonNotYetValid
	}
	if t.validUntil != nil && now.After(*t.validUntil) {
		return ReasonWindowExpired
	}
	return ""
}

// UsageExhausted reports whether a usage cap is set and has been reached.
func (t *Template) UsageExhausted() bool {
	return t.maxUses > 0 && t.currentUses >= t.maxUses
}

// LineTotal returns unitPrice * quantity. ok is false for non-positive inputs
// and for totals that do not fit in an int64.
func LineTotal(unitPriceCents int64, quantity int) (int64, bool) {
	if unitPriceCents <= 0 || quantity <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(unitPriceCents), uint64(quantity))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// DiscountFor returns floor(unitPrice * quantity * percent / 100), or 0 when
// the line total is not representable. The percentage is applied in 128 bits,
// so the result never exceeds the line total.
func (t *Template) DiscountFor(unitPriceCents int64, quantity int) int64 {
	line, ok := LineTotal(unitPriceCents, quantity)
	if !ok {
		return 0
	}
	hi, lo := bits.Mul64(uint64(line), uint64(t.discountPercent))
	q, _ := bits.Div64(hi, lo, 100)
	return int64(q)
}

// Getters.
func (t *Template) ID() uuid.UUID          { return t.id }
func (t *Template) Kind() Kind             { return t.kind }
func (t *Template) DiscountPercent() int   { return t.discountPercent }
func (t *Template) SalePriceCents() int64  { return t.salePriceCents }
func (t *Template) Active() bool           { return t.active }
func (t *Template) ValidFrom() *time.Time  { return t.validFrom }
func (t *Template) ValidUntil() *time.Time { return t.validUntil }
func (t *Template) MaxUses() int           { return t.maxUses }
func (t *Template) CurrentUses() int       { return t.currentUses }
func (t *Template) Description() string    { return t.description }
func (t *Template) CreatedAt() time.Time   { return t.createdAt }
func (t *Template) UpdatedAt() time.Time   { return t.updatedAt }
