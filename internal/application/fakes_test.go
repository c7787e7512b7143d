package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/domain/storefront"
)

// memTemplates is an in-memory coupon.TemplateRepository.
type memTemplates struct {
	mu           sync.Mutex
	templates    map[uuid.UUID]*coupon.Template
	restrictions map[uuid.UUID][]coupon.Restriction
	uses         map[uuid.UUID]int
}

func newMemTemplates(ts ...*coupon.Template) *memTemplates {
	m := &memTemplates{
		templates:    make(map[uuid.UUID]*coupon.Template),
		restrictions: make(map[uuid.UUID][]coupon.Restriction),
		uses:         make(map[uuid.UUID]int),
	}
	for _, t := range ts {
		m.put(t)
	}
	return m
}

func (m *memTemplates) put(t *coupon.Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID()] = t
}

func (m *memTemplates) restrict(templateID uuid.UUID, kind coupon.RestrictionKind, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restrictions[templateID] = append(m.restrictions[templateID], coupon.Restriction{
		ID: uuid.New(), TemplateID: templateID, CategoryID: category, Kind: kind,
	})
}

func (m *memTemplates) withUses(t *coupon.Template) *coupon.Template {
	uses := t.CurrentUses() + m.uses[t.ID()]
	return coupon.ReconstructTemplate(t.ID(), t.Kind(), t.DiscountPercent(), t.SalePriceCents(), t.Active(),
		t.ValidFrom(), t.ValidUntil(), t.MaxUses(), uses, t.Description(), t.CreatedAt(), t.UpdatedAt())
}

func (m *memTemplates) FindActiveBySalePrice(_ context.Context, amount int64) (*coupon.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var match *coupon.Template
	for _, t := range m.templates {
		if t.Active() && t.SalePriceCents() == amount {
			if match == nil || t.CreatedAt().Before(match.CreatedAt()) {
				match = t
			}
		}
	}
	if match == nil {
		return nil, coupon.ErrTemplateNotFound
	}
	return m.withUses(match), nil
}

func (m *memTemplates) FindByID(_ context.Context, id uuid.UUID) (*coupon.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, coupon.ErrTemplateNotFound
	}
	return m.withUses(t), nil
}

func (m *memTemplates) ListRestrictions(_ context.Context, id uuid.UUID) ([]coupon.Restriction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]coupon.Restriction(nil), m.restrictions[id]...), nil
}

func (m *memTemplates) ListActive(_ context.Context) ([]*coupon.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*coupon.Template
	for _, t := range m.templates {
		if t.Active() {
			out = append(out, m.withUses(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SalePriceCents() < out[j].SalePriceCents() })
	return out, nil
}

func (m *memTemplates) incrementUses(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uses[id]++
}

// memInstances is an in-memory coupon.InstanceRepository that enforces the
// same unique constraints as the database.
type memInstances struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*coupon.Instance
	templates *memTemplates

	// createHook runs before each insert, inside the lock.
	createHook func(inst *coupon.Instance) error
	creates    int
}

func newMemInstances(templates *memTemplates) *memInstances {
	return &memInstances{byID: make(map[uuid.UUID]*coupon.Instance), templates: templates}
}

func clone(i *coupon.Instance) *coupon.Instance {
	return coupon.ReconstructInstance(i.ID(), i.Code(), i.TemplateID(), i.BuyerID(), i.Resolution(),
		i.ExternalPaymentID(), i.PayerEmail(), i.IssuedAt(), i.ExpiresAt(), i.RedeemedAt(), i.OrderID(),
		i.CreatedAt(), i.UpdatedAt())
}

func (m *memInstances) Create(_ context.Context, inst *coupon.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createHook != nil {
		if err := m.createHook(inst); err != nil {
			return err
		}
	}
	for _, existing := range m.byID {
		if existing.ExternalPaymentID() == inst.ExternalPaymentID() {
			return coupon.ErrDuplicatePayment
		}
		if existing.Code() == inst.Code() {
			return coupon.ErrDuplicateCode
		}
	}
	m.byID[inst.ID()] = clone(inst)
	return nil
}

func (m *memInstances) find(pred func(*coupon.Instance) bool) (*coupon.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.byID {
		if pred(i) {
			return clone(i), nil
		}
	}
	return nil, coupon.ErrInstanceNotFound
}

func (m *memInstances) FindByID(_ context.Context, id uuid.UUID) (*coupon.Instance, error) {
	return m.find(func(i *coupon.Instance) bool { return i.ID() == id })
}

func (m *memInstances) FindByCode(_ context.Context, code string) (*coupon.Instance, error) {
	code = coupon.NormalizeCode(code)
	return m.find(func(i *coupon.Instance) bool { return i.Code() == code })
}

func (m *memInstances) FindByBuyerAndCode(_ context.Context, buyerID uuid.UUID, code string) (*coupon.Instance, error) {
	code = coupon.NormalizeCode(code)
	return m.find(func(i *coupon.Instance) bool { return i.OwnedBy(buyerID) && i.Code() == code })
}

func (m *memInstances) FindByExternalPaymentID(_ context.Context, id string) (*coupon.Instance, error) {
	return m.find(func(i *coupon.Instance) bool { return i.ExternalPaymentID() == id })
}

func (m *memInstances) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.byID {
		if i.Code() == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memInstances) list(pred func(*coupon.Instance) bool) []*coupon.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*coupon.Instance
	for _, i := range m.byID {
		if pred(i) {
			out = append(out, clone(i))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].IssuedAt().Before(out[b].IssuedAt()) })
	return out
}

func (m *memInstances) ListByBuyer(_ context.Context, buyerID uuid.UUID) ([]*coupon.Instance, error) {
	return m.list(func(i *coupon.Instance) bool { return i.OwnedBy(buyerID) }), nil
}

func (m *memInstances) ListOrphaned(_ context.Context, limit int) ([]*coupon.Instance, error) {
	out := m.list(func(i *coupon.Instance) bool { return i.IsOrphaned() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memInstances) MarkRedeemed(_ context.Context, id, orderID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.byID[id]
	if !ok || inst.IsRedeemed() {
		return false, nil
	}
	at = at.UTC()
	m.byID[id] = coupon.ReconstructInstance(inst.ID(), inst.Code(), inst.TemplateID(), inst.BuyerID(), inst.Resolution(),
		inst.ExternalPaymentID(), inst.PayerEmail(), inst.IssuedAt(), inst.ExpiresAt(), &at, &orderID, inst.CreatedAt(), at)
	if m.templates != nil {
		m.templates.incrementUses(inst.TemplateID())
	}
	return true, nil
}

func (m *memInstances) AssignBuyer(_ context.Context, id, buyerID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	return inst.AssignBuyer(buyerID, at) == nil, nil
}

// memUsers is an in-memory storefront.UserDirectory.
type memUsers struct {
	users []storefront.User
	err   error
}

func (m *memUsers) FindByID(_ context.Context, id uuid.UUID) (*storefront.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*storefront.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

// memSessions is an in-memory storefront.SessionDirectory.
type memSessions struct {
	sessions []storefront.Session
}

func (m *memSessions) MostRecentActive(_ context.Context, at time.Time, window time.Duration) (*storefront.Session, error) {
	var best *storefront.Session
	for i := range m.sessions {
		s := m.sessions[i]
		if s.LastSeenAt.Before(at.Add(-window)) || s.LastSeenAt.After(at.Add(window)) {
			continue
		}
		if best == nil || s.LastSeenAt.After(best.LastSeenAt) {
			best = &s
		}
	}
	return best, nil
}

// memProducts is an in-memory storefront.ProductDirectory.
type memProducts map[uuid.UUID]string

func (m memProducts) CategoryOf(_ context.Context, id uuid.UUID) (string, error) {
	return m[id], nil
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

type notification struct {
	to, code, faceValue string
}

func (n *recordingNotifier) SendCouponNotification(_ context.Context, to, code, faceValue string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{to, code, faceValue})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// scriptedCodes returns the scripted codes in order, then random ones.
type scriptedCodes struct {
	mu     sync.Mutex
	codes  []string
	random coupon.CodeGenerator
}

func (s *scriptedCodes) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) > 0 {
		c := s.codes[0]
		s.codes = s.codes[1:]
		return c, nil
	}
	if s.random == nil {
		return "", errors.New("no more codes")
	}
	return s.random.Generate()
}
