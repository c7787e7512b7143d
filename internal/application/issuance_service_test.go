package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/domain/payment"
	"github.com/storefront/service-coupon/internal/domain/storefront"
	"github.com/storefront/service-coupon/internal/metrics"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type issuanceFixture struct {
	svc       *IssuanceService
	templates *memTemplates
	instances *memInstances
	users     *memUsers
	sessions  *memSessions
	codes     *scriptedCodes
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	template  *coupon.Template
}

func newIssuanceFixture(t *testing.T, cfg IssuanceConfig) *issuanceFixture {
	t.Helper()

	tmpl, err := coupon.NewTemplate(coupon.KindBasic, 50, 1000, nil, nil, 0, "half off")
	require.NoError(t, err)

	f := &issuanceFixture{
		templates: newMemTemplates(tmpl),
		users:     &memUsers{},
		sessions:  &memSessions{},
		codes:     &scriptedCodes{random: coupon.NewRandomCodeGenerator(coupon.DefaultCodeLength)},
		notifier:  &recordingNotifier{},
		metrics:   metrics.New(prometheus.NewRegistry()),
		template:  tmpl,
	}
	f.instances = newMemInstances(f.templates)
	f.svc = NewIssuanceService(f.templates, f.instances, f.users, f.sessions, f.codes, f.notifier, f.metrics, cfg, zap.NewNop())
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func confirmation(paymentID string, amount int64) payment.Confirmation {
	return payment.Confirmation{
		Provider:          "mock",
		ExternalPaymentID: paymentID,
		PaidAmountCents:   amount,
		OccurredAt:        fixedNow,
	}
}

func TestIssueCoupon_ResolvesBuyerFromHint(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	buyer := storefront.User{ID: uuid.New(), Email: "buyer@example.com"}
	f.users.users = []storefront.User{buyer}

	c := confirmation("pi_1", 1000)
	c.BuyerHint = &buyer.ID

	result, err := f.svc.IssueCoupon(context.Background(), c)
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, coupon.ResolutionSessionHint, result.Resolution)
	require.NotNil(t, result.Instance.BuyerID())
	assert.Equal(t, buyer.ID, *result.Instance.BuyerID())
	assert.Equal(t, f.template.ID(), result.Instance.TemplateID())
	assert.Len(t, result.Instance.Code(), coupon.DefaultCodeLength)
	assert.Equal(t, fixedNow.Add(coupon.DefaultValidity), result.Instance.ExpiresAt())

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, notification{to: "buyer@example.com", code: result.Instance.Code(), faceValue: "10.00"}, f.notifier.sent[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Issuance.WithLabelValues(metrics.OutcomeIssued)))
}

func TestIssueCoupon_ResolvesBuyerByEmail(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	buyer := storefront.User{ID: uuid.New(), Email: "buyer@example.com"}
	f.users.users = []storefront.User{buyer}

	c := confirmation("pi_1", 1000)
	c.PayerEmail = "Buyer@Example.com"
	unknown := uuid.New()
	c.BuyerHint = &unknown

	result, err := f.svc.IssueCoupon(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, coupon.ResolutionEmail, result.Resolution)
	assert.True(t, result.Instance.OwnedBy(buyer.ID))
	assert.Equal(t, "buyer@example.com", result.Instance.PayerEmail())
}

func TestIssueCoupon_RecentSessionFallback(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	buyer := storefront.User{ID: uuid.New(), Email: "buyer@example.com"}
	other := storefront.User{ID: uuid.New(), Email: "other@example.com"}
	f.users.users = []storefront.User{buyer, other}
	f.sessions.sessions = []storefront.Session{
		{ID: uuid.New(), UserID: other.ID, LastSeenAt: fixedNow.Add(-10 * time.Minute)},
		{ID: uuid.New(), UserID: buyer.ID, LastSeenAt: fixedNow.Add(-time.Minute)},
		{ID: uuid.New(), UserID: other.ID, LastSeenAt: fixedNow.Add(-2 * time.Hour)},
	}

	result, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 1000))
	require.NoError(t, err)

	assert.Equal(t, coupon.ResolutionRecentSession, result.Resolution)
	assert.True(t, result.Resolution.LowConfidence())
	assert.True(t, result.Instance.OwnedBy(buyer.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.BuyerResolution.WithLabelValues(string(coupon.ResolutionRecentSession), "true")))
	// No payer email: the notification goes to the account address.
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "buyer@example.com", f.notifier.sent[0].to)
}

func TestIssueCoupon_OrphanedWithoutFallback(t *testing.T) {
	cfg := DefaultIssuanceConfig()
	cfg.EnableSessionFallback = false
	f := newIssuanceFixture(t, cfg)
	buyer := storefront.User{ID: uuid.New(), Email: "buyer@example.com"}
	f.users.users = []storefront.User{buyer}
	f.sessions.sessions = []storefront.Session{{ID: uuid.New(), UserID: buyer.ID, LastSeenAt: fixedNow}}

	c := confirmation("pi_1", 1000)
	c.PayerEmail = "stranger@example.com"

	result, err := f.svc.IssueCoupon(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, coupon.ResolutionOrphaned, result.Resolution)
	assert.Nil(t, result.Instance.BuyerID())
	assert.True(t, result.Instance.IsOrphaned())
	assert.Equal(t, 0, f.notifier.count(), "orphaned coupons are not announced")
}

func TestIssueCoupon_OrphanedWhenSessionOutsideWindow(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	buyer := storefront.User{ID: uuid.New()}
	f.users.users = []storefront.User{buyer}
	f.sessions.sessions = []storefront.Session{{ID: uuid.New(), UserID: buyer.ID, LastSeenAt: fixedNow.Add(-time.Hour)}}

	result, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 1000))
	require.NoError(t, err)
	assert.Equal(t, coupon.ResolutionOrphaned, result.Resolution)
}

func TestIssueCoupon_IdempotentOnRedelivery(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	buyer := storefront.User{ID: uuid.New(), Email: "buyer@example.com"}
	f.users.users = []storefront.User{buyer}
	c := confirmation("pi_1", 1000)
	c.BuyerHint = &buyer.ID

	first, err := f.svc.IssueCoupon(context.Background(), c)
	require.NoError(t, err)
	second, err := f.svc.IssueCoupon(context.Background(), c)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Instance.ID(), second.Instance.ID())
	assert.Equal(t, first.Instance.Code(), second.Instance.Code())
	assert.Len(t, f.instances.byID, 1)
	assert.Equal(t, 1, f.notifier.count(), "a redelivery does not notify again")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Issuance.WithLabelValues(metrics.OutcomeDuplicate)))
}

func TestIssueCoupon_ConcurrentDeliveriesCreateOneInstance(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	c := confirmation("pi_concurrent", 1000)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[uuid.UUID]struct{})
		errs    []error
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.IssueCoupon(context.Background(), c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[result.Instance.ID()] = struct{}{}
			if !result.Duplicate {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Len(t, ids, 1, "every delivery must see the same instance")
	assert.Equal(t, 1, created)
	assert.Len(t, f.instances.byID, 1)
}

func TestIssueCoupon_LostCommitIsNotReportedAsDuplicate(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())

	// Simulate an insert that committed but whose acknowledgement was lost:
	// the row lands, yet Create reports the payment as already issued.
	f.instances.createHook = func(inst *coupon.Instance) error {
		f.instances.byID[inst.ID()] = clone(inst)
		return coupon.ErrDuplicatePayment
	}

	result, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 1000))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Len(t, f.instances.byID, 1)
}

func TestIssueCoupon_RerollsCollidingCodes(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	f.codes.codes = []string{"AAAAAAAA"}
	_, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 1000))
	require.NoError(t, err)

	f.codes.codes = []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	result, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_2", 1000))
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", result.Instance.Code())
}

func TestIssueCoupon_RerollsOnInsertCodeRace(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	f.codes.codes = []string{"CCCCCCCC", "DDDDDDDD"}

	calls := 0
	f.instances.createHook = func(inst *coupon.Instance) error {
		calls++
		if calls == 1 {
			return coupon.ErrDuplicateCode
		}
		return nil
	}

	result, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 1000))
	require.NoError(t, err)
	assert.Equal(t, "DDDDDDDD", result.Instance.Code())
}

func TestIssueCoupon_CodeSpaceExhausted(t *testing.T) {
	cfg := DefaultIssuanceConfig()
	cfg.MaxCodeAttempts = 3
	f := newIssuanceFixture(t, cfg)

	f.codes.codes = []string{"EEEEEEEE"}
	_, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 1000))
	require.NoError(t, err)

	f.codes.codes = []string{"EEEEEEEE", "EEEEEEEE", "EEEEEEEE", "FFFFFFFF"}
	_, err = f.svc.IssueCoupon(context.Background(), confirmation("pi_2", 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, coupon.ErrCodeSpaceExhausted)
	assert.Len(t, f.instances.byID, 1)
}

func TestIssueCoupon_NoMatchingTemplateIsPermanent(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())

	_, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 999))
	require.Error(t, err)
	assert.ErrorIs(t, err, coupon.ErrTemplateNotFound)
	assert.Contains(t, err.Error(), "resolve_template")
	assert.Empty(t, f.instances.byID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Issuance.WithLabelValues(metrics.OutcomeFailed)))
}

func TestIssueCoupon_InactiveTemplateIsNotMatched(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	inactive := coupon.ReconstructTemplate(uuid.New(), coupon.KindPremium, 20, 2500, false, nil, nil, 0, 0, "", fixedNow, fixedNow)
	f.templates.put(inactive)

	_, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 2500))
	assert.ErrorIs(t, err, coupon.ErrTemplateNotFound)
}

func TestIssueCoupon_OldestTemplateWinsOnPriceTie(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	older := coupon.ReconstructTemplate(uuid.New(), coupon.KindGift, 10, 1000, true, nil, nil, 0, 0, "", fixedNow.Add(-24*time.Hour), fixedNow)
	f.templates.put(older)

	result, err := f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 1000))
	require.NoError(t, err)
	assert.Equal(t, older.ID(), result.Instance.TemplateID())
}

func TestIssueCoupon_RejectsInvalidConfirmation(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())

	_, err := f.svc.IssueCoupon(context.Background(), confirmation("", 1000))
	assert.ErrorIs(t, err, coupon.ErrInvalidConfirmation)

	_, err = f.svc.IssueCoupon(context.Background(), confirmation("pi_1", 0))
	assert.ErrorIs(t, err, coupon.ErrInvalidConfirmation)
}

func TestIssueCoupon_NotificationFailureDoesNotFailIssuance(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	buyer := storefront.User{ID: uuid.New(), Email: "buyer@example.com"}
	f.users.users = []storefront.User{buyer}
	f.notifier.err = errors.New("smtp down")

	c := confirmation("pi_1", 1000)
	c.BuyerHint = &buyer.ID

	result, err := f.svc.IssueCoupon(context.Background(), c)
	require.NoError(t, err)
	assert.NotNil(t, result.Instance)
	assert.Len(t, f.instances.byID, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues("failed")))
}

func TestIssueCoupon_DirectoryFailureIsReturned(t *testing.T) {
	f := newIssuanceFixture(t, DefaultIssuanceConfig())
	f.users.err = errors.New("connection refused")
	c := confirmation("pi_1", 1000)
	c.PayerEmail = "buyer@example.com"

	_, err := f.svc.IssueCoupon(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve_buyer")
	assert.Empty(t, f.instances.byID)
}
