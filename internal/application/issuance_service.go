package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/service-coupon/internal/adapter"
	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/domain/payment"
	"github.com/storefront/service-coupon/internal/domain/storefront"
	"github.com/storefront/service-coupon/internal/metrics"
	"github.com/storefront/service-coupon/internal/pipeline"
)

// IssuanceConfig tunes coupon issuance.
type IssuanceConfig struct {
	Validity              time.Duration
	MaxCodeAttempts       int
	EnableSessionFallback bool
	SessionFallbackWindow time.Duration
}

// DefaultIssuanceConfig returns the production defaults.
func DefaultIssuanceConfig() IssuanceConfig {
	return IssuanceConfig{
		Validity:              coupon.DefaultValidity,
		MaxCodeAttempts:       10,
		EnableSessionFallback: true,
		SessionFallbackWindow: 15 * time.Minute,
	}
}

// IssuanceResult describes the outcome of IssueCoupon.
type IssuanceResult struct {
	Instance *coupon.Instance
	// Duplicate is set when the payment had already been turned into a coupon
	// by an earlier delivery.
	Duplicate  bool
	Resolution coupon.BuyerResolution
}

// IssuanceService turns confirmed payments into coupon instances.
type IssuanceService struct {
	templates coupon.TemplateRepository
	instances coupon.InstanceRepository
	users     storefront.UserDirectory
	sessions  storefront.SessionDirectory
	codes     coupon.CodeGenerator
	notifier  adapter.Notifier
	metrics   *metrics.Metrics
	cfg       IssuanceConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewIssuanceService creates a new IssuanceService.
func NewIssuanceService(
	templates coupon.TemplateRepository,
	instances coupon.InstanceRepository,
	users storefront.UserDirectory,
	sessions storefront.SessionDirectory,
	codes coupon.CodeGenerator,
	notifier adapter.Notifier,
	m *metrics.Metrics,
	cfg IssuanceConfig,
	logger *zap.Logger,
) *IssuanceService {
	if cfg.Validity <= 0 {
		cfg.Validity = coupon.DefaultValidity
	}
	if cfg.MaxCodeAttempts < 1 {
		cfg.MaxCodeAttempts = 1
	}
	return &IssuanceService{
		templates: templates,
		instances: instances,
		users:     users,
		sessions:  sessions,
		codes:     codes,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// resolvedBuyer is the outcome of buyer resolution.
type resolvedBuyer struct {
	id         *uuid.UUID
	email      string
	resolution coupon.BuyerResolution
}

// IssueCoupon creates the coupon for a confirmed payment, or returns the one
// an earlier delivery created. A paid amount without an exactly matching
// active template is a permanent failure.
func (s *IssuanceService) IssueCoupon(ctx context.Context, c payment.Confirmation) (*IssuanceResult, error) {
	if err := c.Validate(s.now()); err != nil {
		s.metrics.ObserveIssuance(metrics.OutcomeFailed)
		return nil, err
	}

	log := s.logger.With(
		zap.String("external_payment_id", c.ExternalPaymentID),
		zap.String("provider", c.Provider),
	)

	result := &IssuanceResult{}
	var (
		tmpl  *coupon.Template
		buyer resolvedBuyer
	)

	p := pipeline.New("issue_coupon", log)

	p.AddStep(pipeline.Step{
		Name: "check_idempotency",
		Execute: func(ctx context.Context) error {
			existing, err := s.instances.FindByExternalPaymentID(ctx, c.ExternalPaymentID)
			if errors.Is(err, coupon.ErrInstanceNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			result.Instance = existing
			result.Duplicate = true
			result.Resolution = existing.Resolution()
			p.Halt()
			return nil
		},
	})

	p.AddStep(pipeline.Step{
		Name: "resolve_template",
		Execute: func(ctx context.Context) error {
			var err error
			tmpl, err = s.templates.FindActiveBySalePrice(ctx, c.PaidAmountCents)
			return err
		},
	})

	p.AddStep(pipeline.Step{
		Name: "resolve_buyer",
		Execute: func(ctx context.Context) error {
			var err error
			buyer, err = s.resolveBuyer(ctx, c, log)
			return err
		},
	})

	p.AddStep(pipeline.Step{
		Name: "persist_instance",
		Execute: func(ctx context.Context) error {
			inst, duplicate, err := s.persist(ctx, c, tmpl, buyer, log)
			if err != nil {
				return err
			}
			result.Instance = inst
			result.Duplicate = duplicate
			result.Resolution = inst.Resolution()
			if duplicate {
				p.Halt()
			}
			return nil
		},
	})

	p.AddStep(pipeline.Step{
		Name:       "notify_buyer",
		BestEffort: true,
		Skip:       func() bool { return buyer.id == nil || buyer.email == "" },
		Execute: func(ctx context.Context) error {
			err := s.notifier.SendCouponNotification(ctx, buyer.email, result.Instance.Code(), FormatCents(tmpl.SalePriceCents()))
			s.metrics.ObserveNotification(err == nil)
			return err
		},
	})

	if err := p.Execute(ctx); err != nil {
		s.metrics.ObserveIssuance(metrics.OutcomeFailed)
		return nil, err
	}

	if result.Duplicate {
		s.metrics.ObserveIssuance(metrics.OutcomeDuplicate)
		log.Info("payment already has a coupon, returning existing instance",
			zap.String("instance_id", result.Instance.ID().String()),
		)
		return result, nil
	}

	s.metrics.ObserveIssuance(metrics.OutcomeIssued)
	s.metrics.ObserveBuyerResolution(result.Resolution)
	log.Info("coupon issued",
		zap.String("instance_id", result.Instance.ID().String()),
		zap.String("template_id", tmpl.ID().String()),
		zap.String("buyer_resolution", string(result.Resolution)),
		zap.Time("expires_at", result.Instance.ExpiresAt()),
	)
	return result, nil
}

// resolveBuyer tries the checkout buyer id, then the payer email, then the
// low-confidence recent-session fallback. No match leaves the coupon orphaned.
func (s *IssuanceService) resolveBuyer(ctx context.Context, c payment.Confirmation, log *zap.Logger) (resolvedBuyer, error) {
	if c.BuyerHint != nil {
		user, err := s.users.FindByID(ctx, *c.BuyerHint)
		if err != nil {
			return resolvedBuyer{}, fmt.Errorf("lookup hinted buyer: %w", err)
		}
		if user != nil {
			return s.buyerFromUser(user, c, coupon.ResolutionSessionHint), nil
		}
		log.Warn("buyer hint does not match a registered user",
			zap.String("buyer_hint", c.BuyerHint.String()),
		)
	}

	if c.PayerEmail != "" {
		user, err := s.users.FindByEmail(ctx, c.PayerEmail)
		if err != nil {
			return resolvedBuyer{}, fmt.Errorf("lookup buyer by email: %w", err)
		}
		if user != nil {
			return s.buyerFromUser(user, c, coupon.ResolutionEmail), nil
		}
	}

	if s.cfg.EnableSessionFallback && s.sessions != nil {
		session, err := s.sessions.MostRecentActive(ctx, c.OccurredAt, s.cfg.SessionFallbackWindow)
		if err != nil {
			return resolvedBuyer{}, fmt.Errorf("lookup recent session: %w", err)
		}
		if session != nil {
			user, err := s.users.FindByID(ctx, session.UserID)
			if err != nil {
				return resolvedBuyer{}, fmt.Errorf("lookup session user: %w", err)
			}
			if user != nil {
				log.Warn("buyer attributed by most recent session, low confidence",
					zap.String("buyer_id", user.ID.String()),
					zap.String("session_id", session.ID.String()),
					zap.Time("session_last_seen_at", session.LastSeenAt),
					zap.Time("payment_at", c.OccurredAt),
				)
				return s.buyerFromUser(user, c, coupon.ResolutionRecentSession), nil
			}
		}
	}

	log.Warn("no buyer resolved, coupon will be orphaned",
		zap.Bool("had_payer_email", c.PayerEmail != ""),
	)
	return resolvedBuyer{resolution: coupon.ResolutionOrphaned}, nil
}

func (s *IssuanceService) buyerFromUser(user *storefront.User, c payment.Confirmation, r coupon.BuyerResolution) resolvedBuyer {
	id := user.ID
	email := c.PayerEmail
	if email == "" {
		email = user.Email
	}
	return resolvedBuyer{id: &id, email: email, resolution: r}
}

// persist creates the instance, re-rolling the code on collisions. A clash on
// the payment id means a concurrent delivery won; its instance is returned.
func (s *IssuanceService) persist(ctx context.Context, c payment.Confirmation, tmpl *coupon.Template, buyer resolvedBuyer, log *zap.Logger) (*coupon.Instance, bool, error) {
	issuedAt := s.now()

	for attempt := 1; attempt <= s.cfg.MaxCodeAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, false, fmt.Errorf("generate coupon code: %w", err)
		}

		taken, err := s.instances.CodeExists(ctx, code)
		if err != nil {
			return nil, false, err
		}
		if taken {
			log.Debug("coupon code collision, re-rolling", zap.Int("attempt", attempt))
			continue
		}

		inst, err := coupon.NewInstance(code, tmpl.ID(), buyer.id, buyer.resolution, c.ExternalPaymentID, c.PayerEmail, issuedAt, s.cfg.Validity)
		if err != nil {
			return nil, false, err
		}

		err = s.instances.Create(ctx, inst)
		switch {
		case err == nil:
			return inst, false, nil
		case errors.Is(err, coupon.ErrDuplicateCode):
			log.Debug("coupon code taken at insert, re-rolling", zap.Int("attempt", attempt))
			continue
		case errors.Is(err, coupon.ErrDuplicatePayment):
			existing, findErr := s.instances.FindByExternalPaymentID(ctx, c.ExternalPaymentID)
			if findErr != nil {
				return nil, false, fmt.Errorf("fetch concurrently issued coupon: %w", findErr)
			}
			// Our own insert may have committed before a transient failure.
			return existing, existing.ID() != inst.ID(), nil
		default:
			return nil, false, err
		}
	}

	return nil, false, coupon.ErrCodeSpaceExhausted
}
