// Package metrics defines the Prometheus collectors exported by the coupon
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storefront/service-coupon/internal/domain/coupon"
	"github.com/storefront/service-coupon/internal/platform/database"
)

const namespace = "storefront"

// Issuance outcomes.
const (
	OutcomeIssued    = "issued"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Redemption results.
const (
	ResultRedeemed       = "redeemed"
	ResultReplayed       = "replayed"
	ResultAlreadyUsed    = "already_used"
	ResultNotFound       = "not_found"
	ResultError          = "error"
	validationAcceptedLV = "accepted"
)

// Metrics groups the service's collectors.
type Metrics struct {
	Issuance        *prometheus.CounterVec
	BuyerResolution *prometheus.CounterVec
	Validation      *prometheus.CounterVec
	Redemption      *prometheus.CounterVec
	DBRetries       *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Issuance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_issuance_total",
			Help:      "Payment confirmations processed, by outcome.",
		}, []string{"outcome"}),
		BuyerResolution: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_buyer_resolution_total",
			Help:      "Issued coupons by the path that resolved their buyer.",
		}, []string{"path", "low_confidence"}),
		Validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_validation_total",
			Help:      "Coupon validations, by rejection reason or accepted.",
		}, []string{"reason"}),
		Redemption: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_redemption_total",
			Help:      "Coupon redemption attempts, by result.",
		}, []string{"result"}),
		DBRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_retry_total",
			Help:      "Transient database failures that triggered the retry policy.",
		}, []string{"kind"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_notification_total",
			Help:      "Coupon notifications, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Issuance, m.BuyerResolution, m.Validation, m.Redemption, m.DBRetries, m.Notifications)
	return m
}

// ObserveIssuance counts a processed confirmation.
func (m *Metrics) ObserveIssuance(outcome string) {
	if m == nil {
		return
	}
	m.Issuance.WithLabelValues(outcome).Inc()
}

// ObserveBuyerResolution counts the resolution path of a new instance.
func (m *Metrics) ObserveBuyerResolution(r coupon.BuyerResolution) {
	if m == nil {
		return
	}
	low := "false"
	if r.LowConfidence() {
		low = "true"
	}
	m.BuyerResolution.WithLabelValues(string(r), low).Inc()
}

// ObserveValidation counts a validation; an empty reason means accepted.
func (m *Metrics) ObserveValidation(reason coupon.Reason) {
	if m == nil {
		return
	}
	label := string(reason)
	if label == "" {
		label = validationAcceptedLV
	}
	m.Validation.WithLabelValues(label).Inc()
}

// ObserveRedemption counts a redemption attempt.
func (m *Metrics) ObserveRedemption(result string) {
	if m == nil {
		return
	}
	m.Redemption.WithLabelValues(result).Inc()
}

// ObserveNotification counts a notification attempt.
func (m *Metrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// RetryObserver adapts the collectors to the database retrier.
func (m *Metrics) RetryObserver() database.RetryObserver {
	return func(_ string, kind database.ErrorKind, _ int) {
		if m == nil {
			return
		}
		m.DBRetries.WithLabelValues(kind.String()).Inc()
	}
}
