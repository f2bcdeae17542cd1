package usecase

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/credential-gate/internal/core/domain"
)

// Login outcomes recorded by Metrics.
const (
	LoginOutcomeSuccess            = "success"
	LoginOutcomeInvalidCredentials = "invalid_credentials"
	LoginOutcomeLocked             = "locked"
	LoginOutcomeUnverified         = "unverified"
	LoginOutcomeDeactivated        = "deactivated"
	LoginOutcomeError              = "error"
)

// Redemption results recorded by Metrics.
const (
	RedeemResultSuccess = "success"
	RedeemResultInvalid = "invalid"
	RedeemResultExpired = "expired"
)

// MetricsOptions controls construction of credential flow collectors.
type MetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
}

// Metrics counts authentication outcomes and passcode traffic. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	logins   *prometheus.CounterVec
	issued   *prometheus.CounterVec
	redeemed *prometheus.CounterVec
}

// NewMetrics constructs collectors and registers them with the supplied registerer.
func NewMetrics(opts MetricsOptions) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "gate"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	logins, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: opts.Subsystem,
		Name:      "auth_login_total",
		Help:      "Login attempts partitioned by outcome.",
	}, []string{"outcome"})
	if err != nil {
		return nil, err
	}

	issued, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: opts.Subsystem,
		Name:      "otp_issued_total",
		Help:      "One-time codes issued partitioned by purpose.",
	}, []string{"purpose"})
	if err != nil {
		return nil, err
	}

	redeemed, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: opts.Subsystem,
		Name:      "otp_redeemed_total",
		Help:      "One-time code redemption attempts partitioned by purpose and result.",
	}, []string{"purpose", "result"})
	if err != nil {
		return nil, err
	}

	return &Metrics{logins: logins, issued: issued, redeemed: redeemed}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("existing %s collector has wrong type %T", opts.Name, already.ExistingCollector)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return counter, nil
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) otpIssued(purpose domain.OTPPurpose) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(string(purpose)).Inc()
}

func (m *Metrics) otpRedeemed(purpose domain.OTPPurpose, result string) {
	if m == nil {
		return
	}
	m.redeemed.WithLabelValues(string(purpose), result).Inc()
}
