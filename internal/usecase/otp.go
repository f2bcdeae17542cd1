package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/infra/logger"
	"github.com/arklim/credential-gate/internal/infra/security"
	"github.com/arklim/credential-gate/internal/repository"
)

const otpIssueScope = "otp_issue"

// OTPConfig controls code lifetime and the optional issuance throttle.
type OTPConfig struct {
	TTL time.Duration
	// IssueWindow and IssueMax bound how many codes one email may request per
	// purpose inside a sliding window. Zero disables the throttle.
	IssueWindow time.Duration
	IssueMax    int
}

// OTPService is the only writer of one-time passcode records.
type OTPService struct {
	otps       port.OTPRepository
	generator  port.OTPCodeGenerator
	mailer     port.Mailer
	rateLimits port.RateLimitStore
	cfg        OTPConfig
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewOTPService constructs the passcode lifecycle manager.
func NewOTPService(otps port.OTPRepository, generator port.OTPCodeGenerator, mailer port.Mailer, cfg OTPConfig, log *zap.Logger) *OTPService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OTPService{
		otps:      otps,
		generator: generator,
		mailer:    mailer,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// WithRateLimitStore enables the per-email issuance throttle.
func (s *OTPService) WithRateLimitStore(store port.RateLimitStore) *OTPService {
	s.rateLimits = store
	return s
}

// WithMetrics attaches passcode counters.
func (s *OTPService) WithMetrics(m *Metrics) *OTPService {
	s.metrics = m
	return s
}

// WithClock overrides the time source.
func (s *OTPService) WithClock(now func() time.Time) *OTPService {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue supersedes every outstanding code for the email and purpose, stores a
// fresh one and emails it. When delivery fails the stored record is still
// returned, together with an error wrapping ErrVerificationDeliveryFailed.
func (s *OTPService) Issue(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPRecord, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("unsupported otp purpose %q", purpose)
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	now := s.now().UTC()
	if err := s.enforceIssueRateLimit(ctx, email, purpose, now); err != nil {
		return nil, err
	}

	code, err := s.generator.GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	stored, superseded, err := s.otps.Rotate(ctx, domain.OTPRecord{
		ID:        uuid.NewString(),
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: security.OTPExpiry(now, s.cfg.TTL),
		CreatedAt: now,
	})
	if err != nil {
		return nil, storeFault("rotate otp", err)
	}
	s.metrics.otpIssued(purpose)
	s.logger.Debug("otp issued",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("purpose", string(purpose)),
		zap.Int("superseded", superseded),
	)

	subject, body, err := renderOTPMessage(purpose, otpTemplateData{
		Code:       code,
		TTLMinutes: int(s.cfg.TTL / time.Minute),
	})
	if err != nil {
		return stored, fmt.Errorf("%w: %w", ErrVerificationDeliveryFailed, err)
	}

	if err := s.mailer.Deliver(ctx, email, subject, body); err != nil {
		s.logger.Warn("deliver otp email",
			zap.String("email", logger.MaskEmail(email)),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
		return stored, fmt.Errorf("%w: %w", ErrVerificationDeliveryFailed, err)
	}

	return stored, nil
}

// Redeem consumes the outstanding code for the email and purpose. It reports
// false for unknown, superseded, expired or already used codes. A code can be
// redeemed at most once even when requests race.
func (s *OTPService) Redeem(ctx context.Context, email, code string, purpose domain.OTPPurpose) (bool, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		s.metrics.otpRedeemed(purpose, RedeemResultInvalid)
		return false, nil
	}

	unused := false
	record, err := s.otps.Find(ctx, port.OTPQuery{
		Email:   email,
		Purpose: purpose,
		Code:    code,
		Used:    &unused,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.otpRedeemed(purpose, RedeemResultInvalid)
			return false, nil
		}
		return false, storeFault("lookup otp", err)
	}

	if security.OTPExpired(record.ExpiresAt, s.now()) {
		s.metrics.otpRedeemed(purpose, RedeemResultExpired)
		return false, nil
	}

	if err := s.otps.MarkUsed(ctx, record.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.otpRedeemed(purpose, RedeemResultInvalid)
			return false, nil
		}
		return false, storeFault("mark otp used", err)
	}

	s.metrics.otpRedeemed(purpose, RedeemResultSuccess)
	return true, nil
}

func (s *OTPService) enforceIssueRateLimit(ctx context.Context, email string, purpose domain.OTPPurpose, now time.Time) error {
	if s.rateLimits == nil || s.cfg.IssueMax <= 0 || s.cfg.IssueWindow <= 0 {
		return nil
	}

	key := string(purpose) + ":" + email
	window := s.cfg.IssueWindow

	if err := s.rateLimits.TrimWindow(ctx, key, window, now); err != nil {
		s.logger.Warn("trim otp issue window", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return nil
	}

	count, err := s.rateLimits.CountAttempts(ctx, key, window, now)
	if err != nil {
		s.logger.Warn("count otp issue attempts", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return nil
	}

	if count >= s.cfg.IssueMax {
		retryAfter := window
		oldest, ok, err := s.rateLimits.OldestAttempt(ctx, key, window, now)
		if err != nil {
			s.logger.Warn("read oldest otp issue attempt", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		} else if ok {
			retryAfter = oldest.Add(window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return &RateLimitExceededError{Scope: otpIssueScope, RetryAfter: retryAfter}
	}

	if err := s.rateLimits.RecordAttempt(ctx, key, now); err != nil {
		s.logger.Warn("record otp issue attempt", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
