package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/infra/security"
	"github.com/arklim/credential-gate/internal/repository/memory"
)

const (
	strongPassword   = "C0mplex!Passphrase#2025"
	strongPassword2  = "Sturdy&Lantern#Orbit77"
	testMaxAttempts  = 3
	testLockout      = 30 * time.Minute
	testOTPTTL       = 10 * time.Minute
	plainDigestLabel = "plain$"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return plainDigestLabel + password, nil
}

func (plainHasher) Verify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, plainDigestLabel) {
		return false, errors.New("unknown digest format")
	}
	return encoded == plainDigestLabel+password, nil
}

type sequenceGenerator struct {
	mu   sync.Mutex
	next int
	last string
}

func (g *sequenceGenerator) GenerateCode() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	g.last = fmt.Sprintf("%06d", 100000+g.next)
	return g.last, nil
}

func (g *sequenceGenerator) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type capturingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *capturingMailer) Deliver(_ context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func (m *capturingMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *capturingMailer) Last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

type recordingPublisher struct {
	mu         sync.Mutex
	registered []domain.AccountRegisteredEvent
	verified   []domain.AccountVerifiedEvent
	locked     []domain.AccountLockedEvent
	changed    []domain.PasswordChangedEvent
	err        error
}

func (p *recordingPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return p.err
}

func (p *recordingPublisher) PublishAccountVerified(_ context.Context, event domain.AccountVerifiedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified = append(p.verified, event)
	return p.err
}

func (p *recordingPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = append(p.locked, event)
	return p.err
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return p.err
}

type harness struct {
	clock     *testClock
	accounts  *memory.AccountRepository
	otpStore  *memory.OTPRepository
	generator *sequenceGenerator
	mailer    *capturingMailer
	events    *recordingPublisher
	lockout   *LockoutPolicy
	otps      *OTPService
	auth      *AuthService
	users     *UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := zaptest.NewLogger(t)
	h := &harness{
		clock:     newTestClock(),
		accounts:  memory.NewAccountRepository(),
		otpStore:  memory.NewOTPRepository(),
		generator: &sequenceGenerator{},
		mailer:    &capturingMailer{},
		events:    &recordingPublisher{},
	}

	h.lockout = NewLockoutPolicy(h.accounts, LockoutConfig{MaxAttempts: testMaxAttempts, Duration: testLockout}, h.events, log).
		WithClock(h.clock.Now)
	h.otps = NewOTPService(h.otpStore, h.generator, h.mailer, OTPConfig{TTL: testOTPTTL}, log).
		WithClock(h.clock.Now)
	policy := security.NewPasswordPolicy(security.DefaultPasswordPolicyConfig())
	h.auth = NewAuthService(h.accounts, plainHasher{}, policy, h.lockout, h.otps, h.events, log).
		WithClock(h.clock.Now)
	h.users = NewUserService(h.accounts, log)
	t.Cleanup(h.auth.WaitForDeliveries)
	return h
}

// seedAccount stores a verified, active account with the given password.
func (h *harness) seedAccount(t *testing.T, username, email, password string) *domain.Account {
	t.Helper()
	hash, _ := plainHasher{}.Hash(password)
	account, err := h.accounts.Create(context.Background(), domain.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   true,
		Role:         domain.RoleUser,
		CreatedAt:    h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", username, err)
	}
	return account
}

func (h *harness) account(t *testing.T, id string) *domain.Account {
	t.Helper()
	account, err := h.accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return account
}
