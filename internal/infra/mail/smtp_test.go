package mail

import (
	"context"
	"errors"
	"testing"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arklim/credential-gate/internal/infra/config"
)

type recordingMailer struct {
	err   error
	calls int
	to    string
}

func (m *recordingMailer) Deliver(_ context.Context, to, _, _ string) error {
	m.calls++
	m.to = to
	return m.err
}

func TestFallbackMailerSkipsFallbackOnSuccess(t *testing.T) {
	primary := &recordingMailer{}
	fallback := &recordingMailer{}

	mailer := NewFallbackMailer(primary, fallback, zaptest.NewLogger(t))
	if err := mailer.Deliver(context.Background(), "ada@example.com", "subject", "<p>body</p>"); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if primary.calls != 1 || fallback.calls != 0 {
		t.Fatalf("unexpected calls: primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestFallbackMailerUsesFallbackOnFailure(t *testing.T) {
	primary := &recordingMailer{err: errors.New("connection refused")}
	fallback := &recordingMailer{}

	mailer := NewFallbackMailer(primary, fallback, zaptest.NewLogger(t))
	if err := mailer.Deliver(context.Background(), "ada@example.com", "subject", "<p>body</p>"); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if fallback.calls != 1 || fallback.to != "ada@example.com" {
		t.Fatalf("expected fallback delivery, got %+v", fallback)
	}
}

func TestFallbackMailerJoinsErrors(t *testing.T) {
	primaryErr := errors.New("primary down")
	fallbackErr := errors.New("fallback down")

	mailer := NewFallbackMailer(&recordingMailer{err: primaryErr}, &recordingMailer{err: fallbackErr}, nil)
	err := mailer.Deliver(context.Background(), "ada@example.com", "subject", "body")
	if !errors.Is(err, primaryErr) || !errors.Is(err, fallbackErr) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestLogMailerMasksRecipient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mailer := NewLogMailer(zap.New(core))

	if err := mailer.Deliver(context.Background(), "ada.lovelace@example.com", "Verify", "<p>123456</p>"); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected only the info entry at info level, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["to"]; got != "ada***@example.com" {
		t.Fatalf("expected masked recipient, got %v", got)
	}
}

func TestNewSelectsTransport(t *testing.T) {
	if _, ok := New(config.MailSettings{DevelopmentMode: true}, nil).(*LogMailer); !ok {
		t.Fatal("expected log mailer in development mode")
	}
	if _, ok := New(config.MailSettings{Host: "smtp.example.com", Port: 465}, nil).(*SMTPMailer); !ok {
		t.Fatal("expected plain smtp mailer without fallback port")
	}
	if _, ok := New(config.MailSettings{Host: "smtp.example.com", Port: 465, FallbackPort: 587}, nil).(*FallbackMailer); !ok {
		t.Fatal("expected fallback mailer")
	}
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("no-reply@example.com", "ada@example.com", "Verify Your Account - OTP Code", "<p>hi</p>")
	if err != nil {
		t.Fatalf("buildMessage returned error: %v", err)
	}
	if subject := msg.GetGenHeader(gomail.HeaderSubject); len(subject) != 1 || subject[0] != "Verify Your Account - OTP Code" {
		t.Fatalf("unexpected subject header: %v", subject)
	}

	if _, err := buildMessage("no-reply@example.com", "not an address", "s", "b"); err == nil {
		t.Fatal("expected error for invalid recipient")
	}
}
