package security

import (
	"errors"
	"strings"
	"testing"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

func TestPasswordPolicyAcceptsStrongPassword(t *testing.T) {
	policy := NewPasswordPolicy(DefaultPasswordPolicyConfig())

	password := "C0mplex!Passphrase#2025"
	if strength := zxcvbn.PasswordStrength(password, nil); strength.Score < 2 {
		t.Fatalf("test password unexpectedly weak: score=%d", strength.Score)
	}
	if err := policy.Validate(password, "ada", "ada@example.com"); err != nil {
		t.Fatalf("expected password to pass validation, got %v", err)
	}
}

func TestPasswordPolicyViolations(t *testing.T) {
	policy := NewPasswordPolicy(PasswordPolicyConfig{})

	assertViolation := func(password, expectedCode string) {
		t.Helper()
		err := policy.Validate(password)
		var vErr *PasswordValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected PasswordValidationError for %s, got %v", expectedCode, err)
		}
		if vErr.Code != expectedCode {
			t.Fatalf("expected %s code, got %s", expectedCode, vErr.Code)
		}
	}

	assertViolation("Sh0rt!", "min_length")
	assertViolation(strings.Repeat("aB3$", 26), "max_length")
	assertViolation("password", "weak_password")
}

func TestCustomPasswordValidator(t *testing.T) {
	validator := NewPasswordValidator(MinLengthRule(4), MaxLengthRule(6))

	if err := validator.Validate("abc"); err == nil {
		t.Fatal("expected error for short password")
	}
	if err := validator.Validate("abcdefg"); err == nil {
		t.Fatal("expected error for long password")
	}
	if err := validator.Validate("abcde"); err != nil {
		t.Fatalf("expected password to pass, got %v", err)
	}

	var nilValidator *PasswordValidator
	if err := nilValidator.Validate("anything"); err == nil {
		t.Fatal("expected error from nil validator")
	}
}

func TestMinLengthRuleCountsRunes(t *testing.T) {
	// eight runes, fourteen bytes
	if err := MinLengthRule(8).Validate("пароль12"); err != nil {
		t.Fatalf("expected rune count to satisfy the rule, got %v", err)
	}
}
