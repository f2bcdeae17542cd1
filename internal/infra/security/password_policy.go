package security

import (
	"strings"

	"github.com/arklim/credential-gate/internal/core/port"
)

// PasswordPolicyConfig bounds new passwords.
type PasswordPolicyConfig struct {
	MinLength int
	MaxLength int
	MinScore  int
}

// DefaultPasswordPolicyConfig: 8 to 100 characters, zxcvbn score of at least 2.
func DefaultPasswordPolicyConfig() PasswordPolicyConfig {
	return PasswordPolicyConfig{MinLength: 8, MaxLength: 100, MinScore: 2}
}

// PasswordPolicy builds a fresh validator per call so the strength check sees the caller's identity.
type PasswordPolicy struct {
	cfg PasswordPolicyConfig
}

// NewPasswordPolicy fills zero-valued bounds from the defaults.
func NewPasswordPolicy(cfg PasswordPolicyConfig) *PasswordPolicy {
	def := DefaultPasswordPolicyConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	return &PasswordPolicy{cfg: cfg}
}

// Validate checks length bounds first, then strength against userInputs (username, email).
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	inputs := make([]string, 0, len(userInputs)*2)
	for _, input := range userInputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		inputs = append(inputs, input)
		if local, _, ok := strings.Cut(input, "@"); ok && local != "" {
			inputs = append(inputs, local)
		}
	}

	return NewPasswordValidator(
		MinLengthRule(p.cfg.MinLength),
		MaxLengthRule(p.cfg.MaxLength),
		RequirePasswordStrengthRule(p.cfg.MinScore, inputs...),
	).Validate(password)
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
