package security

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/arklim/credential-gate/internal/core/port"
)

// OTPGenerator draws fixed-length numeric passcodes uniformly from crypto/rand.
type OTPGenerator struct {
	length int
	bound  *big.Int
	random io.Reader
}

// NewOTPGenerator returns a generator for codes of the given length.
func NewOTPGenerator(length int) (*OTPGenerator, error) {
	if length <= 0 || length > 18 {
		return nil, fmt.Errorf("otp: code length must be between 1 and 18, got %d", length)
	}
	return &OTPGenerator{
		length: length,
		bound:  new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil),
		random: rand.Reader,
	}, nil
}

// GenerateCode returns a zero-padded code in [0, 10^length).
func (g *OTPGenerator) GenerateCode() (string, error) {
	n, err := rand.Int(g.random, g.bound)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", g.length, n.Int64()), nil
}

// OTPExpiry returns the instant a code issued at now stops being valid.
func OTPExpiry(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl)
}

// OTPExpired reports whether now is strictly past expiresAt.
func OTPExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

var _ port.OTPCodeGenerator = (*OTPGenerator)(nil)
