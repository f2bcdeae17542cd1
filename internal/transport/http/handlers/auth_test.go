package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/infra/security"
	"github.com/arklim/credential-gate/internal/usecase"
)

type stubAuthFlows struct {
	loginAccount *domain.Account
	loginErr     error
	registerErr  error
	confirmErr   error
	resendErr    error
	requestErr   error
	resetErr     error

	registered    usecase.RegisterInput
	resetRequests []string
}

func (s *stubAuthFlows) Login(context.Context, string, string) (*domain.Account, error) {
	return s.loginAccount, s.loginErr
}

func (s *stubAuthFlows) Register(_ context.Context, input usecase.RegisterInput) (*domain.Account, error) {
	s.registered = input
	account := &domain.Account{ID: "acc-1", Username: input.Username, Email: input.Email, Role: domain.RoleUser, IsActive: true}
	return account, s.registerErr
}

func (s *stubAuthFlows) ConfirmRegistration(context.Context, string, string) error {
	return s.confirmErr
}

func (s *stubAuthFlows) ResendVerification(context.Context, string) error {
	return s.resendErr
}

func (s *stubAuthFlows) RequestPasswordReset(_ context.Context, email string) error {
	s.resetRequests = append(s.resetRequests, email)
	return s.requestErr
}

func (s *stubAuthFlows) ResetPassword(context.Context, string, string, string) error {
	return s.resetErr
}

type stubTokens struct {
	err error
}

func (s stubTokens) Issue(account domain.Account) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "token-for-" + account.ID, nil
}

func (stubTokens) TTL() time.Duration { return 30 * time.Minute }

func newAuthRouter(flows AuthFlows, tokens TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewAuthHandler(flows, tokens).RegisterRoutes(router.Group("/api/v1/auth"))
	return router
}

func postJSON(router http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (%s)", err, rr.Body.String())
	}
	return resp
}

func TestRegisterCreatesAccount(t *testing.T) {
	flows := &stubAuthFlows{}
	router := newAuthRouter(flows, stubTokens{})

	rr := postJSON(router, "/api/v1/auth/register", map[string]string{
		"username":   "  ada ",
		"email":      "ada@example.com",
		"password":   "C0mplex!Passphrase#2025",
		"first_name": "Ada",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if flows.registered.Username != "ada" || flows.registered.Profile.FirstName != "Ada" {
		t.Fatalf("unexpected register input %+v", flows.registered)
	}

	var resp RegisterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Account.ID != "acc-1" || resp.Account.IsVerified {
		t.Fatalf("unexpected account %+v", resp.Account)
	}
}

func TestRegisterRejectsInvalidPayload(t *testing.T) {
	router := newAuthRouter(&stubAuthFlows{}, stubTokens{})

	cases := []map[string]string{
		{"username": "ab", "email": "ada@example.com", "password": "C0mplex!Passphrase#2025"},
		{"username": "ada", "email": "not-an-email", "password": "C0mplex!Passphrase#2025"},
		{"username": "ada", "email": "ada@example.com", "password": "short"},
	}
	for i, body := range cases {
		if rr := postJSON(router, "/api/v1/auth/register", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rr.Code)
		}
	}
}

func TestRegisterMapsErrors(t *testing.T) {
	body := map[string]string{"username": "ada", "email": "ada@example.com", "password": "C0mplex!Passphrase#2025"}

	cases := []struct {
		err     error
		status  int
		message string
	}{
		{usecase.ErrDuplicateEmail, http.StatusBadRequest, "email already registered"},
		{usecase.ErrDuplicateUsername, http.StatusBadRequest, "username already taken"},
		{fmt.Errorf("issue: %w", usecase.ErrVerificationDeliveryFailed), http.StatusInternalServerError, "failed to send verification email"},
		{fmt.Errorf("%w: %w", usecase.ErrPasswordPolicyViolation, &security.PasswordValidationError{Message: "password is too weak; choose a more complex value"}), http.StatusBadRequest, "password is too weak; choose a more complex value"},
		{fmt.Errorf("create: %w", usecase.ErrStoreUnavailable), http.StatusServiceUnavailable, "service temporarily unavailable"},
	}

	for _, tc := range cases {
		router := newAuthRouter(&stubAuthFlows{registerErr: tc.err}, stubTokens{})
		rr := postJSON(router, "/api/v1/auth/register", body)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if got := decodeError(t, rr).Error; got != tc.message {
			t.Fatalf("%v: expected message %q, got %q", tc.err, tc.message, got)
		}
	}
}

func TestLoginIssuesToken(t *testing.T) {
	flows := &stubAuthFlows{loginAccount: &domain.Account{ID: "acc-7", Username: "ada", Role: domain.RoleUser, IsActive: true, IsVerified: true}}
	router := newAuthRouter(flows, stubTokens{})

	rr := postJSON(router, "/api/v1/auth/login", map[string]string{"username": "ada", "password": "secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken != "token-for-acc-7" || resp.TokenType != "bearer" || resp.ExpiresIn != 1800 {
		t.Fatalf("unexpected token response %+v", resp)
	}
}

func TestLoginFailuresAreUnauthorized(t *testing.T) {
	for _, err := range []error{
		usecase.ErrInvalidCredentials,
		usecase.ErrAccountLocked,
		usecase.ErrEmailNotVerified,
		usecase.ErrAccountDeactivated,
	} {
		router := newAuthRouter(&stubAuthFlows{loginErr: err}, stubTokens{})
		rr := postJSON(router, "/api/v1/auth/login", map[string]string{"username": "ada", "password": "secret"})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%v: expected 401, got %d", err, rr.Code)
		}
	}
}

func TestLoginTokenFailure(t *testing.T) {
	flows := &stubAuthFlows{loginAccount: &domain.Account{ID: "acc-7"}}
	router := newAuthRouter(flows, stubTokens{err: errors.New("signing failed")})

	rr := postJSON(router, "/api/v1/auth/login", map[string]string{"username": "ada", "password": "secret"})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestForgotPasswordRespondsUniformly(t *testing.T) {
	flows := &stubAuthFlows{}
	router := newAuthRouter(flows, stubTokens{})

	first := postJSON(router, "/api/v1/auth/forgot-password", map[string]string{"email": "known@example.com"})
	second := postJSON(router, "/api/v1/auth/forgot-password", map[string]string{"email": "unknown@example.com"})
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("responses differ: %s vs %s", first.Body.String(), second.Body.String())
	}
	if len(flows.resetRequests) != 2 {
		t.Fatalf("expected both requests forwarded, got %d", len(flows.resetRequests))
	}
}

func TestResetPasswordMapsInvalidCode(t *testing.T) {
	router := newAuthRouter(&stubAuthFlows{resetErr: usecase.ErrInvalidOrExpiredCode}, stubTokens{})

	rr := postJSON(router, "/api/v1/auth/reset-password", map[string]string{
		"email":        "ada@example.com",
		"code":         "123456",
		"new_password": "Sturdy&Lantern#Orbit77",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeError(t, rr).Error; got != "invalid or expired reset code" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestVerifyEmailRequiresSixDigitCode(t *testing.T) {
	router := newAuthRouter(&stubAuthFlows{}, stubTokens{})

	for _, code := range []string{"12345", "1234567", "12a456"} {
		rr := postJSON(router, "/api/v1/auth/verify-email", map[string]string{"email": "ada@example.com", "code": code})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("code %q: expected 400, got %d", code, rr.Code)
		}
	}

	rr := postJSON(router, "/api/v1/auth/verify-email", map[string]string{"email": "ada@example.com", "code": "012345"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestResendVerificationMapsErrors(t *testing.T) {
	cases := map[error]int{
		usecase.ErrAccountNotFound: http.StatusNotFound,
		usecase.ErrAlreadyVerified: http.StatusBadRequest,
		&usecase.RateLimitExceededError{Scope: "otp_issue", RetryAfter: 1500 * time.Millisecond}: http.StatusTooManyRequests,
	}
	for err, status := range cases {
		router := newAuthRouter(&stubAuthFlows{resendErr: err}, stubTokens{})
		rr := postJSON(router, "/api/v1/auth/resend-verification", map[string]string{"email": "ada@example.com"})
		if rr.Code != status {
			t.Fatalf("%v: expected %d, got %d", err, status, rr.Code)
		}
	}
}

func TestRateLimitProblemDetails(t *testing.T) {
	err := fmt.Errorf("issue: %w", &usecase.RateLimitExceededError{Scope: "otp_issue", RetryAfter: 1500 * time.Millisecond})
	router := newAuthRouter(&stubAuthFlows{resendErr: err}, stubTokens{})

	rr := postJSON(router, "/api/v1/auth/resend-verification", map[string]string{"email": "ada@example.com"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests || problem.RetryAfter != 2 || problem.Instance != "/api/v1/auth/resend-verification" {
		t.Fatalf("unexpected problem details %+v", problem)
	}
}
