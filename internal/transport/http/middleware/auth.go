package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/infra/security"
	"github.com/arklim/credential-gate/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// AccessTokenParser validates bearer tokens.
type AccessTokenParser interface {
	Parse(raw string) (*security.AccessTokenClaims, error)
}

// AccountLoader resolves the account behind a token so role and status are current.
type AccountLoader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

// RequireAuth validates the Authorization header and stores the caller's
// account id and role on the context. When accounts is non-nil the role is
// taken from the stored account and deactivated accounts are refused.
func RequireAuth(tokens AccessTokenParser, accounts AccountLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authentication credentials"))
			return
		}

		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authentication credentials"))
			return
		}

		accountID := claims.Subject
		role := domain.Role(claims.Role)

		if accounts != nil {
			account, err := accounts.GetAccount(c.Request.Context(), accountID)
			switch {
			case errors.Is(err, usecase.ErrAccountNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "account not found"))
				return
			case err != nil:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable,
					newErrorResponse(c, "authentication unavailable"))
				return
			case !account.IsActive:
				c.AbortWithStatusJSON(http.StatusForbidden,
					newErrorResponse(c, "account is deactivated"))
				return
			}
			role = account.Role
		}

		c.Set(AccountIDKey, accountID)
		c.Set(RoleKey, role)
		c.Set(ClaimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.AccountID = accountID
		}

		c.Next()
	}
}

// RequireRole admits callers whose role ranks at least required.
func RequireRole(required domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetAuthenticatedRole(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		if !domain.HasPermission(role, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetAuthenticatedAccountID retrieves the caller's account id set by RequireAuth.
func GetAuthenticatedAccountID(c *gin.Context) (string, bool) {
	value, exists := c.Get(AccountIDKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}

// GetAuthenticatedRole retrieves the caller's role set by RequireAuth.
func GetAuthenticatedRole(c *gin.Context) (domain.Role, bool) {
	value, exists := c.Get(RoleKey)
	if !exists {
		return "", false
	}
	role, ok := value.(domain.Role)
	return role, ok
}
