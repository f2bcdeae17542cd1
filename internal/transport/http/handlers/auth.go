package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/usecase"
)

const forgotPasswordMessage = "If the email exists, a password reset code has been sent."

// AuthFlows is the subset of usecase.AuthService used by AuthHandler.
type AuthFlows interface {
	Login(ctx context.Context, username, password string) (*domain.Account, error)
	Register(ctx context.Context, input usecase.RegisterInput) (*domain.Account, error)
	ConfirmRegistration(ctx context.Context, email, code string) error
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

// TokenIssuer signs access tokens for authenticated accounts.
type TokenIssuer interface {
	Issue(account domain.Account) (string, error)
	TTL() time.Duration
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth   AuthFlows
	tokens TokenIssuer
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthFlows, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens}
}

// RegisterRoutes binds the public authentication routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.register)
	r.POST("/verify-email", h.verifyEmail)
	r.POST("/login", h.login)
	r.POST("/forgot-password", h.forgotPassword)
	r.POST("/reset-password", h.resetPassword)
	r.POST("/resend-verification", h.resendVerification)
}

var registerErrorCases = []ErrorCase{
	{Err: usecase.ErrDuplicateEmail, Status: http.StatusBadRequest, Message: "email already registered"},
	{Err: usecase.ErrDuplicateUsername, Status: http.StatusBadRequest, Message: "username already taken"},
	{Err: usecase.ErrVerificationDeliveryFailed, Status: http.StatusInternalServerError, Message: "failed to send verification email"},
}

func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	account, err := h.auth.Register(c.Request.Context(), usecase.RegisterInput{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Profile: domain.Profile{
			FirstName: strings.TrimSpace(req.FirstName),
			LastName:  strings.TrimSpace(req.LastName),
		},
	})
	if err != nil {
		RespondWithMappedError(c, err, registerErrorCases, http.StatusInternalServerError, "failed to register user")
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		Message: "registration successful; check your email for the verification code",
		Account: newAccountResponse(*account),
	})
}

func (h *AuthHandler) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	if err := h.auth.ConfirmRegistration(c.Request.Context(), req.Email, req.Code); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidOrExpiredCode, Status: http.StatusBadRequest, Message: "invalid or expired verification code"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusBadRequest, Message: "invalid or expired verification code"},
		}, http.StatusInternalServerError, "failed to verify email")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "email verified successfully"})
}

var loginErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid username or password"},
	{Err: usecase.ErrAccountLocked, Status: http.StatusUnauthorized, Message: "account is temporarily locked due to too many failed login attempts"},
	{Err: usecase.ErrEmailNotVerified, Status: http.StatusUnauthorized, Message: "please verify your email before logging in"},
	{Err: usecase.ErrAccountDeactivated, Status: http.StatusUnauthorized, Message: "account is deactivated"},
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	account, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, loginErrorCases, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	token, err := h.tokens.Issue(*account)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to issue access token"))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokens.TTL() / time.Second),
		Account:     newAccountResponse(*account),
	})
}

// forgotPassword answers identically whether or not the address is known.
func (h *AuthHandler) forgotPassword(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid email payload"))
		return
	}

	if err := h.auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to process password reset request")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: forgotPasswordMessage})
}

func (h *AuthHandler) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset payload"))
		return
	}

	if err := h.auth.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidOrExpiredCode, Status: http.StatusBadRequest, Message: "invalid or expired reset code"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusBadRequest, Message: "invalid or expired reset code"},
		}, http.StatusInternalServerError, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password reset successfully"})
}

func (h *AuthHandler) resendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid email payload"))
		return
	}

	if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "user not found"},
			{Err: usecase.ErrAlreadyVerified, Status: http.StatusBadRequest, Message: "email is already verified"},
			{Err: usecase.ErrVerificationDeliveryFailed, Status: http.StatusInternalServerError, Message: "failed to send verification email"},
		}, http.StatusInternalServerError, "failed to resend verification code")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "verification code sent"})
}
