package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/transport/http/middleware"
	"github.com/arklim/credential-gate/internal/usecase"
)

// AccountManager is the subset of usecase.UserService used by the HTTP layer.
type AccountManager interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	UpdateProfile(ctx context.Context, id string, input usecase.ProfileUpdate) (*domain.Account, error)
	ListAccounts(ctx context.Context, offset, limit int) ([]domain.Account, error)
	AdminUpdate(ctx context.Context, actorID, targetID string, input usecase.AdminUpdate) (*domain.Account, error)
	Deactivate(ctx context.Context, actorID, targetID string) (*domain.Account, error)
}

// PasswordChanger replaces the password of an authenticated account.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
}

// UserHandler exposes self-service account endpoints. Every route expects
// RequireAuth to have run.
type UserHandler struct {
	users     AccountManager
	passwords PasswordChanger
}

// NewUserHandler constructs UserHandler.
func NewUserHandler(users AccountManager, passwords PasswordChanger) *UserHandler {
	return &UserHandler{users: users, passwords: passwords}
}

// RegisterRoutes binds profile routes onto an authenticated group.
func (h *UserHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/profile", h.Me)
	r.PUT("/profile", h.updateProfile)
	r.POST("/change-password", h.changePassword)
}

var accountLookupCases = []ErrorCase{
	{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "user not found"},
}

// Me returns the caller's account.
func (h *UserHandler) Me(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	account, err := h.users.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		RespondWithMappedError(c, err, accountLookupCases, http.StatusInternalServerError, "failed to load account")
		return
	}

	c.JSON(http.StatusOK, newAccountResponse(*account))
}

func (h *UserHandler) updateProfile(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid profile payload"))
		return
	}

	account, err := h.users.UpdateProfile(c.Request.Context(), accountID, usecase.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
		Phone:     req.Phone,
		Location:  req.Location,
	})
	if err != nil {
		RespondWithMappedError(c, err, accountLookupCases, http.StatusInternalServerError, "failed to update profile")
		return
	}

	c.JSON(http.StatusOK, newAccountResponse(*account))
}

func (h *UserHandler) changePassword(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password change payload"))
		return
	}

	if err := h.passwords.ChangePassword(c.Request.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCurrentPassword, Status: http.StatusBadRequest, Message: "current password is incorrect"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to change password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password changed successfully"})
}
