package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/transport/http/middleware"
	"github.com/arklim/credential-gate/internal/usecase"
)

const defaultAdminListLimit = 100

// AdminHandler exposes account administration. Routes expect RequireAuth and
// RequireRole(domain.RoleAdmin) to have run.
type AdminHandler struct {
	users AccountManager
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(users AccountManager) *AdminHandler {
	return &AdminHandler{users: users}
}

// RegisterRoutes binds administrative routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users", h.list)
	r.PUT("/users/:id", h.update)
	r.DELETE("/users/:id", h.deactivate)
}

func (h *AdminHandler) list(c *gin.Context) {
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "skip must be a non-negative integer"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAdminListLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be a positive integer"))
		return
	}

	accounts, err := h.users.ListAccounts(c.Request.Context(), skip, limit)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list users")
		return
	}

	items := make([]AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		items = append(items, newAccountSummary(account))
	}
	c.JSON(http.StatusOK, items)
}

func (h *AdminHandler) update(c *gin.Context) {
	actorID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req AdminUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid user update payload"))
		return
	}

	input := usecase.AdminUpdate{IsActive: req.IsActive}
	if req.Role != nil {
		role := domain.Role(*req.Role)
		input.Role = &role
	}

	account, err := h.users.AdminUpdate(c.Request.Context(), actorID, c.Param("id"), input)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "user not found"},
			{Err: usecase.ErrCannotModifySelf, Status: http.StatusBadRequest, Message: "cannot change your own role or status"},
			{Err: usecase.ErrInvalidRole, Status: http.StatusBadRequest, Message: "invalid role"},
		}, http.StatusInternalServerError, "failed to update user")
		return
	}

	c.JSON(http.StatusOK, newAccountResponse(*account))
}

func (h *AdminHandler) deactivate(c *gin.Context) {
	actorID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	account, err := h.users.Deactivate(c.Request.Context(), actorID, c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "user not found"},
			{Err: usecase.ErrCannotModifySelf, Status: http.StatusBadRequest, Message: "cannot deactivate your own account"},
		}, http.StatusInternalServerError, "failed to deactivate user")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("user %s deactivated successfully", account.Username)})
}
