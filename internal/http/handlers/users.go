package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type AccountRegistrar interface {
	Register(ctx context.Context, in accounts.RegisterInput) (user.Public, error)
}

type AccountLister interface {
	ListByRole(ctx context.Context, role string) ([]user.Public, error)
	ListAll(ctx context.Context) ([]user.Public, error)
}

type AccountFinder interface {
	Find(ctx context.Context, email string) (user.Public, error)
}

type AccountDeleter interface {
	DeleteAccount(ctx context.Context, email string) (bool, error)
}

type UserAccounts interface {
	AccountRegistrar
	AccountLister
	AccountFinder
	AccountDeleter
}

type UsersHandler struct {
	accounts UserAccounts
}

func NewUsersHandler(svc UserAccounts) *UsersHandler {
	return &UsersHandler{accounts: svc}
}

// POST /users
func (h *UsersHandler) CreateUser(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	created, err := h.accounts.Register(ctx.Request.Context(), accounts.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})

	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, created)
}

// GET /users/role/:role
func (h *UsersHandler) ListByRole(ctx *gin.Context) {
	users, err := h.accounts.ListByRole(ctx.Request.Context(), ctx.Param("role"))

	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, users)
}

// GET /users
func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	users, err := h.accounts.ListAll(ctx.Request.Context())

	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, users)
}

// GET /users/:email
func (h *UsersHandler) GetUser(ctx *gin.Context) {
	found, err := h.accounts.Find(ctx.Request.Context(), ctx.Param("email"))

	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, found)
}

// DELETE /users/:email
func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	removed, err := h.accounts.DeleteAccount(ctx.Request.Context(), ctx.Param("email"))

	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	if !removed {
		RespondNotFound(ctx, "Account not found.")
		return
	}

	ctx.Status(http.StatusNoContent)
}
