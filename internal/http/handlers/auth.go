package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (accounts.AuthOutcome, error)
}

type AuthHandler struct {
	auth Authenticator
}

func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type LoginResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          user.Public `json:"user"`
}

// POST /login
// Success only confirms the credentials. No session or token is issued here.
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	out, err := h.auth.Authenticate(ctx.Request.Context(), req.Email, req.Password)

	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	if err := out.Err(); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, LoginResponse{
		Authenticated: true,
		User:          out.User,
	})
}
