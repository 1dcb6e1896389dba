package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get("request_id")

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

// StatusClientClosedRequest marks requests the caller abandoned. Nobody reads
// the body, the status keeps them apart from real failures in access logs and metrics.
const StatusClientClosedRequest = 499

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondUnauthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

// RespondServiceError maps account error kinds onto statuses. Causes stay in the logs.
func RespondServiceError(ctx *gin.Context, err error) {
	var verr *accounts.ValidationError

	switch {
	case errors.As(err, &verr):
		RespondBadRequest(ctx, "Invalid request body", gin.H{"fields": verr.Fields})
	case errors.Is(err, accounts.ErrValidation):
		RespondBadRequest(ctx, "Invalid request body", nil)
	case errors.Is(err, accounts.ErrAlreadyExists):
		RespondConflict(ctx, "already_exists", "An account with this email already exists.")
	case errors.Is(err, accounts.ErrNotFound):
		RespondNotFound(ctx, "Account not found.")
	case errors.Is(err, accounts.ErrInvalidCredentials):
		RespondUnauthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
	case errors.Is(err, context.Canceled):
		RespondError(ctx, StatusClientClosedRequest, "client_closed_request", "The request was canceled.", nil)
	case errors.Is(err, accounts.ErrTimeout):
		RespondError(ctx, http.StatusGatewayTimeout, "timeout", "The account store did not respond in time.", nil)
	case errors.Is(err, accounts.ErrStoreUnavailable):
		RespondError(ctx, http.StatusServiceUnavailable, "store_unavailable", "The account store is unavailable.", nil)
	default:
		RespondInternal(ctx, "Something went wrong.")
	}
}
