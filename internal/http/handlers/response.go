// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints: the structured error envelope, the service-error-to-HTTP
// mapping, and small helpers for consistent success responses.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "already_resolved",
//	  "message": "exchange was resolved by a concurrent action"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shoutswap/go-shoutout-backend/internal/http/middleware"
	"github.com/shoutswap/go-shoutout-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// RequestID correlates server logs and client errors.
	RequestID string `json:"request_id,omitempty"`
	// Code is a stable, machine-readable string (see errors.go constants).
	Code string `json:"code"`
	// Message is a human-readable description, safe to show to users.
	Message string `json:"message"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by router-level handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failFromService translates a service-layer error into the appropriate HTTP
// status and code. The taxonomy keeps quota, rate-limit and ban rejections
// distinguishable, and reports a benign race loss (already_resolved)
// distinctly from a true invalid transition.
func failFromService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrExchangeNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrAlreadyResolved):
		fail(c, http.StatusConflict, ErrCodeAlreadyResolved, err.Error())
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, err.Error())
	case errors.Is(err, services.ErrRateLimited):
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
	case errors.Is(err, services.ErrBanned):
		fail(c, http.StatusForbidden, ErrCodeBanned, err.Error())
	case errors.Is(err, services.ErrPlanRestricted):
		fail(c, http.StatusForbidden, ErrCodePlanRestricted, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ok writes a success JSON response with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// callerID extracts the gateway-authenticated caller, failing the request
// with 401 when absent.
func callerID(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing X-User-ID")
		return "", false
	}
	return uid, true
}
