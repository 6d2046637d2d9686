// Compliance, quota and rate-limit HTTP handlers.
//
// This file exposes the read-side endpoints of the compliance engine plus the
// administrative strike reset:
//   - GET  /users/{id}/compliance            (strike count, ban flags, ledger)
//   - GET  /users/{id}/quota                 (today's counters vs. plan limit)
//   - GET  /identities/{id}/banned           (registration blacklist check)
//   - GET  /identities/{id}/rate-limit       (social API bucket state)
//   - POST /admin/users/{id}/compliance/reset
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
	"github.com/shoutswap/go-shoutout-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ComplianceReader serves compliance state and the violation ledger.
type ComplianceReader interface {
	// State returns the user's strike counter and ban flags.
	State(ctx context.Context, userID string) (*domain.UserComplianceState, error)
	// Records returns the user's ledger entries, oldest first.
	Records(ctx context.Context, userID string) ([]domain.ComplianceRecord, error)
	// IsIdentityBanned reports whether the external identity is blacklisted.
	IsIdentityBanned(ctx context.Context, identity string) (bool, error)
	// AdminReset zeroes strikes and lifts the ban; the identity blacklist
	// is deliberately left in place.
	AdminReset(ctx context.Context, userID, actor string) error
}

// QuotaReader serves the caller-facing quota view.
type QuotaReader interface {
	View(ctx context.Context, userID string) (*services.QuotaView, error)
}

// SocialRateReader reports remaining tokens for an external identity.
type SocialRateReader interface {
	Remaining(ctx context.Context, identity string) float64
}

//
// DTOs
//

// ComplianceResponse combines the user's state with the full ledger.
type ComplianceResponse struct {
	UserID              string                    `json:"user_id"`
	StrikeCount         int                       `json:"strike_count"`
	Banned              bool                      `json:"banned"`
	IdentityBlacklisted bool                      `json:"identity_blacklisted"`
	Records             []domain.ComplianceRecord `json:"records"`
}

// IdentityBannedResponse answers the registration-time blacklist check.
type IdentityBannedResponse struct {
	Identity string `json:"identity"`
	Banned   bool   `json:"banned"`
}

// RateLimitResponse reports the current bucket state for an identity.
type RateLimitResponse struct {
	Identity  string  `json:"identity"`
	Remaining float64 `json:"remaining_tokens"`
	Capacity  float64 `json:"capacity"`
}

//
// Handler wiring
//

// ComplianceHandlers groups the compliance, quota, and rate-limit endpoints.
type ComplianceHandlers struct {
	compliance ComplianceReader
	quota      QuotaReader
	social     SocialRateReader
	// capacity is echoed in rate-limit responses so clients can size backoff.
	capacity float64
}

// NewComplianceHandlers binds the handlers to the given services.
func NewComplianceHandlers(compliance ComplianceReader, quota QuotaReader, social SocialRateReader, capacity float64) *ComplianceHandlers {
	return &ComplianceHandlers{compliance: compliance, quota: quota, social: social, capacity: capacity}
}

//
// Handlers
//

// GetCompliance handles GET /users/:id/compliance. Users with no recorded
// violations read as zero strikes, not as missing.
func (h *ComplianceHandlers) GetCompliance(c *gin.Context) {
	uid := c.Param("id")
	st, err := h.compliance.State(c.Request.Context(), uid)
	if err != nil {
		failFromService(c, err)
		return
	}
	recs, err := h.compliance.Records(c.Request.Context(), uid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, ComplianceResponse{
		UserID:              uid,
		StrikeCount:         st.StrikeCount,
		Banned:              st.Banned,
		IdentityBlacklisted: st.IdentityBlacklisted,
		Records:             recs,
	})
}

// GetQuota handles GET /users/:id/quota.
func (h *ComplianceHandlers) GetQuota(c *gin.Context) {
	view, err := h.quota.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// GetIdentityBanned handles GET /identities/:id/banned. The registration flow
// consults this before letting an external account onto the platform.
func (h *ComplianceHandlers) GetIdentityBanned(c *gin.Context) {
	identity := c.Param("id")
	banned, err := h.compliance.IsIdentityBanned(c.Request.Context(), identity)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, IdentityBannedResponse{Identity: identity, Banned: banned})
}

// GetRateLimit handles GET /identities/:id/rate-limit, reporting the social
// API token bucket without consuming from it.
func (h *ComplianceHandlers) GetRateLimit(c *gin.Context) {
	identity := c.Param("id")
	ok(c, http.StatusOK, RateLimitResponse{
		Identity:  identity,
		Remaining: h.social.Remaining(c.Request.Context(), identity),
		Capacity:  h.capacity,
	})
}

// ResetCompliance handles POST /admin/users/:id/compliance/reset. The caller
// (from X-User-ID) is recorded as the acting administrator.
func (h *ComplianceHandlers) ResetCompliance(c *gin.Context) {
	actor, okc := callerID(c)
	if !okc {
		return
	}
	if err := h.compliance.AdminReset(c.Request.Context(), c.Param("id"), actor); err != nil {
		failFromService(c, err)
		return
	}
	noContent(c)
}
