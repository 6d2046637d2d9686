// Exchange HTTP handlers.
//
// This file exposes REST endpoints for the exchange lifecycle:
//   - POST   /exchanges              (request a shoutout exchange)
//   - POST   /exchanges/{id}/accept  (accept, opens the posting window)
//   - POST   /exchanges/{id}/posts   (confirm the caller's side posted)
//   - DELETE /exchanges/{id}         (cancel before acceptance)
//   - GET    /exchanges/{id}         (status view)
//   - GET    /exchanges              (caller's exchanges, paginated)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate sentinel errors into HTTP responses. The caller is identified
// by the gateway-injected X-User-ID header; every mutation requires one.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
	"github.com/shoutswap/go-shoutout-backend/internal/services"
	"github.com/shoutswap/go-shoutout-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ExchangeService defines the lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ExchangeService interface {
	// Create opens a new exchange from the requester to acceptorID.
	Create(ctx context.Context, requesterID, acceptorID, requesterMediaID, acceptorMediaID string, media domain.MediaType) (*domain.Exchange, error)
	// Accept commits callerID to the exchange and opens the posting window.
	Accept(ctx context.Context, exchangeID, callerID string) (*domain.Exchange, error)
	// ConfirmPost records that the calling side published its repost.
	ConfirmPost(ctx context.Context, exchangeID, callerID, postURL string) (*domain.Exchange, error)
	// Cancel withdraws an exchange before it has been accepted.
	Cancel(ctx context.Context, exchangeID, callerID string) error
	// Status returns the read model for an exchange.
	Status(ctx context.Context, exchangeID string) (*services.StatusView, error)
	// ListForUser returns a page of the user's exchanges and the total count.
	ListForUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Exchange, int64, error)
}

//
// DTOs
//

// CreateExchangeRequest is the JSON payload for requesting an exchange.
type CreateExchangeRequest struct {
	// AcceptorID is the creator being asked to trade shoutouts.
	AcceptorID string `json:"acceptor_id" binding:"required"`
	// RequesterMediaID is the requester's content the acceptor will repost.
	RequesterMediaID string `json:"requester_media_id" binding:"required"`
	// AcceptorMediaID is the acceptor's content the requester will repost.
	AcceptorMediaID string `json:"acceptor_media_id" binding:"required"`
	// MediaType is one of post, story, reel; plan-gated.
	MediaType string `json:"media_type" binding:"required"`
}

// ConfirmPostRequest is the JSON payload for confirming a posted repost.
type ConfirmPostRequest struct {
	// PostURL is the public URL of the published repost.
	PostURL string `json:"post_url" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListExchangesResponse wraps a page of exchanges and pagination information.
type ListExchangesResponse struct {
	Exchanges  []domain.Exchange `json:"exchanges"`
	Pagination Pagination        `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// exchangeID validates the :id path parameter as a UUID.
func exchangeID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "exchange id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handler wiring
//

// ExchangeHandlers groups the HTTP endpoints for the exchange lifecycle.
type ExchangeHandlers struct {
	svc ExchangeService
}

// NewExchangeHandlers binds the handlers to the given service.
func NewExchangeHandlers(svc ExchangeService) *ExchangeHandlers {
	return &ExchangeHandlers{svc: svc}
}

//
// Handlers
//

// CreateExchange handles POST /exchanges. The caller is the requester.
// 201 with the created exchange on success; 403 account_banned or
// plan_restricted, 429 quota_exceeded on rejection.
func (h *ExchangeHandlers) CreateExchange(c *gin.Context) {
	caller, okc := callerID(c)
	if !okc {
		return
	}
	var req CreateExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	media := domain.MediaType(strings.ToLower(strings.TrimSpace(req.MediaType)))
	if !media.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "media_type must be one of post, story, reel")
		return
	}
	if req.AcceptorID == caller {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot open an exchange with yourself")
		return
	}

	ex, err := h.svc.Create(c.Request.Context(), caller, req.AcceptorID, req.RequesterMediaID, req.AcceptorMediaID, media)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusCreated, ex)
}

// AcceptExchange handles POST /exchanges/:id/accept. Only the designated
// acceptor may accept, and only while the exchange awaits acceptance.
func (h *ExchangeHandlers) AcceptExchange(c *gin.Context) {
	caller, okc := callerID(c)
	if !okc {
		return
	}
	id, okid := exchangeID(c)
	if !okid {
		return
	}

	ex, err := h.svc.Accept(c.Request.Context(), id, caller)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, ex)
}

// ConfirmPost handles POST /exchanges/:id/posts. Idempotent per side: a
// replayed confirmation returns 200 with the current exchange.
func (h *ExchangeHandlers) ConfirmPost(c *gin.Context) {
	caller, okc := callerID(c)
	if !okc {
		return
	}
	id, okid := exchangeID(c)
	if !okid {
		return
	}
	var req ConfirmPostRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PostURL) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "post_url required")
		return
	}

	ex, err := h.svc.ConfirmPost(c.Request.Context(), id, caller, strings.TrimSpace(req.PostURL))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, ex)
}

// CancelExchange handles DELETE /exchanges/:id. 204 on success.
func (h *ExchangeHandlers) CancelExchange(c *gin.Context) {
	caller, okc := callerID(c)
	if !okc {
		return
	}
	id, okid := exchangeID(c)
	if !okid {
		return
	}

	if err := h.svc.Cancel(c.Request.Context(), id, caller); err != nil {
		failFromService(c, err)
		return
	}
	noContent(c)
}

// GetExchange handles GET /exchanges/:id, returning the status view with the
// time remaining in the posting window.
func (h *ExchangeHandlers) GetExchange(c *gin.Context) {
	id, okid := exchangeID(c)
	if !okid {
		return
	}
	view, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// ListExchanges handles GET /exchanges, returning the caller's exchanges,
// most recent first.
func (h *ExchangeHandlers) ListExchanges(c *gin.Context) {
	caller, okc := callerID(c)
	if !okc {
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.svc.ListForUser(c.Request.Context(), caller, page, pageSize)
	if err != nil {
		failFromService(c, err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListExchangesResponse{
		Exchanges: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
