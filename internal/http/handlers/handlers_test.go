package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
	"github.com/shoutswap/go-shoutout-backend/internal/http/middleware"
	"github.com/shoutswap/go-shoutout-backend/internal/services"
)

//
// Fakes
//

// fakeExchangeService returns canned results, recording the last call args.
type fakeExchangeService struct {
	exchange *domain.Exchange
	status   *services.StatusView
	list     []domain.Exchange
	total    int64
	err      error

	lastCaller string
	lastID     string
	lastURL    string
	lastPage   int
	lastSize   int
}

func (f *fakeExchangeService) Create(_ context.Context, requesterID, acceptorID, _, _ string, _ domain.MediaType) (*domain.Exchange, error) {
	f.lastCaller = requesterID
	f.lastID = acceptorID
	return f.exchange, f.err
}

func (f *fakeExchangeService) Accept(_ context.Context, exchangeID, callerID string) (*domain.Exchange, error) {
	f.lastID, f.lastCaller = exchangeID, callerID
	return f.exchange, f.err
}

func (f *fakeExchangeService) ConfirmPost(_ context.Context, exchangeID, callerID, postURL string) (*domain.Exchange, error) {
	f.lastID, f.lastCaller, f.lastURL = exchangeID, callerID, postURL
	return f.exchange, f.err
}

func (f *fakeExchangeService) Cancel(_ context.Context, exchangeID, callerID string) error {
	f.lastID, f.lastCaller = exchangeID, callerID
	return f.err
}

func (f *fakeExchangeService) Status(_ context.Context, exchangeID string) (*services.StatusView, error) {
	f.lastID = exchangeID
	return f.status, f.err
}

func (f *fakeExchangeService) ListForUser(_ context.Context, userID string, page, pageSize int) ([]domain.Exchange, int64, error) {
	f.lastCaller, f.lastPage, f.lastSize = userID, page, pageSize
	return f.list, f.total, f.err
}

type fakeCompliance struct {
	state     *domain.UserComplianceState
	records   []domain.ComplianceRecord
	banned    bool
	err       error
	lastActor string
	lastUser  string
}

func (f *fakeCompliance) State(_ context.Context, userID string) (*domain.UserComplianceState, error) {
	f.lastUser = userID
	return f.state, f.err
}

func (f *fakeCompliance) Records(_ context.Context, _ string) ([]domain.ComplianceRecord, error) {
	return f.records, f.err
}

func (f *fakeCompliance) IsIdentityBanned(_ context.Context, _ string) (bool, error) {
	return f.banned, f.err
}

func (f *fakeCompliance) AdminReset(_ context.Context, userID, actor string) error {
	f.lastUser, f.lastActor = userID, actor
	return f.err
}

type fakeQuota struct {
	view *services.QuotaView
	err  error
}

func (f *fakeQuota) View(context.Context, string) (*services.QuotaView, error) {
	return f.view, f.err
}

type fakeSocial struct{ remaining float64 }

func (f *fakeSocial) Remaining(context.Context, string) float64 { return f.remaining }

//
// Harness
//

func newHandlerRouter(ex *fakeExchangeService, comp *fakeCompliance, q *fakeQuota, soc *fakeSocial) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CallerIdentity())

	eh := NewExchangeHandlers(ex)
	r.POST("/exchanges", eh.CreateExchange)
	r.GET("/exchanges", eh.ListExchanges)
	r.GET("/exchanges/:id", eh.GetExchange)
	r.POST("/exchanges/:id/accept", eh.AcceptExchange)
	r.POST("/exchanges/:id/posts", eh.ConfirmPost)
	r.DELETE("/exchanges/:id", eh.CancelExchange)

	ch := NewComplianceHandlers(comp, q, soc, 30)
	r.GET("/users/:id/compliance", ch.GetCompliance)
	r.GET("/users/:id/quota", ch.GetQuota)
	r.GET("/identities/:id/banned", ch.GetIdentityBanned)
	r.GET("/identities/:id/rate-limit", ch.GetRateLimit)
	r.POST("/admin/users/:id/compliance/reset", ch.ResetCompliance)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body not JSON: %v (%s)", err, w.Body.String())
	}
	return resp
}

//
// Exchange endpoints
//

func TestCreateExchange_Success(t *testing.T) {
	ex := &fakeExchangeService{exchange: &domain.Exchange{ID: uuid.NewString(), Status: domain.StatusAwaitingAcceptance}}
	r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	body := `{"acceptor_id":"bob","requester_media_id":"m1","acceptor_media_id":"m2","media_type":"Post"}`
	w := doJSON(t, r, http.MethodPost, "/exchanges", "alice", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if ex.lastCaller != "alice" || ex.lastID != "bob" {
		t.Fatalf("service args: caller=%q acceptor=%q", ex.lastCaller, ex.lastID)
	}
}

func TestCreateExchange_RequiresCaller(t *testing.T) {
	r := newHandlerRouter(&fakeExchangeService{}, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})
	w := doJSON(t, r, http.MethodPost, "/exchanges", "", `{}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeUnauthorized {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestCreateExchange_BadInput(t *testing.T) {
	r := newHandlerRouter(&fakeExchangeService{}, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing fields", `{"acceptor_id":"bob"}`},
		{"unknown media", `{"acceptor_id":"bob","requester_media_id":"m1","acceptor_media_id":"m2","media_type":"gif"}`},
		{"self exchange", `{"acceptor_id":"alice","requester_media_id":"m1","acceptor_media_id":"m2","media_type":"post"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/exchanges", "alice", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d; want 400", w.Code)
			}
			if resp := decodeError(t, w); resp.Code != ErrCodeBadRequest {
				t.Fatalf("code = %q", resp.Code)
			}
		})
	}
}

func TestServiceErrorMapping(t *testing.T) {
	id := uuid.NewString()
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{services.ErrExchangeNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrUnauthorized, http.StatusForbidden, ErrCodeForbidden},
		{services.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
		{services.ErrAlreadyResolved, http.StatusConflict, ErrCodeAlreadyResolved},
		{services.ErrQuotaExceeded, http.StatusTooManyRequests, ErrCodeQuotaExceeded},
		{services.ErrRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
		{services.ErrBanned, http.StatusForbidden, ErrCodeBanned},
		{services.ErrPlanRestricted, http.StatusForbidden, ErrCodePlanRestricted},
	}
	for _, tc := range cases {
		t.Run(tc.wantCode, func(t *testing.T) {
			ex := &fakeExchangeService{err: tc.err}
			r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

			w := doJSON(t, r, http.MethodPost, "/exchanges/"+id+"/accept", "bob", "")
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d; want %d", w.Code, tc.wantStatus)
			}
			if resp := decodeError(t, w); resp.Code != tc.wantCode {
				t.Fatalf("code = %q; want %q", resp.Code, tc.wantCode)
			}
		})
	}
}

func TestServiceErrorMapping_UnknownErrorIs500(t *testing.T) {
	ex := &fakeExchangeService{err: context.DeadlineExceeded}
	r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodPost, "/exchanges/"+uuid.NewString()+"/accept", "bob", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Code != ErrCodeInternal || resp.Message != "internal server error" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

func TestExchangeID_MustBeUUID(t *testing.T) {
	r := newHandlerRouter(&fakeExchangeService{}, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})
	w := doJSON(t, r, http.MethodPost, "/exchanges/not-a-uuid/accept", "bob", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}

func TestConfirmPost_ForwardsTrimmedURL(t *testing.T) {
	id := uuid.NewString()
	ex := &fakeExchangeService{exchange: &domain.Exchange{ID: id}}
	r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodPost, "/exchanges/"+id+"/posts", "alice", `{"post_url":"  https://example.com/p/1  "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if ex.lastURL != "https://example.com/p/1" {
		t.Fatalf("url = %q", ex.lastURL)
	}

	w = doJSON(t, r, http.MethodPost, "/exchanges/"+id+"/posts", "alice", `{"post_url":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank url status = %d; want 400", w.Code)
	}
}

func TestCancelExchange_NoContent(t *testing.T) {
	id := uuid.NewString()
	ex := &fakeExchangeService{}
	r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodDelete, "/exchanges/"+id, "alice", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d; want 204", w.Code)
	}
	if ex.lastID != id || ex.lastCaller != "alice" {
		t.Fatalf("service args: id=%q caller=%q", ex.lastID, ex.lastCaller)
	}
}

func TestGetExchange_StatusView(t *testing.T) {
	id := uuid.NewString()
	exp := time.Now().UTC().Add(time.Hour)
	ex := &fakeExchangeService{status: &services.StatusView{
		ID:            id,
		Status:        domain.StatusAwaitingPosts,
		ExpiresAt:     &exp,
		RemainingSecs: 3600,
	}}
	r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodGet, "/exchanges/"+id, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view services.StatusView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("body: %v", err)
	}
	if view.ID != id || view.Status != domain.StatusAwaitingPosts || view.RemainingSecs != 3600 {
		t.Fatalf("view = %+v", view)
	}
}

func TestListExchanges_PaginationEnvelope(t *testing.T) {
	ex := &fakeExchangeService{
		list:  []domain.Exchange{{ID: uuid.NewString()}},
		total: 41,
	}
	r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodGet, "/exchanges?page=2&page_size=20", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListExchangesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	p := resp.Pagination
	if p.Page != 2 || p.PageSize != 20 || p.Total != 41 || p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("pagination = %+v", p)
	}
	if ex.lastCaller != "alice" || ex.lastPage != 2 || ex.lastSize != 20 {
		t.Fatalf("service args: caller=%q page=%d size=%d", ex.lastCaller, ex.lastPage, ex.lastSize)
	}
}

func TestListExchanges_ClampsPagination(t *testing.T) {
	ex := &fakeExchangeService{}
	r := newHandlerRouter(ex, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodGet, "/exchanges?page=-3&page_size=9999", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ex.lastPage != 1 || ex.lastSize != 100 {
		t.Fatalf("clamped page=%d size=%d; want 1, 100", ex.lastPage, ex.lastSize)
	}
}

//
// Compliance, quota and rate-limit endpoints
//

func TestGetCompliance_CombinesStateAndLedger(t *testing.T) {
	comp := &fakeCompliance{
		state: &domain.UserComplianceState{UserID: "u1", StrikeCount: 2},
		records: []domain.ComplianceRecord{
			{UserID: "u1", StrikeNumber: 1},
			{UserID: "u1", StrikeNumber: 2},
		},
	}
	r := newHandlerRouter(&fakeExchangeService{}, comp, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodGet, "/users/u1/compliance", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ComplianceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if resp.UserID != "u1" || resp.StrikeCount != 2 || len(resp.Records) != 2 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestGetQuota(t *testing.T) {
	q := &fakeQuota{view: &services.QuotaView{UserID: "u1", SentToday: 3, DailyLimit: 10}}
	r := newHandlerRouter(&fakeExchangeService{}, &fakeCompliance{}, q, &fakeSocial{})

	w := doJSON(t, r, http.MethodGet, "/users/u1/quota", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view services.QuotaView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("body: %v", err)
	}
	if view.UserID != "u1" || view.SentToday != 3 {
		t.Fatalf("view = %+v", view)
	}
}

func TestGetIdentityBanned(t *testing.T) {
	comp := &fakeCompliance{banned: true}
	r := newHandlerRouter(&fakeExchangeService{}, comp, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodGet, "/identities/insta:alice/banned", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp IdentityBannedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if !resp.Banned || resp.Identity != "insta:alice" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestGetRateLimit_EchoesCapacity(t *testing.T) {
	r := newHandlerRouter(&fakeExchangeService{}, &fakeCompliance{}, &fakeQuota{}, &fakeSocial{remaining: 12.5})

	w := doJSON(t, r, http.MethodGet, "/identities/insta:alice/rate-limit", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp RateLimitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if resp.Remaining != 12.5 || resp.Capacity != 30 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestResetCompliance_RecordsActor(t *testing.T) {
	comp := &fakeCompliance{}
	r := newHandlerRouter(&fakeExchangeService{}, comp, &fakeQuota{}, &fakeSocial{})

	w := doJSON(t, r, http.MethodPost, "/admin/users/u1/compliance/reset", "admin-7", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d; want 204", w.Code)
	}
	if comp.lastUser != "u1" || comp.lastActor != "admin-7" {
		t.Fatalf("reset args: user=%q actor=%q", comp.lastUser, comp.lastActor)
	}

	w = doJSON(t, r, http.MethodPost, "/admin/users/u1/compliance/reset", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous reset status = %d; want 401", w.Code)
	}
}
