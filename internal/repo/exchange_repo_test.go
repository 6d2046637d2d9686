package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
)

func newExchangeRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("exchange_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func mustCreateExchange(t *testing.T, db *gorm.DB, requester, acceptor string) *domain.Exchange {
	t.Helper()
	ex, err := CreateExchange(context.Background(), db, requester, acceptor, "m-req", "m-acc", domain.MediaPost)
	if err != nil {
		t.Fatalf("CreateExchange: %v", err)
	}
	return ex
}

func mustAccept(t *testing.T, db *gorm.DB, id string, acceptedAt, expiresAt time.Time) {
	t.Helper()
	ok, err := AcceptExchange(context.Background(), db, id, acceptedAt, expiresAt)
	if err != nil || !ok {
		t.Fatalf("AcceptExchange: ok=%v err=%v", ok, err)
	}
}

func TestCreateExchange_Error_NoTable(t *testing.T) {
	db := newExchangeRepoDB(t /* no migrations */)
	ex, err := CreateExchange(context.Background(), db, "u1", "u2", "m1", "m2", domain.MediaPost)
	if err == nil || ex != nil {
		t.Fatalf("expected error creating without table, got ex=%v err=%v", ex, err)
	}
}

func TestCreateExchange_Success_SetsInitialState(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})

	start := time.Now().UTC().Add(-time.Minute)
	ex := mustCreateExchange(t, db, "u1", "u2")

	if ex.ID == "" || ex.RequesterID != "u1" || ex.AcceptorID != "u2" {
		t.Fatalf("unexpected Exchange fields: %+v", ex)
	}
	if ex.Status != domain.StatusAwaitingAcceptance {
		t.Fatalf("initial status = %q; want awaiting_acceptance", ex.Status)
	}
	if ex.AcceptedAt != nil || ex.ExpiresAt != nil || ex.CompletedAt != nil {
		t.Fatalf("timestamps should be unset at creation: %+v", ex)
	}
	if ex.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", ex.CreatedAt)
	}

	got, err := GetExchange(context.Background(), db, ex.ID)
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if got.RequesterMediaID != "m-req" || got.AcceptorMediaID != "m-acc" || got.MediaType != domain.MediaPost {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestGetExchange_NotFound(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	if _, err := GetExchange(context.Background(), db, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptExchange_GuardedOnStatus(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	ex := mustCreateExchange(t, db, "u1", "u2")

	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)
	mustAccept(t, db, ex.ID, now, expires)

	got, err := GetExchange(context.Background(), db, ex.ID)
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if got.Status != domain.StatusAwaitingPosts {
		t.Fatalf("status = %q; want awaiting_posts", got.Status)
	}
	if got.AcceptedAt == nil || got.ExpiresAt == nil {
		t.Fatalf("acceptance timestamps unset: %+v", got)
	}
	if !got.ExpiresAt.Equal(got.AcceptedAt.Add(24 * time.Hour)) {
		t.Fatalf("expires_at must be accepted_at + window: accepted=%v expires=%v", got.AcceptedAt, got.ExpiresAt)
	}

	// Second accept loses the guard.
	ok, err := AcceptExchange(context.Background(), db, ex.ID, now, expires)
	if err != nil {
		t.Fatalf("AcceptExchange replay: %v", err)
	}
	if ok {
		t.Fatalf("replayed accept must affect zero rows")
	}
}

func TestMarkSidePosted_PerSideAndIdempotent(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	ex := mustCreateExchange(t, db, "u1", "u2")
	now := time.Now().UTC()
	mustAccept(t, db, ex.ID, now, now.Add(time.Hour))

	ok, err := MarkSidePosted(context.Background(), db, ex.ID, domain.SideRequester, "https://x/p1", now)
	if err != nil || !ok {
		t.Fatalf("MarkSidePosted requester: ok=%v err=%v", ok, err)
	}
	// Same side again: guard fails.
	ok, err = MarkSidePosted(context.Background(), db, ex.ID, domain.SideRequester, "https://x/p1b", now)
	if err != nil || ok {
		t.Fatalf("replayed MarkSidePosted must affect zero rows: ok=%v err=%v", ok, err)
	}

	got, _ := GetExchange(context.Background(), db, ex.ID)
	if !got.RequesterPosted || got.AcceptorPosted {
		t.Fatalf("only requester side should be posted: %+v", got)
	}
	if got.RequesterPostURL != "https://x/p1" {
		t.Fatalf("first URL must win: %q", got.RequesterPostURL)
	}
	if got.RequesterPostedAt == nil {
		t.Fatalf("posted_at unset")
	}
}

func TestMarkSidePosted_RejectedWhenNotAwaitingPosts(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	ex := mustCreateExchange(t, db, "u1", "u2")

	ok, err := MarkSidePosted(context.Background(), db, ex.ID, domain.SideAcceptor, "https://x/p", time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("posting before acceptance must affect zero rows: ok=%v err=%v", ok, err)
	}
}

func TestCompleteExchange_RequiresBothSides(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	ex := mustCreateExchange(t, db, "u1", "u2")
	now := time.Now().UTC()
	mustAccept(t, db, ex.ID, now, now.Add(time.Hour))

	if ok, err := CompleteExchange(context.Background(), db, ex.ID, now); err != nil || ok {
		t.Fatalf("completion with zero posts must fail the guard: ok=%v err=%v", ok, err)
	}

	if ok, _ := MarkSidePosted(context.Background(), db, ex.ID, domain.SideRequester, "https://x/a", now); !ok {
		t.Fatalf("mark requester failed")
	}
	if ok, err := CompleteExchange(context.Background(), db, ex.ID, now); err != nil || ok {
		t.Fatalf("completion with one post must fail the guard: ok=%v err=%v", ok, err)
	}

	if ok, _ := MarkSidePosted(context.Background(), db, ex.ID, domain.SideAcceptor, "https://x/b", now); !ok {
		t.Fatalf("mark acceptor failed")
	}
	done := now.Add(time.Minute)
	if ok, err := CompleteExchange(context.Background(), db, ex.ID, done); err != nil || !ok {
		t.Fatalf("completion with both posts: ok=%v err=%v", ok, err)
	}

	got, _ := GetExchange(context.Background(), db, ex.ID)
	if got.Status != domain.StatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Fatalf("completed state wrong: %+v", got)
	}
}

func TestExpireExchange_GuardedOnDeadline(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	ex := mustCreateExchange(t, db, "u1", "u2")
	accepted := time.Now().UTC().Add(-2 * time.Hour)
	mustAccept(t, db, ex.ID, accepted, accepted.Add(time.Hour))

	// Sweep at a clock before the deadline: guard holds nothing.
	early := accepted.Add(30 * time.Minute)
	if ok, err := ExpireExchange(context.Background(), db, ex.ID, early); err != nil || ok {
		t.Fatalf("early expiry must affect zero rows: ok=%v err=%v", ok, err)
	}

	now := time.Now().UTC()
	ok, err := ExpireExchange(context.Background(), db, ex.ID, now)
	if err != nil || !ok {
		t.Fatalf("ExpireExchange: ok=%v err=%v", ok, err)
	}
	// Idempotent: a repeated sweep sees the terminal status.
	ok, err = ExpireExchange(context.Background(), db, ex.ID, now)
	if err != nil || ok {
		t.Fatalf("repeated expiry must affect zero rows: ok=%v err=%v", ok, err)
	}

	got, _ := GetExchange(context.Background(), db, ex.ID)
	if got.Status != domain.StatusIncomplete {
		t.Fatalf("status = %q; want incomplete", got.Status)
	}
}

func TestUpdateStatusIf_CancelPath(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	ex := mustCreateExchange(t, db, "u1", "u2")

	ok, err := UpdateStatusIf(context.Background(), db, ex.ID, domain.StatusAwaitingAcceptance, domain.StatusCancelled)
	if err != nil || !ok {
		t.Fatalf("cancel transition: ok=%v err=%v", ok, err)
	}
	// Losing side of the race.
	ok, err = UpdateStatusIf(context.Background(), db, ex.ID, domain.StatusAwaitingAcceptance, domain.StatusCancelled)
	if err != nil || ok {
		t.Fatalf("second cancel must affect zero rows: ok=%v err=%v", ok, err)
	}
}

func TestListDueExchanges_FiltersAndOrders(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	now := time.Now().UTC()

	due1 := mustCreateExchange(t, db, "a", "b")
	mustAccept(t, db, due1.ID, now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	due2 := mustCreateExchange(t, db, "c", "d")
	mustAccept(t, db, due2.ID, now.Add(-4*time.Hour), now.Add(-3*time.Hour))
	notDue := mustCreateExchange(t, db, "e", "f")
	mustAccept(t, db, notDue.ID, now, now.Add(time.Hour))
	_ = mustCreateExchange(t, db, "g", "h") // never accepted

	got, err := ListDueExchanges(context.Background(), db, now, 10)
	if err != nil {
		t.Fatalf("ListDueExchanges: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 due exchanges, got %d", len(got))
	}
	// Oldest deadline first.
	if got[0].ID != due2.ID || got[1].ID != due1.ID {
		t.Fatalf("order wrong: %s, %s", got[0].ID, got[1].ID)
	}

	// Limit applies.
	got, err = ListDueExchanges(context.Background(), db, now, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("limited list: n=%d err=%v", len(got), err)
	}
}

func TestListExpiringBetween_SkipsFullyPosted(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	now := time.Now().UTC()

	soon := mustCreateExchange(t, db, "a", "b")
	mustAccept(t, db, soon.ID, now, now.Add(time.Hour))

	posted := mustCreateExchange(t, db, "c", "d")
	mustAccept(t, db, posted.ID, now, now.Add(time.Hour))
	if ok, _ := MarkSidePosted(context.Background(), db, posted.ID, domain.SideRequester, "u", now); !ok {
		t.Fatalf("mark requester failed")
	}
	if ok, _ := MarkSidePosted(context.Background(), db, posted.ID, domain.SideAcceptor, "u", now); !ok {
		t.Fatalf("mark acceptor failed")
	}

	far := mustCreateExchange(t, db, "e", "f")
	mustAccept(t, db, far.ID, now, now.Add(48*time.Hour))

	got, err := ListExpiringBetween(context.Background(), db, now, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListExpiringBetween: %v", err)
	}
	if len(got) != 1 || got[0].ID != soon.ID {
		t.Fatalf("want only the soon-expiring unposted exchange, got %+v", got)
	}
}

func TestListOpenByUser_BothRolesNonTerminalOnly(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})
	now := time.Now().UTC()

	asRequester := mustCreateExchange(t, db, "u1", "x")
	asAcceptor := mustCreateExchange(t, db, "y", "u1")
	mustAccept(t, db, asAcceptor.ID, now, now.Add(time.Hour))
	cancelled := mustCreateExchange(t, db, "u1", "z")
	if ok, _ := UpdateStatusIf(context.Background(), db, cancelled.ID, domain.StatusAwaitingAcceptance, domain.StatusCancelled); !ok {
		t.Fatalf("cancel failed")
	}
	_ = mustCreateExchange(t, db, "other", "party")

	got, err := ListOpenByUser(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("ListOpenByUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 open exchanges, got %d", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids[asRequester.ID] || !ids[asAcceptor.ID] {
		t.Fatalf("unexpected open set: %+v", ids)
	}
}

func TestExchangePagination_CountAndPage(t *testing.T) {
	db := newExchangeRepoDB(t, &domain.Exchange{})

	for i := 0; i < 5; i++ {
		ex := mustCreateExchange(t, db, "u1", "peer")
		// Spread CreatedAt so the ordering is deterministic.
		ts := time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC)
		if err := db.Model(&domain.Exchange{}).Where("id = ?", ex.ID).Update("created_at", ts).Error; err != nil {
			t.Fatalf("seed created_at: %v", err)
		}
	}
	_ = mustCreateExchange(t, db, "someone", "else")

	total, err := CountExchangesForUser(context.Background(), db, "u1")
	if err != nil || total != 5 {
		t.Fatalf("CountExchangesForUser = %d, err=%v; want 5", total, err)
	}

	page, err := ListExchangesPageForUser(context.Background(), db, "u1", 0, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("page 1: n=%d err=%v", len(page), err)
	}
	// Most recent first.
	if !page[0].CreatedAt.After(page[1].CreatedAt) {
		t.Fatalf("page must be ordered most recent first: %v then %v", page[0].CreatedAt, page[1].CreatedAt)
	}

	last, err := ListExchangesPageForUser(context.Background(), db, "u1", 4, 2)
	if err != nil || len(last) != 1 {
		t.Fatalf("last page: n=%d err=%v", len(last), err)
	}
}
