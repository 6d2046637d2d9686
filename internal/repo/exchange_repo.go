// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Exchange
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Concurrency contract: every mutation is a guarded (conditional) UPDATE whose
// WHERE clause re-states the state the caller observed. A false return means
// the guard no longer held when the statement ran — another actor (a user
// action or the expiry sweep) got there first. Callers translate that into
// their own race-loss semantics; the repository never raises it as an error.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateExchange inserts a new exchange in awaiting_acceptance between
// requesterID and acceptorID. The ID is a randomly generated UUID and
// CreatedAt is set to UTC.
func CreateExchange(ctx context.Context, db *gorm.DB, requesterID, acceptorID, requesterMediaID, acceptorMediaID string, media domain.MediaType) (*domain.Exchange, error) {
	ex := &domain.Exchange{
		ID:               uuid.NewString(),
		RequesterID:      requesterID,
		AcceptorID:       acceptorID,
		RequesterMediaID: requesterMediaID,
		AcceptorMediaID:  acceptorMediaID,
		MediaType:        media,
		Status:           domain.StatusAwaitingAcceptance,
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ex).Error; err != nil {
		return nil, err
	}
	return ex, nil
}

// GetExchange fetches a single exchange by ID, or ErrNotFound if missing.
func GetExchange(ctx context.Context, db *gorm.DB, id string) (*domain.Exchange, error) {
	var ex domain.Exchange
	if err := db.WithContext(ctx).Where("id = ?", id).First(&ex).Error; err != nil {
		return nil, err
	}
	return &ex, nil
}

// AcceptExchange transitions id from awaiting_acceptance to awaiting_posts,
// stamping the acceptance time and the posting deadline. Returns false when
// the exchange is no longer awaiting acceptance.
func AcceptExchange(ctx context.Context, db *gorm.DB, id string, acceptedAt, expiresAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Exchange{}).
		Where("id = ? AND status = ?", id, domain.StatusAwaitingAcceptance).
		Updates(map[string]any{
			"status":      domain.StatusAwaitingPosts,
			"accepted_at": acceptedAt,
			"expires_at":  expiresAt,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkSidePosted records a post confirmation for one side. The guard requires
// the exchange to still be in awaiting_posts and the side to be unposted, so
// repeated confirmations and races against the sweep both affect zero rows.
func MarkSidePosted(ctx context.Context, db *gorm.DB, id string, side domain.Side, postURL string, at time.Time) (bool, error) {
	cols := map[string]any{
		"requester_posted":    true,
		"requester_posted_at": at,
		"requester_post_url":  postURL,
	}
	guard := "requester_posted = ?"
	if side == domain.SideAcceptor {
		cols = map[string]any{
			"acceptor_posted":    true,
			"acceptor_posted_at": at,
			"acceptor_post_url":  postURL,
		}
		guard = "acceptor_posted = ?"
	}
	res := db.WithContext(ctx).
		Model(&domain.Exchange{}).
		Where("id = ? AND status = ? AND "+guard, id, domain.StatusAwaitingPosts, false).
		Updates(cols)
	return res.RowsAffected > 0, res.Error
}

// CompleteExchange transitions id to completed, guarded on both sides having
// posted while the exchange is still in awaiting_posts.
func CompleteExchange(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Exchange{}).
		Where("id = ? AND status = ? AND requester_posted = ? AND acceptor_posted = ?",
			id, domain.StatusAwaitingPosts, true, true).
		Updates(map[string]any{
			"status":       domain.StatusCompleted,
			"completed_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

// UpdateStatusIf performs a bare conditional status transition from one
// non-terminal status to another (cancellation and the ban cascade).
func UpdateStatusIf(ctx context.Context, db *gorm.DB, id string, from, to domain.ExchangeStatus) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Exchange{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

// ExpireExchange transitions id to incomplete, guarded on the exchange still
// awaiting posts with a deadline at or before now. The time guard keeps a
// stale sweeper instance from expiring an exchange whose row it read long ago.
func ExpireExchange(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Exchange{}).
		Where("id = ? AND status = ? AND expires_at <= ?", id, domain.StatusAwaitingPosts, now).
		Update("status", domain.StatusIncomplete)
	return res.RowsAffected > 0, res.Error
}

// ListDueExchanges returns up to limit exchanges whose posting window has
// closed but which are still awaiting posts, oldest deadline first. Served by
// the (status, expires_at) composite index.
func ListDueExchanges(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Exchange, error) {
	var out []domain.Exchange
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", domain.StatusAwaitingPosts, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListExpiringBetween returns exchanges still awaiting posts whose deadline
// falls in (from, to] and where at least one side has not posted. Used by the
// reminder pass; it never feeds a mutation.
func ListExpiringBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Exchange, error) {
	var out []domain.Exchange
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND expires_at <= ? AND (requester_posted = ? OR acceptor_posted = ?)",
			domain.StatusAwaitingPosts, from, to, false, false).
		Order("expires_at asc").
		Find(&out).Error
	return out, err
}

// ListOpenByUser returns every non-terminal exchange where userID is a party.
// Feeds the ban cascade.
func ListOpenByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Exchange, error) {
	var out []domain.Exchange
	err := db.WithContext(ctx).
		Where("(requester_id = ? OR acceptor_id = ?) AND status IN ?",
			userID, userID, []domain.ExchangeStatus{domain.StatusAwaitingAcceptance, domain.StatusAwaitingPosts}).
		Find(&out).Error
	return out, err
}

// CountExchangesForUser returns the total number of exchanges where userID is
// a party, for pagination metadata.
func CountExchangesForUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Exchange{}).
		Where("requester_id = ? OR acceptor_id = ?", userID, userID).
		Count(&total).Error
	return total, err
}

// ListExchangesPageForUser returns a page of the user's exchanges, most
// recent first. The caller computes offset and limit.
func ListExchangesPageForUser(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Exchange, error) {
	var out []domain.Exchange
	err := db.WithContext(ctx).
		Where("requester_id = ? OR acceptor_id = ?", userID, userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
