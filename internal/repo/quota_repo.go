// Package repo – quota persistence.
//
// Daily counters are reset lazily: every read and write first folds any
// stale row forward to today's UTC date, so correctness never depends on a
// midnight cron firing. Reservations are single UPDATE statements whose WHERE
// clause carries the limit check, making check-and-increment atomic at the
// store; two concurrent reservations can never jointly exceed the limit.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
)

// ensureQuotaState inserts a fresh row for userID dated today; existing rows
// are left alone.
func ensureQuotaState(ctx context.Context, db *gorm.DB, userID, today string) error {
	st := &domain.QuotaState{
		UserID:        userID,
		LastResetDate: today,
		UpdatedAt:     time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(st).Error
}

// ResetQuotaIfStale applies the lazy daily reset: counters are zeroed and the
// row re-dated when its last reset date is older than today. Idempotent and
// safe under concurrent callers; the date guard makes the second reset a
// no-op.
func ResetQuotaIfStale(ctx context.Context, db *gorm.DB, userID, today string) error {
	if err := ensureQuotaState(ctx, db, userID, today); err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(&domain.QuotaState{}).
		Where("user_id = ? AND last_reset_date < ?", userID, today).
		Updates(map[string]any{
			"sent_today":      0,
			"accepted_today":  0,
			"last_reset_date": today,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// GetQuotaState returns the user's counters for today, applying the lazy
// reset first.
func GetQuotaState(ctx context.Context, db *gorm.DB, userID, today string) (*domain.QuotaState, error) {
	if err := ResetQuotaIfStale(ctx, db, userID, today); err != nil {
		return nil, err
	}
	var st domain.QuotaState
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// ReserveSend increments sent_today by one iff the counter is still under
// limit for today. Returns false when the quota is exhausted.
func ReserveSend(ctx context.Context, db *gorm.DB, userID, today string, limit int) (bool, error) {
	if err := ResetQuotaIfStale(ctx, db, userID, today); err != nil {
		return false, err
	}
	res := db.WithContext(ctx).
		Model(&domain.QuotaState{}).
		Where("user_id = ? AND last_reset_date = ? AND sent_today < ?", userID, today, limit).
		Updates(map[string]any{
			"sent_today": gorm.Expr("sent_today + 1"),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// ReserveAccept increments accepted_today by one iff the counter is still
// under limit for today. Returns false when the quota is exhausted.
func ReserveAccept(ctx context.Context, db *gorm.DB, userID, today string, limit int) (bool, error) {
	if err := ResetQuotaIfStale(ctx, db, userID, today); err != nil {
		return false, err
	}
	res := db.WithContext(ctx).
		Model(&domain.QuotaState{}).
		Where("user_id = ? AND last_reset_date = ? AND accepted_today < ?", userID, today, limit).
		Updates(map[string]any{
			"accepted_today": gorm.Expr("accepted_today + 1"),
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}
