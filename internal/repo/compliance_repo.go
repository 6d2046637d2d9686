// Package repo – compliance persistence.
//
// This file provides the strike-ledger primitives the compliance service
// composes inside a transaction: ensuring the per-user state row exists,
// incrementing the strike counter server-side, flipping the ban flags, and
// appending immutable ledger records. ComplianceRecord rows are append-only;
// there is deliberately no update or delete function for them.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
)

// GetComplianceState fetches the compliance state for userID. A user with no
// recorded violations yields a zero-valued state rather than ErrNotFound, so
// read paths never need to special-case new users.
func GetComplianceState(ctx context.Context, db *gorm.DB, userID string) (*domain.UserComplianceState, error) {
	var st domain.UserComplianceState
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.UserComplianceState{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// EnsureComplianceState creates the state row for userID if it does not exist
// yet. Safe to call concurrently; conflicting inserts are ignored.
func EnsureComplianceState(ctx context.Context, db *gorm.DB, userID string) error {
	st := &domain.UserComplianceState{UserID: userID, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(st).Error
}

// IncrementStrike bumps the strike counter by one server-side and returns the
// resulting state. Call inside a transaction together with the ledger append
// so a concurrent violation observes either both effects or neither.
func IncrementStrike(ctx context.Context, db *gorm.DB, userID string) (*domain.UserComplianceState, error) {
	if err := EnsureComplianceState(ctx, db, userID); err != nil {
		return nil, err
	}
	res := db.WithContext(ctx).
		Model(&domain.UserComplianceState{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"strike_count": gorm.Expr("strike_count + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	var st domain.UserComplianceState
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// SetBanned flips the ban and identity-blacklist flags forward and records the
// external identity they apply to. The flags are one-way; this function never
// clears them.
func SetBanned(ctx context.Context, db *gorm.DB, userID, externalIdentity string) error {
	cols := map[string]any{
		"banned":               true,
		"identity_blacklisted": true,
		"updated_at":           time.Now().UTC(),
	}
	if externalIdentity != "" {
		cols["external_identity"] = externalIdentity
	}
	return db.WithContext(ctx).
		Model(&domain.UserComplianceState{}).
		Where("user_id = ?", userID).
		Updates(cols).Error
}

// AppendComplianceRecord appends one immutable ledger entry.
func AppendComplianceRecord(ctx context.Context, db *gorm.DB, userID, exchangeID string, kind domain.ViolationKind, strikeNumber int) (*domain.ComplianceRecord, error) {
	rec := &domain.ComplianceRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		ExchangeID:   exchangeID,
		Kind:         kind,
		StrikeNumber: strikeNumber,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// ListComplianceRecords returns the user's ledger, oldest first.
func ListComplianceRecords(ctx context.Context, db *gorm.DB, userID string) ([]domain.ComplianceRecord, error) {
	var out []domain.ComplianceRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// IsIdentityBlacklisted reports whether any banned user's blacklisted state
// points at the given external identity. Used by the registration flow.
func IsIdentityBlacklisted(ctx context.Context, db *gorm.DB, identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.UserComplianceState{}).
		Where("external_identity = ? AND identity_blacklisted = ?", identity, true).
		Count(&n).Error
	return n > 0, err
}

// ResetCompliance zeroes the strike counter and clears the ban flag for
// userID. The identity blacklist flag is left untouched: a blacklisted
// external identity stays blacklisted even when the account is reinstated.
// Returns false when no state row exists.
func ResetCompliance(ctx context.Context, db *gorm.DB, userID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.UserComplianceState{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"strike_count": 0,
			"banned":       false,
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}
