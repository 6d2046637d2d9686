// Package services – QuotaService
//
// This file implements the quota tracker: per-user daily counters for
// exchange requests sent and accepted, capped by the subscription plan's
// daily limit. Counters reset lazily at the UTC day boundary (see repo), and
// reservations are atomic check-and-increments — the check and the bump are
// one statement, so concurrent requests from the same user cannot jointly
// exceed the limit.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
	"github.com/shoutswap/go-shoutout-backend/internal/repo"
)

// QuotaService enforces plan-gated daily quotas.
type QuotaService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Catalog serves per-plan limits.
	Catalog PlanCatalog
	// Plans resolves a user's subscription tier.
	Plans PlanDirectory
	// Compliance is consulted by the advisory Can* checks; a banned user
	// can never send or accept regardless of remaining quota.
	Compliance *ComplianceService
}

// QuotaView is the read model served to controllers.
type QuotaView struct {
	UserID        string             `json:"user_id"`
	Plan          domain.Plan        `json:"plan"`
	DailyLimit    int                `json:"daily_limit"`
	SentToday     int                `json:"sent_today"`
	AcceptedToday int                `json:"accepted_today"`
	ResetsAt      time.Time          `json:"resets_at"`
	MediaTypes    []domain.MediaType `json:"allowed_media_types,omitempty"`
}

// limits resolves the user's plan and its limits.
func (s *QuotaService) limits(ctx context.Context, userID string) (domain.Plan, PlanLimits, error) {
	plan, err := s.Plans.PlanOf(ctx, userID)
	if err != nil {
		return "", PlanLimits{}, err
	}
	lim, err := s.Catalog.Limits(plan)
	if err != nil {
		return "", PlanLimits{}, err
	}
	return plan, lim, nil
}

// CanSend reports whether userID may open another exchange today.
// Returns nil when allowed, ErrBanned or ErrQuotaExceeded otherwise.
// Advisory only: creation must go through ReserveSend for the atomic check.
func (s *QuotaService) CanSend(ctx context.Context, userID string) error {
	return s.can(ctx, userID, func(st *domain.QuotaState, limit int) bool {
		return st.SentToday < limit
	})
}

// CanAccept reports whether userID may accept another exchange today.
func (s *QuotaService) CanAccept(ctx context.Context, userID string) error {
	return s.can(ctx, userID, func(st *domain.QuotaState, limit int) bool {
		return st.AcceptedToday < limit
	})
}

func (s *QuotaService) can(ctx context.Context, userID string, under func(*domain.QuotaState, int) bool) error {
	if s.Compliance != nil {
		banned, err := s.Compliance.IsBanned(ctx, userID)
		if err != nil {
			return err
		}
		if banned {
			return ErrBanned
		}
	}
	_, lim, err := s.limits(ctx, userID)
	if err != nil {
		return err
	}
	st, err := repo.GetQuotaState(ctx, s.DB, userID, domain.QuotaDate(time.Now()))
	if err != nil {
		return err
	}
	if !under(st, lim.DailyLimit) {
		return ErrQuotaExceeded
	}
	return nil
}

// ReserveSend consumes one unit of today's send quota, atomically with the
// limit check. Pass the transaction handle when reserving as part of a larger
// unit of work. Returns ErrQuotaExceeded when the quota is exhausted.
func (s *QuotaService) ReserveSend(ctx context.Context, db *gorm.DB, userID string) error {
	_, lim, err := s.limits(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := repo.ReserveSend(ctx, db, userID, domain.QuotaDate(time.Now()), lim.DailyLimit)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// ReserveAccept consumes one unit of today's accept quota, atomically with
// the limit check.
func (s *QuotaService) ReserveAccept(ctx context.Context, db *gorm.DB, userID string) error {
	_, lim, err := s.limits(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := repo.ReserveAccept(ctx, db, userID, domain.QuotaDate(time.Now()), lim.DailyLimit)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// CheckMedia verifies the user's plan permits the given media type.
// Returns ErrPlanRestricted when it does not.
func (s *QuotaService) CheckMedia(ctx context.Context, userID string, media domain.MediaType) error {
	_, lim, err := s.limits(ctx, userID)
	if err != nil {
		return err
	}
	if !lim.Allows(media) {
		return ErrPlanRestricted
	}
	return nil
}

// View returns the user's quota counters for today.
func (s *QuotaService) View(ctx context.Context, userID string) (*QuotaView, error) {
	plan, lim, err := s.limits(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	st, err := repo.GetQuotaState(ctx, s.DB, userID, domain.QuotaDate(now))
	if err != nil {
		return nil, err
	}
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return &QuotaView{
		UserID:        userID,
		Plan:          plan,
		DailyLimit:    lim.DailyLimit,
		SentToday:     st.SentToday,
		AcceptedToday: st.AcceptedToday,
		ResetsAt:      midnight,
		MediaTypes:    lim.AllowedMediaTypes,
	}, nil
}
