// Package services – ComplianceService
//
// This file implements the strike ledger and ban policy. Every violation
// appends an immutable ComplianceRecord and bumps the user's strike counter;
// the escalation policy keys on the counter value after the increment:
//
//	strike 1  -> warning notification
//	strike 2  -> final warning notification
//	strike >= threshold -> permanent ban, external identity blacklisted,
//	                       and every other open exchange of the user is
//	                       force-cancelled
//
// The increment, the ledger append, and the ban flags commit in one
// transaction: a concurrent violation observes either the pre- or post-ban
// state, never a strike count at the threshold with banned still false.
// Strikes and bans are irreversible through this service; AdminReset is the
// explicit out-of-band override and is logged as such.
package services

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
	"github.com/shoutswap/go-shoutout-backend/internal/repo"
)

// ComplianceService owns the strike ledger and the ban/blacklist policy.
type ComplianceService struct {
	DB         *gorm.DB
	Notifier   NotificationDispatcher
	Identities IdentityDirectory
	// BanThreshold is the strike count at which a user is banned (3).
	BanThreshold int
	Log          zerolog.Logger
}

// RecordViolation appends a strike against userID for the given exchange and
// applies the escalation policy. Idempotence is the caller's concern: the
// expiry sweep only calls this after winning the guarded transition, so a
// repeated sweep never double-strikes.
//
// The returned state reflects the post-increment counters.
func (s *ComplianceService) RecordViolation(ctx context.Context, userID, exchangeID string, kind domain.ViolationKind) (*domain.UserComplianceState, error) {
	tr := otel.Tracer("services/ComplianceService")
	ctx, span := tr.Start(ctx, "RecordViolation",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("exchange.id", exchangeID),
			attribute.String("violation.kind", string(kind)),
		),
	)
	defer span.End()

	// Resolve the external identity up front: the lookup may be remote and
	// must not sit inside the transaction. A failed lookup never blocks the
	// ban; it only leaves the blacklist entry without an identity to match.
	identity := ""
	if s.Identities != nil {
		id, err := s.Identities.IdentityOf(ctx, userID)
		if err != nil {
			s.Log.Error().Err(err).Str("user_id", userID).
				Msg("identity lookup failed; ban will blacklist without identity")
		} else {
			identity = id
		}
	}

	var (
		state       *domain.UserComplianceState
		newlyBanned bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := repo.IncrementStrike(ctx, tx, userID)
		if err != nil {
			return err
		}
		if _, err := repo.AppendComplianceRecord(ctx, tx, userID, exchangeID, kind, st.StrikeCount); err != nil {
			return err
		}
		if st.StrikeCount >= s.BanThreshold && !st.Banned {
			if err := repo.SetBanned(ctx, tx, userID, identity); err != nil {
				return err
			}
			st.Banned = true
			st.IdentityBlacklisted = true
			newlyBanned = true
		}
		state = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("user_id", userID).
		Str("exchange_id", exchangeID).
		Str("kind", string(kind)).
		Int("strike", state.StrikeCount).
		Bool("banned", state.Banned).
		Msg("violation recorded")

	s.escalate(ctx, userID, state)
	if newlyBanned {
		s.cascadeCancel(ctx, userID, exchangeID)
	}
	return state, nil
}

// escalate dispatches the policy notification for the post-increment strike
// count. Delivery failures are logged and dropped; they never affect the
// committed strike.
func (s *ComplianceService) escalate(ctx context.Context, userID string, st *domain.UserComplianceState) {
	if s.Notifier == nil {
		return
	}
	var kind NotificationKind
	switch {
	case st.StrikeCount >= s.BanThreshold:
		if !st.Banned {
			return
		}
		kind = NotifyAccountBanned
	case st.StrikeCount == s.BanThreshold-1:
		kind = NotifyStrikeFinal
	default:
		kind = NotifyStrikeWarning
	}
	payload := map[string]string{"strike_count": strconv.Itoa(st.StrikeCount)}
	if err := s.Notifier.Notify(ctx, userID, kind, payload); err != nil {
		s.Log.Warn().Err(err).Str("user_id", userID).Str("kind", string(kind)).
			Msg("strike notification failed")
	}
}

// cascadeCancel force-cancels every other open exchange where the banned user
// is a party. Each cancellation is its own guarded update; an exchange that
// resolved in the meantime is simply skipped. Counterparts are notified but
// never striked — they did nothing wrong.
func (s *ComplianceService) cascadeCancel(ctx context.Context, userID, triggerExchangeID string) {
	open, err := repo.ListOpenByUser(ctx, s.DB, userID)
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Msg("ban cascade: listing open exchanges failed")
		return
	}
	for i := range open {
		ex := &open[i]
		if ex.ID == triggerExchangeID {
			continue
		}
		ok, err := repo.UpdateStatusIf(ctx, s.DB, ex.ID, ex.Status, domain.StatusCancelled)
		if err != nil {
			s.Log.Error().Err(err).Str("exchange_id", ex.ID).Msg("ban cascade: cancel failed")
			continue
		}
		if !ok {
			// Resolved by another actor between the list and the update.
			continue
		}
		s.Log.Info().Str("exchange_id", ex.ID).Str("banned_user", userID).
			Msg("exchange cancelled by ban cascade")
		if s.Notifier != nil {
			counterpart := ex.Counterpart(userID)
			if err := s.Notifier.Notify(ctx, counterpart, NotifyCounterpartBanned,
				map[string]string{"exchange_id": ex.ID}); err != nil {
				s.Log.Warn().Err(err).Str("user_id", counterpart).Msg("cascade notification failed")
			}
		}
	}
}

// StrikeCount returns the user's current strike count.
func (s *ComplianceService) StrikeCount(ctx context.Context, userID string) (int, error) {
	st, err := repo.GetComplianceState(ctx, s.DB, userID)
	if err != nil {
		return 0, err
	}
	return st.StrikeCount, nil
}

// IsBanned reports whether userID is banned.
func (s *ComplianceService) IsBanned(ctx context.Context, userID string) (bool, error) {
	st, err := repo.GetComplianceState(ctx, s.DB, userID)
	if err != nil {
		return false, err
	}
	return st.Banned, nil
}

// IsIdentityBanned reports whether the external identity is blacklisted.
// Consulted by the registration flow to keep banned identities out.
func (s *ComplianceService) IsIdentityBanned(ctx context.Context, identity string) (bool, error) {
	return repo.IsIdentityBlacklisted(ctx, s.DB, identity)
}

// State returns the user's full compliance state.
func (s *ComplianceService) State(ctx context.Context, userID string) (*domain.UserComplianceState, error) {
	return repo.GetComplianceState(ctx, s.DB, userID)
}

// Records returns the user's ledger, oldest first.
func (s *ComplianceService) Records(ctx context.Context, userID string) ([]domain.ComplianceRecord, error) {
	return repo.ListComplianceRecords(ctx, s.DB, userID)
}

// AdminReset zeroes the strike counter and lifts the ban for userID. This is
// an out-of-band administrative override, not a normal operation of the
// engine: it is logged at WARN and leaves an admin_note entry in the ledger.
// The identity blacklist is NOT cleared — a blacklisted external identity
// stays unable to re-register.
func (s *ComplianceService) AdminReset(ctx context.Context, userID, actor string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.EnsureComplianceState(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := repo.ResetCompliance(ctx, tx, userID); err != nil {
			return err
		}
		_, err := repo.AppendComplianceRecord(ctx, tx, userID, "", domain.ViolationAdminNote, 0)
		return err
	})
	if err != nil {
		return err
	}
	s.Log.Warn().
		Str("user_id", userID).
		Str("actor", actor).
		Msg("compliance state reset by administrative override")
	return nil
}
