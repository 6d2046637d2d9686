// Package services – ExchangeService
//
// This file implements the exchange lifecycle state machine:
//
//	awaiting_acceptance -> awaiting_posts -> completed | incomplete
//	awaiting_acceptance -> cancelled               (party cancels pre-posting)
//	awaiting_posts      -> cancelled               (ban cascade only)
//
// Every transition is a guarded update on the exchange row, so the state
// machine stays correct when a user action races the expiry sweep on the same
// record — whichever commits first wins, and the loser gets ErrAlreadyResolved
// with no further side effect. Multi-step mutations (quota reservation plus
// transition) run in one transaction.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
	"github.com/shoutswap/go-shoutout-backend/internal/repo"
)

// ExchangeService coordinates the exchange lifecycle. It consults the quota
// tracker on creation/acceptance and reports missed windows to the compliance
// engine during sweeps.
type ExchangeService struct {
	DB         *gorm.DB
	Quota      *QuotaService
	Compliance *ComplianceService
	Notifier   NotificationDispatcher
	// Verifier optionally corroborates confirmed post URLs. Verification
	// runs after the transition commits and its outcome is log-only.
	Verifier PostVerifier
	// Window is the posting window opened at acceptance (24h).
	Window time.Duration
	Log    zerolog.Logger
}

// StatusView is the read model for getExchangeStatus.
type StatusView struct {
	ID              string                `json:"id"`
	Status          domain.ExchangeStatus `json:"status"`
	ExpiresAt       *time.Time            `json:"expires_at,omitempty"`
	RemainingSecs   int64                 `json:"remaining_seconds"`
	RequesterPosted bool                  `json:"requester_posted"`
	AcceptorPosted  bool                  `json:"acceptor_posted"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

func tracer() trace.Tracer { return otel.Tracer("services/ExchangeService") }

// Create opens a new exchange from requesterID to acceptorID.
//
// Rejections, in order: ErrBanned if either party is banned,
// ErrPlanRestricted if the requester's plan does not cover the media type,
// ErrQuotaExceeded if today's send quota is exhausted. The quota reservation
// and the insert commit together.
func (s *ExchangeService) Create(ctx context.Context, requesterID, acceptorID, requesterMediaID, acceptorMediaID string, media domain.MediaType) (*domain.Exchange, error) {
	ctx, span := tracer().Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", requesterID),
			attribute.String("exchange.acceptor", acceptorID),
		),
	)
	defer span.End()

	for _, uid := range []string{requesterID, acceptorID} {
		banned, err := s.Compliance.IsBanned(ctx, uid)
		if err != nil {
			return nil, err
		}
		if banned {
			return nil, ErrBanned
		}
	}
	if err := s.Quota.CheckMedia(ctx, requesterID, media); err != nil {
		return nil, err
	}

	var ex *domain.Exchange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Quota.ReserveSend(ctx, tx, requesterID); err != nil {
			return err
		}
		created, err := repo.CreateExchange(ctx, tx, requesterID, acceptorID, requesterMediaID, acceptorMediaID, media)
		if err != nil {
			return err
		}
		ex = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, acceptorID, NotifyExchangeRequested, ex.ID)
	return ex, nil
}

// Accept commits callerID to the exchange and opens the posting window:
// expiresAt is exactly the acceptance time plus the configured window.
// Only the designated acceptor may accept, and only from awaiting_acceptance.
func (s *ExchangeService) Accept(ctx context.Context, exchangeID, callerID string) (*domain.Exchange, error) {
	ctx, span := tracer().Start(ctx, "Accept",
		trace.WithAttributes(
			attribute.String("exchange.id", exchangeID),
			attribute.String("user.id", callerID),
		),
	)
	defer span.End()

	ex, err := s.load(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if ex.Status != domain.StatusAwaitingAcceptance {
		return nil, ErrInvalidTransition
	}
	if callerID != ex.AcceptorID {
		return nil, ErrUnauthorized
	}
	banned, err := s.Compliance.IsBanned(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrBanned
	}

	now := time.Now().UTC()
	expires := now.Add(s.Window)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Quota.ReserveAccept(ctx, tx, callerID); err != nil {
			return err
		}
		ok, err := repo.AcceptExchange(ctx, tx, exchangeID, now, expires)
		if err != nil {
			return err
		}
		if !ok {
			// Cancelled (or cascade-cancelled) between our read and this write.
			return ErrAlreadyResolved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, ex.RequesterID, NotifyExchangeAccepted, exchangeID)
	return s.load(ctx, exchangeID)
}

// ConfirmPost records that the calling side published its repost.
//
// Idempotent per side: confirming an already-posted side is a no-op success.
// Fails ErrInvalidTransition when the exchange is not awaiting posts or the
// window has closed, and ErrAlreadyResolved when a concurrent sweep or
// cascade resolved the exchange first — in that case the side is NOT marked
// as posted.
func (s *ExchangeService) ConfirmPost(ctx context.Context, exchangeID, callerID, postURL string) (*domain.Exchange, error) {
	ctx, span := tracer().Start(ctx, "ConfirmPost",
		trace.WithAttributes(
			attribute.String("exchange.id", exchangeID),
			attribute.String("user.id", callerID),
		),
	)
	defer span.End()

	ex, err := s.load(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	side := ex.SideOf(callerID)
	if side == "" {
		return nil, ErrUnauthorized
	}
	// Replayed confirmation: the side already posted, whatever happened since.
	if ex.Posted(side) && ex.Status != domain.StatusAwaitingAcceptance {
		return ex, nil
	}
	if ex.Status != domain.StatusAwaitingPosts {
		if ex.Status.Terminal() {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	if ex.ExpiresAt != nil && !now.Before(*ex.ExpiresAt) {
		// Window closed; the sweep will resolve the exchange.
		return nil, ErrInvalidTransition
	}

	completed := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.MarkSidePosted(ctx, tx, exchangeID, side, postURL, now)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := repo.GetExchange(ctx, tx, exchangeID)
			if err != nil {
				return err
			}
			if cur.Posted(side) {
				return nil // replay raced us; same outcome
			}
			// Lost the race to the sweep or the ban cascade.
			return ErrAlreadyResolved
		}
		cur, err := repo.GetExchange(ctx, tx, exchangeID)
		if err != nil {
			return err
		}
		if cur.RequesterPosted && cur.AcceptorPosted {
			done, err := repo.CompleteExchange(ctx, tx, exchangeID, now)
			if err != nil {
				return err
			}
			completed = done
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.verifyAsync(exchangeID, postURL)
	if completed {
		s.notify(ctx, ex.RequesterID, NotifyExchangeCompleted, exchangeID)
		s.notify(ctx, ex.AcceptorID, NotifyExchangeCompleted, exchangeID)
	}
	return s.load(ctx, exchangeID)
}

// Cancel withdraws an exchange before it has been accepted. Either party may
// cancel, but only from awaiting_acceptance: once the posting window opens, a
// strike-relevant commitment exists and cancellation is no longer available.
func (s *ExchangeService) Cancel(ctx context.Context, exchangeID, callerID string) error {
	ctx, span := tracer().Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("exchange.id", exchangeID)),
	)
	defer span.End()

	ex, err := s.load(ctx, exchangeID)
	if err != nil {
		return err
	}
	if ex.SideOf(callerID) == "" {
		return ErrUnauthorized
	}
	if ex.Status != domain.StatusAwaitingAcceptance {
		return ErrInvalidTransition
	}
	ok, err := repo.UpdateStatusIf(ctx, s.DB, exchangeID, domain.StatusAwaitingAcceptance, domain.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyResolved
	}
	s.notify(ctx, ex.Counterpart(callerID), NotifyExchangeCancelled, exchangeID)
	return nil
}

// Status returns the read model for an exchange: current state, time left in
// the posting window, and per-side posted flags.
func (s *ExchangeService) Status(ctx context.Context, exchangeID string) (*StatusView, error) {
	ex, err := s.load(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:              ex.ID,
		Status:          ex.Status,
		ExpiresAt:       ex.ExpiresAt,
		RemainingSecs:   int64(ex.TimeRemaining(time.Now().UTC()) / time.Second),
		RequesterPosted: ex.RequesterPosted,
		AcceptorPosted:  ex.AcceptorPosted,
		CompletedAt:     ex.CompletedAt,
	}, nil
}

// ListForUser returns a page of the user's exchanges, most recent first, with
// the total count for pagination metadata.
func (s *ExchangeService) ListForUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Exchange, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountExchangesForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Exchange{}, 0, nil
	}
	items, err := repo.ListExchangesPageForUser(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// SweepExpired attempts to resolve one overdue exchange to incomplete and
// strikes every side that failed to post. The guarded transition makes the
// call idempotent: when another actor already resolved the exchange, no
// transition happens and no violation is recorded. Returns true when this
// call performed the transition.
func (s *ExchangeService) SweepExpired(ctx context.Context, exchangeID string, now time.Time) (bool, error) {
	ctx, span := tracer().Start(ctx, "SweepExpired",
		trace.WithAttributes(attribute.String("exchange.id", exchangeID)),
	)
	defer span.End()

	ok, err := repo.ExpireExchange(ctx, s.DB, exchangeID, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	ex, err := s.load(ctx, exchangeID)
	if err != nil {
		return true, err
	}
	var firstErr error
	for _, side := range []struct {
		userID string
		posted bool
	}{
		{ex.RequesterID, ex.RequesterPosted},
		{ex.AcceptorID, ex.AcceptorPosted},
	} {
		if side.posted {
			s.notify(ctx, side.userID, NotifyExchangeExpired, exchangeID)
			continue
		}
		if _, err := s.Compliance.RecordViolation(ctx, side.userID, exchangeID, domain.ViolationMissedWindow); err != nil {
			s.Log.Error().Err(err).Str("exchange_id", exchangeID).Str("user_id", side.userID).
				Msg("recording missed-window violation failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return true, firstErr
}

// load fetches an exchange, mapping the repo's not-found to the service error.
func (s *ExchangeService) load(ctx context.Context, exchangeID string) (*domain.Exchange, error) {
	ex, err := repo.GetExchange(ctx, s.DB, exchangeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrExchangeNotFound
		}
		return nil, err
	}
	return ex, nil
}

// notify dispatches a best-effort notification; failures are logged and
// dropped, never propagated into the lifecycle.
func (s *ExchangeService) notify(ctx context.Context, userID string, kind NotificationKind, exchangeID string) {
	if s.Notifier == nil || userID == "" {
		return
	}
	if err := s.Notifier.Notify(ctx, userID, kind, map[string]string{"exchange_id": exchangeID}); err != nil {
		s.Log.Warn().Err(err).Str("user_id", userID).Str("kind", string(kind)).
			Msg("notification failed")
	}
}

// verifyAsync asks the optional PostVerifier to corroborate the URL without
// ever blocking the confirmation path.
func (s *ExchangeService) verifyAsync(exchangeID, postURL string) {
	if s.Verifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		live, err := s.Verifier.Verify(ctx, postURL)
		switch {
		case err != nil:
			s.Log.Warn().Err(err).Str("exchange_id", exchangeID).Msg("post verification errored")
		case !live:
			s.Log.Warn().Str("exchange_id", exchangeID).Str("url", postURL).
				Msg("confirmed post URL could not be verified as live")
		}
	}()
}
