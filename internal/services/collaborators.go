// Package services – external collaborator contracts.
//
// The subsystem depends on a handful of platform components it does not own:
// notification delivery, the subscription plan catalog, the OAuth identity
// mapping, and the social-media post verifier. They are consumed through the
// interfaces below; the default implementations here are the ones wired in
// development and tests. None of these collaborators is ever allowed to block
// or roll back a committed state transition.
package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shoutswap/go-shoutout-backend/internal/config"
	"github.com/shoutswap/go-shoutout-backend/internal/domain"
)

// NotificationKind labels the notification templates the platform can render.
type NotificationKind string

const (
	NotifyExchangeRequested NotificationKind = "exchange_requested"
	NotifyExchangeAccepted  NotificationKind = "exchange_accepted"
	NotifyExchangeCompleted NotificationKind = "exchange_completed"
	NotifyExchangeCancelled NotificationKind = "exchange_cancelled"
	NotifyExchangeExpired   NotificationKind = "exchange_expired"
	NotifyPostReminder      NotificationKind = "post_reminder"
	NotifyStrikeWarning     NotificationKind = "strike_warning"
	NotifyStrikeFinal       NotificationKind = "strike_final_warning"
	NotifyAccountBanned     NotificationKind = "account_banned"
	// NotifyCounterpartBanned tells the innocent party their open exchange
	// was cancelled because the other side was banned. It never carries a
	// strike.
	NotifyCounterpartBanned NotificationKind = "counterpart_banned"
)

// NotificationDispatcher delivers user notifications. Delivery is best-effort
// and at-least-once attempted; an error means the attempt failed and should be
// logged by the caller, never retried synchronously or allowed to undo state.
type NotificationDispatcher interface {
	Notify(ctx context.Context, userID string, kind NotificationKind, payload map[string]string) error
}

// LogDispatcher is the development NotificationDispatcher: it logs instead of
// delivering.
type LogDispatcher struct {
	Log zerolog.Logger
}

// Notify implements NotificationDispatcher.
func (d LogDispatcher) Notify(_ context.Context, userID string, kind NotificationKind, payload map[string]string) error {
	ev := d.Log.Info().Str("user_id", userID).Str("kind", string(kind))
	for k, v := range payload {
		ev = ev.Str(k, v)
	}
	ev.Msg("notification dispatched")
	return nil
}

// PlanLimits is the read-only configuration the plan catalog serves per tier.
type PlanLimits struct {
	DailyLimit        int
	AllowedMediaTypes []domain.MediaType
}

// Allows reports whether the plan permits the given media type. An empty
// allowlist permits everything.
func (l PlanLimits) Allows(media domain.MediaType) bool {
	if len(l.AllowedMediaTypes) == 0 {
		return true
	}
	for _, m := range l.AllowedMediaTypes {
		if m == media {
			return true
		}
	}
	return false
}

// PlanCatalog resolves the limits attached to a subscription tier.
type PlanCatalog interface {
	Limits(plan domain.Plan) (PlanLimits, error)
}

// StaticPlanCatalog serves plan limits from configuration.
type StaticPlanCatalog struct {
	basic PlanLimits
	pro   PlanLimits
}

// NewStaticPlanCatalog builds the config-backed catalog (BASIC=10, PRO=50 by
// default; BASIC is media-restricted, PRO is not).
func NewStaticPlanCatalog(cfg config.QuotaConfig) *StaticPlanCatalog {
	basicMedia := make([]domain.MediaType, 0, len(cfg.BasicMediaTypes))
	for _, m := range cfg.BasicMediaTypes {
		basicMedia = append(basicMedia, domain.MediaType(m))
	}
	return &StaticPlanCatalog{
		basic: PlanLimits{DailyLimit: cfg.BasicDailyLimit, AllowedMediaTypes: basicMedia},
		pro:   PlanLimits{DailyLimit: cfg.ProDailyLimit},
	}
}

// Limits implements PlanCatalog. Unknown plans fall back to BASIC limits.
func (c *StaticPlanCatalog) Limits(plan domain.Plan) (PlanLimits, error) {
	if plan == domain.PlanPro {
		return c.pro, nil
	}
	return c.basic, nil
}

// PlanDirectory resolves which plan a user is subscribed to. Subscription
// state lives in the payments domain; this is its read-only face.
type PlanDirectory interface {
	PlanOf(ctx context.Context, userID string) (domain.Plan, error)
}

// StaticPlanDirectory answers every lookup with a fixed plan. Used when the
// payments integration is not wired (dev, tests).
type StaticPlanDirectory struct {
	Default domain.Plan
}

// PlanOf implements PlanDirectory.
func (d StaticPlanDirectory) PlanOf(context.Context, string) (domain.Plan, error) {
	if d.Default == "" {
		return domain.PlanBasic, nil
	}
	return d.Default, nil
}

// IdentityDirectory resolves the external social identity a user registered
// with. Owned by the OAuth glue; consulted only when blacklisting at ban time.
type IdentityDirectory interface {
	IdentityOf(ctx context.Context, userID string) (string, error)
}

// NoopIdentityDirectory is the placeholder directory for deployments without
// the OAuth integration; it resolves nothing.
type NoopIdentityDirectory struct{}

// IdentityOf implements IdentityDirectory.
func (NoopIdentityDirectory) IdentityOf(context.Context, string) (string, error) { return "", nil }

// PostVerifier can corroborate that a confirmed post URL is genuinely live on
// the external platform. Optional: its absence or failure must never block a
// post confirmation.
type PostVerifier interface {
	Verify(ctx context.Context, postURL string) (bool, error)
}
