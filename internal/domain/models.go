// Package domain defines the persistence models for the shoutout-exchange
// subsystem: exchanges, the compliance ledger, per-user quota counters, and
// rate-limit buckets. These types are mapped with GORM and are shared across
// the repository and service layers.
package domain

import "time"

// ExchangeStatus enumerates the lifecycle states of an exchange.
// Completed, incomplete and cancelled are terminal and immutable.
type ExchangeStatus string

const (
	// StatusAwaitingAcceptance is the initial state after creation; the
	// designated acceptor has not yet committed to the trade.
	StatusAwaitingAcceptance ExchangeStatus = "awaiting_acceptance"
	// StatusAwaitingPosts means both parties are committed and the 24-hour
	// posting window is running.
	StatusAwaitingPosts ExchangeStatus = "awaiting_posts"
	// StatusCompleted means both sides confirmed their post before the
	// window closed.
	StatusCompleted ExchangeStatus = "completed"
	// StatusIncomplete means the window closed with at least one side
	// unposted; set only by the expiry sweep.
	StatusIncomplete ExchangeStatus = "incomplete"
	// StatusCancelled covers pre-acceptance cancellation by either party
	// and the forced cascade when a party is banned mid-exchange.
	StatusCancelled ExchangeStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s ExchangeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusIncomplete, StatusCancelled:
		return true
	}
	return false
}

// Side identifies one of the two parties of an exchange.
type Side string

const (
	SideRequester Side = "requester"
	SideAcceptor  Side = "acceptor"
)

// Plan is a subscription tier; it gates daily quotas and media types.
type Plan string

const (
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

// MediaType is the kind of promotional content traded in an exchange.
type MediaType string

const (
	MediaPost  MediaType = "post"
	MediaStory MediaType = "story"
	MediaReel  MediaType = "reel"
)

// Valid reports whether m is one of the known media types.
func (m MediaType) Valid() bool {
	switch m {
	case MediaPost, MediaStory, MediaReel:
		return true
	}
	return false
}

// ViolationKind classifies entries in the compliance ledger.
type ViolationKind string

const (
	// ViolationMissedWindow is recorded against a side that failed to post
	// before the exchange window expired.
	ViolationMissedWindow ViolationKind = "missed_window"
	// ViolationAdminNote marks an out-of-band administrative override in
	// the ledger (e.g. a strike reset). It carries strike number 0.
	ViolationAdminNote ViolationKind = "admin_note"
)

// Exchange is one promotional repost trade between two users.
//
// The (status, expires_at) composite index backs the sweeper's due-exchange
// query. AcceptedAt/ExpiresAt are nil until the acceptor commits;
// ExpiresAt is always AcceptedAt plus the configured window.
type Exchange struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	RequesterID string         `json:"requester_id" gorm:"type:varchar(64);not null;index:idx_exchange_requester"`
	AcceptorID  string         `json:"acceptor_id"  gorm:"type:varchar(64);not null;index:idx_exchange_acceptor"`
	MediaType   MediaType      `json:"media_type"   gorm:"type:varchar(16);not null"`
	Status      ExchangeStatus `json:"status"       gorm:"type:varchar(24);not null;index:idx_status_expiry,priority:1"`

	// Media references: what each side is promoting for the other.
	RequesterMediaID string `json:"requester_media_id" gorm:"type:varchar(128);not null"`
	AcceptorMediaID  string `json:"acceptor_media_id"  gorm:"type:varchar(128);not null"`

	CreatedAt  time.Time  `json:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"index:idx_status_expiry,priority:2"`

	RequesterPosted   bool       `json:"requester_posted"`
	RequesterPostedAt *time.Time `json:"requester_posted_at,omitempty"`
	RequesterPostURL  string     `json:"requester_post_url,omitempty" gorm:"type:varchar(512)"`
	AcceptorPosted    bool       `json:"acceptor_posted"`
	AcceptorPostedAt  *time.Time `json:"acceptor_posted_at,omitempty"`
	AcceptorPostURL   string     `json:"acceptor_post_url,omitempty" gorm:"type:varchar(512)"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Exchange.
func (Exchange) TableName() string { return "exchanges" }

// SideOf returns the side userID plays in this exchange, or "" if the user
// is not a party.
func (e *Exchange) SideOf(userID string) Side {
	switch userID {
	case e.RequesterID:
		return SideRequester
	case e.AcceptorID:
		return SideAcceptor
	}
	return ""
}

// Counterpart returns the user on the opposite side of userID, or "" if
// userID is not a party.
func (e *Exchange) Counterpart(userID string) string {
	switch userID {
	case e.RequesterID:
		return e.AcceptorID
	case e.AcceptorID:
		return e.RequesterID
	}
	return ""
}

// Posted reports whether the given side has confirmed its post.
func (e *Exchange) Posted(side Side) bool {
	if side == SideRequester {
		return e.RequesterPosted
	}
	return e.AcceptorPosted
}

// TimeRemaining returns how long until the posting window closes, or zero
// when the window has passed or never opened.
func (e *Exchange) TimeRemaining(now time.Time) time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ComplianceRecord is one append-only ledger entry per violation. Rows are
// never updated or deleted; the ledger is the audit trail.
type ComplianceRecord struct {
	ID           string        `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string        `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_compliance_user"`
	ExchangeID   string        `json:"exchange_id"   gorm:"type:char(36);index"`
	Kind         ViolationKind `json:"kind"          gorm:"type:varchar(32);not null"`
	StrikeNumber int           `json:"strike_number" gorm:"not null"`
	CreatedAt    time.Time     `json:"created_at"`
}

// TableName returns the database table name for ComplianceRecord.
func (ComplianceRecord) TableName() string { return "compliance_records" }

// UserComplianceState is the mutable per-user compliance summary. StrikeCount
// only grows and the ban flags only flip forward; the sole exception is the
// explicit administrative reset, which is an out-of-band override.
type UserComplianceState struct {
	UserID              string    `json:"user_id"              gorm:"type:varchar(64);primaryKey"`
	StrikeCount         int       `json:"strike_count"         gorm:"not null;default:0"`
	Banned              bool      `json:"banned"               gorm:"not null;default:false"`
	IdentityBlacklisted bool      `json:"identity_blacklisted" gorm:"not null;default:false"`
	ExternalIdentity    string    `json:"external_identity,omitempty" gorm:"type:varchar(128);index:idx_compliance_identity"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserComplianceState.
func (UserComplianceState) TableName() string { return "user_compliance_states" }

// QuotaState tracks a user's daily send/accept counters. LastResetDate holds
// the UTC calendar date the counters belong to; any access first applies a
// lazy reset when the stored date is older than today.
type QuotaState struct {
	UserID        string    `json:"user_id"         gorm:"type:varchar(64);primaryKey"`
	SentToday     int       `json:"sent_today"      gorm:"not null;default:0"`
	AcceptedToday int       `json:"accepted_today"  gorm:"not null;default:0"`
	LastResetDate string    `json:"last_reset_date" gorm:"type:char(10);not null"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for QuotaState.
func (QuotaState) TableName() string { return "quota_states" }

// QuotaDate formats t as the UTC calendar date used in QuotaState.LastResetDate.
func QuotaDate(t time.Time) string { return t.UTC().Format("2006-01-02") }

// RateLimitBucket is the persisted token bucket for one external identity.
// Tokens stay within [0, capacity]; refill is computed lazily at consume time
// from the elapsed wall-clock since LastRefillAt.
type RateLimitBucket struct {
	Identity     string    `json:"identity"       gorm:"type:varchar(128);primaryKey"`
	Tokens       float64   `json:"tokens"         gorm:"not null"`
	LastRefillAt time.Time `json:"last_refill_at" gorm:"not null"`
}

// TableName returns the database table name for RateLimitBucket.
func (RateLimitBucket) TableName() string { return "rate_limit_buckets" }
