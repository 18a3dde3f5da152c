package domain

import "time"

// EmailKind identifies which template and purpose an outbound email serves.
type EmailKind string

const (
	KindWelcome              EmailKind = "welcome"
	KindFollowUp             EmailKind = "follow_up"
	KindPropertyAvailability EmailKind = "property_availability"
)

// Valid reports whether k is one of the known kinds.
func (k EmailKind) Valid() bool {
	switch k {
	case KindWelcome, KindFollowUp, KindPropertyAvailability:
		return true
	}
	return false
}

// TrackingRecord is one row per outbound email instance. State is derived
// from which timestamps are set; the flags only ever move false -> true.
type TrackingRecord struct {
	ID                string     `json:"id" db:"id"`
	ContactID         string     `json:"business_card_id" db:"business_card_id"`
	RecipientAddress  string     `json:"email_address" db:"email_address"`
	ProviderMessageID string     `json:"message_id,omitempty" db:"message_id"`
	Kind              EmailKind  `json:"email_type" db:"email_type"`
	SentAt            time.Time  `json:"sent_at" db:"sent_at"`
	DeliveredAt       *time.Time `json:"delivered_at" db:"delivered_at"`
	OpenedAt          *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt         *time.Time `json:"clicked_at" db:"clicked_at"`
	BouncedAt         *time.Time `json:"bounced_at" db:"bounced_at"`
	UnsubscribedAt    *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`
	RepliedAt         *time.Time `json:"replied_at" db:"replied_at"`
	FollowUpScheduled bool       `json:"follow_up_scheduled" db:"follow_up_scheduled"`
	PropertyEmailSent bool       `json:"property_email_sent" db:"property_email_sent"`

	// Lease columns used as the mutual-exclusion primitive for the two
	// one-shot sends. They are cleared again when a send fails.
	FollowUpClaimedAt *time.Time `json:"-" db:"follow_up_claimed_at"`
	PropertyClaimedAt *time.Time `json:"-" db:"property_claimed_at"`
}

// Bounced reports whether the record is excluded from automated action.
func (r *TrackingRecord) Bounced() bool { return r.BouncedAt != nil }

// EventTime returns the timestamp column an event type writes, or nil when
// the type does not map to a column.
func (r *TrackingRecord) EventTime(t EventType) *time.Time {
	switch t {
	case EventDelivered:
		return r.DeliveredAt
	case EventOpen:
		return r.OpenedAt
	case EventClick:
		return r.ClickedAt
	case EventBounce:
		return r.BouncedAt
	case EventUnsubscribe:
		return r.UnsubscribedAt
	case EventReply:
		return r.RepliedAt
	}
	return nil
}

// SetEventTime assigns the column for t. Callers are responsible for the
// write-once rule.
func (r *TrackingRecord) SetEventTime(t EventType, at time.Time) {
	switch t {
	case EventDelivered:
		r.DeliveredAt = &at
	case EventOpen:
		r.OpenedAt = &at
	case EventClick:
		r.ClickedAt = &at
	case EventBounce:
		r.BouncedAt = &at
	case EventUnsubscribe:
		r.UnsubscribedAt = &at
	case EventReply:
		r.RepliedAt = &at
	}
}

// FollowUpCandidate is a welcome record eligible for the follow-up sweep,
// with the contact fields joined in when the store could resolve them.
type FollowUpCandidate struct {
	Record  TrackingRecord `json:"record"`
	Contact *Contact       `json:"contact,omitempty"`
}

// FollowUpStats summarizes the drip sequence for the dashboard.
type FollowUpStats struct {
	TotalWelcomeEmails int     `json:"total_welcome_emails"`
	OpenedEmails       int     `json:"opened_emails"`
	OpenRatePercent    float64 `json:"open_rate_percent"`
	FollowUpsSent      int     `json:"follow_ups_sent"`
	PropertyEmailsSent int     `json:"property_emails_sent"`
	PendingFollowUps   int     `json:"pending_follow_ups"`
	SchedulerRunning   bool    `json:"scheduler_running"`
}
