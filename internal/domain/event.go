package domain

import "time"

// EventType is the canonical, provider-agnostic delivery/engagement event.
type EventType string

const (
	EventDelivered   EventType = "delivered"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventUnsubscribe EventType = "unsubscribe"
	EventReply       EventType = "reply"
	// EventIgnored covers provider types with no lifecycle meaning
	// (processed, deferred, dropped, ...).
	EventIgnored EventType = "ignored"
)

// CanonicalEvent is a normalized webhook callback. RawType keeps the
// provider's original name for reporting. DecodeError is set when the
// element could not be decoded; such an event is reported as failed.
type CanonicalEvent struct {
	Type        EventType `json:"event_type"`
	RawType     string    `json:"raw_type"`
	Recipient   string    `json:"email"`
	MessageID   string    `json:"message_id"`
	Timestamp   time.Time `json:"timestamp"`
	DecodeError string    `json:"decode_error,omitempty"`
}

// EventResult is the per-event entry of a webhook response.
type EventResult struct {
	EventType string `json:"event_type"`
	Email     string `json:"email"`
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the response body for one webhook delivery.
type BatchResult struct {
	Success         bool          `json:"success"`
	ProcessedEvents int           `json:"processed_events"`
	Results         []EventResult `json:"results"`
}

// Failed returns how many events in the batch did not apply cleanly.
func (b BatchResult) Failed() int {
	n := 0
	for _, r := range b.Results {
		if !r.Success {
			n++
		}
	}
	return n
}
