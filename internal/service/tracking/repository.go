package tracking

import (
	"context"
	"time"

	"github.com/ignite/cardmail/internal/domain"
)

// Repository is the storage contract the engine needs. Implementations must
// be safe for concurrent use and must make every conditional write atomic
// (a single UPDATE ... WHERE in PostgreSQL, a locked check-and-set in memory).
type Repository interface {
	// GetByMessageID returns the record for a provider message id, or ErrNotFound.
	GetByMessageID(ctx context.Context, messageID string) (*domain.TrackingRecord, error)

	// SetEventTime writes the column for event when it is still NULL,
	// clamping at to the record's sent_at. It reports whether a row changed.
	SetEventTime(ctx context.Context, messageID string, event domain.EventType, at time.Time) (bool, error)

	// FindWelcome returns the most recent welcome record for a contact, or ErrNotFound.
	FindWelcome(ctx context.Context, contactID string) (*domain.TrackingRecord, error)

	// HasPropertyEmail reports whether a property_availability record exists
	// for the contact or the recipient address.
	HasPropertyEmail(ctx context.Context, contactID, recipient string) (bool, error)

	// ClaimProperty takes the property lease on a welcome record. It fails
	// when property_email_sent is already true, the record bounced, or a
	// lease newer than staleBefore is held.
	ClaimProperty(ctx context.Context, recordID string, now, staleBefore time.Time) (bool, error)

	// ReleaseProperty clears the property lease after a failed send.
	ReleaseProperty(ctx context.Context, recordID string) error

	// MarkPropertySent flips property_email_sent (and follow_up_scheduled
	// when suppressFollowUp is set). It reports whether the flag changed.
	MarkPropertySent(ctx context.Context, recordID string, suppressFollowUp bool) (bool, error)

	// GetContact returns a business card, or ErrContactNotFound.
	GetContact(ctx context.Context, id string) (*domain.Contact, error)

	// MarkContactOpened sets the card's email_opened flag.
	MarkContactOpened(ctx context.Context, id string) error
}

// Sender dispatches the property availability email.
type Sender interface {
	SendPropertyAvailability(ctx context.Context, contact *domain.Contact, correlationID string) domain.SendResult
}
