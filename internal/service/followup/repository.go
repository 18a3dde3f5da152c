package followup

import (
	"context"
	"time"

	"github.com/ignite/cardmail/internal/domain"
)

// Repository defines the data access contract for the sweep.
type Repository interface {
	// ListFollowUpCandidates returns welcome records with
	// follow_up_scheduled = false, no bounce and sent_at strictly before
	// cutoff, oldest first, with contact fields joined where available.
	ListFollowUpCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.FollowUpCandidate, error)

	// GetContact fetches a business card when the join came back empty.
	GetContact(ctx context.Context, id string) (*domain.Contact, error)

	// ClaimFollowUp takes the follow-up lease on a welcome record unless it
	// is already scheduled, bounced, or leased after staleBefore.
	ClaimFollowUp(ctx context.Context, recordID string, now, staleBefore time.Time) (bool, error)

	// ReleaseFollowUp clears the lease after a failed send.
	ReleaseFollowUp(ctx context.Context, recordID string) error

	// MarkFollowUpScheduled flips follow_up_scheduled false -> true and
	// reports whether it changed.
	MarkFollowUpScheduled(ctx context.Context, recordID string) (bool, error)

	// FollowUpStats aggregates dashboard counters; pending uses cutoff.
	FollowUpStats(ctx context.Context, cutoff time.Time) (domain.FollowUpStats, error)
}

// Sender dispatches the generic follow-up email.
type Sender interface {
	SendFollowUpWelcome(ctx context.Context, contact *domain.Contact, correlationID string) domain.SendResult
}
