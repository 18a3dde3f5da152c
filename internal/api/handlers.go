package api

import (
	"context"
	"time"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/pkg/logger"
	"github.com/ignite/cardmail/internal/service/followup"
	ingress "github.com/ignite/cardmail/internal/tracking"
	"github.com/ignite/cardmail/internal/worker"
)

// EventProcessor applies a parsed webhook batch.
type EventProcessor interface {
	Process(ctx context.Context, events []domain.CanonicalEvent) domain.BatchResult
}

// ContactStore is the card storage the contact endpoints need.
type ContactStore interface {
	SaveContact(ctx context.Context, c *domain.Contact) error
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	ListByContact(ctx context.Context, contactID string) ([]domain.TrackingRecord, error)
}

// WelcomeSender sends the first lifecycle email.
type WelcomeSender interface {
	SendWelcome(ctx context.Context, contact *domain.Contact, correlationID string) domain.SendResult
}

// StatsProvider reports follow-up statistics.
type StatsProvider interface {
	Stats(ctx context.Context, threshold time.Duration, schedulerRunning bool) (domain.FollowUpStats, error)
}

// SweepScheduler runs and reports the follow-up sweep.
type SweepScheduler interface {
	RunNow(ctx context.Context) (followup.Summary, error)
	Status() worker.SchedulerStatus
	IsRunning() bool
}

// Deps wires the handlers. Mailer and Scheduler may be nil; the endpoints
// that need them answer 503.
type Deps struct {
	Engine           EventProcessor
	Verifier         *ingress.Verifier
	EnforceSignature bool
	Archive          *ingress.Archive
	MaxBodyBytes     int64
	Contacts         ContactStore
	Mailer           WelcomeSender
	FollowUps        StatsProvider
	Scheduler        SweepScheduler
	Threshold        time.Duration
	Now              func() time.Time
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	engine           EventProcessor
	verifier         *ingress.Verifier
	enforceSignature bool
	archive          *ingress.Archive
	maxBodyBytes     int64
	contacts         ContactStore
	mailer           WelcomeSender
	followups        StatsProvider
	scheduler        SweepScheduler
	threshold        time.Duration
	now              func() time.Time
	log              *logger.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(d Deps) *Handlers {
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 5 * 1024 * 1024
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handlers{
		engine:           d.Engine,
		verifier:         d.Verifier,
		enforceSignature: d.EnforceSignature,
		archive:          d.Archive,
		maxBodyBytes:     d.MaxBodyBytes,
		contacts:         d.Contacts,
		mailer:           d.Mailer,
		followups:        d.FollowUps,
		scheduler:        d.Scheduler,
		threshold:        d.Threshold,
		now:              d.Now,
		log:              logger.Default().With("component", "api"),
	}
}
