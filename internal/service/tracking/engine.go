package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/pkg/logger"
)

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// ClaimLease is how long a property claim blocks other claimants before
	// it is considered abandoned.
	ClaimLease time.Duration
	// SuppressFollowUp marks the welcome record's follow-up as done once the
	// property email went out.
	SuppressFollowUp bool
	// StoreTimeout bounds each repository call.
	StoreTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine is the event-driven half of the follow-up state machine.
type Engine struct {
	repo   Repository
	sender Sender
	opts   Options
	log    *logger.Logger
}

// NewEngine creates an engine. sender may be nil, in which case triggers
// that need to send are reported as failures.
func NewEngine(repo Repository, sender Sender, opts Options) *Engine {
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 5 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		repo:   repo,
		sender: sender,
		opts:   opts,
		log:    logger.Default().With("component", "lifecycle"),
	}
}

// Process applies events in order. A failing event is recorded in its
// result and never stops the rest of the batch.
func (e *Engine) Process(ctx context.Context, events []domain.CanonicalEvent) domain.BatchResult {
	out := domain.BatchResult{Success: true, Results: make([]domain.EventResult, 0, len(events))}
	for _, ev := range events {
		res := domain.EventResult{
			EventType: ev.RawType,
			Email:     ev.Recipient,
			MessageID: ev.MessageID,
			Timestamp: ev.Timestamp.Unix(),
			Success:   true,
		}
		if res.EventType == "" {
			res.EventType = string(ev.Type)
		}
		if err := e.Apply(ctx, ev); err != nil {
			res.Success = false
			res.Error = err.Error()
			e.log.Warn("event not applied",
				"event", ev.Type, "message_id", ev.MessageID, "recipient", ev.Recipient, "error", err)
		}
		out.Results = append(out.Results, res)
	}
	out.ProcessedEvents = len(out.Results)
	if failed := out.Failed(); failed > 0 {
		e.log.Info("webhook batch processed", "events", len(events), "failed", failed)
	}
	return out
}

// Apply processes one canonical event: timestamp write, then side effects.
func (e *Engine) Apply(ctx context.Context, ev domain.CanonicalEvent) error {
	if ev.DecodeError != "" {
		return fmt.Errorf("%w: %s", ErrMalformedEvent, ev.DecodeError)
	}
	if ev.Type == domain.EventIgnored {
		return nil
	}
	if ev.MessageID == "" {
		return ErrNoMessageID
	}
	// Once a provider callback is accepted it runs to completion even if the
	// HTTP client goes away; each store call still has its own deadline.
	ctx = context.WithoutCancel(ctx)

	rec, err := e.getByMessageID(ctx, ev.MessageID)
	if err != nil {
		return err
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = e.opts.Now()
	}
	applied, err := e.setEventTime(ctx, ev.MessageID, ev.Type, at)
	if err != nil {
		return err
	}
	if !applied {
		e.log.Debug("duplicate event ignored", "event", ev.Type, "message_id", ev.MessageID)
	}

	switch ev.Type {
	case domain.EventOpen:
		if rec.ContactID != "" {
			if err := e.markContactOpened(ctx, rec.ContactID); err != nil {
				e.log.Warn("could not flag contact as opened", "contact_id", rec.ContactID, "error", err)
			}
		}
		return e.triggerProperty(ctx, rec)
	case domain.EventReply:
		return e.triggerProperty(ctx, rec)
	}
	return nil
}

// triggerProperty sends the property availability email at most once per
// contact, driven from the contact's welcome record.
func (e *Engine) triggerProperty(ctx context.Context, rec *domain.TrackingRecord) error {
	welcome := rec
	if rec.Kind != domain.KindWelcome {
		if rec.ContactID == "" {
			return nil
		}
		w, err := e.findWelcome(ctx, rec.ContactID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		welcome = w
	}

	if welcome.Bounced() || welcome.PropertyEmailSent {
		return nil
	}

	exists, err := e.hasPropertyEmail(ctx, welcome.ContactID, welcome.RecipientAddress)
	if err != nil {
		return err
	}
	if exists {
		if _, err := e.markPropertySent(ctx, welcome.ID); err != nil {
			return err
		}
		return nil
	}

	now := e.opts.Now()
	claimed, err := e.claimProperty(ctx, welcome.ID, now)
	if err != nil {
		return err
	}
	if !claimed {
		e.log.Debug("property email claimed elsewhere", "record_id", welcome.ID)
		return nil
	}

	if err := e.sendProperty(ctx, welcome); err != nil {
		if rerr := e.releaseProperty(ctx, welcome.ID); rerr != nil {
			e.log.Error("release property claim", "record_id", welcome.ID, "error", rerr)
		}
		return err
	}

	if _, err := e.markPropertySent(ctx, welcome.ID); err != nil {
		return fmt.Errorf("property email sent but flag not set: %w", err)
	}
	e.log.Info("property email sent", "contact_id", welcome.ContactID, "recipient", welcome.RecipientAddress)
	return nil
}

func (e *Engine) sendProperty(ctx context.Context, welcome *domain.TrackingRecord) error {
	if e.sender == nil {
		return fmt.Errorf("%w: no dispatcher configured", ErrSendFailed)
	}
	contact, err := e.getContact(ctx, welcome.ContactID)
	if err != nil {
		if !errors.Is(err, ErrContactNotFound) || welcome.RecipientAddress == "" {
			return err
		}
		// the card was removed but the address on the record is still good
		contact = &domain.Contact{ID: welcome.ContactID}
	}
	if contact.Email == "" {
		contact.Email = welcome.RecipientAddress
	}

	res := e.sender.SendPropertyAvailability(ctx, contact, welcome.ID)
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrSendFailed, res.Message)
	}
	return nil
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

func (e *Engine) getByMessageID(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.GetByMessageID(ctx, id)
}

func (e *Engine) setEventTime(ctx context.Context, id string, t domain.EventType, at time.Time) (bool, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.SetEventTime(ctx, id, t, at)
}

func (e *Engine) findWelcome(ctx context.Context, contactID string) (*domain.TrackingRecord, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.FindWelcome(ctx, contactID)
}

func (e *Engine) hasPropertyEmail(ctx context.Context, contactID, recipient string) (bool, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.HasPropertyEmail(ctx, contactID, recipient)
}

func (e *Engine) claimProperty(ctx context.Context, id string, now time.Time) (bool, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.ClaimProperty(ctx, id, now, now.Add(-e.opts.ClaimLease))
}

func (e *Engine) releaseProperty(ctx context.Context, id string) error {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.ReleaseProperty(ctx, id)
}

func (e *Engine) markPropertySent(ctx context.Context, id string) (bool, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.MarkPropertySent(ctx, id, e.opts.SuppressFollowUp)
}

func (e *Engine) getContact(ctx context.Context, id string) (*domain.Contact, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.GetContact(ctx, id)
}

func (e *Engine) markContactOpened(ctx context.Context, id string) error {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.repo.MarkContactOpened(ctx, id)
}
