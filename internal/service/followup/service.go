package followup

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/pkg/logger"
)

// Detail statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Summary reports one sweep.
type Summary struct {
	TotalCandidates int      `json:"total_candidates"`
	Sent            int      `json:"sent"`
	Failed          int      `json:"failed"`
	Skipped         int      `json:"skipped"`
	Stopped         bool     `json:"stopped,omitempty"`
	Details         []Detail `json:"details"`
}

// Detail is the outcome for one candidate.
type Detail struct {
	RecordID       string     `json:"record_id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Status         string     `json:"status"`
	MessageID      string     `json:"message_id,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	OriginalSentAt *time.Time `json:"original_sent_at,omitempty"`
}

// Options tunes the service. Zero values fall back to defaults except
// SendPause, where zero means no pause.
type Options struct {
	SendPause    time.Duration
	ClaimLease   time.Duration
	BatchLimit   int
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Service finds and processes follow-up candidates.
type Service struct {
	repo   Repository
	sender Sender
	opts   Options
	log    *logger.Logger
}

// NewService creates a follow-up service.
func NewService(repo Repository, sender Sender, opts Options) *Service {
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 5 * time.Minute
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 500
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:   repo,
		sender: sender,
		opts:   opts,
		log:    logger.Default().With("component", "followup"),
	}
}

// Cutoff is the newest sent_at that still qualifies for a follow-up.
func (s *Service) Cutoff(threshold time.Duration) time.Time {
	return s.opts.Now().Add(-threshold)
}

// FindCandidates returns eligible welcome records. A store failure is
// logged and yields an empty list.
func (s *Service) FindCandidates(ctx context.Context, threshold time.Duration) []domain.FollowUpCandidate {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	cutoff := s.Cutoff(threshold)
	cands, err := s.repo.ListFollowUpCandidates(ctx, cutoff, s.opts.BatchLimit)
	if err != nil {
		s.log.Error("list follow-up candidates", "cutoff", cutoff.Format(time.RFC3339), "error", err)
		return nil
	}
	s.log.Debug("follow-up candidates", "count", len(cands), "cutoff", cutoff.Format(time.RFC3339))
	return cands
}

// SendBatch sends the follow-up to every candidate. Cancelling ctx stops
// the batch between candidates; the candidate in flight always completes.
func (s *Service) SendBatch(ctx context.Context, threshold time.Duration) Summary {
	cands := s.FindCandidates(ctx, threshold)
	sum := Summary{TotalCandidates: len(cands), Details: make([]Detail, 0, len(cands))}

	for i, c := range cands {
		if ctx.Err() != nil {
			sum.Stopped = true
			break
		}
		if i > 0 && s.opts.SendPause > 0 && !s.pause(ctx) {
			sum.Stopped = true
			break
		}

		d := s.processCandidate(context.WithoutCancel(ctx), c)
		switch d.Status {
		case StatusSent:
			sum.Sent++
		case StatusSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
		sum.Details = append(sum.Details, d)
	}

	if sum.TotalCandidates > 0 || sum.Stopped {
		s.log.Info("follow-up batch complete",
			"candidates", sum.TotalCandidates, "sent", sum.Sent,
			"failed", sum.Failed, "skipped", sum.Skipped, "stopped", sum.Stopped)
	}
	return sum
}

func (s *Service) pause(ctx context.Context) bool {
	t := time.NewTimer(s.opts.SendPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Service) processCandidate(ctx context.Context, c domain.FollowUpCandidate) Detail {
	rec := c.Record
	sentAt := rec.SentAt
	d := Detail{RecordID: rec.ID, Email: rec.RecipientAddress, Name: "Unknown", OriginalSentAt: &sentAt}

	if s.sender == nil {
		d.Status, d.Reason = StatusFailed, ErrNoSender.Error()
		return d
	}

	contact := c.Contact
	if contact == nil {
		s.log.Warn("contact missing from join, fetching", "contact_id", rec.ContactID)
		var err error
		contact, err = s.getContact(ctx, rec.ContactID)
		if err != nil {
			d.Status = StatusFailed
			d.Reason = fmt.Sprintf("business card not found (id %s): %v", rec.ContactID, err)
			s.log.Error("follow-up contact lookup", "contact_id", rec.ContactID, "error", err)
			return d
		}
	}
	cp := *contact
	if cp.ID == "" {
		cp.ID = rec.ContactID
	}
	// the address the welcome went to wins over an edited card
	if rec.RecipientAddress != "" {
		cp.Email = rec.RecipientAddress
	}
	d.Name = cp.DisplayName()
	d.Email = cp.Email

	now := s.opts.Now()
	claimed, err := s.claim(ctx, rec.ID, now)
	if err != nil {
		d.Status, d.Reason = StatusFailed, err.Error()
		return d
	}
	if !claimed {
		d.Status, d.Reason = StatusSkipped, "already claimed or completed"
		return d
	}

	res := s.sender.SendFollowUpWelcome(ctx, &cp, rec.ID)
	if !res.Success {
		if err := s.release(ctx, rec.ID); err != nil {
			s.log.Error("release follow-up claim", "record_id", rec.ID, "error", err)
		}
		d.Status, d.Reason = StatusFailed, res.Message
		s.log.Error("follow-up send failed", "recipient", cp.Email, "reason", res.Message)
		return d
	}

	d.Status, d.MessageID = StatusSent, res.MessageID
	if _, err := s.markScheduled(ctx, rec.ID); err != nil {
		// the lease stays in place so no other sweep resends before it expires
		d.Reason = "sent, but follow_up_scheduled not recorded: " + err.Error()
		s.log.Error("mark follow-up scheduled", "record_id", rec.ID, "error", err)
	}
	s.log.Info("follow-up sent", "recipient", cp.Email, "message_id", res.MessageID)
	return d
}

// Stats returns dashboard counters. running is reported as given since the
// timer state lives in the worker.
func (s *Service) Stats(ctx context.Context, threshold time.Duration, running bool) (domain.FollowUpStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	st, err := s.repo.FollowUpStats(ctx, s.Cutoff(threshold))
	if err != nil {
		return domain.FollowUpStats{SchedulerRunning: running}, fmt.Errorf("follow-up stats: %w", err)
	}
	if st.TotalWelcomeEmails > 0 {
		rate := float64(st.OpenedEmails) / float64(st.TotalWelcomeEmails) * 100
		st.OpenRatePercent = math.Round(rate*100) / 100
	}
	st.SchedulerRunning = running
	return st, nil
}

func (s *Service) getContact(ctx context.Context, id string) (*domain.Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return s.repo.GetContact(ctx, id)
}

func (s *Service) claim(ctx context.Context, id string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return s.repo.ClaimFollowUp(ctx, id, now, now.Add(-s.opts.ClaimLease))
}

func (s *Service) release(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return s.repo.ReleaseFollowUp(ctx, id)
}

func (s *Service) markScheduled(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return s.repo.MarkFollowUpScheduled(ctx, id)
}
