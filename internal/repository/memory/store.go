// Package memory is an in-process store used in development mode and in
// scenario tests. Each method holds one mutex for its whole check-and-set,
// which gives the same atomicity as the conditional UPDATEs in postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/service/tracking"
)

// Store keeps tracking records and contacts in maps.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*domain.TrackingRecord
	byMessage map[string]string // message id -> record id
	contacts  map[string]*domain.Contact
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:   make(map[string]*domain.TrackingRecord),
		byMessage: make(map[string]string),
		contacts:  make(map[string]*domain.Contact),
		now:       time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) InsertRecord(_ context.Context, rec *domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ProviderMessageID != "" {
		if _, ok := s.byMessage[rec.ProviderMessageID]; ok {
			return tracking.ErrDuplicate
		}
	}
	if rec.Kind == domain.KindPropertyAvailability && rec.ContactID != "" {
		for _, r := range s.records {
			if r.Kind == domain.KindPropertyAvailability && r.ContactID == rec.ContactID {
				return tracking.ErrDuplicate
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, ok := s.records[rec.ID]; ok {
		return tracking.ErrDuplicate
	}

	cp := *rec
	s.records[cp.ID] = &cp
	if cp.ProviderMessageID != "" {
		s.byMessage[cp.ProviderMessageID] = cp.ID
	}
	return nil
}

func (s *Store) GetByMessageID(_ context.Context, messageID string) (*domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMessage[messageID]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	cp := *s.records[id]
	return &cp, nil
}

// GetRecord returns a record by id.
func (s *Store) GetRecord(_ context.Context, id string) (*domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) SetEventTime(_ context.Context, messageID string, event domain.EventType, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byMessage[messageID]
	if !ok {
		return false, nil
	}
	r := s.records[id]
	switch event {
	case domain.EventDelivered, domain.EventOpen, domain.EventClick,
		domain.EventBounce, domain.EventUnsubscribe, domain.EventReply:
	default:
		return false, nil
	}
	if r.EventTime(event) != nil {
		return false, nil
	}
	if at.Before(r.SentAt) {
		at = r.SentAt
	}
	r.SetEventTime(event, at)
	return true, nil
}

func (s *Store) FindWelcome(_ context.Context, contactID string) (*domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.TrackingRecord
	for _, r := range s.records {
		if r.ContactID != contactID || r.Kind != domain.KindWelcome {
			continue
		}
		if best == nil || r.SentAt.After(best.SentAt) {
			best = r
		}
	}
	if best == nil {
		return nil, tracking.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) HasPropertyEmail(_ context.Context, contactID, recipient string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Kind != domain.KindPropertyAvailability {
			continue
		}
		if (contactID != "" && r.ContactID == contactID) || (recipient != "" && r.RecipientAddress == recipient) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ClaimProperty(_ context.Context, recordID string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok || r.PropertyEmailSent || r.Bounced() || held(r.PropertyClaimedAt, staleBefore) {
		return false, nil
	}
	r.PropertyClaimedAt = &now
	return true, nil
}

func (s *Store) ReleaseProperty(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[recordID]; ok && !r.PropertyEmailSent {
		r.PropertyClaimedAt = nil
	}
	return nil
}

func (s *Store) MarkPropertySent(_ context.Context, recordID string, suppressFollowUp bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok || r.PropertyEmailSent {
		return false, nil
	}
	r.PropertyEmailSent = true
	r.PropertyClaimedAt = nil
	if suppressFollowUp {
		r.FollowUpScheduled = true
	}
	return true, nil
}

func (s *Store) ListFollowUpCandidates(_ context.Context, cutoff time.Time, limit int) ([]domain.FollowUpCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FollowUpCandidate
	for _, r := range s.records {
		if !pending(r, cutoff) {
			continue
		}
		c := domain.FollowUpCandidate{Record: *r}
		if ct, ok := s.contacts[r.ContactID]; ok {
			cp := *ct
			c.Contact = &cp
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.SentAt.Before(out[j].Record.SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimFollowUp(_ context.Context, recordID string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok || r.FollowUpScheduled || r.Bounced() || held(r.FollowUpClaimedAt, staleBefore) {
		return false, nil
	}
	r.FollowUpClaimedAt = &now
	return true, nil
}

func (s *Store) ReleaseFollowUp(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[recordID]; ok && !r.FollowUpScheduled {
		r.FollowUpClaimedAt = nil
	}
	return nil
}

func (s *Store) MarkFollowUpScheduled(_ context.Context, recordID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordID]
	if !ok || r.FollowUpScheduled {
		return false, nil
	}
	r.FollowUpScheduled = true
	r.FollowUpClaimedAt = nil
	return true, nil
}

func (s *Store) FollowUpStats(_ context.Context, cutoff time.Time) (domain.FollowUpStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st domain.FollowUpStats
	for _, r := range s.records {
		switch r.Kind {
		case domain.KindWelcome:
			st.TotalWelcomeEmails++
			if r.OpenedAt != nil {
				st.OpenedEmails++
			}
			if pending(r, cutoff) {
				st.PendingFollowUps++
			}
		case domain.KindFollowUp:
			st.FollowUpsSent++
		case domain.KindPropertyAvailability:
			st.PropertyEmailsSent++
		}
	}
	return st, nil
}

func (s *Store) ListByContact(_ context.Context, contactID string) ([]domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TrackingRecord
	for _, r := range s.records {
		if r.ContactID == contactID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

// Records returns a snapshot of every record, oldest first.
func (s *Store) Records() []domain.TrackingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrackingRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

func (s *Store) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, tracking.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SaveContact(_ context.Context, c *domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if prev, ok := s.contacts[c.ID]; ok {
		c.EmailOpened = prev.EmailOpened
		c.CreatedAt = prev.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	cp := *c
	s.contacts[c.ID] = &cp
	return nil
}

func (s *Store) MarkContactOpened(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[id]; ok {
		c.EmailOpened = true
	}
	return nil
}

func pending(r *domain.TrackingRecord, cutoff time.Time) bool {
	return r.Kind == domain.KindWelcome && !r.FollowUpScheduled && !r.Bounced() && r.SentAt.Before(cutoff)
}

func held(claimedAt *time.Time, staleBefore time.Time) bool {
	return claimedAt != nil && !claimedAt.Before(staleBefore)
}
