package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/service/tracking"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.SaveContact(ctx, &domain.Contact{ID: "c1", Name: "Ada", Email: "ada@example.com"}))
	require.NoError(t, s.InsertRecord(ctx, &domain.TrackingRecord{
		ID: "w1", ContactID: "c1", RecipientAddress: "ada@example.com",
		ProviderMessageID: "m1", Kind: domain.KindWelcome, SentAt: t0,
	}))
	return s
}

func TestInsertRecord_Duplicates(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	err := s.InsertRecord(ctx, &domain.TrackingRecord{ProviderMessageID: "m1", Kind: domain.KindFollowUp, SentAt: t0})
	assert.ErrorIs(t, err, tracking.ErrDuplicate)

	require.NoError(t, s.InsertRecord(ctx, &domain.TrackingRecord{ContactID: "c1", Kind: domain.KindPropertyAvailability, SentAt: t0}))
	err = s.InsertRecord(ctx, &domain.TrackingRecord{ContactID: "c1", Kind: domain.KindPropertyAvailability, SentAt: t0})
	assert.ErrorIs(t, err, tracking.ErrDuplicate)
}

func TestSetEventTime(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	ok, err := s.SetEventTime(ctx, "m1", domain.EventOpen, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.SetEventTime(ctx, "m1", domain.EventOpen, t0.Add(time.Hour))
	assert.False(t, ok)

	ok, _ = s.SetEventTime(ctx, "m1", domain.EventDelivered, t0.Add(-time.Hour))
	assert.True(t, ok)

	rec, err := s.GetByMessageID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), *rec.OpenedAt)
	assert.Equal(t, t0, *rec.DeliveredAt, "clamped to sent_at")

	ok, _ = s.SetEventTime(ctx, "unknown", domain.EventOpen, t0)
	assert.False(t, ok)
	ok, _ = s.SetEventTime(ctx, "m1", domain.EventIgnored, t0)
	assert.False(t, ok)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := seed(t)
	rec, err := s.GetByMessageID(context.Background(), "m1")
	require.NoError(t, err)
	rec.FollowUpScheduled = true

	again, _ := s.GetByMessageID(context.Background(), "m1")
	assert.False(t, again.FollowUpScheduled)

	byID, err := s.GetRecord(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, byID.FollowUpScheduled)

	_, err = s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestClaims(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	now := t0.Add(time.Hour)
	stale := now.Add(-5 * time.Minute)

	ok, _ := s.ClaimFollowUp(ctx, "w1", now, stale)
	assert.True(t, ok)
	ok, _ = s.ClaimFollowUp(ctx, "w1", now, stale)
	assert.False(t, ok, "lease is held")

	later := now.Add(10 * time.Minute)
	ok, _ = s.ClaimFollowUp(ctx, "w1", later, later.Add(-5*time.Minute))
	assert.True(t, ok, "expired lease can be taken over")
	rec, err := s.GetRecord(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, rec.FollowUpClaimedAt)
	assert.Equal(t, later, *rec.FollowUpClaimedAt)

	changed, _ := s.MarkFollowUpScheduled(ctx, "w1")
	assert.True(t, changed)
	rec, _ = s.GetRecord(ctx, "w1")
	assert.True(t, rec.FollowUpScheduled)
	assert.Nil(t, rec.FollowUpClaimedAt, "marking clears the lease")
	changed, _ = s.MarkFollowUpScheduled(ctx, "w1")
	assert.False(t, changed)
	ok, _ = s.ClaimFollowUp(ctx, "w1", later, later)
	assert.False(t, ok, "scheduled records cannot be claimed")

	ok, _ = s.ClaimProperty(ctx, "w1", now, stale)
	assert.True(t, ok)
	require.NoError(t, s.ReleaseProperty(ctx, "w1"))
	ok, _ = s.ClaimProperty(ctx, "w1", now, stale)
	assert.True(t, ok)
	changed, _ = s.MarkPropertySent(ctx, "w1", false)
	assert.True(t, changed)
	ok, _ = s.ClaimProperty(ctx, "w1", later, later)
	assert.False(t, ok)
}

func TestListFollowUpCandidates(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	bounced := t0.Add(time.Second)
	require.NoError(t, s.InsertRecord(ctx, &domain.TrackingRecord{
		ID: "w2", ContactID: "ghost", RecipientAddress: "g@example.com",
		ProviderMessageID: "m2", Kind: domain.KindWelcome, SentAt: t0.Add(-time.Minute),
	}))
	require.NoError(t, s.InsertRecord(ctx, &domain.TrackingRecord{
		ID: "w3", ContactID: "c1", ProviderMessageID: "m3", Kind: domain.KindWelcome, SentAt: t0,
	}))
	_, _ = s.SetEventTime(ctx, "m3", domain.EventBounce, bounced)

	cands, err := s.ListFollowUpCandidates(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "w2", cands[0].Record.ID, "oldest first")
	assert.Nil(t, cands[0].Contact)
	assert.Equal(t, "Ada", cands[1].Contact.Name)

	cands, _ = s.ListFollowUpCandidates(ctx, t0, 10)
	require.Len(t, cands, 1, "sent_at must be strictly before the cutoff")

	cands, _ = s.ListFollowUpCandidates(ctx, t0.Add(time.Hour), 1)
	assert.Len(t, cands, 1)
}

func TestStatsAndContacts(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	_, _ = s.SetEventTime(ctx, "m1", domain.EventOpen, t0.Add(time.Minute))
	require.NoError(t, s.MarkContactOpened(ctx, "c1"))
	require.NoError(t, s.InsertRecord(ctx, &domain.TrackingRecord{ContactID: "c1", Kind: domain.KindFollowUp, SentAt: t0.Add(time.Hour)}))

	st, err := s.FollowUpStats(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalWelcomeEmails)
	assert.Equal(t, 1, st.OpenedEmails)
	assert.Equal(t, 1, st.FollowUpsSent)
	assert.Equal(t, 1, st.PendingFollowUps)

	c, err := s.GetContact(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.EmailOpened)

	// re-saving a card keeps its opened flag
	require.NoError(t, s.SaveContact(ctx, &domain.Contact{ID: "c1", Name: "Ada L.", Email: "ada@example.com"}))
	c, _ = s.GetContact(ctx, "c1")
	assert.True(t, c.EmailOpened)
	assert.Equal(t, "Ada L.", c.Name)

	_, err = s.GetContact(ctx, "nope")
	assert.ErrorIs(t, err, tracking.ErrContactNotFound)

	recs, err := s.ListByContact(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.KindFollowUp, recs[0].Kind)
}
