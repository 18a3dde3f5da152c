package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/repository/memory"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []*domain.EmailMessage
	nextID string
	err    error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, msg *domain.EmailMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return f.nextID, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(tr Transport, store RecordStore) *Dispatcher {
	return NewDispatcher(tr, store, Config{
		FromEmail: "desk@example.com",
		FromName:  "Card Desk",
		ReplyTo:   "agent@example.com",
		Now:       func() time.Time { return fixedNow },
	})
}

func TestDispatcher_SendTracksRecord(t *testing.T) {
	store := memory.NewStore()
	tr := &fakeTransport{nextID: "msg-1"}
	d := newTestDispatcher(tr, store)

	contact := &domain.Contact{ID: "card-1", Name: "Ada", Email: "ada@example.com", Company: "Acme"}
	res := d.SendWelcome(context.Background(), contact, "")

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.True(t, res.Tracked)
	assert.Equal(t, fixedNow, res.SentAt)

	require.Len(t, tr.sent, 1)
	msg := tr.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "agent@example.com", msg.ReplyTo)
	assert.Equal(t, "Thank you for connecting, Ada", msg.Subject)
	assert.Equal(t, "card-1", msg.CustomArgs["business_card_id"])
	assert.Equal(t, "welcome", msg.CustomArgs["email_type"])
	assert.NotEmpty(t, msg.TextContent)

	rec, err := store.GetByMessageID(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KindWelcome, rec.Kind)
	assert.Equal(t, "card-1", rec.ContactID)
	assert.Equal(t, "ada@example.com", rec.RecipientAddress)
	assert.Equal(t, fixedNow, rec.SentAt)
	assert.Nil(t, rec.OpenedAt)
	assert.False(t, rec.FollowUpScheduled)
	assert.False(t, rec.PropertyEmailSent)
}

func TestDispatcher_FailureLeavesNoRecord(t *testing.T) {
	store := memory.NewStore()
	d := newTestDispatcher(&fakeTransport{err: errors.New("503 upstream")}, store)

	res := d.SendFollowUpWelcome(context.Background(), &domain.Contact{ID: "card-1", Email: "ada@example.com"}, "rec-1")

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "503 upstream")
	assert.Empty(t, store.Records())
}

func TestDispatcher_MissingMessageIDNotTracked(t *testing.T) {
	store := memory.NewStore()
	d := newTestDispatcher(&fakeTransport{}, store)

	res := d.SendWelcome(context.Background(), &domain.Contact{ID: "card-1", Email: "ada@example.com"}, "")

	assert.True(t, res.Success)
	assert.False(t, res.Tracked)
	assert.Empty(t, store.Records())
}

func TestDispatcher_NoRecipient(t *testing.T) {
	tr := &fakeTransport{nextID: "msg-1"}
	d := newTestDispatcher(tr, nil)

	res := d.SendWelcome(context.Background(), &domain.Contact{ID: "card-1"}, "")

	assert.False(t, res.Success)
	assert.Equal(t, ErrNoRecipient.Error(), res.Message)
	assert.Empty(t, tr.sent)
}

func TestDispatcher_ToOverridesContact(t *testing.T) {
	tr := &fakeTransport{nextID: "msg-1"}
	d := newTestDispatcher(tr, memory.NewStore())

	res := d.Send(context.Background(), SendRequest{
		Kind:    domain.KindPropertyAvailability,
		Contact: &domain.Contact{ID: "card-1", Email: "old@example.com"},
		To:      "new@example.com",
	})

	require.True(t, res.Success)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "new@example.com", tr.sent[0].To)
	assert.Equal(t, "Exclusive Property Opportunities for Valued Client", tr.sent[0].Subject)
}

func TestDispatcher_ReplyToOmittedWhenSameAsFrom(t *testing.T) {
	tr := &fakeTransport{nextID: "msg-1"}
	d := NewDispatcher(tr, nil, Config{FromEmail: "desk@example.com", FromName: "Card Desk"})

	res := d.SendWelcome(context.Background(), &domain.Contact{Email: "ada@example.com"}, "")

	require.True(t, res.Success)
	assert.Empty(t, tr.sent[0].ReplyTo)
	assert.False(t, res.Tracked)
}

func TestDispatcher_DuplicateMessageIDStillSucceeds(t *testing.T) {
	store := memory.NewStore()
	d := newTestDispatcher(&fakeTransport{nextID: "dup"}, store)
	contact := &domain.Contact{ID: "card-1", Email: "ada@example.com"}

	first := d.SendWelcome(context.Background(), contact, "")
	second := d.SendWelcome(context.Background(), contact, "")

	assert.True(t, first.Tracked)
	assert.True(t, second.Success)
	assert.False(t, second.Tracked)
	assert.Len(t, store.Records(), 1)
}
