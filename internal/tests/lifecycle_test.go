package tests

// End-to-end lifecycle scenarios: a welcome email goes out, provider events
// come back through the webhook parser, and the follow-up sweep runs on a
// controlled clock.

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/mailer"
	"github.com/ignite/cardmail/internal/repository/memory"
	"github.com/ignite/cardmail/internal/service/followup"
	"github.com/ignite/cardmail/internal/service/tracking"
	ingress "github.com/ignite/cardmail/internal/tracking"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type transport struct {
	mu   sync.Mutex
	n    int
	sent []domain.EmailKind
}

func (t *transport) Name() string { return "test" }

func (t *transport) Send(_ context.Context, msg *domain.EmailMessage) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	t.sent = append(t.sent, msg.Kind)
	return fmt.Sprintf("sg-%d", t.n), nil
}

func (t *transport) count(kind domain.EmailKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.sent {
		if k == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *clock
	store     *memory.Store
	transport *transport
	mailer    *mailer.Dispatcher
	engine    *tracking.Engine
	followups *followup.Service
}

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: t0}
	store := memory.NewStore()
	tr := &transport{}
	d := mailer.NewDispatcher(tr, store, mailer.Config{
		FromEmail: "desk@example.com",
		FromName:  "Card Desk",
		Now:       clk.Now,
	})
	return &harness{
		t:         t,
		ctx:       context.Background(),
		clock:     clk,
		store:     store,
		transport: tr,
		mailer:    d,
		engine:    tracking.NewEngine(store, d, tracking.Options{SuppressFollowUp: true, Now: clk.Now}),
		followups: followup.NewService(store, d, followup.Options{Now: clk.Now}),
	}
}

// welcome saves a card and sends its welcome email at the current clock.
func (h *harness) welcome(id, email string) string {
	h.t.Helper()
	c := &domain.Contact{ID: id, Name: "Contact " + id, Email: email, Company: "Acme"}
	require.NoError(h.t, h.store.SaveContact(h.ctx, c))
	res := h.mailer.SendWelcome(h.ctx, c, "")
	require.True(h.t, res.Success, res.Message)
	require.True(h.t, res.Tracked)
	return res.MessageID
}

// webhook feeds a SendGrid payload through the parser and the engine.
func (h *harness) webhook(events ...string) domain.BatchResult {
	h.t.Helper()
	body := "["
	for i, e := range events {
		if i > 0 {
			body += ","
		}
		body += e
	}
	body += "]"
	return h.engine.Process(h.ctx, ingress.Parse([]byte(body), h.clock.Now))
}

func event(kind, msgID string, at time.Time) string {
	return fmt.Sprintf(`{"event":%q,"email":"x@example.com","sg_message_id":"%s.filter0001.1.0","timestamp":%d}`, kind, msgID, at.Unix())
}

func (h *harness) record(msgID string) *domain.TrackingRecord {
	h.t.Helper()
	rec, err := h.store.GetByMessageID(h.ctx, msgID)
	require.NoError(h.t, err)
	return rec
}

func (h *harness) recordsOfKind(kind domain.EmailKind) []domain.TrackingRecord {
	var out []domain.TrackingRecord
	for _, r := range h.store.Records() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// EVENT TRANSITIONS
// =============================================================================

func TestTimestampsAreWrittenOnce(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")

	for _, kind := range []string{"delivered", "bounce", "inbound"} {
		first := t0.Add(time.Minute)
		second := t0.Add(time.Hour)
		h.webhook(event(kind, msg, first))
		h.webhook(event(kind, msg, second), event(kind, msg, second))
	}

	rec := h.record(msg)
	require.NotNil(t, rec.DeliveredAt)
	require.NotNil(t, rec.BouncedAt)
	require.NotNil(t, rec.RepliedAt)
	assert.True(t, rec.DeliveredAt.Equal(t0.Add(time.Minute)))
	assert.True(t, rec.BouncedAt.Equal(t0.Add(time.Minute)))
	assert.True(t, rec.RepliedAt.Equal(t0.Add(time.Minute)))
}

func TestOpenTimestampWrittenOnce(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")

	h.webhook(event("open", msg, t0.Add(time.Minute)))
	h.webhook(event("open", msg, t0.Add(2*time.Minute)))

	rec := h.record(msg)
	require.NotNil(t, rec.OpenedAt)
	assert.True(t, rec.OpenedAt.Equal(t0.Add(time.Minute)))

	c, err := h.store.GetContact(h.ctx, "card-1")
	require.NoError(t, err)
	assert.True(t, c.EmailOpened)
}

func TestPropertyEmailIsOneShot(t *testing.T) {
	orders := map[string][]string{
		"open first":    {"open", "open", "inbound", "reply"},
		"reply first":   {"reply", "open", "inbound"},
		"inbound first": {"inbound", "inbound", "open"},
	}
	for name, kinds := range orders {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			msg := h.welcome("card-1", "ada@example.com")

			for i, k := range kinds {
				h.webhook(event(k, msg, t0.Add(time.Duration(i+1)*time.Second)))
			}

			assert.Len(t, h.recordsOfKind(domain.KindPropertyAvailability), 1)
			assert.Equal(t, 1, h.transport.count(domain.KindPropertyAvailability))
			assert.True(t, h.record(msg).PropertyEmailSent)
		})
	}
}

func TestPropertyEmailOneShotUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := "open"
			if i%2 == 1 {
				kind = "reply"
			}
			h.webhook(event(kind, msg, t0.Add(time.Second)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.transport.count(domain.KindPropertyAvailability))
	assert.Len(t, h.recordsOfKind(domain.KindPropertyAvailability), 1)
}

func TestBatchPartialFailure(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")

	res := h.webhook(
		event("delivered", "nope", t0.Add(time.Second)),
		event("delivered", msg, t0.Add(time.Second)),
	)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ProcessedEvents)
	assert.Equal(t, 1, res.Failed())
	assert.False(t, res.Results[0].Success)
	assert.True(t, res.Results[1].Success)
	assert.NotNil(t, h.record(msg).DeliveredAt)
}

func TestMalformedEventReportedAsFailure(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")

	bad := fmt.Sprintf(`{"event":"delivered","email":"ada@example.com","sg_message_id":"%s","timestamp":"not-a-number"}`, msg)
	res := h.webhook(bad, event("open", msg, t0.Add(2*time.Second)))

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ProcessedEvents)
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[0].Success)
	assert.Contains(t, res.Results[0].Error, "malformed event")
	assert.Equal(t, "delivered", res.Results[0].EventType)
	assert.Equal(t, msg, res.Results[0].MessageID)
	assert.True(t, res.Results[1].Success)

	rec := h.record(msg)
	assert.Nil(t, rec.DeliveredAt)
	assert.NotNil(t, rec.OpenedAt)
}

// =============================================================================
// FOLLOW-UP SWEEP
// =============================================================================

func TestBouncedWelcomeNeverFollowedUp(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")
	h.webhook(event("bounce", msg, t0.Add(time.Second)))

	h.clock.Set(t0.Add(24 * time.Hour))
	summary := h.followups.SendBatch(h.ctx, 5*time.Minute)

	assert.Equal(t, 0, summary.TotalCandidates)
	assert.Equal(t, 0, h.transport.count(domain.KindFollowUp))
	assert.False(t, h.record(msg).FollowUpScheduled)
}

func TestThresholdBoundary(t *testing.T) {
	h := newHarness(t)
	threshold := 5 * time.Minute

	old := h.welcome("card-old", "old@example.com")
	h.clock.Set(t0.Add(2 * time.Second))
	fresh := h.welcome("card-new", "new@example.com")

	// old was sent threshold+1s ago, fresh threshold-1s ago
	h.clock.Set(t0.Add(threshold + time.Second))
	candidates := h.followups.FindCandidates(h.ctx, threshold)

	require.Len(t, candidates, 1)
	assert.Equal(t, old, candidates[0].Record.ProviderMessageID)
	assert.NotEqual(t, fresh, candidates[0].Record.ProviderMessageID)
}

func TestSilentWelcomeGetsFollowUp(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")

	h.clock.Set(t0.Add(5*time.Minute + time.Second))
	summary := h.followups.SendBatch(h.ctx, 5*time.Minute)

	assert.Equal(t, 1, summary.Sent)
	assert.True(t, h.record(msg).FollowUpScheduled)
	followUps := h.recordsOfKind(domain.KindFollowUp)
	require.Len(t, followUps, 1)
	assert.Equal(t, "card-1", followUps[0].ContactID)

	// a second sweep finds nothing
	h.clock.Set(t0.Add(time.Hour))
	again := h.followups.SendBatch(h.ctx, 5*time.Minute)
	assert.Equal(t, 0, again.TotalCandidates)
	assert.Equal(t, 1, h.transport.count(domain.KindFollowUp))
}

func TestOpenThenReplySendsOnePropertyEmail(t *testing.T) {
	h := newHarness(t)
	msg := h.welcome("card-1", "ada@example.com")

	h.clock.Set(t0.Add(10 * time.Second))
	res := h.webhook(event("open", msg, t0.Add(10*time.Second)))
	require.True(t, res.Results[0].Success)

	props := h.recordsOfKind(domain.KindPropertyAvailability)
	require.Len(t, props, 1)
	rec := h.record(msg)
	assert.True(t, rec.PropertyEmailSent)
	// the property email also ends the drip
	assert.True(t, rec.FollowUpScheduled)

	h.clock.Set(t0.Add(20 * time.Second))
	h.webhook(event("reply", msg, t0.Add(20*time.Second)))
	assert.Len(t, h.recordsOfKind(domain.KindPropertyAvailability), 1)

	// and the sweep leaves the engaged contact alone
	h.clock.Set(t0.Add(time.Hour))
	summary := h.followups.SendBatch(h.ctx, 5*time.Minute)
	assert.Equal(t, 0, summary.TotalCandidates)
}

func TestReplyToFollowUpTriggersPropertyEmail(t *testing.T) {
	h := newHarness(t)
	welcome := h.welcome("card-1", "ada@example.com")

	h.clock.Set(t0.Add(10 * time.Minute))
	h.followups.SendBatch(h.ctx, 5*time.Minute)
	followUps := h.recordsOfKind(domain.KindFollowUp)
	require.Len(t, followUps, 1)

	h.webhook(event("reply", followUps[0].ProviderMessageID, t0.Add(11*time.Minute)))

	assert.Len(t, h.recordsOfKind(domain.KindPropertyAvailability), 1)
	assert.True(t, h.record(welcome).PropertyEmailSent)
}
