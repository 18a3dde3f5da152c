package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
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
	"github.com/ignite/cardmail/internal/worker"
)

type stubTransport struct {
	mu   sync.Mutex
	n    int
	sent []*domain.EmailMessage
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Send(_ context.Context, msg *domain.EmailMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("msg-%d", s.n), nil
}

type testEnv struct {
	store     *memory.Store
	transport *stubTransport
	verifier  *ingress.Verifier
	handler   http.Handler
}

func newTestEnv(t *testing.T, verifyKey string, enforce bool) *testEnv {
	t.Helper()
	store := memory.NewStore()
	tr := &stubTransport{}
	d := mailer.NewDispatcher(tr, store, mailer.Config{FromEmail: "desk@example.com", FromName: "Card Desk"})

	verifier, err := ingress.NewVerifier(verifyKey)
	require.NoError(t, err)

	engine := tracking.NewEngine(store, d, tracking.Options{SuppressFollowUp: true})
	svc := followup.NewService(store, d, followup.Options{})
	sched := worker.NewFollowUpScheduler(svc, nil, worker.SchedulerConfig{Threshold: 3 * time.Minute})

	h := NewHandlers(Deps{
		Engine:           engine,
		Verifier:         verifier,
		EnforceSignature: enforce,
		MaxBodyBytes:     1024,
		Contacts:         store,
		Mailer:           d,
		FollowUps:        svc,
		Scheduler:        sched,
		Threshold:        3 * time.Minute,
	})
	hc := NewHealthChecker(HealthComponents{Store: store, StoreKind: "memory", Transport: "stub", Scheduler: sched, WebhookOn: true})
	return &testEnv{store: store, transport: tr, verifier: verifier, handler: SetupRoutes(h, hc, []string{"http://localhost:8080"})}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) saveContact(t *testing.T, name, email string) *domain.Contact {
	t.Helper()
	body, _ := json.Marshal(SaveContactRequest{Name: name, Email: email, Company: "Acme"})
	rec := e.do(t, http.MethodPost, "/api/contacts", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SaveContactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Contact
}

func TestSaveContact_SendsWelcome(t *testing.T) {
	env := newTestEnv(t, "", false)

	body, _ := json.Marshal(SaveContactRequest{Name: "Ada", Email: "ada@example.com"})
	rec := env.do(t, http.MethodPost, "/api/contacts", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SaveContactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Email)
	assert.True(t, resp.Email.Success)
	assert.True(t, resp.Email.Tracked)
	assert.NotEmpty(t, resp.Contact.ID)

	records := env.store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.KindWelcome, records[0].Kind)
	assert.Equal(t, resp.Contact.ID, records[0].ContactID)
}

func TestSaveContact_RequiresName(t *testing.T) {
	env := newTestEnv(t, "", false)
	rec := env.do(t, http.MethodPost, "/api/contacts", []byte(`{"email":"ada@example.com"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveContact_NoEmailNoWelcome(t *testing.T) {
	env := newTestEnv(t, "", false)
	rec := env.do(t, http.MethodPost, "/api/contacts", []byte(`{"name":"Ada"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, env.store.Records())
}

func TestSendWelcome_UnknownContact(t *testing.T) {
	env := newTestEnv(t, "", false)
	rec := env.do(t, http.MethodPost, "/api/contacts/nope/welcome", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendWelcome_StoredContact(t *testing.T) {
	env := newTestEnv(t, "", false)
	require.NoError(t, env.store.SaveContact(context.Background(), &domain.Contact{ID: "card-9", Name: "Ada", Email: "ada@example.com"}))

	rec := env.do(t, http.MethodPost, "/api/contacts/card-9/welcome", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res domain.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "msg-1", res.MessageID)
}

func TestContactEmails(t *testing.T) {
	env := newTestEnv(t, "", false)
	c := env.saveContact(t, "Ada", "ada@example.com")

	rec := env.do(t, http.MethodGet, "/api/contacts/"+c.ID+"/emails", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ContactEmailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.EmailSent)
	assert.Equal(t, "complete", resp.Status)
	require.Len(t, resp.Emails, 1)
	assert.Equal(t, "msg-1", resp.Emails[0].ProviderMessageID)
}

func TestWebhook_OpenTriggersPropertyEmail(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.saveContact(t, "Ada", "ada@example.com")

	ts := time.Now().Unix()
	body := []byte(fmt.Sprintf(`[
		{"event":"open","email":"ada@example.com","sg_message_id":"msg-1.filter0001","timestamp":%d},
		{"event":"delivered","email":"ghost@example.com","sg_message_id":"unknown","timestamp":%d}
	]`, ts, ts))
	rec := env.do(t, http.MethodPost, "/webhook/sendgrid", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ProcessedEvents)
	assert.True(t, result.Results[0].Success)
	assert.False(t, result.Results[1].Success)

	records := env.store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, domain.KindPropertyAvailability, records[1].Kind)
	assert.True(t, records[0].PropertyEmailSent)
	assert.NotNil(t, records[0].OpenedAt)
}

func TestWebhook_SignaturePermissive(t *testing.T) {
	env := newTestEnv(t, "c2VjcmV0", false)
	rec := env.do(t, http.MethodPost, "/webhook/sendgrid", []byte(`[]`), map[string]string{
		ingress.SignatureHeader: "bogus",
		ingress.TimestampHeader: "1700000000",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_SignatureEnforced(t *testing.T) {
	env := newTestEnv(t, "c2VjcmV0", true)
	body := []byte(`[]`)

	rec := env.do(t, http.MethodPost, "/webhook/sendgrid", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/webhook/sendgrid", body, map[string]string{
		ingress.SignatureHeader: "bogus",
		ingress.TimestampHeader: "1700000000",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	rec = env.do(t, http.MethodPost, "/webhook/sendgrid", body, map[string]string{
		ingress.SignatureHeader: env.verifier.Sign(body, ts),
		ingress.TimestampHeader: ts,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, "", false)
	rec := env.do(t, http.MethodPost, "/webhook/sendgrid", bytes.Repeat([]byte("x"), 2048), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhook_NoEngine(t *testing.T) {
	h := NewHandlers(Deps{})
	rec := httptest.NewRecorder()
	h.HandleSendGridWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhook/sendgrid", bytes.NewReader([]byte(`[]`))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFollowUpEndpoints(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.saveContact(t, "Ada", "ada@example.com")

	rec := env.do(t, http.MethodGet, "/api/followups/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.FollowUpStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalWelcomeEmails)
	assert.False(t, stats.SchedulerRunning)

	// the welcome is seconds old, so nothing is due yet
	rec = env.do(t, http.MethodPost, "/api/followups/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary followup.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 0, summary.TotalCandidates)

	rec = env.do(t, http.MethodGet, "/api/followups/scheduler", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st worker.SchedulerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "every 1m0s", st.Cadence)
	assert.NotNil(t, st.LastSummary)
}

func TestFollowUpRun_NoScheduler(t *testing.T) {
	h := NewHandlers(Deps{})
	rec := httptest.NewRecorder()
	h.HandleRunFollowUps(rec, httptest.NewRequest(http.MethodPost, "/api/followups/run", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "", false)
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hs HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Equal(t, "healthy", hs.Status)
	assert.Equal(t, "up", hs.Checks["database"].Status)
	assert.Equal(t, "down", hs.Checks["redis"].Status)

	rec = env.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
