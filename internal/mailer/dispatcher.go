package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/pkg/logger"
)

// ErrNoRecipient is returned when neither the request nor the contact
// carries an address.
var ErrNoRecipient = errors.New("recipient address is required")

// Transport delivers a rendered message. messageID is empty when the
// provider accepted the message without returning one.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *domain.EmailMessage) (messageID string, err error)
}

// RecordStore persists the tracking row for a successful send.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec *domain.TrackingRecord) error
}

// Config is the sender identity and timing for a Dispatcher.
type Config struct {
	FromEmail    string
	FromName     string
	ReplyTo      string
	Timeout      time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// SendRequest describes one outbound lifecycle email.
type SendRequest struct {
	Kind    domain.EmailKind
	Contact *domain.Contact
	// To overrides Contact.Email when set.
	To            string
	Fields        map[string]interface{}
	CorrelationID string
}

// Dispatcher renders and sends lifecycle emails and records the tracking
// row for each accepted send. Sends are at-most-once: a transport error is
// reported to the caller and never retried here.
type Dispatcher struct {
	transport Transport
	templates *Templates
	store     RecordStore
	cfg       Config
	log       *logger.Logger
}

// NewDispatcher creates a dispatcher. store may be nil, in which case sends
// are never tracked.
func NewDispatcher(transport Transport, store RecordStore, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReplyTo == "" {
		cfg.ReplyTo = cfg.FromEmail
	}
	return &Dispatcher{
		transport: transport,
		templates: NewTemplates(),
		store:     store,
		cfg:       cfg,
		log:       logger.Default().With("component", "mailer"),
	}
}

// TransportName reports which provider the dispatcher sends through.
func (d *Dispatcher) TransportName() string {
	return d.transport.Name()
}

// Send renders req and delivers it. The result is never nil-like: failures
// are reported through Success and Message.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) domain.SendResult {
	to := req.To
	if to == "" && req.Contact != nil {
		to = req.Contact.Email
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return domain.SendResult{Message: ErrNoRecipient.Error()}
	}

	rendered, err := d.templates.Render(req.Kind, d.fields(req))
	if err != nil {
		d.log.Error("render failed", "kind", req.Kind, "error", err)
		return domain.SendResult{Message: err.Error()}
	}

	msg := &domain.EmailMessage{
		To:            to,
		FromName:      d.cfg.FromName,
		FromEmail:     d.cfg.FromEmail,
		Subject:       rendered.Subject,
		HTMLContent:   rendered.HTML,
		TextContent:   rendered.Text,
		Kind:          req.Kind,
		CorrelationID: req.CorrelationID,
		CustomArgs:    map[string]string{"email_type": string(req.Kind)},
	}
	if d.cfg.ReplyTo != "" && d.cfg.ReplyTo != d.cfg.FromEmail {
		msg.ReplyTo = d.cfg.ReplyTo
	}
	if req.Contact != nil && req.Contact.ID != "" {
		msg.CustomArgs["business_card_id"] = req.Contact.ID
	}
	if req.CorrelationID != "" {
		msg.CustomArgs["correlation_id"] = req.CorrelationID
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	messageID, err := d.transport.Send(sendCtx, msg)
	cancel()
	if err != nil {
		d.log.Error("send failed", "kind", req.Kind, "email", to, "transport", d.transport.Name(), "error", err)
		return domain.SendResult{Message: fmt.Sprintf("failed to send %s email: %v", req.Kind, err)}
	}

	now := d.cfg.Now().UTC()
	res := domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Message:   "Email sent successfully",
		SentAt:    now,
	}
	d.log.Info("email sent", "kind", req.Kind, "email", to, "message_id", messageID, "correlation_id", req.CorrelationID)

	if messageID == "" || d.store == nil || req.Contact == nil || req.Contact.ID == "" {
		d.log.Warn("send not tracked", "kind", req.Kind, "email", to, "message_id", messageID)
		return res
	}

	rec := &domain.TrackingRecord{
		ID:                uuid.New().String(),
		ContactID:         req.Contact.ID,
		RecipientAddress:  to,
		ProviderMessageID: messageID,
		Kind:              req.Kind,
		SentAt:            now,
	}
	// The send already happened; the caller's cancellation must not lose
	// the row that lets webhook events find it.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.StoreTimeout)
	defer cancel()
	if err := d.store.InsertRecord(storeCtx, rec); err != nil {
		d.log.Error("tracking record insert failed", "kind", req.Kind, "message_id", messageID, "error", err)
		return res
	}
	res.Tracked = true
	return res
}

func (d *Dispatcher) fields(req SendRequest) map[string]interface{} {
	fields := map[string]interface{}{
		"name":      singleLine(req.Contact.DisplayName()),
		"from_name": d.cfg.FromName,
		"reply_to":  d.cfg.ReplyTo,
		"year":      d.cfg.Now().Year(),
	}
	// Liquid treats "" as truthy; leave company unset so {% if company %} works.
	if req.Contact != nil && req.Contact.Company != "" {
		fields["company"] = req.Contact.Company
	}
	for k, v := range req.Fields {
		fields[k] = v
	}
	return fields
}

// SendWelcome sends the first email to a freshly saved card.
func (d *Dispatcher) SendWelcome(ctx context.Context, contact *domain.Contact, correlationID string) domain.SendResult {
	return d.Send(ctx, SendRequest{Kind: domain.KindWelcome, Contact: contact, CorrelationID: correlationID})
}

// SendFollowUpWelcome sends the drip follow-up for an unopened welcome.
func (d *Dispatcher) SendFollowUpWelcome(ctx context.Context, contact *domain.Contact, correlationID string) domain.SendResult {
	return d.Send(ctx, SendRequest{Kind: domain.KindFollowUp, Contact: contact, CorrelationID: correlationID})
}

// SendPropertyAvailability sends the engagement-triggered property email.
func (d *Dispatcher) SendPropertyAvailability(ctx context.Context, contact *domain.Contact, correlationID string) domain.SendResult {
	return d.Send(ctx, SendRequest{Kind: domain.KindPropertyAvailability, Contact: contact, CorrelationID: correlationID})
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
