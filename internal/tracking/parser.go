package tracking

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/pkg/logger"
)

// SendGridEvent is one element of a SendGrid event webhook payload. Only
// the fields the lifecycle needs are decoded.
type SendGridEvent struct {
	Event       string   `json:"event"`
	Email       string   `json:"email"`
	SGMessageID string   `json:"sg_message_id"`
	Timestamp   unixTime `json:"timestamp"`
}

// unixTime accepts a Unix timestamp as a JSON number or numeric string.
type unixTime int64

func (u *unixTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*u = unixTime(f)
	return nil
}

// Parse decodes a webhook body. The body is normally a JSON array; a single
// object is accepted as a one-element batch. Malformed payloads yield an
// empty slice. An element that fails to decode still yields an event, with
// DecodeError set and whatever fields a loose decode could recover.
func Parse(body []byte, now func() time.Time) []domain.CanonicalEvent {
	if now == nil {
		now = time.Now
	}
	raw := decodeElements(body)
	out := make([]domain.CanonicalEvent, 0, len(raw))
	for i, el := range raw {
		var ev SendGridEvent
		if err := json.Unmarshal(el, &ev); err != nil {
			logger.Warn("malformed webhook event", "index", i, "error", err)
			out = append(out, malformed(el, err, now))
			continue
		}
		out = append(out, ev.Canonical(now))
	}
	return out
}

func decodeElements(body []byte) []json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			logger.Warn("unparseable webhook payload", "error", err, "bytes", len(body))
			return nil
		}
		return list
	case '{':
		return []json.RawMessage{json.RawMessage(trimmed)}
	}
	logger.Warn("unexpected webhook payload", "bytes", len(body))
	return nil
}

func malformed(el json.RawMessage, cause error, now func() time.Time) domain.CanonicalEvent {
	ev := domain.CanonicalEvent{
		Type:        domain.EventIgnored,
		Timestamp:   now().UTC(),
		DecodeError: cause.Error(),
	}
	var loose map[string]any
	if json.Unmarshal(el, &loose) != nil {
		return ev
	}
	str := func(k string) string {
		s, _ := loose[k].(string)
		return s
	}
	ev.RawType = str("event")
	ev.Type = Normalize(ev.RawType)
	ev.Recipient = str("email")
	ev.MessageID = MessageID(str("sg_message_id"))
	return ev
}

// Canonical converts the provider event. A missing timestamp means now.
func (e SendGridEvent) Canonical(now func() time.Time) domain.CanonicalEvent {
	ts := now().UTC()
	if e.Timestamp > 0 {
		ts = time.Unix(int64(e.Timestamp), 0).UTC()
	}
	return domain.CanonicalEvent{
		Type:      Normalize(e.Event),
		RawType:   e.Event,
		Recipient: e.Email,
		MessageID: MessageID(e.SGMessageID),
		Timestamp: ts,
	}
}

// Normalize maps a provider event name onto the canonical vocabulary.
// "inbound" is a reply; anything unknown is ignored.
func Normalize(event string) domain.EventType {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "delivered":
		return domain.EventDelivered
	case "open":
		return domain.EventOpen
	case "click":
		return domain.EventClick
	case "bounce":
		return domain.EventBounce
	case "unsubscribe", "group_unsubscribe":
		return domain.EventUnsubscribe
	case "reply", "inbound":
		return domain.EventReply
	}
	return domain.EventIgnored
}

// MessageID reduces an sg_message_id ("<x-message-id>.filterdrecv-...") to
// the X-Message-Id returned at send time, which is what tracking rows store.
func MessageID(sgMessageID string) string {
	id := strings.TrimSpace(sgMessageID)
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}
