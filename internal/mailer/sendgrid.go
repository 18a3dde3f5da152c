package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/cardmail/internal/domain"
)

// SendGridTransport sends through the SendGrid v3 Mail Send API.
type SendGridTransport struct {
	apiKey             string
	baseURL            string
	unsubscribeGroupID int
	client             *http.Client
}

// NewSendGridTransport creates a SendGrid transport. groupID enables the
// suppression group unsubscribe link when non-zero.
func NewSendGridTransport(apiKey, baseURL string, groupID int) *SendGridTransport {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com/v3"
	}
	return &SendGridTransport{
		apiKey:             apiKey,
		baseURL:            baseURL,
		unsubscribeGroupID: groupID,
		client:             &http.Client{Timeout: 60 * time.Second},
	}
}

// Name implements Transport.
func (s *SendGridTransport) Name() string { return "sendgrid" }

// Send delivers msg and returns the X-Message-Id header value.
func (s *SendGridTransport) Send(ctx context.Context, msg *domain.EmailMessage) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("SendGrid API key not configured")
	}

	personalization := map[string]interface{}{
		"to": []map[string]string{{"email": msg.To}},
	}
	if len(msg.CustomArgs) > 0 {
		personalization["custom_args"] = msg.CustomArgs
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{personalization},
		"from":             map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject":          msg.Subject,
		"content":          []map[string]string{{"type": "text/html", "value": msg.HTMLContent}},
		"tracking_settings": map[string]interface{}{
			"click_tracking": map[string]bool{"enable": true},
			"open_tracking":  map[string]bool{"enable": true},
		},
	}
	if msg.TextContent != "" {
		payload["content"] = []map[string]string{
			{"type": "text/plain", "value": msg.TextContent},
			{"type": "text/html", "value": msg.HTMLContent},
		}
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": msg.ReplyTo}
	}
	if s.unsubscribeGroupID != 0 {
		payload["asm"] = map[string]int{"group_id": s.unsubscribeGroupID}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("SendGrid error %d: %s", resp.StatusCode, string(body))
	}
	return resp.Header.Get("X-Message-Id"), nil
}
