package domain

import "time"

// EmailMessage is the fully rendered message handed to a transport.
type EmailMessage struct {
	To            string            `json:"to"`
	FromName      string            `json:"from_name"`
	FromEmail     string            `json:"from_email"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Subject       string            `json:"subject"`
	HTMLContent   string            `json:"html_content"`
	TextContent   string            `json:"text_content,omitempty"`
	Kind          EmailKind         `json:"kind"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	CustomArgs    map[string]string `json:"custom_args,omitempty"`
}

// SendResult is returned by the dispatcher. A successful send may still lack
// a MessageID when the provider did not return one; such sends are not
// tracked.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Tracked   bool      `json:"tracking_created"`
	SentAt    time.Time `json:"sent_at,omitempty"`
}
