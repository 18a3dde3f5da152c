package domain

import "time"

// Contact is a scanned business card. Only the fields the mailer needs are
// modeled; enrichment data lives elsewhere.
type Contact struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Email       string    `json:"email" db:"email"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	Company     string    `json:"company,omitempty" db:"company"`
	EmailOpened bool      `json:"email_opened" db:"email_opened"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DisplayName falls back to a neutral greeting when the card had no name.
func (c *Contact) DisplayName() string {
	if c == nil || c.Name == "" {
		return "Valued Client"
	}
	return c.Name
}
