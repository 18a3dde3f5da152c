package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/service/tracking"
)

// ContactRepo reads and writes business_cards.
type ContactRepo struct{ db *sql.DB }

func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, company, email_opened, created_at
		FROM business_cards WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.EmailOpened, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, tracking.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// SaveContact inserts or updates a card. An empty ID gets a new UUID.
func (r *ContactRepo) SaveContact(ctx context.Context, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO business_cards (id, name, email, phone, company, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = $2, email = $3, phone = $4, company = $5
		RETURNING email_opened, created_at
	`, c.ID, c.Name, c.Email, c.Phone, c.Company).Scan(&c.EmailOpened, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	return nil
}

// MarkContactOpened is a no-op for unknown or already-opened cards.
func (r *ContactRepo) MarkContactOpened(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE business_cards SET email_opened = TRUE WHERE id = $1 AND email_opened = FALSE`, id)
	if err != nil {
		return fmt.Errorf("mark contact opened: %w", err)
	}
	return nil
}

// Store bundles both repositories behind one value so it satisfies every
// service's Repository interface.
type Store struct {
	*TrackingRepo
	*ContactRepo
	db *sql.DB
}

// NewStore creates a Postgres-backed store.
func NewStore(db *sql.DB) *Store {
	return &Store{TrackingRepo: NewTrackingRepo(db), ContactRepo: NewContactRepo(db), db: db}
}

// Ping checks the connection for health reporting.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
