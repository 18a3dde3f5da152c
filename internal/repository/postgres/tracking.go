package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/service/tracking"
)

// TrackingRepo implements the email_tracking side of tracking.Repository,
// followup.Repository and the dispatcher's record store against PostgreSQL.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking repository.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

var trackingColumns = []string{
	"id", "COALESCE(business_card_id,'')", "email_address", "COALESCE(message_id,'')",
	"email_type", "sent_at", "delivered_at", "opened_at", "clicked_at", "bounced_at",
	"unsubscribed_at", "replied_at", "follow_up_scheduled", "property_email_sent",
	"follow_up_claimed_at", "property_claimed_at",
}

// selectColumns renders trackingColumns, qualified with alias when given.
func selectColumns(alias string) string {
	if alias == "" {
		return strings.Join(trackingColumns, ", ")
	}
	out := make([]string, len(trackingColumns))
	for i, c := range trackingColumns {
		if strings.HasPrefix(c, "COALESCE(") {
			out[i] = strings.Replace(c, "COALESCE(", "COALESCE("+alias+".", 1)
		} else {
			out[i] = alias + "." + c
		}
	}
	return strings.Join(out, ", ")
}

// eventColumns whitelists the timestamp column each event writes.
var eventColumns = map[domain.EventType]string{
	domain.EventDelivered:   "delivered_at",
	domain.EventOpen:        "opened_at",
	domain.EventClick:       "clicked_at",
	domain.EventBounce:      "bounced_at",
	domain.EventUnsubscribe: "unsubscribed_at",
	domain.EventReply:       "replied_at",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, extra ...any) (*domain.TrackingRecord, error) {
	r := &domain.TrackingRecord{}
	dest := []any{
		&r.ID, &r.ContactID, &r.RecipientAddress, &r.ProviderMessageID,
		&r.Kind, &r.SentAt, &r.DeliveredAt, &r.OpenedAt, &r.ClickedAt, &r.BouncedAt,
		&r.UnsubscribedAt, &r.RepliedAt, &r.FollowUpScheduled, &r.PropertyEmailSent,
		&r.FollowUpClaimedAt, &r.PropertyClaimedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// InsertRecord stores a new tracking row. A second property_availability
// row for the same card, or a reused message id, is tracking.ErrDuplicate.
func (r *TrackingRepo) InsertRecord(ctx context.Context, rec *domain.TrackingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_tracking
			(id, business_card_id, email_address, message_id, email_type, sent_at,
			 follow_up_scheduled, property_email_sent)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE)
	`, rec.ID, nullString(rec.ContactID), rec.RecipientAddress, nullString(rec.ProviderMessageID),
		string(rec.Kind), rec.SentAt)
	if isUniqueViolation(err) {
		return tracking.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert tracking record: %w", err)
	}
	return nil
}

func (r *TrackingRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.TrackingRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns("")+` FROM email_tracking WHERE message_id = $1`, messageID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking record: %w", err)
	}
	return rec, nil
}

// SetEventTime is a single conditional UPDATE, so two concurrent deliveries
// of one event cannot both write.
func (r *TrackingRepo) SetEventTime(ctx context.Context, messageID string, event domain.EventType, at time.Time) (bool, error) {
	col, ok := eventColumns[event]
	if !ok {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE email_tracking SET %[1]s = GREATEST($2::timestamptz, sent_at)
		WHERE message_id = $1 AND %[1]s IS NULL
	`, col), messageID, at)
	if err != nil {
		return false, fmt.Errorf("set %s: %w", col, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *TrackingRepo) FindWelcome(ctx context.Context, contactID string) (*domain.TrackingRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+selectColumns("")+`
		FROM email_tracking
		WHERE business_card_id = $1 AND email_type = 'welcome'
		ORDER BY sent_at DESC
		LIMIT 1
	`, contactID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find welcome record: %w", err)
	}
	return rec, nil
}

func (r *TrackingRepo) HasPropertyEmail(ctx context.Context, contactID, recipient string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM email_tracking
			WHERE email_type = 'property_availability'
			  AND (business_card_id = $1 OR email_address = $2)
		)
	`, contactID, recipient).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check property email: %w", err)
	}
	return exists, nil
}

func (r *TrackingRepo) ClaimProperty(ctx context.Context, recordID string, now, staleBefore time.Time) (bool, error) {
	return r.claim(ctx, `
		UPDATE email_tracking SET property_claimed_at = $2
		WHERE id = $1 AND property_email_sent = FALSE AND bounced_at IS NULL
		  AND (property_claimed_at IS NULL OR property_claimed_at < $3)
	`, recordID, now, staleBefore)
}

func (r *TrackingRepo) ReleaseProperty(ctx context.Context, recordID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_tracking SET property_claimed_at = NULL
		WHERE id = $1 AND property_email_sent = FALSE
	`, recordID)
	if err != nil {
		return fmt.Errorf("release property claim: %w", err)
	}
	return nil
}

func (r *TrackingRepo) MarkPropertySent(ctx context.Context, recordID string, suppressFollowUp bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_tracking
		SET property_email_sent = TRUE,
		    follow_up_scheduled = follow_up_scheduled OR $2,
		    property_claimed_at = NULL
		WHERE id = $1 AND property_email_sent = FALSE
	`, recordID, suppressFollowUp)
	if err != nil {
		return false, fmt.Errorf("mark property email sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListFollowUpCandidates joins business_cards so the sweep rarely needs a
// second round trip per candidate.
func (r *TrackingRepo) ListFollowUpCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.FollowUpCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns("t")+`,
		       c.id, c.name, c.email, c.phone, c.company, c.email_opened, c.created_at
		FROM email_tracking t
		LEFT JOIN business_cards c ON c.id = t.business_card_id
		WHERE t.email_type = 'welcome'
		  AND t.follow_up_scheduled = FALSE
		  AND t.bounced_at IS NULL
		  AND t.sent_at < $1
		ORDER BY t.sent_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list follow-up candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.FollowUpCandidate
	for rows.Next() {
		var (
			cID, cName, cEmail, cPhone, cCompany sql.NullString
			cOpened                              sql.NullBool
			cCreated                             sql.NullTime
		)
		rec, err := scanRecord(rows, &cID, &cName, &cEmail, &cPhone, &cCompany, &cOpened, &cCreated)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up candidate: %w", err)
		}
		c := domain.FollowUpCandidate{Record: *rec}
		if cID.Valid {
			c.Contact = &domain.Contact{
				ID: cID.String, Name: cName.String, Email: cEmail.String, Phone: cPhone.String,
				Company: cCompany.String, EmailOpened: cOpened.Bool, CreatedAt: cCreated.Time,
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *TrackingRepo) ClaimFollowUp(ctx context.Context, recordID string, now, staleBefore time.Time) (bool, error) {
	return r.claim(ctx, `
		UPDATE email_tracking SET follow_up_claimed_at = $2
		WHERE id = $1 AND follow_up_scheduled = FALSE AND bounced_at IS NULL
		  AND (follow_up_claimed_at IS NULL OR follow_up_claimed_at < $3)
	`, recordID, now, staleBefore)
}

func (r *TrackingRepo) ReleaseFollowUp(ctx context.Context, recordID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_tracking SET follow_up_claimed_at = NULL
		WHERE id = $1 AND follow_up_scheduled = FALSE
	`, recordID)
	if err != nil {
		return fmt.Errorf("release follow-up claim: %w", err)
	}
	return nil
}

func (r *TrackingRepo) MarkFollowUpScheduled(ctx context.Context, recordID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_tracking SET follow_up_scheduled = TRUE, follow_up_claimed_at = NULL
		WHERE id = $1 AND follow_up_scheduled = FALSE
	`, recordID)
	if err != nil {
		return false, fmt.Errorf("mark follow-up scheduled: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *TrackingRepo) FollowUpStats(ctx context.Context, cutoff time.Time) (domain.FollowUpStats, error) {
	var st domain.FollowUpStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE email_type = 'welcome'),
			COUNT(*) FILTER (WHERE email_type = 'welcome' AND opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE email_type = 'follow_up'),
			COUNT(*) FILTER (WHERE email_type = 'property_availability'),
			COUNT(*) FILTER (WHERE email_type = 'welcome' AND follow_up_scheduled = FALSE
			                   AND bounced_at IS NULL AND sent_at < $1)
		FROM email_tracking
	`, cutoff).Scan(&st.TotalWelcomeEmails, &st.OpenedEmails, &st.FollowUpsSent,
		&st.PropertyEmailsSent, &st.PendingFollowUps)
	if err != nil {
		return st, fmt.Errorf("follow-up stats: %w", err)
	}
	return st, nil
}

// ListByContact returns a card's emails, newest first.
func (r *TrackingRepo) ListByContact(ctx context.Context, contactID string) ([]domain.TrackingRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns("")+`
		FROM email_tracking
		WHERE business_card_id = $1
		ORDER BY sent_at DESC
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list tracking records: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracking record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *TrackingRepo) claim(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
