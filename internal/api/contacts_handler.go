package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/cardmail/internal/domain"
	"github.com/ignite/cardmail/internal/pkg/httputil"
	"github.com/ignite/cardmail/internal/service/tracking"
)

// SaveContactRequest is the body of POST /api/contacts.
type SaveContactRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	// SendWelcome defaults to true.
	SendWelcome *bool `json:"send_welcome,omitempty"`
}

// SaveContactResponse reports the stored card and the welcome send, if any.
type SaveContactResponse struct {
	Success bool               `json:"success"`
	Contact *domain.Contact    `json:"contact"`
	Email   *domain.SendResult `json:"email,omitempty"`
}

// HandleSaveContact stores a scanned card and sends the welcome email when
// the card has an address.
//
//	POST /api/contacts
func (h *Handlers) HandleSaveContact(w http.ResponseWriter, r *http.Request) {
	var req SaveContactRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}

	contact := &domain.Contact{
		ID:      req.ID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
	}
	if err := h.contacts.SaveContact(r.Context(), contact); err != nil {
		httputil.InternalError(w, err)
		return
	}

	resp := SaveContactResponse{Success: true, Contact: contact}
	wantWelcome := req.SendWelcome == nil || *req.SendWelcome
	switch {
	case !wantWelcome || contact.Email == "":
	case h.mailer == nil:
		h.log.Warn("welcome email skipped, no mailer configured", "contact_id", contact.ID)
	default:
		res := h.mailer.SendWelcome(r.Context(), contact, contact.ID)
		resp.Email = &res
	}
	httputil.JSON(w, http.StatusCreated, resp)
}

// HandleSendWelcome sends the welcome email for a stored card.
//
//	POST /api/contacts/{id}/welcome
func (h *Handlers) HandleSendWelcome(w http.ResponseWriter, r *http.Request) {
	if h.mailer == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "email service not available")
		return
	}
	contact, ok := h.loadContact(w, r)
	if !ok {
		return
	}
	if contact.Email == "" {
		httputil.BadRequest(w, "contact has no email address")
		return
	}

	res := h.mailer.SendWelcome(r.Context(), contact, contact.ID)
	if !res.Success {
		httputil.JSON(w, http.StatusBadGateway, res)
		return
	}
	httputil.OK(w, res)
}

// ContactEmailsResponse lists the tracked emails for a card.
type ContactEmailsResponse struct {
	ContactID string                  `json:"business_card_id"`
	EmailSent bool                    `json:"email_sent"`
	Status    string                  `json:"status"`
	Emails    []domain.TrackingRecord `json:"emails"`
}

// HandleContactEmails returns every tracking record for a card, newest first.
//
//	GET /api/contacts/{id}/emails
func (h *Handlers) HandleContactEmails(w http.ResponseWriter, r *http.Request) {
	contact, ok := h.loadContact(w, r)
	if !ok {
		return
	}
	records, err := h.contacts.ListByContact(r.Context(), contact.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if records == nil {
		records = []domain.TrackingRecord{}
	}
	status := "processing"
	if len(records) > 0 {
		status = "complete"
	}
	httputil.OK(w, ContactEmailsResponse{
		ContactID: contact.ID,
		EmailSent: len(records) > 0,
		Status:    status,
		Emails:    records,
	})
}

func (h *Handlers) loadContact(w http.ResponseWriter, r *http.Request) (*domain.Contact, bool) {
	id := chi.URLParam(r, "id")
	contact, err := h.contacts.GetContact(r.Context(), id)
	if err != nil {
		if errors.Is(err, tracking.ErrContactNotFound) {
			httputil.NotFound(w, "contact not found")
			return nil, false
		}
		httputil.InternalError(w, err)
		return nil, false
	}
	return contact, true
}
