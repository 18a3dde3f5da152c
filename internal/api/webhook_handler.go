package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ignite/cardmail/internal/pkg/httputil"
	ingress "github.com/ignite/cardmail/internal/tracking"
)

// HandleSendGridWebhook ingests a SendGrid event webhook batch.
//
//	POST /webhook/sendgrid
//
// Signature headers are checked when present. With enforcement off a bad
// signature is logged and the batch is still processed.
func (h *Handlers) HandleSendGridWebhook(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "webhook handler not available")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		httputil.BadRequest(w, "failed to read body")
		return
	}

	sig := r.Header.Get(ingress.SignatureHeader)
	ts := r.Header.Get(ingress.TimestampHeader)
	if h.verifier.Enabled() && (h.enforceSignature || (sig != "" && ts != "")) {
		if err := h.verifier.Check(body, sig, ts); err != nil {
			if h.enforceSignature {
				h.log.Warn("webhook rejected", "error", err)
				httputil.Unauthorized(w, err.Error())
				return
			}
			h.log.Warn("invalid webhook signature, processing anyway", "error", err)
		}
	}

	h.archive.Store(body)

	events := ingress.Parse(body, h.now)
	result := h.engine.Process(r.Context(), events)
	if failed := result.Failed(); failed > 0 {
		h.log.Warn("webhook batch had failures", "events", result.ProcessedEvents, "failed", failed)
	}
	httputil.OK(w, result)
}
