package api

import (
	"errors"
	"net/http"

	"github.com/ignite/cardmail/internal/pkg/distlock"
	"github.com/ignite/cardmail/internal/pkg/httputil"
)

// HandleFollowUpStats returns drip sequence statistics.
//
//	GET /api/followups/stats
func (h *Handlers) HandleFollowUpStats(w http.ResponseWriter, r *http.Request) {
	running := h.scheduler != nil && h.scheduler.IsRunning()
	stats, err := h.followups.Stats(r.Context(), h.threshold, running)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// HandleRunFollowUps runs one sweep synchronously.
//
//	POST /api/followups/run
func (h *Handlers) HandleRunFollowUps(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "follow-up scheduler not available")
		return
	}
	summary, err := h.scheduler.RunNow(r.Context())
	if err != nil {
		if errors.Is(err, distlock.ErrNotAcquired) {
			httputil.Error(w, http.StatusConflict, "a follow-up sweep is already running")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}

// HandleSchedulerStatus reports the sweep loop state.
//
//	GET /api/followups/scheduler
func (h *Handlers) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "follow-up scheduler not available")
		return
	}
	httputil.OK(w, h.scheduler.Status())
}
