package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// QuarantineControl clears exit-failed quarantine. An empty assetID clears
// every quarantined asset.
type QuarantineControl interface {
	ClearQuarantine(ctx context.Context, assetID string) error
}

// OpsHandler serves the recovery surfaces: the intent log, the quarantine
// set, and the exit history.
type OpsHandler struct {
	wal   domain.IntentLog
	quar  domain.SetStore
	clear QuarantineControl
	exits domain.ExitStore
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(wal domain.IntentLog, quar domain.SetStore, clear QuarantineControl, exits domain.ExitStore) *OpsHandler {
	return &OpsHandler{wal: wal, quar: quar, clear: clear, exits: exits}
}

// UnresolvedIntents lists order intents awaiting operator verification.
// GET /api/wal/unresolved
func (h *OpsHandler) UnresolvedIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.wal.Unresolved(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load intents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": intents})
}

// ResolveIntent records the operator's verdict on an unresolved intent after
// they have verified the true outcome at the venue.
// POST /api/wal/{id}/resolve
func (h *OpsHandler) ResolveIntent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := domain.IntentStatus(body.Status)
	if status != domain.IntentFilled && status != domain.IntentFailed {
		writeError(w, http.StatusBadRequest, `status must be "filled" or "failed"`)
		return
	}

	err := h.wal.ResolveIntent(r.Context(), id, status, body.Result)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown intent")
	case errors.Is(err, domain.ErrIntentResolved):
		writeError(w, http.StatusConflict, "intent already resolved")
	default:
		writeError(w, http.StatusInternalServerError, "failed to resolve intent")
	}
}

// Quarantined lists assets whose sell ladder was exhausted.
// GET /api/quarantine
func (h *OpsHandler) Quarantined(w http.ResponseWriter, r *http.Request) {
	members, err := h.quar.Members(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load quarantine set")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": members})
}

// ClearQuarantineAsset re-arms exit attempts for one asset.
// DELETE /api/quarantine/{asset}
func (h *OpsHandler) ClearQuarantineAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.clear.ClearQuarantine(r.Context(), r.PathValue("asset")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear quarantine")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearQuarantineAll re-arms exit attempts for every quarantined asset.
// DELETE /api/quarantine
func (h *OpsHandler) ClearQuarantineAll(w http.ResponseWriter, r *http.Request) {
	if err := h.clear.ClearQuarantine(r.Context(), ""); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear quarantine")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Exits returns exit history filtered by query parameters.
// GET /api/exits
func (h *OpsHandler) Exits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ExitFilter{
		AssetID:  q.Get("asset_id"),
		Reason:   domain.ExitReason(q.Get("reason")),
		Strategy: q.Get("strategy"),
		Limit:    queryLimit(r, 100, 1000),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = &since
	}

	records, err := h.exits.Exits(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load exits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exits": records})
}

// ExitSummary aggregates exit history since an optional RFC 3339 timestamp.
// GET /api/exits/summary
func (h *OpsHandler) ExitSummary(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	summary, err := h.exits.Summary(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize exits")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
