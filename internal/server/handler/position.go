package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/domain"
)

// ManualSeller performs an operator-initiated market sell.
type ManualSeller interface {
	ManualSell(ctx context.Context, assetID string) error
}

// PositionHandler serves position inspection and manual position management.
type PositionHandler struct {
	book   *book.Book
	manual domain.ManualStore
	seller ManualSeller
	resync func(ctx context.Context) error
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler. resync is called after manual
// declarations change so the book reflects them without waiting for the next
// periodic pass.
func NewPositionHandler(b *book.Book, manual domain.ManualStore, seller ManualSeller, resync func(ctx context.Context) error, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		book:   b,
		manual: manual,
		seller: seller,
		resync: resync,
		logger: logger.With(slog.String("handler", "positions")),
	}
}

// List returns every tracked position.
// GET /api/positions
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": h.book.List(),
	})
}

// Declare registers a manually-held position.
// POST /api/positions
func (h *PositionHandler) Declare(w http.ResponseWriter, r *http.Request) {
	var pos domain.ManualPosition
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if pos.AssetID == "" || pos.Size <= 0 || pos.AvgPrice <= 0 {
		writeError(w, http.StatusBadRequest, "asset_id, size and avg_price are required")
		return
	}

	if err := h.manual.Put(r.Context(), pos); err != nil {
		h.logger.Error("manual position store failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store position")
		return
	}
	h.triggerResync(r.Context())
	writeJSON(w, http.StatusCreated, pos)
}

// Remove deletes a manual position declaration.
// DELETE /api/positions/{asset}
func (h *PositionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")
	if err := h.manual.Delete(r.Context(), assetID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete position")
		return
	}
	h.triggerResync(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// SetLimits overrides stop-loss and take-profit thresholds for one position.
// Omitted fields are left unchanged; triggered latches are re-armed.
// PUT /api/positions/{asset}/limits
func (h *PositionHandler) SetLimits(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")

	var body struct {
		StopLoss   *float64 `json:"stop_loss"`
		TakeProfit *float64 `json:"take_profit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.book.SetLimits(assetID, body.StopLoss, body.TakeProfit) {
		writeError(w, http.StatusNotFound, "unknown asset")
		return
	}

	pos, _ := h.book.Get(assetID)
	writeJSON(w, http.StatusOK, pos)
}

// Sell market-sells a position on operator request.
// POST /api/positions/{asset}/sell
func (h *PositionHandler) Sell(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")

	err := h.seller.ManualSell(r.Context(), assetID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "sold"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown asset")
	case errors.Is(err, domain.ErrSellLocked):
		writeError(w, http.StatusConflict, "sell already in flight for asset")
	case errors.Is(err, domain.ErrExitFailed):
		writeError(w, http.StatusConflict, "asset is quarantined; clear quarantine first")
	default:
		h.logger.Error("manual sell failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "sell failed: "+err.Error())
	}
}

func (h *PositionHandler) triggerResync(ctx context.Context) {
	if h.resync == nil {
		return
	}
	if err := h.resync(ctx); err != nil {
		h.logger.Warn("post-change resync failed", slog.String("error", err.Error()))
	}
}
