package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/modules/ledger"
	"github.com/aristath/stockwatch/internal/modules/valuation"
)

// PositionHandlers serves the position lifecycle and reporting endpoints
type PositionHandlers struct {
	repo      domain.PositionRepository
	ledger    *ledger.Service
	valuation *valuation.Service
	// plotStart clamps chart and plot series to the portfolio inception
	// date when configured
	plotStart *time.Time
	log       zerolog.Logger
}

// NewPositionHandlers creates position handlers
func NewPositionHandlers(
	repo domain.PositionRepository,
	ledgerService *ledger.Service,
	valuationService *valuation.Service,
	plotStart *time.Time,
	log zerolog.Logger,
) *PositionHandlers {
	return &PositionHandlers{
		repo:      repo,
		ledger:    ledgerService,
		valuation: valuationService,
		plotStart: plotStart,
		log:       log.With().Str("component", "position_handlers").Logger(),
	}
}

// clampSeries trims each position's series to points on or after the
// configured portfolio start date.
func (h *PositionHandlers) clampSeries(positions []domain.Position) []domain.Position {
	if h.plotStart == nil {
		return positions
	}
	start := domain.Day(*h.plotStart)

	out := make([]domain.Position, len(positions))
	for i, p := range positions {
		kept := p.Series
		for len(kept) > 0 && kept[0].Date.Before(start) {
			kept = kept[1:]
		}
		p.Series = kept
		out[i] = p
	}
	return out
}

// positionView is the JSON shape of a position
type positionView struct {
	ID           string               `json:"id"`
	Symbol       string               `json:"symbol"`
	BuyDate      string               `json:"buy_date"`
	BuyPrice     float64              `json:"buy_price"`
	BuyQty       int                  `json:"buy_qty"`
	Currency     string               `json:"currency"`
	Open         bool                 `json:"open"`
	Series       []domain.SeriesPoint `json:"series,omitempty"`
	CurrentPrice *float64             `json:"current_price,omitempty"`
	HoldingValue *float64             `json:"holding_value,omitempty"`
	ClosePrice   *float64             `json:"close_price,omitempty"`
	CloseDate    *string              `json:"close_date,omitempty"`
	DateUpdated  string               `json:"date_updated"`
}

func toView(p domain.Position, includeSeries bool) positionView {
	v := positionView{
		ID:           p.ID,
		Symbol:       p.Symbol,
		BuyDate:      p.BuyDate.Format("2006-01-02"),
		BuyPrice:     p.BuyPrice,
		BuyQty:       p.BuyQty,
		Currency:     string(p.Currency),
		Open:         p.IsOpen(),
		CurrentPrice: p.CurrentPrice,
		HoldingValue: p.HoldingValue,
		ClosePrice:   p.ClosePrice,
		DateUpdated:  p.DateUpdated.UTC().Format(time.RFC3339),
	}
	if includeSeries {
		v.Series = p.Series
	}
	if p.CloseDate != nil {
		d := p.CloseDate.Format("2006-01-02")
		v.CloseDate = &d
	}
	return v
}

type createRequest struct {
	Symbol   string  `json:"symbol"`
	BuyDate  string  `json:"buy_date"`
	BuyPrice float64 `json:"buy_price"`
	BuyQty   int     `json:"buy_qty"`
	Currency string  `json:"currency"`
}

// HandleCreate opens a new position
// POST /positions
func (h *PositionHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", h.log)
		return
	}

	buyDate, err := time.Parse("2006-01-02", req.BuyDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "buy_date must be YYYY-MM-DD", h.log)
		return
	}

	cur, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), h.log)
		return
	}

	pos, err := h.ledger.Create(r.Context(), req.Symbol, buyDate, req.BuyPrice, req.BuyQty, cur)
	if err != nil {
		h.respondError(w, err, "Failed to create position")
		return
	}

	writeJSON(w, http.StatusCreated, toView(*pos, true), h.log)
}

// HandleList returns all positions, open first
// GET /positions
func (h *PositionHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	positions, err := h.repo.GetAll()
	if err != nil {
		h.respondError(w, err, "Failed to list positions")
		return
	}

	includeSeries := r.URL.Query().Get("series") == "true"
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, toView(p, includeSeries))
	}
	writeJSON(w, http.StatusOK, views, h.log)
}

// HandleDelete removes a position entirely
// DELETE /positions/{id}
func (h *PositionHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.Delete(id); err != nil {
		h.respondError(w, err, "Failed to delete position")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdate refreshes one position's series from the price source
// POST /positions/{id}/update
func (h *PositionHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ledger.Update(r.Context(), id); err != nil {
		h.respondError(w, err, "Failed to update position")
		return
	}
	h.respondPosition(w, id)
}

// HandleUpdateAll updates every open position
// POST /positions/update
func (h *PositionHandlers) HandleUpdateAll(w http.ResponseWriter, r *http.Request) {
	failures, err := h.ledger.UpdateAll(r.Context())
	if err != nil {
		h.respondError(w, err, "Failed to update positions")
		return
	}

	failed := make([]map[string]string, 0, len(failures))
	for _, f := range failures {
		failed = append(failed, map[string]string{
			"id":     f.ID,
			"symbol": f.Symbol,
			"error":  f.Err.Error(),
		})
	}

	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]interface{}{"failures": failed}, h.log)
}

type closeRequest struct {
	Price float64 `json:"price"`
	Date  string  `json:"date"` // optional, defaults to today
}

// HandleClose seals a position at a final price
// POST /positions/{id}/close
func (h *PositionHandlers) HandleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", h.log)
		return
	}

	closeDate := time.Now().UTC()
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", h.log)
			return
		}
		closeDate = d
	}

	if err := h.ledger.Close(r.Context(), id, req.Price, closeDate); err != nil {
		h.respondError(w, err, "Failed to close position")
		return
	}
	h.respondPosition(w, id)
}

// HandleReopen reverts a close and resumes live tracking
// POST /positions/{id}/reopen
func (h *PositionHandlers) HandleReopen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ledger.Reopen(r.Context(), id); err != nil {
		h.respondError(w, err, "Failed to reopen position")
		return
	}
	h.respondPosition(w, id)
}

// HandleRefresh discards a position's series and rebuilds it from scratch
// POST /positions/{id}/refresh
func (h *PositionHandlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ledger.Refresh(r.Context(), id); err != nil {
		h.respondError(w, err, "Failed to refresh position")
		return
	}
	h.respondPosition(w, id)
}

// HandleReport renders the valuation report over all positions
// GET /report
func (h *PositionHandlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	open, err := h.repo.ListOpen()
	if err != nil {
		h.respondError(w, err, "Failed to list open positions")
		return
	}
	closed, err := h.repo.ListClosed()
	if err != nil {
		h.respondError(w, err, "Failed to list closed positions")
		return
	}

	table, err := h.valuation.Render(r.Context(), open, closed)
	if err != nil {
		h.respondError(w, err, "Failed to render report")
		return
	}
	writeJSON(w, http.StatusOK, table, h.log)
}

// HandlePlot returns per-position P/L series shaped for charting
// GET /positions/plot
func (h *PositionHandlers) HandlePlot(w http.ResponseWriter, r *http.Request) {
	open, err := h.repo.ListOpen()
	if err != nil {
		h.respondError(w, err, "Failed to list open positions")
		return
	}
	writeJSON(w, http.StatusOK, h.valuation.PlotData(h.clampSeries(open)), h.log)
}

// HandleChart renders the open positions P/L chart as PNG
// GET /positions/chart.png
func (h *PositionHandlers) HandleChart(w http.ResponseWriter, r *http.Request) {
	open, err := h.repo.ListOpen()
	if err != nil {
		h.respondError(w, err, "Failed to list open positions")
		return
	}

	png, err := h.valuation.RenderChart(h.clampSeries(open))
	if err != nil {
		h.respondError(w, err, "Failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.log.Error().Err(err).Msg("Failed to write chart response")
	}
}

func (h *PositionHandlers) respondPosition(w http.ResponseWriter, id string) {
	pos, err := h.repo.GetByID(id)
	if err != nil {
		h.respondError(w, err, "Failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, toView(*pos, true), h.log)
}

// respondError maps domain errors to HTTP statuses
func (h *PositionHandlers) respondError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPositionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSymbolUnknown):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPositionClosed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, domain.ErrRateUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrInvariantViolation):
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	} else {
		h.log.Warn().Err(err).Msg(msg)
	}
	writeError(w, status, err.Error(), h.log)
}
