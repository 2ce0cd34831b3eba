// Package valuation reduces positions into open/closed/grand report totals
// and plot-ready series. Everything here is derived and stateless:
// recomputed per request, never persisted.
package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/stockwatch/internal/domain"
)

// Normalizer converts native-currency amounts to the settlement currency.
type Normalizer interface {
	ToSettlement(ctx context.Context, amount float64, cur domain.Currency) (float64, error)
}

// Row is one position's valuation snapshot. All monetary values are in the
// settlement currency; formatting is the consumer's concern.
type Row struct {
	Label        string     `json:"label"` // symbol, disambiguated when repeated
	PositionID   string     `json:"position_id"`
	Symbol       string     `json:"symbol"`
	BuyPrice     float64    `json:"buy_price"` // native currency
	BuyQty       int        `json:"buy_qty"`
	RefPrice     float64    `json:"ref_price"` // current (open) or close (closed), native
	CloseDate    *time.Time `json:"close_date,omitempty"`
	OpeningValue float64    `json:"opening_value"`
	HoldingValue float64    `json:"holding_value"`
	PLValue      float64    `json:"pl_value"`
	PLPct        float64    `json:"pl_pct"`
	Sign         string     `json:"sign"` // "plus" or "minus"
}

// Totals aggregates one partition (or the whole portfolio).
type Totals struct {
	OpeningValue float64 `json:"opening_value"`
	HoldingValue float64 `json:"holding_value"`
	PLValue      float64 `json:"pl_value"`
	PLPct        float64 `json:"pl_pct"`
	Sign         string  `json:"sign"`
}

// ReportTable is the structured portfolio report. A partition with no
// positions contributes no totals row (nil pointer), which also guards the
// percentage division.
type ReportTable struct {
	Open        []Row   `json:"open"`
	Closed      []Row   `json:"closed"`
	OpenTotal   *Totals `json:"open_total,omitempty"`
	ClosedTotal *Totals `json:"closed_total,omitempty"`
	GrandTotal  *Totals `json:"grand_total,omitempty"`
}

// Service renders valuation reports
type Service struct {
	normalizer Normalizer
	log        zerolog.Logger
}

// NewService creates a new valuation service
func NewService(normalizer Normalizer, log zerolog.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		log:        log.With().Str("service", "valuation").Logger(),
	}
}

// Render builds the report table. Open positions are expected ordered by
// buy date and closed by close date (the repository's list order). Open
// positions that have never seen a price are listed with no P/L row
// contribution - there is nothing to value yet.
func (s *Service) Render(ctx context.Context, open, closed []domain.Position) (*ReportTable, error) {
	table := &ReportTable{Open: []Row{}, Closed: []Row{}}
	labels := make(map[string]struct{})

	var openOpening, openHolding, openPL []float64
	for _, p := range open {
		if p.CurrentPrice == nil {
			continue
		}
		row, err := s.buildRow(ctx, p, *p.CurrentPrice, labels)
		if err != nil {
			return nil, err
		}
		table.Open = append(table.Open, row)
		openOpening = append(openOpening, row.OpeningValue)
		openHolding = append(openHolding, row.HoldingValue)
		openPL = append(openPL, row.PLValue)
	}

	var closedOpening, closedHolding, closedPL []float64
	for _, p := range closed {
		if p.ClosePrice == nil {
			return nil, fmt.Errorf("closed position %s has no close price", p.ID)
		}
		row, err := s.buildRow(ctx, p, *p.ClosePrice, labels)
		if err != nil {
			return nil, err
		}
		row.CloseDate = p.CloseDate
		table.Closed = append(table.Closed, row)
		closedOpening = append(closedOpening, row.OpeningValue)
		closedHolding = append(closedHolding, row.HoldingValue)
		closedPL = append(closedPL, row.PLValue)
	}

	table.OpenTotal = buildTotals(openOpening, openHolding, openPL)
	table.ClosedTotal = buildTotals(closedOpening, closedHolding, closedPL)
	table.GrandTotal = buildTotals(
		append(openOpening, closedOpening...),
		append(openHolding, closedHolding...),
		append(openPL, closedPL...),
	)

	return table, nil
}

func (s *Service) buildRow(ctx context.Context, p domain.Position, refPrice float64, labels map[string]struct{}) (Row, error) {
	plFraction := (refPrice - p.BuyPrice) / p.BuyPrice

	openingValue, err := s.normalizer.ToSettlement(ctx, float64(p.BuyQty)*p.BuyPrice, p.Currency)
	if err != nil {
		return Row{}, fmt.Errorf("opening value for %s: %w", p.Symbol, err)
	}

	holdingValue := 0.0
	if p.HoldingValue != nil {
		holdingValue = *p.HoldingValue
	}

	plValue := domain.Round2(openingValue * plFraction)
	plPct := 100 * plFraction

	return Row{
		Label:        uniqueLabel(p.Symbol, labels),
		PositionID:   p.ID,
		Symbol:       p.Symbol,
		BuyPrice:     p.BuyPrice,
		BuyQty:       p.BuyQty,
		RefPrice:     refPrice,
		OpeningValue: openingValue,
		HoldingValue: holdingValue,
		PLValue:      plValue,
		PLPct:        plPct,
		Sign:         sign(plPct),
	}, nil
}

// buildTotals returns nil for an empty partition, which doubles as the
// division-by-zero guard for the aggregate percentage.
func buildTotals(opening, holding, pl []float64) *Totals {
	if len(opening) == 0 {
		return nil
	}

	openingSum := floats.Sum(opening)
	plSum := floats.Sum(pl)
	pct := 0.0
	if openingSum != 0 {
		pct = 100 * plSum / openingSum
	}

	return &Totals{
		OpeningValue: domain.Round2(openingSum),
		HoldingValue: domain.Round2(floats.Sum(holding)),
		PLValue:      domain.Round2(plSum),
		PLPct:        pct,
		Sign:         sign(plSum),
	}
}

func sign(v float64) string {
	if v > 0 {
		return "plus"
	}
	return "minus"
}

// uniqueLabel disambiguates repeated symbols by appending an incrementing
// suffix in display order: EVX, EVX_2, EVX_3, ...
func uniqueLabel(symbol string, used map[string]struct{}) string {
	label := symbol
	for i := 2; ; i++ {
		if _, taken := used[label]; !taken {
			break
		}
		label = fmt.Sprintf("%s_%d", symbol, i)
	}
	used[label] = struct{}{}
	return label
}
