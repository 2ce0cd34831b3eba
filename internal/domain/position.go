// Package domain contains the core types shared across modules.
// It has no infrastructure dependencies.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Currency is the native currency a position was bought in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	// CurrencyGBX is GBP pence, as quoted on the LSE.
	CurrencyGBX Currency = "GBX"
	CurrencyAUD Currency = "AUD"
)

// SettlementCurrency is the single currency all valuations normalize into.
const SettlementCurrency = CurrencyUSD

// ParseCurrency validates and normalizes a currency code.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case CurrencyUSD:
		return CurrencyUSD, nil
	case CurrencyGBP:
		return CurrencyGBP, nil
	case CurrencyGBX:
		return CurrencyGBX, nil
	case CurrencyAUD:
		return CurrencyAUD, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", s)
	}
}

// SeriesPoint is one day of relative P/L since purchase.
// PL = close/buy_price - 1, rounded to 2 decimals.
type SeriesPoint struct {
	Date time.Time `msgpack:"date" json:"date"`
	PL   float64   `msgpack:"pl" json:"pl"`
}

// PricePoint is one day of raw closing price from a price source.
type PricePoint struct {
	Date  time.Time
	Close float64
}

// Position is one purchased lot of a stock, tracked from buy date to
// close (or indefinitely while open).
type Position struct {
	ID       string
	Symbol   string
	BuyDate  time.Time
	BuyPrice float64
	BuyQty   int
	Currency Currency

	// Series is an ordered, date-unique history of relative P/L.
	Series []SeriesPoint

	// CurrentPrice and HoldingValue are nil until the first successful fetch.
	CurrentPrice *float64
	HoldingValue *float64

	// ClosePrice and CloseDate are nil while the position is open.
	ClosePrice *float64
	CloseDate  *time.Time

	DateUpdated time.Time
}

// IsOpen reports whether the position is still being tracked live.
func (p *Position) IsOpen() bool {
	return p.CloseDate == nil
}

// LastSeriesDate returns the date of the newest series point.
func (p *Position) LastSeriesDate() (time.Time, bool) {
	if len(p.Series) == 0 {
		return time.Time{}, false
	}
	return p.Series[len(p.Series)-1].Date, true
}

// PriceAt reconstructs the closing price behind a series point.
// P/L values anchor on the buy price, so price = buy_price * (1 + pl).
func (p *Position) PriceAt(pt SeriesPoint) float64 {
	return p.BuyPrice * (1 + pt.PL)
}

// Day truncates a timestamp to midnight UTC. All series dates are stored
// this way so that date equality is exact.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDay returns the day after d at midnight UTC.
func NextDay(d time.Time) time.Time {
	return Day(d).AddDate(0, 0, 1)
}
