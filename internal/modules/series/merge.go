// Package series implements the incremental merge of raw price fetches
// into a position's relative-P/L history.
package series

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
)

// Merge incorporates newly fetched price points into an existing series.
//
// The raw fetch may contain duplicate dates (the last occurrence wins) and
// dates already recorded (dropped - a date's value is fixed once written).
// Remaining points are converted to relative P/L against buyPrice and
// appended in ascending order. Neither input is mutated.
//
// Merge fails with domain.ErrInvariantViolation when the result would not
// be strictly increasing in date. That is a data-source contract breach,
// not a retryable condition.
func Merge(existing []domain.SeriesPoint, raw []domain.PricePoint, buyPrice float64) ([]domain.SeriesPoint, error) {
	if buyPrice <= 0 {
		return nil, fmt.Errorf("buy price must be positive, got %v", buyPrice)
	}

	// Duplicate dates in the raw fetch: keep the latest value.
	byDate := make(map[time.Time]float64, len(raw))
	for _, pt := range raw {
		byDate[domain.Day(pt.Date)] = pt.Close
	}

	seen := make(map[time.Time]struct{}, len(existing))
	for _, pt := range existing {
		seen[pt.Date] = struct{}{}
	}

	fresh := make([]domain.SeriesPoint, 0, len(byDate))
	for date, close := range byDate {
		if _, exists := seen[date]; exists {
			continue
		}
		fresh = append(fresh, domain.SeriesPoint{
			Date: date,
			PL:   domain.Round2(close/buyPrice - 1),
		})
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Date.Before(fresh[j].Date) })

	merged := make([]domain.SeriesPoint, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)

	if err := Verify(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

// Verify checks the strictly-increasing-dates invariant.
func Verify(pts []domain.SeriesPoint) error {
	for i := 1; i < len(pts); i++ {
		if !pts[i-1].Date.Before(pts[i].Date) {
			return fmt.Errorf("%w: dates not strictly increasing at index %d (%s >= %s)",
				domain.ErrInvariantViolation, i,
				pts[i-1].Date.Format("2006-01-02"),
				pts[i].Date.Format("2006-01-02"))
		}
	}
	return nil
}

// TruncateBefore returns the points whose dates fall strictly before cutoff.
// Used when closing a position: everything on or after the close date is
// replaced by the single closing transaction point.
func TruncateBefore(pts []domain.SeriesPoint, cutoff time.Time) []domain.SeriesPoint {
	cutoff = domain.Day(cutoff)
	out := make([]domain.SeriesPoint, 0, len(pts))
	for _, pt := range pts {
		if pt.Date.Before(cutoff) {
			out = append(out, pt)
		}
	}
	return out
}
