package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockwatch/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMergeEmptyExisting(t *testing.T) {
	raw := []domain.PricePoint{
		{Date: day(2024, 3, 1), Close: 102},
		{Date: day(2024, 3, 2), Close: 98},
		{Date: day(2024, 3, 3), Close: 105},
	}

	merged, err := Merge(nil, raw, 100)
	require.NoError(t, err)
	require.Len(t, merged, 3)

	assert.Equal(t, 0.02, merged[0].PL)
	assert.Equal(t, -0.02, merged[1].PL)
	assert.Equal(t, 0.05, merged[2].PL)
}

func TestMergeDuplicateDatesInFetchKeepsLast(t *testing.T) {
	raw := []domain.PricePoint{
		{Date: day(2024, 3, 1), Close: 100},
		{Date: day(2024, 3, 1), Close: 110},
	}

	merged, err := Merge(nil, raw, 100)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 0.10, merged[0].PL)
}

func TestMergeDropsDatesAlreadyRecorded(t *testing.T) {
	existing := []domain.SeriesPoint{
		{Date: day(2024, 3, 1), PL: 0.02},
	}
	// Upstream re-serves March 1 with a different close; the recorded
	// value is fixed and must win.
	raw := []domain.PricePoint{
		{Date: day(2024, 3, 1), Close: 150},
		{Date: day(2024, 3, 2), Close: 98},
	}

	merged, err := Merge(existing, raw, 100)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, 0.02, merged[0].PL)
	assert.Equal(t, -0.02, merged[1].PL)
}

func TestMergeIdempotent(t *testing.T) {
	raw := []domain.PricePoint{
		{Date: day(2024, 3, 1), Close: 102},
		{Date: day(2024, 3, 2), Close: 98},
	}

	once, err := Merge(nil, raw, 100)
	require.NoError(t, err)

	twice, err := Merge(once, raw, 100)
	require.NoError(t, err)

	assert.Equal(t, once, twice, "feeding the same fetch twice must not change the series")
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	existing := []domain.SeriesPoint{
		{Date: day(2024, 3, 1), PL: 0.02},
	}
	orig := make([]domain.SeriesPoint, len(existing))
	copy(orig, existing)

	_, err := Merge(existing, []domain.PricePoint{{Date: day(2024, 3, 2), Close: 120}}, 100)
	require.NoError(t, err)
	assert.Equal(t, orig, existing)
}

func TestMergeAnchorsOnBuyPrice(t *testing.T) {
	// Later merges compute P/L from the original buy price, never from a
	// subsequent close.
	first, err := Merge(nil, []domain.PricePoint{{Date: day(2024, 3, 1), Close: 200}}, 100)
	require.NoError(t, err)
	require.Equal(t, 1.00, first[0].PL)

	second, err := Merge(first, []domain.PricePoint{{Date: day(2024, 3, 2), Close: 300}}, 100)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 2.00, second[1].PL)
}

func TestMergeRejectsOutOfOrderResult(t *testing.T) {
	// Existing series already covers March 5; a fetch that back-fills an
	// earlier date would break monotonicity.
	existing := []domain.SeriesPoint{
		{Date: day(2024, 3, 5), PL: 0.05},
	}
	raw := []domain.PricePoint{
		{Date: day(2024, 3, 2), Close: 98},
	}

	_, err := Merge(existing, raw, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestMergeEmptyFetchIsNoOp(t *testing.T) {
	existing := []domain.SeriesPoint{
		{Date: day(2024, 3, 1), PL: 0.02},
	}

	merged, err := Merge(existing, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, existing, merged)
}

func TestVerifyRejectsDuplicateDates(t *testing.T) {
	err := Verify([]domain.SeriesPoint{
		{Date: day(2024, 3, 1), PL: 0},
		{Date: day(2024, 3, 1), PL: 0.01},
	})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestTruncateBefore(t *testing.T) {
	pts := []domain.SeriesPoint{
		{Date: day(2024, 3, 1), PL: 0.01},
		{Date: day(2024, 3, 2), PL: 0.02},
		{Date: day(2024, 3, 3), PL: 0.03},
	}

	kept := TruncateBefore(pts, day(2024, 3, 2))
	require.Len(t, kept, 1)
	assert.Equal(t, day(2024, 3, 1), kept[0].Date)

	assert.Empty(t, TruncateBefore(pts, day(2024, 3, 1)))
	assert.Len(t, TruncateBefore(pts, day(2024, 3, 4)), 3)
}
