package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockwatch/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MockRepo is a mock position store for testing
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) GetByID(id string) (*domain.Position, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Position), args.Error(1)
}

func (m *MockRepo) GetAll() ([]domain.Position, error) {
	args := m.Called()
	return args.Get(0).([]domain.Position), args.Error(1)
}

func (m *MockRepo) ListOpen() ([]domain.Position, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Position), args.Error(1)
}

func (m *MockRepo) ListClosed() ([]domain.Position, error) {
	args := m.Called()
	return args.Get(0).([]domain.Position), args.Error(1)
}

func (m *MockRepo) Upsert(p domain.Position) error {
	return m.Called(p).Error(0)
}

func (m *MockRepo) Delete(id string) error {
	return m.Called(id).Error(0)
}

// MockNotifier records sent notifications
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, address, subject, body string) error {
	args := m.Called(ctx, address, subject, body)
	return args.Error(0)
}

// positionWithPrices builds an open position whose series reproduces the
// given closing prices against a buy price of 100.
func positionWithPrices(id, symbol string, closes []float64, current float64) domain.Position {
	const buyPrice = 100.0
	series := make([]domain.SeriesPoint, len(closes))
	for i, close := range closes {
		series[i] = domain.SeriesPoint{
			Date: day(2024, 3, 1).AddDate(0, 0, i),
			PL:   close/buyPrice - 1,
		}
	}
	return domain.Position{
		ID:           id,
		Symbol:       symbol,
		BuyDate:      day(2024, 3, 1),
		BuyPrice:     buyPrice,
		BuyQty:       10,
		Currency:     domain.CurrencyUSD,
		Series:       series,
		CurrentPrice: &current,
	}
}

func TestCheckFiresOnceAndStopsAtFirstBreach(t *testing.T) {
	// Window of ten declining prices; current 88 is a 12% drop from the
	// oldest point, well past the 2% threshold.
	pos := positionWithPrices("pos-1", "QCLN",
		[]float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91}, 88)

	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{pos}, nil)

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, "ops@example.com", mock.Anything, mock.Anything).Return(nil)

	checker := NewChecker(repo, notifier, 10, 2.0, "ops@example.com", zerolog.Nop())
	require.NoError(t, checker.Check(context.Background()))

	notifier.AssertNumberOfCalls(t, "Send", 1)

	// First breach is the oldest point: 10-day drop of 12%
	call := notifier.Calls[0]
	body := call.Arguments.String(3)
	assert.Contains(t, body, "QCLN fell by 12.00% in the last 10 days.")
}

func TestCheckNoAlertWithinThreshold(t *testing.T) {
	pos := positionWithPrices("pos-1", "EVX", []float64{100, 101, 102}, 101)

	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{pos}, nil)
	notifier := new(MockNotifier)

	checker := NewChecker(repo, notifier, 10, 2.0, "ops@example.com", zerolog.Nop())
	require.NoError(t, checker.Check(context.Background()))

	notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckUsesOnlyRecentWindow(t *testing.T) {
	// Old crash outside the window; the last 3 points are flat.
	pos := positionWithPrices("pos-1", "EVX", []float64{200, 100, 100, 100}, 100)

	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{pos}, nil)
	notifier := new(MockNotifier)

	checker := NewChecker(repo, notifier, 3, 2.0, "ops@example.com", zerolog.Nop())
	require.NoError(t, checker.Check(context.Background()))

	notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckNotifyFailureDoesNotAbortScan(t *testing.T) {
	crashed := func(id, symbol string) domain.Position {
		return positionWithPrices(id, symbol, []float64{100, 95}, 80)
	}

	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{
		crashed("pos-1", "AAA"),
		crashed("pos-2", "BBB"),
	}, nil)

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, mock.Anything, "AAA loss alert", mock.Anything).
		Return(domain.ErrNotifyFailure)
	notifier.On("Send", mock.Anything, mock.Anything, "BBB loss alert", mock.Anything).
		Return(nil)

	checker := NewChecker(repo, notifier, 10, 2.0, "ops@example.com", zerolog.Nop())
	require.NoError(t, checker.Check(context.Background()))

	notifier.AssertNumberOfCalls(t, "Send", 2)
}

func TestCheckSkipsPositionsWithoutPrice(t *testing.T) {
	fresh := domain.Position{
		ID: "fresh", Symbol: "NEW", BuyPrice: 100, BuyQty: 1,
		Currency: domain.CurrencyUSD,
	}

	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{fresh}, nil)
	notifier := new(MockNotifier)

	checker := NewChecker(repo, notifier, 10, 2.0, "ops@example.com", zerolog.Nop())
	require.NoError(t, checker.Check(context.Background()))

	notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckShortSeriesUsesWholeSeries(t *testing.T) {
	pos := positionWithPrices("pos-1", "EVX", []float64{100, 99}, 90)

	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{pos}, nil)

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	checker := NewChecker(repo, notifier, 10, 2.0, "ops@example.com", zerolog.Nop())
	require.NoError(t, checker.Check(context.Background()))

	notifier.AssertNumberOfCalls(t, "Send", 1)
	body := notifier.Calls[0].Arguments.String(3)
	assert.Contains(t, body, "in the last 2 days")
}
