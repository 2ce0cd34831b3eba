package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/modules/ledger"
	"github.com/aristath/stockwatch/internal/modules/valuation"
)

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
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
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
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Position), args.Error(1)
}

func (m *MockRepo) Upsert(p domain.Position) error {
	return m.Called(p).Error(0)
}

func (m *MockRepo) Delete(id string) error {
	return m.Called(id).Error(0)
}

type MockPriceSource struct {
	mock.Mock
}

func (m *MockPriceSource) FetchDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	args := m.Called(ctx, symbol, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PricePoint), args.Error(1)
}

func (m *MockPriceSource) Confirm(ctx context.Context, symbol string) (bool, error) {
	args := m.Called(ctx, symbol)
	return args.Bool(0), args.Error(1)
}

type identityNormalizer struct{}

func (identityNormalizer) ToSettlement(_ context.Context, amount float64, _ domain.Currency) (float64, error) {
	return domain.Round2(amount), nil
}

func newTestServer(repo domain.PositionRepository, prices domain.PriceSource) *Server {
	log := zerolog.Nop()
	return New(Config{
		Log:       log,
		Port:      0,
		DevMode:   true,
		Repo:      repo,
		Ledger:    ledger.NewService(prices, identityNormalizer{}, repo, 2, log),
		Valuation: valuation.NewService(identityNormalizer{}, log),
	})
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(new(MockRepo), new(MockPriceSource))

	rec := doRequest(t, s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestListPositions(t *testing.T) {
	price := 105.0
	repo := new(MockRepo)
	repo.On("GetAll").Return([]domain.Position{
		{
			ID:           "pos-1",
			Symbol:       "EVX",
			BuyDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			BuyPrice:     100,
			BuyQty:       10,
			Currency:     domain.CurrencyUSD,
			CurrentPrice: &price,
		},
	}, nil)

	s := newTestServer(repo, new(MockPriceSource))
	rec := doRequest(t, s, http.MethodGet, "/positions/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"EVX"`)
	assert.Contains(t, rec.Body.String(), `"buy_date":"2024-03-01"`)
	assert.Contains(t, rec.Body.String(), `"open":true`)
}

func TestCreatePositionValidation(t *testing.T) {
	s := newTestServer(new(MockRepo), new(MockPriceSource))

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/positions/", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad date", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/positions/",
			`{"symbol":"EVX","buy_date":"01/03/2024","buy_price":100,"buy_qty":10,"currency":"USD"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad currency", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/positions/",
			`{"symbol":"EVX","buy_date":"2024-03-01","buy_price":100,"buy_qty":10,"currency":"XYZ"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-positive price", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/positions/",
			`{"symbol":"EVX","buy_date":"2024-03-01","buy_price":0,"buy_qty":10,"currency":"USD"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreatePositionUnknownSymbol(t *testing.T) {
	prices := new(MockPriceSource)
	prices.On("Confirm", mock.Anything, "NOPE").Return(false, nil)

	s := newTestServer(new(MockRepo), prices)
	rec := doRequest(t, s, http.MethodPost, "/positions/",
		`{"symbol":"NOPE","buy_date":"2024-03-01","buy_price":100,"buy_qty":10,"currency":"USD"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteUnknownPosition(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Delete", "missing").Return(domain.ErrPositionNotFound)

	s := newTestServer(repo, new(MockPriceSource))
	rec := doRequest(t, s, http.MethodDelete, "/positions/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseOnClosedPositionConflicts(t *testing.T) {
	price := 110.0
	closed := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	pos := domain.Position{
		ID:         "pos-1",
		Symbol:     "EVX",
		BuyDate:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		BuyPrice:   100,
		BuyQty:     10,
		Currency:   domain.CurrencyUSD,
		ClosePrice: &price,
		CloseDate:  &closed,
	}

	repo := new(MockRepo)
	repo.On("GetByID", "pos-1").Return(&pos, nil)

	s := newTestServer(repo, new(MockPriceSource))
	rec := doRequest(t, s, http.MethodPost, "/positions/pos-1/close",
		`{"price":120,"date":"2024-03-05"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReportEndpoint(t *testing.T) {
	price := 105.0
	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{
		{
			ID:           "pos-1",
			Symbol:       "EVX",
			BuyDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			BuyPrice:     100,
			BuyQty:       10,
			Currency:     domain.CurrencyUSD,
			CurrentPrice: &price,
		},
	}, nil)
	repo.On("ListClosed").Return([]domain.Position{}, nil)

	s := newTestServer(repo, new(MockPriceSource))
	rec := doRequest(t, s, http.MethodGet, "/report", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"grand_total"`)
	assert.Contains(t, rec.Body.String(), `"EVX"`)
}

func TestPlotClampsToPortfolioStart(t *testing.T) {
	price := 105.0
	repo := new(MockRepo)
	repo.On("ListOpen").Return([]domain.Position{
		{
			ID:       "pos-1",
			Symbol:   "EVX",
			BuyDate:  time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC),
			BuyPrice: 100,
			BuyQty:   10,
			Currency: domain.CurrencyUSD,
			Series: []domain.SeriesPoint{
				{Date: time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), PL: 0.01},
				{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), PL: 0.02},
				{Date: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), PL: 0.05},
			},
			CurrentPrice: &price,
		},
	}, nil)

	log := zerolog.Nop()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := New(Config{
		Log:       log,
		DevMode:   true,
		Repo:      repo,
		Ledger:    ledger.NewService(new(MockPriceSource), identityNormalizer{}, repo, 2, log),
		Valuation: valuation.NewService(identityNormalizer{}, log),
		PlotStart: &start,
	})

	rec := doRequest(t, s, http.MethodGet, "/positions/plot", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "2024-02-28")
	assert.Contains(t, rec.Body.String(), "2024-03-01")
	assert.Contains(t, rec.Body.String(), "2024-03-04")
}

func TestBackupUnconfigured(t *testing.T) {
	s := newTestServer(new(MockRepo), new(MockPriceSource))

	rec := doRequest(t, s, http.MethodPost, "/api/system/backup", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
