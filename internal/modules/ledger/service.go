// Package ledger owns Position entities and their lifecycle: create,
// incremental update, close, reopen and destructive refresh.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/modules/series"
)

// Normalizer converts native-currency amounts to the settlement currency.
type Normalizer interface {
	ToSettlement(ctx context.Context, amount float64, cur domain.Currency) (float64, error)
}

// Service orchestrates position updates: read, fetch, merge, write.
//
// Updates against the same position are serialized through a per-position
// mutex - two concurrent fetches appending to one series is the primary
// correctness hazard. Different positions update independently.
type Service struct {
	prices      domain.PriceSource
	normalizer  Normalizer
	repo        domain.PositionRepository
	concurrency int
	log         zerolog.Logger

	// now is swappable in tests
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new position ledger service. concurrency bounds the
// parallelism of UpdateAll.
func NewService(
	prices domain.PriceSource,
	normalizer Normalizer,
	repo domain.PositionRepository,
	concurrency int,
	log zerolog.Logger,
) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		prices:      prices,
		normalizer:  normalizer,
		repo:        repo,
		concurrency: concurrency,
		log:         log.With().Str("service", "ledger").Logger(),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing updates for one position.
func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create validates the symbol, persists a new position with an empty
// series and immediately attempts one update. A fetch failure on that
// first update is expected when the market has not yet closed for the buy
// date, so it is swallowed: the position stays valid with no derived data
// until the next cycle.
func (s *Service) Create(ctx context.Context, symbol string, buyDate time.Time, buyPrice float64, buyQty int, cur domain.Currency) (*domain.Position, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrValidation)
	}
	if buyPrice <= 0 {
		return nil, fmt.Errorf("%w: buy price must be positive, got %v", domain.ErrValidation, buyPrice)
	}
	if buyQty <= 0 {
		return nil, fmt.Errorf("%w: buy quantity must be positive, got %d", domain.ErrValidation, buyQty)
	}

	ok, err := s.prices.Confirm(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm symbol %s: %w", symbol, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolUnknown, symbol)
	}

	pos := domain.Position{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		BuyDate:     domain.Day(buyDate),
		BuyPrice:    buyPrice,
		BuyQty:      buyQty,
		Currency:    cur,
		Series:      []domain.SeriesPoint{},
		DateUpdated: s.now().UTC(),
	}

	if err := s.repo.Upsert(pos); err != nil {
		return nil, fmt.Errorf("failed to persist new position: %w", err)
	}

	lock := s.lockFor(pos.ID)
	lock.Lock()
	if err := s.update(ctx, &pos); err != nil {
		// Not fatal: the first window often has no data yet
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("Initial update deferred")
	}
	lock.Unlock()

	return s.repo.GetByID(pos.ID)
}

// Update fetches the missing tail of a position's series and merges it in.
// Closed positions are immutable and return ErrPositionClosed.
func (s *Service) Update(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !pos.IsOpen() {
		return fmt.Errorf("%w: %s", domain.ErrPositionClosed, id)
	}

	return s.update(ctx, pos)
}

// update is the read-fetch-merge-write unit. Caller holds the position lock.
func (s *Service) update(ctx context.Context, pos *domain.Position) error {
	dateFrom := domain.Day(pos.BuyDate)
	if last, ok := pos.LastSeriesDate(); ok {
		dateFrom = domain.NextDay(last)
	}

	today := domain.Day(s.now())
	if !dateFrom.Before(today) {
		// Nothing new can exist yet; skip the fetch entirely
		return nil
	}

	points, err := s.prices.FetchDailyCloses(ctx, pos.Symbol, dateFrom, today)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", pos.Symbol, err)
	}
	if len(points) == 0 {
		// Market holiday or empty window: a normal no-op
		return nil
	}

	merged, err := series.Merge(pos.Series, points, pos.BuyPrice)
	if err != nil {
		// Invariant violations are fatal for this position's update and
		// need an operator's attention, not a retry.
		s.log.Error().Err(err).Str("symbol", pos.Symbol).Str("id", pos.ID).
			Msg("Series merge violated invariant; aborting update")
		return err
	}

	current := points[len(points)-1].Close
	holding, err := s.normalizer.ToSettlement(ctx, current*float64(pos.BuyQty), pos.Currency)
	if err != nil {
		// Nothing persisted: the whole unit retries on the next cycle
		return fmt.Errorf("holding valuation for %s: %w", pos.Symbol, err)
	}

	pos.Series = merged
	pos.CurrentPrice = &current
	pos.HoldingValue = &holding
	pos.DateUpdated = s.now().UTC()

	if err := s.repo.Upsert(*pos); err != nil {
		return fmt.Errorf("failed to persist update for %s: %w", pos.Symbol, err)
	}

	s.log.Info().
		Str("symbol", pos.Symbol).
		Int("series_len", len(merged)).
		Float64("current", current).
		Msg("Position updated")
	return nil
}

// UpdateFailure records one position's failed update during UpdateAll.
type UpdateFailure struct {
	ID     string
	Symbol string
	Err    error
}

// UpdateAll updates every open position with bounded concurrency. One
// position's failure never aborts the rest; failures come back to the
// caller for logging or surfacing.
func (s *Service) UpdateAll(ctx context.Context) ([]UpdateFailure, error) {
	open, err := s.repo.ListOpen()
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	var failMu sync.Mutex
	var failures []UpdateFailure

	for _, pos := range open {
		pos := pos
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.Update(ctx, pos.ID); err != nil {
				s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Position update failed")
				failMu.Lock()
				failures = append(failures, UpdateFailure{ID: pos.ID, Symbol: pos.Symbol, Err: err})
				failMu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.log.Info().
		Int("positions", len(open)).
		Int("failed", len(failures)).
		Msg("Batch update complete")
	return failures, nil
}

// Close realizes a position: the series is truncated to dates strictly
// before the close date, the closing transaction becomes the final point,
// and the position becomes immutable to Update.
func (s *Service) Close(ctx context.Context, id string, closePrice float64, closeDate time.Time) error {
	if closePrice <= 0 {
		return fmt.Errorf("%w: close price must be positive, got %v", domain.ErrValidation, closePrice)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !pos.IsOpen() {
		return fmt.Errorf("%w: %s", domain.ErrPositionClosed, id)
	}

	day := domain.Day(closeDate)
	if day.Before(domain.Day(pos.BuyDate)) {
		return fmt.Errorf("%w: close date %s precedes buy date %s",
			domain.ErrValidation, day.Format("2006-01-02"), domain.Day(pos.BuyDate).Format("2006-01-02"))
	}

	kept := series.TruncateBefore(pos.Series, day)
	kept = append(kept, domain.SeriesPoint{
		Date: day,
		PL:   domain.Round2(closePrice/pos.BuyPrice - 1),
	})
	if err := series.Verify(kept); err != nil {
		return err
	}

	holding, err := s.normalizer.ToSettlement(ctx, closePrice*float64(pos.BuyQty), pos.Currency)
	if err != nil {
		return fmt.Errorf("close valuation for %s: %w", pos.Symbol, err)
	}

	pos.Series = kept
	pos.ClosePrice = &closePrice
	pos.CloseDate = &day
	pos.CurrentPrice = &closePrice
	pos.HoldingValue = &holding
	pos.DateUpdated = s.now().UTC()

	if err := s.repo.Upsert(*pos); err != nil {
		return fmt.Errorf("failed to persist close for %s: %w", pos.Symbol, err)
	}

	s.log.Info().
		Str("symbol", pos.Symbol).
		Float64("close_price", closePrice).
		Time("close_date", day).
		Msg("Position closed")
	return nil
}

// Reopen clears the close transaction and resumes live tracking with an
// immediate update.
func (s *Service) Reopen(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if pos.IsOpen() {
		return nil
	}

	// Drop the realized close point along with the lifecycle fields; the
	// next merge re-fetches that date from the source.
	if cd := pos.CloseDate; cd != nil {
		pos.Series = series.TruncateBefore(pos.Series, *cd)
	}
	pos.ClosePrice = nil
	pos.CloseDate = nil
	pos.DateUpdated = s.now().UTC()

	if err := s.repo.Upsert(*pos); err != nil {
		return fmt.Errorf("failed to persist reopen for %s: %w", pos.Symbol, err)
	}

	s.log.Info().Str("symbol", pos.Symbol).Msg("Position reopened")

	if err := s.update(ctx, pos); err != nil {
		s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Post-reopen update deferred")
	}
	return nil
}

// Refresh discards the series and derived fields and re-fetches the full
// history from the buy date. Recovery tool for suspected data corruption;
// never invoked automatically.
func (s *Service) Refresh(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !pos.IsOpen() {
		return fmt.Errorf("%w: %s", domain.ErrPositionClosed, id)
	}

	pos.Series = []domain.SeriesPoint{}
	pos.CurrentPrice = nil
	pos.HoldingValue = nil
	pos.DateUpdated = s.now().UTC()

	if err := s.repo.Upsert(*pos); err != nil {
		return fmt.Errorf("failed to persist refresh for %s: %w", pos.Symbol, err)
	}

	s.log.Warn().Str("symbol", pos.Symbol).Str("id", pos.ID).Msg("Series discarded for full re-fetch")

	return s.update(ctx, pos)
}

// IsNotFound reports whether err is a missing-position lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrPositionNotFound)
}
