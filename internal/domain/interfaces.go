package domain

import (
	"context"
	"time"
)

// PriceSource supplies daily closing prices for a symbol.
// Implementations must return points in ascending date order with no
// duplicate dates, and must honor context cancellation.
type PriceSource interface {
	// FetchDailyCloses returns daily closes in [from, to], inclusive.
	// An empty slice is a normal result (market holiday, weekend window).
	FetchDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]PricePoint, error)

	// Confirm reports whether the provider knows the symbol.
	Confirm(ctx context.Context, symbol string) (bool, error)
}

// RateSource supplies spot FX rates.
type RateSource interface {
	// Rate returns the from->to spot rate. Fails with ErrRateUnavailable.
	Rate(ctx context.Context, from, to Currency) (float64, error)
}

// Notifier delivers alert messages.
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) error
}

// PositionRepository persists positions. Writes are atomic per record.
type PositionRepository interface {
	GetByID(id string) (*Position, error)
	GetAll() ([]Position, error)
	ListOpen() ([]Position, error)
	ListClosed() ([]Position, error)
	Upsert(Position) error
	Delete(id string) error
}
