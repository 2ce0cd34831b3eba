// Package currency converts native-currency amounts into the settlement
// currency (USD).
package currency

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/domain"
)

// Normalizer converts amounts using a RateSource. It holds no cache: every
// conversion fetches a fresh spot rate, and rate failures propagate as
// domain.ErrRateUnavailable.
type Normalizer struct {
	rates domain.RateSource
	log   zerolog.Logger
}

// NewNormalizer creates a new currency normalizer
func NewNormalizer(rates domain.RateSource, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		rates: rates,
		log:   log.With().Str("service", "currency").Logger(),
	}
}

// ToSettlement converts an amount in the given native currency to USD,
// rounded to 2 decimals. GBX amounts are pence: divided by 100 before the
// GBP rate applies.
func (n *Normalizer) ToSettlement(ctx context.Context, amount float64, cur domain.Currency) (float64, error) {
	switch cur {
	case domain.CurrencyUSD:
		return domain.Round2(amount), nil

	case domain.CurrencyGBX:
		rate, err := n.rates.Rate(ctx, domain.CurrencyGBP, domain.SettlementCurrency)
		if err != nil {
			return 0, fmt.Errorf("GBX conversion: %w", err)
		}
		return domain.Round2(amount / 100 * rate), nil

	case domain.CurrencyGBP:
		rate, err := n.rates.Rate(ctx, domain.CurrencyGBP, domain.SettlementCurrency)
		if err != nil {
			return 0, fmt.Errorf("GBP conversion: %w", err)
		}
		return domain.Round2(amount * rate), nil

	case domain.CurrencyAUD:
		rate, err := n.rates.Rate(ctx, domain.CurrencyAUD, domain.SettlementCurrency)
		if err != nil {
			return 0, fmt.Errorf("AUD conversion: %w", err)
		}
		return domain.Round2(amount * rate), nil

	default:
		return 0, fmt.Errorf("%w: unsupported currency %q", domain.ErrRateUnavailable, cur)
	}
}
