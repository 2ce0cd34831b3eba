// Package alerts implements the scheduled drawdown check over each open
// position's recent series window.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/domain"
)

// Checker scans open positions for recent losses above a threshold. It
// implements the scheduler Job interface; the cron entry decides when it
// ticks.
type Checker struct {
	repo         domain.PositionRepository
	notifier     domain.Notifier
	window       int     // number of recent series points inspected
	thresholdPct float64 // alert when the drop exceeds this percentage
	recipient    string
	timeout      time.Duration
	log          zerolog.Logger
}

// NewChecker creates the drawdown checker job
func NewChecker(
	repo domain.PositionRepository,
	notifier domain.Notifier,
	window int,
	thresholdPct float64,
	recipient string,
	log zerolog.Logger,
) *Checker {
	if window < 1 {
		window = 10
	}
	return &Checker{
		repo:         repo,
		notifier:     notifier,
		window:       window,
		thresholdPct: thresholdPct,
		recipient:    recipient,
		timeout:      2 * time.Minute,
		log:          log.With().Str("job", "loss_alerts").Logger(),
	}
}

// Name identifies the job in scheduler logs
func (c *Checker) Name() string {
	return "loss_alerts"
}

// Run executes one tick. The timeout keeps a stuck mail relay or database
// from blocking the scheduler's next tick.
func (c *Checker) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Check(ctx)
}

// Check scans every open position once. At most one notification fires
// per position per tick; notification failures are logged and never abort
// the scan of remaining positions.
func (c *Checker) Check(ctx context.Context) error {
	open, err := c.repo.ListOpen()
	if err != nil {
		return fmt.Errorf("failed to list open positions: %w", err)
	}

	checked, alerted := 0, 0
	for _, p := range open {
		if p.CurrentPrice == nil || len(p.Series) == 0 {
			continue
		}
		checked++
		if c.checkPosition(ctx, p) {
			alerted++
		}
	}

	c.log.Info().
		Int("checked", checked).
		Int("alerted", alerted).
		Msg("Drawdown scan complete")
	return nil
}

// checkPosition scans one position's recent window oldest-first and
// reports whether an alert fired.
func (c *Checker) checkPosition(ctx context.Context, p domain.Position) bool {
	window := p.Series
	if len(window) > c.window {
		window = window[len(window)-c.window:]
	}

	current := *p.CurrentPrice
	for i, pt := range window {
		price := p.PriceAt(pt)
		if price <= 0 {
			continue
		}

		drawdown := current/price - 1
		if drawdown >= -c.thresholdPct/100 {
			continue
		}

		days := len(window) - i
		body := fmt.Sprintf("%s fell by %.2f%% in the last %d days.",
			p.Symbol, -drawdown*100, days)
		subject := fmt.Sprintf("%s loss alert", p.Symbol)

		if err := c.notifier.Send(ctx, c.recipient, subject, body); err != nil {
			c.log.Error().Err(err).
				Str("symbol", p.Symbol).
				Str("recipient", c.recipient).
				Msg("Failed to send loss alert")
		} else {
			c.log.Warn().
				Str("symbol", p.Symbol).
				Float64("drawdown_pct", drawdown*100).
				Int("days", days).
				Msg("Loss alert sent")
		}
		// One alert per position per tick
		return true
	}

	return false
}
