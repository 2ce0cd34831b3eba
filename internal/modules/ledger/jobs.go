package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// UpdateAllJob is the scheduled daily market-data fetch.
type UpdateAllJob struct {
	service *Service
	timeout time.Duration
	log     zerolog.Logger
}

// NewUpdateAllJob creates the scheduled batch update job. The timeout
// bounds the whole batch so a stuck upstream call cannot starve later
// scheduler ticks.
func NewUpdateAllJob(service *Service, timeout time.Duration, log zerolog.Logger) *UpdateAllJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &UpdateAllJob{
		service: service,
		timeout: timeout,
		log:     log.With().Str("job", "positions_update_all").Logger(),
	}
}

// Name identifies the job in scheduler logs
func (j *UpdateAllJob) Name() string {
	return "positions_update_all"
}

// Run executes one batch update
func (j *UpdateAllJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	failures, err := j.service.UpdateAll(ctx)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		// Partial failure is not fatal for the batch, but surface it
		return fmt.Errorf("%d of batch failed to update (first: %s: %v)",
			len(failures), failures[0].Symbol, failures[0].Err)
	}
	return nil
}
