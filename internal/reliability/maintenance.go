package reliability

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/database"
)

// MaintenanceJob performs nightly database upkeep: an integrity check
// followed by a WAL checkpoint so the log file never grows unbounded.
type MaintenanceJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job
func NewMaintenanceJob(db *database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:  db,
		log: log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name identifies the job in scheduler logs
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes one maintenance pass
func (j *MaintenanceJob) Run() error {
	start := time.Now()

	var result string
	if err := j.db.Conn().QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported corruption: %s", result)
	}

	var busy, checkpointed, total int
	if err := j.db.Conn().QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &checkpointed, &total); err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	if busy != 0 {
		j.log.Warn().Msg("WAL checkpoint could not complete, writers active")
	}

	j.log.Info().
		Int("pages_checkpointed", checkpointed).
		Dur("duration", time.Since(start)).
		Msg("Maintenance completed")

	return nil
}
