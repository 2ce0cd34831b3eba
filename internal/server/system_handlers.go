package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/scheduler"
)

// SystemHandlers serves host and process diagnostics plus operational
// triggers.
type SystemHandlers struct {
	db        *database.DB
	backupJob scheduler.Job
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(db *database.DB, backupJob scheduler.Job, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		db:        db,
		backupJob: backupJob,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handlers").Logger(),
	}
}

// HandleSystemStatus returns host resource usage and process stats
// GET /api/system
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.systemStats()

	status := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
	}

	if h.db != nil {
		if info, err := os.Stat(h.db.Path()); err == nil {
			status["database_size_bytes"] = info.Size()
		}
		if usage, err := disk.Usage(h.db.Path()); err == nil {
			status["disk_used_percent"] = usage.UsedPercent
		}
	}

	writeJSON(w, http.StatusOK, status, h.log)
}

// HandleBackup triggers an immediate database backup
// POST /api/system/backup
func (h *SystemHandlers) HandleBackup(w http.ResponseWriter, r *http.Request) {
	if h.backupJob == nil {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured", h.log)
		return
	}

	if err := h.backupJob.Run(); err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		writeError(w, http.StatusInternalServerError, err.Error(), h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "backup completed"}, h.log)
}

// systemStats samples CPU over 100ms to keep the endpoint responsive
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
