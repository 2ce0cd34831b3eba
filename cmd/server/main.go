// Package main is the entry point for the stockwatch position ledger.
// It tracks purchased stock positions, keeps their P/L series current from
// the price source, renders valuation reports, and raises loss alerts.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/stockwatch/internal/clients/exchangerate"
	"github.com/aristath/stockwatch/internal/clients/mailer"
	"github.com/aristath/stockwatch/internal/clients/yahoo"
	"github.com/aristath/stockwatch/internal/config"
	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/modules/alerts"
	"github.com/aristath/stockwatch/internal/modules/currency"
	"github.com/aristath/stockwatch/internal/modules/ledger"
	"github.com/aristath/stockwatch/internal/modules/valuation"
	"github.com/aristath/stockwatch/internal/reliability"
	"github.com/aristath/stockwatch/internal/scheduler"
	"github.com/aristath/stockwatch/internal/server"
	"github.com/aristath/stockwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting stockwatch")

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "portfolio.db"),
		Profile: database.ProfileLedger,
		Name:    "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate portfolio database")
	}

	// Clients
	prices := yahoo.NewClient(log)
	rates := exchangerate.NewClient(log)

	// Services
	normalizer := currency.NewNormalizer(rates, log)
	repo := ledger.NewPositionRepository(db.Conn(), log)
	ledgerService := ledger.NewService(prices, normalizer, repo, cfg.UpdateConcurrency, log)
	valuationService := valuation.NewService(normalizer, log)

	// Background jobs
	sched := scheduler.New(log)

	updateJob := ledger.NewUpdateAllJob(ledgerService, 10*time.Minute, log)
	if err := sched.AddJob(cfg.UpdateSchedule, updateJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register update job")
	}

	if cfg.AlertRecipient != "" {
		notifier := mailer.NewClient(cfg.SMTPAddr, cfg.MailFrom, log)
		checker := alerts.NewChecker(
			repo, notifier,
			cfg.AlertWindowDays, cfg.AlertLossPct, cfg.AlertRecipient,
			log,
		)
		if err := sched.AddJob(cfg.AlertSchedule, checker); err != nil {
			log.Fatal().Err(err).Msg("Failed to register alert job")
		}
	} else {
		log.Warn().Msg("ALERT_RECIPIENT not set, loss alerts disabled")
	}

	maintenance := reliability.NewMaintenanceJob(db, log)
	if err := sched.AddJob("0 30 1 * * *", maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}

	var backupJob scheduler.Job
	if cfg.Backup.Bucket != "" {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}

		backupService := reliability.NewBackupService(db, s3Client, cfg.DataDir, cfg.Backup.RetentionDays, log)
		job := reliability.NewBackupJob(backupService, log)
		if err := sched.AddJob(cfg.Backup.Schedule, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
		backupJob = job
	} else {
		log.Info().Msg("BACKUP_S3_BUCKET not set, backups disabled")
	}

	sched.Start()
	defer sched.Stop()

	var plotStart *time.Time
	if cfg.HasPortfolioStart {
		plotStart = &cfg.PortfolioStart
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DB:        db,
		Repo:      repo,
		Ledger:    ledgerService,
		Valuation: valuationService,
		PlotStart: plotStart,
		BackupJob: backupJob,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Block until SIGINT or SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
