package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// startScheduler registers the background jobs: library scans, smart playlist refreshes and mail digests.
func startScheduler(cfg *Config) error {
	scheduler = cron.New()

	if cfg.Library.ScanEnabled && cfg.Library.ScanSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Library.ScanSchedule, scheduledScan); err != nil {
			return err
		}
		logger.WithField("schedule", cfg.Library.ScanSchedule).Info("Scheduled library scan enabled")
	} else {
		logger.Info("Scheduled library scan is disabled")
	}

	if cfg.SmartPlaylists.RefreshSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.SmartPlaylists.RefreshSchedule, func() {
			n, err := refreshAllSmartPlaylists(context.Background())
			if err != nil {
				logger.WithError(err).Error("Smart playlist refresh failed")
				return
			}
			logger.WithField("refreshed", n).Info("Smart playlists refreshed")
		}); err != nil {
			return err
		}
	}

	if cfg.Mail.DigestSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Mail.DigestSchedule, func() {
			sent, failed, err := processDueEmails(context.Background(), time.Now())
			if err != nil {
				logger.WithError(err).Error("Scheduled email run failed")
				return
			}
			if sent+failed > 0 {
				logger.WithFields(logrus.Fields{"sent": sent, "failed": failed}).Info("Scheduled emails processed")
			}
		}); err != nil {
			return err
		}
	}

	scheduler.Start()
	return nil
}

func scheduledScan() {
	if err := beginScan(); err != nil {
		logger.WithError(err).Info("Scheduled scan skipped")
		return
	}
	logger.Info("Cron job triggered: scanning all libraries")
	runScan(context.Background(), 0)
}
