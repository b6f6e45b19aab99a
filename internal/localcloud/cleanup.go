package localcloud

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// revokedRetention keeps revoked sessions around briefly so a late
// rotation attempt still hits the INVALID_REFRESH_TOKEN path instead
// of looking like a malformed token.
const revokedRetention = 24 * time.Hour

// StartSessionCleanup schedules the periodic sweep of dead refresh
// sessions. The returned cron should be stopped on shutdown.
func StartSessionCleanup(db *gorm.DB, logger zerolog.Logger) *cron.Cron {
	c := cron.New()

	// Run hourly; also once at startup so restarts don't accumulate rows
	if _, err := c.AddFunc("@every 1h", func() {
		cleanupSessions(db, logger)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to schedule session cleanup")
		return c
	}

	cleanupSessions(db, logger)
	c.Start()

	return c
}

func cleanupSessions(db *gorm.DB, logger zerolog.Logger) {
	now := time.Now()
	cutoff := now.Add(-revokedRetention)

	result := db.Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL AND revoked_at < ?", cutoff).
		Delete(&RefreshSession{})
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("Failed to clean up refresh sessions")
		return
	}

	if result.RowsAffected > 0 {
		logger.Info().
			Int64("deleted", result.RowsAffected).
			Msg("Cleaned up dead refresh sessions")
	}
}
