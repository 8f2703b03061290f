package utils

import (
	"log"
	"time"

	"loanflow/config"
	"loanflow/database"
	"loanflow/models"

	"github.com/robfig/cron/v3"
)

// InitializeSessionSweeper sets up the idle-session cleanup scheduler.
// Staged PAN images are transient biometric material and must not linger
// in abandoned sessions.
func InitializeSessionSweeper() {
	log.Println("[SESSION-SWEEPER] Initializing session sweeper...")

	c := cron.New()

	// Run every 10 minutes
	c.AddFunc("*/10 * * * *", func() {
		PurgeStaleSessionImages()
	})

	c.Start()
	log.Println("[SESSION-SWEEPER] Session sweeper started - runs every 10 minutes")
}

// PurgeStaleSessionImages clears staged PAN card bytes from sessions idle
// past the configured TTL. Conversation history is kept.
func PurgeStaleSessionImages() {
	db := database.Database.Db
	cutoff := time.Now().Add(-time.Duration(config.AppConfig.SessionTTLMinutes) * time.Minute)

	result := db.Model(&models.ChatSession{}).
		Where("temp_pan_image IS NOT NULL AND updated_at < ?", cutoff).
		Updates(map[string]interface{}{
			"temp_pan_image":      nil,
			"temp_pan_image_mime": "",
		})
	if result.Error != nil {
		log.Printf("[SESSION-SWEEPER] Error purging stale sessions: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("[SESSION-SWEEPER] Purged staged images from %d idle sessions", result.RowsAffected)
	}
}
