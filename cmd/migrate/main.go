// Command migrate applies the schema to the configured database and exits.
// The API server migrates on startup as well; this exists for operators who
// want to run the step separately (deploy hooks, fresh volumes).
package main

import (
	"os"

	"github.com/joho/godotenv"

	appconfig "github.com/ristrutturiamolo/callpilot/internal/config"
	"github.com/ristrutturiamolo/callpilot/internal/database"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.DatabasePath == "" {
		logger.Error("DATABASE_PATH is required")
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("migration failed", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	db.Close()
	logger.Info("migrations applied", "path", cfg.DatabasePath)
}
