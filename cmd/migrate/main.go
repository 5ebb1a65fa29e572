// Command migrate applies or rolls back the embedded schema migrations.
//
//	migrate [up|down]
package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/personal-ledger/internal/config"
	"github.com/ayo6706/personal-ledger/internal/db"
	"go.uber.org/zap"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	dbURL := config.LoadDatabaseURL()
	switch direction {
	case "up":
		err = db.Migrate(dbURL, logger)
	case "down":
		err = db.MigrateDown(dbURL, logger)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|down]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migration failed", zap.String("direction", direction), zap.Error(err))
		os.Exit(1)
	}
}
