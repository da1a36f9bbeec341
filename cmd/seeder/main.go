package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/mailroomhq/mailroom-backend/internal/config"
	"github.com/mailroomhq/mailroom-backend/internal/db"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}
	log := config.NewLogger(&cfg.App)

	database, err := db.NewPostgres(ctx, &cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()

	seedFiles := []string{
		"seed/schema.sql",
		"seed/dev_data.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.WithError(err).WithField("file", file).Fatal("failed to read seed file")
		}
		if _, err := database.ExecContext(ctx, string(content)); err != nil {
			log.WithError(err).WithField("file", file).Fatal("failed to execute seed file")
		}
		log.WithField("file", file).Info("applied seed file")
	}

	log.Info("seeding complete")
}
