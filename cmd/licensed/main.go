package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"gbtlicense/internal/app"
)

func main() {
	// Load .env if present; real environments set variables directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env file")
	}

	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
