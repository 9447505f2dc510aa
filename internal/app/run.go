package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/config"
)

// Version is reported at startup.
var Version = "dev"

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logging
	if err := logging.InitGlobalLogger(); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting x-auto-post",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
	)

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize application
	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Close()

	srv := app.NewServer()
	logging.Info("Server listening", logging.String("addr", srv.Addr()))

	if err := srv.Run(ctx); err != nil {
		logging.Error("Server failed", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
