// Package main is the entry point for the devportal server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tcmartin/devportal/pkg/api"
	"github.com/tcmartin/devportal/pkg/config"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/storage"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "devportal"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Application failed: %v", err)
		}
	case <-stop:
		app.logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// loadConfig reads the configuration and fills in generated secrets
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	// A generated secret invalidates issued tokens on every restart
	if cfg.Auth.JWTSecret == "" {
		secret, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		log.Println("Warning: no JWT secret configured, generated an ephemeral one")
	}
	return cfg, nil
}

func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// App holds the running components
type App struct {
	config  *config.Config
	logger  *logging.ZapLogger
	storage storage.StorageProvider
	server  *api.Server
	monitor interface{ Stop(context.Context) }
}

// Start runs the HTTP server until it stops
func (a *App) Start() error {
	a.logger.Info("starting devportal",
		logging.F("version", AppVersion),
		logging.F("addr", a.config.Server.Addr()),
		logging.F("storage", a.config.Storage.Type))
	return a.server.Start()
}

// Stop shuts the server down and releases resources
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if err := a.server.Stop(ctx); err != nil {
		firstErr = fmt.Errorf("failed to stop server: %w", err)
	}
	if a.monitor != nil {
		a.monitor.Stop(ctx)
	}
	if err := a.storage.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close storage: %w", err)
	}
	_ = a.logger.Sync()
	return firstErr
}
