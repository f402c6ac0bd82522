package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/adapters/httpapi"
	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/di"
	"github.com/ztmail/zerotrust/internal/ports"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	service *core.ZeroTrustService,
	ingress ports.Ingress,
	resolver *httpapi.Server,
	predictor core.ThreatPredictor,
	store core.TrackingStore,
) error {
	defer logger.Sync()

	service.Start(context.Background())

	// Start the SMTP ingress
	if err := ingress.Start(); err != nil {
		logger.Fatal("Failed to start SMTP ingress", zap.Error(err))
		return err
	}

	// Start the HTTP resolver
	if err := resolver.Start(); err != nil {
		logger.Fatal("Failed to start HTTP resolver", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	if err := resolver.Stop(); err != nil {
		logger.Error("Failed to stop HTTP resolver", zap.Error(err))
	}
	if err := ingress.Stop(); err != nil {
		logger.Error("Failed to stop SMTP ingress", zap.Error(err))
	}

	service.Stop()

	// Close any resources that need closing
	if closer, ok := predictor.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close predictor", zap.Error(err))
		}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close tracking store", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
