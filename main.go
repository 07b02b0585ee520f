package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"food_detector/internal/config"
	"food_detector/internal/detector"
	"food_detector/internal/logging"
	"food_detector/internal/model"
	"food_detector/internal/upload"
	"food_detector/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg)
	logger.Info("Logger initialized")

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := run(cfg, logger, quit); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("Server stopped")
}

// run serves until quit fires or the listener fails. The model session is
// released before it returns.
func run(cfg *config.Config, logger *logrus.Logger, quit <-chan os.Signal) error {
	loader := model.NewLoader(model.ONNXOpener(model.ONNXConfig{
		ModelPath:      cfg.ModelPath,
		LabelsPath:     cfg.LabelsPath,
		SharedLibPath:  cfg.SharedLibPath,
		IntraOpThreads: cfg.IntraOpThreads,
	}), logger)
	defer func() {
		if err := loader.Close(); err != nil {
			logger.Errorf("Failed to release model session: %v", err)
		}
	}()

	// Load on startup. A failure is rendered on every page instead of
	// stopping the server.
	if _, err := loader.Get(); err != nil {
		logger.Errorf("Model unavailable, serving error page: %v", err)
	}

	det := detector.New(detector.Options{
		ConfThreshold: float32(cfg.ConfThreshold),
		IOUThreshold:  cfg.IOUThreshold,
		MaxDetections: cfg.MaxDetections,
	}, logger)
	dec := upload.NewDecoder(upload.Limits{
		MaxBytes:  cfg.MaxUploadBytes,
		MaxPixels: cfg.MaxImagePixels,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      web.NewServer(cfg, loader, det, dec, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Infof("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Forced shutdown: %v", err)
	}
	return nil
}
