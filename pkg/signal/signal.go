package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then runs
// shutdownFunc and waits at most timeout for it.
func WaitForShutdown(ctx context.Context, logger *zap.Logger, timeout time.Duration, shutdownFunc func(context.Context) error) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("service is running, waiting for shutdown signal")
	<-sigCtx.Done()
	logger.Info("shutdown requested", zap.NamedError("cause", context.Cause(sigCtx)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- shutdownFunc(shutdownCtx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		logger.Info("graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		logger.Error("graceful shutdown timed out", zap.Duration("timeout", timeout))
		return shutdownCtx.Err()
	}
}
