package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Run starts the metrics server and the background loops, then blocks
// until a shutdown signal is received.
func (a *App) Run(ctx context.Context) error {
	if err := a.metricsServer.Start(ctx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.statsLoop(ctx)
	go a.deleteLoop(ctx)
	go a.cacheLoop(ctx)

	logrus.Info("application started successfully")

	<-ctx.Done()
	logrus.Info("shutdown signal received")

	// the signal context is already canceled; give shutdown its own
	// deadline so in-flight work can finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// statsLoop drives timed flushes of buffered usage events.
func (a *App) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.components.Stats.MaybeFlush(ctx); err != nil {
				logrus.Errorf("stats flush failed: %v", err)
			}
		}
	}
}

// deleteLoop sweeps the deferred deletion queue.
func (a *App) deleteLoop(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.components.Deletes.Sweep(ctx)
		}
	}
}

// cacheLoop drops expired cache entries.
func (a *App) cacheLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cacheInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.components.Cache.ClearExpired()
		}
	}
}

// Shutdown stops the servers, flushes pending stats as a best effort and
// closes the store. Errors are logged but do not halt the sequence.
func (a *App) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down application...")

	if err := a.metricsServer.Shutdown(ctx); err != nil {
		logrus.Errorf("metrics server shutdown error: %v", err)
	}

	if err := a.components.Stats.Flush(ctx); err != nil {
		logrus.Errorf("final stats flush failed, %d events lost on exit: %v",
			a.components.Stats.Pending(), err)
	}

	if err := a.store.Close(); err != nil {
		logrus.Errorf("store close error: %v", err)
	}

	logrus.Info("application shutdown complete")
	return nil
}
