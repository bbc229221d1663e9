package graceful

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Shutdown runs run until it returns or the process receives SIGINT or
// SIGTERM, then calls cleanup with a context bounded by timeout and waits for
// run to finish.
func Shutdown(logger logrus.FieldLogger, timeout time.Duration, run func() error, cleanup func(context.Context) error) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(run)

	select {
	case sig := <-interrupt:
		logger.WithField("signal", sig.String()).Info("received signal")
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	cleanupCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := cleanup(cleanupCtx); err != nil {
		logger.WithError(err).Warn("cleanup failed")
	}

	return g.Wait()
}
