package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eicompanion/ei/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ei as a long-lived process",
	Long: `Run starts the engine and keeps it alive: the queue processor ticks,
the Daily Ceremony and heartbeat timers fire, and persona responses are
appended to each persona's message log as they complete.

Send SIGINT or SIGTERM to shut down gracefully.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := GetProfileDir()
	if err != nil {
		return err
	}

	logging.Info().Str("profile", dir).Msg("ei: starting")

	ctx := context.Background()
	eng, _, err := buildEngine(ctx, dir, "daemon")
	if err != nil {
		return err
	}

	eng.Start(ctx)
	logging.Info().Msg("ei: engine running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("ei: shutting down")

	done := make(chan error, 1)
	go func() { done <- eng.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			logging.Error().Err(err).Msg("ei: error during shutdown")
			return err
		}
	case <-time.After(30 * time.Second):
		logging.Error().Msg("ei: shutdown timed out")
	}

	logging.Info().Msg("ei: stopped")
	return nil
}
