// cmd/checker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/app"
	"github.com/unclebandit/cartrecovery/internal/config"
	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/logger"
	"github.com/unclebandit/cartrecovery/internal/service"
)

// BatchRunner runs one abandoned cart pass.
type BatchRunner interface {
	Run(ctx context.Context) (*service.BatchResult, error)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "checker",
		Short:         "Contact customers with abandoned carts that are due for a follow-up",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run a single batch and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runOnce(ctx, a.Checker, a.Log)
			})
		},
	})

	var interval time.Duration
	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "Run a batch every interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				every := interval
				if every <= 0 {
					every = a.Config.Checker.Interval
				}
				return runEvery(ctx, a.Checker, every, a.Log)
			})
		},
	}
	schedule.Flags().DurationVar(&interval, "interval", 0, "time between batches (default CHECKER_INTERVAL)")
	root.AddCommand(schedule)

	return root
}

func withApp(parent context.Context, fn func(context.Context, *app.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-checker")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// runOnce treats a batch held by another process as success.
func runOnce(ctx context.Context, r BatchRunner, log *zap.Logger) error {
	res, err := r.Run(ctx)
	if errors.Is(err, appErrors.ErrBatchInProgress) {
		log.Info("another checker is running, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("cart check finished",
		zap.Int("selected", res.Selected),
		zap.Int("processed", res.Processed),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))
	return nil
}

// runEvery runs immediately and then on each tick. Batch errors are logged and
// the loop continues.
func runEvery(ctx context.Context, r BatchRunner, every time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log.Info("checker scheduled", zap.Duration("interval", every))
	for {
		if err := runOnce(ctx, r, log); err != nil {
			log.Error("cart check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
