package sweeprunner

import (
	"context"
	"log/slog"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/models/scanner"
)

const defaultRetryDelay = 5 * time.Minute

// Engine is the scan engine surface the runner drives.
type Engine interface {
	Run(ctx context.Context, req scanner.RunRequest) (scanner.RunResult, error)
}

type Deps struct {
	Engine     Engine
	Accounts   []base.Account
	Criteria   base.MatchCriteria
	Mode       base.Mode
	Interval   time.Duration
	RetryDelay time.Duration
	Log        *slog.Logger
	// Archive, when set, is invoked after each pass to ship the audit log
	// off-host.
	Archive func(ctx context.Context) error
}

// Run executes cleanup passes every Interval until ctx is canceled. A
// failed pass is retried after RetryDelay instead of waiting the full
// interval. The pass in flight when ctx is canceled finishes and is
// recorded before Run returns.
func Run(ctx context.Context, deps Deps) error {
	retryDelay := deps.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	deps.Log.Info("Starting scheduled cleanup",
		slog.Duration("interval", deps.Interval),
		slog.String("mode", string(deps.Mode)))

	for {
		wait := deps.Interval
		if err := runOnce(ctx, deps); err != nil {
			deps.Log.Error("Scheduled cleanup pass failed", slog.Any("error", err))
			wait = retryDelay
		}

		select {
		case <-ctx.Done():
			deps.Log.Info("Scheduled cleanup stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func runOnce(ctx context.Context, deps Deps) error {
	result, err := deps.Engine.Run(ctx, scanner.RunRequest{
		Accounts: deps.Accounts,
		Criteria: deps.Criteria,
		Mode:     deps.Mode,
	})
	if err != nil {
		return err
	}

	deps.Log.Info("Cleanup pass completed",
		slog.String("run_id", result.RunID),
		slog.Int("processed", result.TotalProcessed),
		slog.Int("candidates", result.TotalCandidates))

	if deps.Archive != nil {
		if err := deps.Archive(ctx); err != nil {
			deps.Log.Error("Audit archive failed", slog.Any("error", err))
		}
	}
	return nil
}
