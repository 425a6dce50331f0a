package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const interruptedRunMessage = "run interrupted: server restarted before the run finished"

type interruptedRunFailer interface {
	FailInterruptedRuns(ctx context.Context, message string, at time.Time) (int64, error)
}

// restoreInterruptedRuns fails runs left queued or running by a previous
// process. Background runs live in memory and do not survive a restart, so
// this must run before the orchestrator accepts work.
func restoreInterruptedRuns(ctx context.Context, runs interruptedRunFailer, logger *slog.Logger) error {
	n, err := runs.FailInterruptedRuns(ctx, interruptedRunMessage, time.Now())
	if err != nil {
		return fmt.Errorf("fail interrupted runs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked interrupted runs as failed", "count", n)
	}
	return nil
}
