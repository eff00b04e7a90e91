package control

import (
	"context"
	"fmt"

	"ecrdeploy/internal/logging"

	"go.uber.org/zap"
)

// ResultHook inspects a finished command before the next one starts.
// Returning an error stops the batch.
type ResultHook func(cmd Command, result *Result) error

// RunAll executes commands one at a time in order. Each result is logged as
// soon as its command finishes. A transport error stops the batch and names
// the failing command; later commands are never attempted.
func RunAll(ctx context.Context, session Session, commands []Command, hook ResultHook) ([]*Result, error) {
	results := make([]*Result, 0, len(commands))

	for i, cmd := range commands {
		logging.Logger().Info("Executing remote command",
			zap.Int("step", i+1),
			zap.Int("total", len(commands)),
			zap.String("command", logging.Truncate(cmd.Label())),
			zap.String("host", session.Host()))

		result, err := session.Run(ctx, cmd)
		if err != nil {
			logging.Logger().Error("Remote command failed",
				zap.Int("step", i+1),
				zap.String("command", logging.Truncate(cmd.Label())),
				zap.Error(err))
			return results, fmt.Errorf("command %d/%d %q: %w", i+1, len(commands), cmd.Label(), err)
		}
		results = append(results, result)

		logging.Logger().Info("Command executed",
			zap.Int("step", i+1),
			zap.String("command", logging.Truncate(cmd.Label())),
			zap.String("host", session.Host()),
			zap.String("stdout", escapeNewlines(logging.Truncate(result.Stdout))),
			zap.String("stderr", escapeNewlines(logging.Truncate(result.Stderr))),
			zap.Int("exit_status", result.ExitStatus),
			zap.Bool("success", result.Success()))

		if hook != nil {
			if err := hook(cmd, result); err != nil {
				return results, fmt.Errorf("command %d/%d %q: %w", i+1, len(commands), cmd.Label(), err)
			}
		}
	}

	return results, nil
}
