// Package liquidation invokes the external sell executor.
package liquidation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"solana-volume-guard/internal/domain"
)

// ErrNoCommand is returned when the liquidator has no executable configured.
var ErrNoCommand = errors.New("liquidation command not configured")

// CommandLiquidator runs an executable once per liquidation:
//
//	<command> [args...] --mint <mint> --urgency <urgency>
//
// The process exit code is the completion code.
type CommandLiquidator struct {
	command string
	args    []string
	logger  *zap.Logger
}

// NewCommandLiquidator parses a command line such as "node sell.js --slippage 50".
func NewCommandLiquidator(commandLine string, logger *zap.Logger) (*CommandLiquidator, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, ErrNoCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandLiquidator{
		command: fields[0],
		args:    fields[1:],
		logger:  logger.Named("liquidator"),
	}, nil
}

// Liquidate runs the command and returns its exit code.
// A process that could not be started returns code -1 and an error.
func (l *CommandLiquidator) Liquidate(ctx context.Context, mint string, urgency domain.Urgency) (int, error) {
	args := append(append([]string{}, l.args...), "--mint", mint, "--urgency", string(urgency))
	cmd := exec.CommandContext(ctx, l.command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		l.logger.Warn("liquidation command failed",
			zap.Int("code", exitErr.ExitCode()),
			zap.String("stderr", tail(stderr.String(), 512)),
		)
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("run liquidation command: %w", err)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
