// Package pngquant runs the external pngquant binary as a core.Quantizer.
package pngquant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// Exit codes pngquant uses when it declines to write an output.
const (
	ExitQualityTooLow = 99
	ExitLarger        = 98
)

// Quantizer invokes Binary once per call, bounded by Timeout.
type Quantizer struct {
	Binary  string
	Timeout time.Duration
	// WaitDelay bounds how long Run waits for I/O after the process is
	// killed.  Zero means 5s.
	WaitDelay time.Duration
}

// New returns a Quantizer for binary (looked up on PATH when not absolute).
func New(binary string, timeout time.Duration) *Quantizer {
	if binary == "" {
		binary = "pngquant"
	}
	return &Quantizer{Binary: binary, Timeout: timeout, WaitDelay: 5 * time.Second}
}

// Args builds the pngquant argument list.
func Args(inputPath, outputPath string, speed, qualityCeiling int, stripMetadata bool) []string {
	args := []string{
		"--force",
		"--output", outputPath,
		"--speed", strconv.Itoa(speed),
		"--quality", "0-" + strconv.Itoa(qualityCeiling),
	}
	if stripMetadata {
		args = append(args, "--strip")
	}
	return append(args, "--", inputPath)
}

// Quantize writes a palette-quantized copy of inputPath to outputPath.
func (q *Quantizer) Quantize(ctx context.Context, inputPath, outputPath string, speed, qualityCeiling int, stripMetadata bool) error {
	bin, err := exec.LookPath(q.Binary)
	if err != nil {
		return apperrors.New(apperrors.CategoryExternalTool, "pngquant",
			fmt.Errorf("%w: %s: %v", apperrors.ErrToolUnavailable, q.Binary, err))
	}
	if q.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, Args(inputPath, outputPath, speed, qualityCeiling, stripMetadata)...)
	cmd.Cancel = func() error { return cmd.Process.Kill() }
	cmd.WaitDelay = q.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.New(apperrors.CategoryExternalTool, "pngquant", fmt.Errorf("%w: %v", ctxErr, err))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case ExitQualityTooLow:
				err = fmt.Errorf("quality ceiling %d not reachable: %w", qualityCeiling, err)
			case ExitLarger:
				err = fmt.Errorf("output would be larger: %w", err)
			}
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return apperrors.New(apperrors.CategoryExternalTool, "pngquant", err)
	}
	return nil
}

var _ core.Quantizer = (*Quantizer)(nil)
