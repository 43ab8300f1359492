// Package render converts notation documents to PDF through the MuseScore
// command line.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds a single conversion run.
const DefaultTimeout = 2 * time.Minute

// Renderer drives a MuseScore binary in batch mode.
type Renderer struct {
	binPath string
	timeout time.Duration
	log     *slog.Logger
}

func New(binPath string, timeout time.Duration, log *slog.Logger) *Renderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Renderer{binPath: binPath, timeout: timeout, log: log}
}

// IsAvailable reports whether the configured binary exists.
func (r *Renderer) IsAvailable() bool {
	_, err := os.Stat(r.binPath)
	return err == nil
}

// Render converts the notation document at inputPath to a PDF at outputPath.
// MuseScore ships as an AppImage on most installs, so the first attempt passes
// --appimage-extract-and-run and a plain invocation follows if no output
// appears. Like Audiveris, MuseScore can exit non-zero and still produce a
// usable file, so presence of the output decides success.
func (r *Renderer) Render(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("notation document missing: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	output, runErr := r.invoke(ctx, append([]string{"--appimage-extract-and-run"}, "-o", outputPath, inputPath))
	if !exists(outputPath) && ctx.Err() == nil {
		output, runErr = r.invoke(ctx, []string{"-o", outputPath, inputPath})
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pdf conversion timed out after %s", r.timeout)
	}
	if !exists(outputPath) {
		msg := "renderer produced no pdf"
		if runErr != nil {
			msg = fmt.Sprintf("%s (renderer error: %v)", msg, runErr)
		}
		return fmt.Errorf("%s: %s", msg, truncate(output, 400))
	}
	if runErr != nil {
		r.log.Warn("renderer exited non-zero but produced output",
			"error", runErr, "output", outputPath)
	}
	return nil
}

func (r *Renderer) invoke(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binPath, args...)
	cmd.Env = append(os.Environ(), "QT_QPA_PLATFORM=offscreen", "DISPLAY=")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
