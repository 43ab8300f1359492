// Package omr wraps the external optical music recognition engine
// (Audiveris). The engine is a black box: image path in, notation document
// out, bounded by a hard timeout.
package omr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scorepipe/internal/fsutil"
)

// DefaultTimeout bounds a single recognition run.
const DefaultTimeout = 5 * time.Minute

// Engine invokes the Audiveris batch CLI.
type Engine struct {
	binPath string
	timeout time.Duration
	log     *slog.Logger
}

// Request defines inputs for one recognition run.
type Request struct {
	InputPath string
	OutputDir string
}

// Result captures the recognized document and the engine's diagnostic output.
type Result struct {
	DocumentPath string
	EngineLog    string
}

// New creates an Engine. A zero timeout falls back to DefaultTimeout.
func New(binPath string, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{binPath: binPath, timeout: timeout, log: logger}
}

// IsAvailable reports whether the engine binary exists.
func (e *Engine) IsAvailable() bool {
	info, err := os.Stat(e.binPath)
	return err == nil && !info.IsDir()
}

// Recognize runs the engine on an image and returns the path to a plain
// MusicXML document. Audiveris may exit non-zero on partial success, so the
// presence of an output file decides the outcome, not the exit code.
func (e *Engine) Recognize(ctx context.Context, req Request) (Result, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create OMR output directory: %w", err)
	}
	if !fsutil.Exists(req.InputPath) {
		return Result{}, fmt.Errorf("input file does not exist: %s", req.InputPath)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := newHeadlessCommand(ctx, e.binPath, "-batch", "-export", "-output", req.OutputDir, req.InputPath)
	output, runErr := cmd.CombinedOutput()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{EngineLog: string(output)},
			fmt.Errorf("recognition timed out after %s", e.timeout)
	}

	found := findNotationOutput(req.OutputDir, req.InputPath)
	if found == "" {
		msg := "no notation output produced"
		if runErr != nil {
			msg = fmt.Sprintf("%s (engine error: %v)", msg, runErr)
		}
		e.log.Error("recognition failed", "input", req.InputPath, "engine_log", truncate(string(output), 500))
		return Result{EngineLog: string(output)}, errors.New(msg)
	}

	if runErr != nil {
		e.log.Warn("engine exited non-zero but produced output", "input", req.InputPath, "error", runErr)
	}

	docPath := found
	if strings.EqualFold(filepath.Ext(found), ".mxl") {
		extracted := fsutil.TrimExt(found) + ".musicxml"
		if err := ExtractMXL(found, extracted); err != nil {
			return Result{EngineLog: string(output)}, fmt.Errorf("unpack compressed notation: %w", err)
		}
		docPath = extracted
	}

	return Result{DocumentPath: docPath, EngineLog: string(output)}, nil
}

// findNotationOutput locates the document the engine produced. Audiveris names
// outputs after the input stem; fall back to any notation file in the
// directory.
func findNotationOutput(outputDir, inputPath string) string {
	stem := fsutil.TrimExt(filepath.Base(inputPath))
	if p := fsutil.FirstExisting(
		filepath.Join(outputDir, stem+".mxl"),
		filepath.Join(outputDir, stem+".musicxml"),
		filepath.Join(outputDir, stem+".xml"),
	); p != "" {
		return p
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if fsutil.IsNotationFile(entry.Name()) {
			return filepath.Join(outputDir, entry.Name())
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
