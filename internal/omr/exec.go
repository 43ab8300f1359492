package omr

import (
	"context"
	"os"
	"os/exec"
)

// newHeadlessCommand builds a command with a scrubbed environment so the
// engine cannot attach to a display in batch mode.
func newHeadlessCommand(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = []string{
		"HOME=" + os.Getenv("HOME"),
		"PATH=" + os.Getenv("PATH"),
		"LD_LIBRARY_PATH=" + os.Getenv("LD_LIBRARY_PATH"),
		"DISPLAY=",
		"JAVA_TOOL_OPTIONS=-Djava.awt.headless=true",
	}
	return cmd
}
