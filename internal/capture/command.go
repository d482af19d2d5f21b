package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"guardiand/internal/logging"
)

// Default commands tried in order when none is configured. Each must
// write an encoded image to stdout. grim covers wlroots compositors,
// scrot and import cover X11.
var defaultCaptureCommands = [][]string{
	{"grim", "-"},
	{"scrot", "-o", "-"},
	{"import", "-window", "root", "png:-"},
}

// CommandCapturer shells out to a screenshot tool. The context passed
// to Capture bounds the subprocess; the correlator supplies the
// per-capture timeout.
type CommandCapturer struct {
	argv []string
	log  *logging.Logger
}

// NewCommandCapturer builds a capturer for an explicit command line.
// An empty argv probes the default tools on first use.
func NewCommandCapturer(argv []string) *CommandCapturer {
	return &CommandCapturer{
		argv: argv,
		log:  logging.Default().WithComponent("capture"),
	}
}

// Capture implements Capturer.
func (c *CommandCapturer) Capture(ctx context.Context) ([]byte, error) {
	if len(c.argv) == 0 {
		if err := c.probe(); err != nil {
			return nil, err
		}
	}
	return runCapture(ctx, c.argv)
}

// probe picks the first default tool present on PATH and pins it for
// subsequent captures.
func (c *CommandCapturer) probe() error {
	for _, argv := range defaultCaptureCommands {
		if _, err := exec.LookPath(argv[0]); err == nil {
			c.argv = argv
			c.log.Info("screenshot tool selected", "command", argv[0])
			return nil
		}
	}
	return fmt.Errorf("no screenshot tool found on PATH: %w", ErrUnavailable)
}

func runCapture(ctx context.Context, argv []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture command: %w", ctx.Err())
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return nil, fmt.Errorf("capture command %s: %v: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("capture command %s: %w", argv[0], err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("capture command %s produced no output", argv[0])
	}
	return stdout.Bytes(), nil
}
