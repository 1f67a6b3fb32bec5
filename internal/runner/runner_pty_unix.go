//go:build linux || darwin

package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/creack/pty"
)

// runWithPTY gives the evaluator a terminal so progress bars flush line by
// line. pty.Start makes the child a session leader, which also puts it in
// its own process group.
func runWithPTY(ctx context.Context, opts Options, output io.Writer, stream io.Writer) (int, []Event, error) {
	cmd := newCommand(ctx, opts, false)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 160})
	if err != nil {
		return -1, []Event{
			newEvent("process_error", "failed to start process with pty", map[string]any{
				"error": err.Error(),
			}),
		}, err
	}
	defer func() {
		_ = ptmx.Close()
	}()

	events := []Event{
		newEvent("process_started", "process started", map[string]any{
			"command": opts.Argv[0],
			"pid":     cmd.Process.Pid,
			"mode":    "pty",
		}),
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		_, _ = io.Copy(io.MultiWriter(stream, output), ptmx)
	}()

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && waitErr != nil {
		waitErr = fmt.Errorf("%w: %w", ctxErr, waitErr)
	}
	code := exitCode(cmd, waitErr)

	select {
	case <-readerDone:
	case <-time.After(400 * time.Millisecond):
	}
	_ = ptmx.Close()

	events = append(events, newEvent("process_ended", "process exited", map[string]any{
		"exit_code": code,
	}))
	return code, events, waitErr
}
