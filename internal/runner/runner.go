// Package runner executes the evaluator as a child process and captures
// its output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

var (
	errPTYUnsupported = errors.New("pty execution is not supported on this platform")
)

const (
	defaultMaxOutputBytes = 200000
	defaultWaitDelay      = 5 * time.Second
)

type Event struct {
	Type    string         `json:"type"`
	At      string         `json:"at"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type Result struct {
	ExitCode        int
	StartedAt       time.Time
	EndedAt         time.Time
	Duration        time.Duration
	Err             error
	Events          []Event
	Output          string
	OutputTruncated bool
}

type Options struct {
	Argv           []string
	Dir            string
	Env            []string
	UsePTY         bool
	MaxOutputBytes int
	OutputWriter   io.Writer
	OnOutput       func(string)
	OnEvent        func(Event)
}

// ParseCommand splits a configured command line into argv, honouring
// shell quoting and $VAR expansion.
func ParseCommand(raw string) ([]string, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	argv, err := parser.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", raw, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	return argv, nil
}

// Run starts the command and waits for it. Cancelling ctx kills the whole
// process group. Run never returns an error directly; it is in Result.Err.
func Run(ctx context.Context, opts Options) Result {
	start := time.Now().UTC()
	result := Result{
		ExitCode:  -1,
		StartedAt: start,
	}
	finish := func() Result {
		result.EndedAt = time.Now().UTC()
		result.Duration = result.EndedAt.Sub(result.StartedAt)
		return result
	}

	if len(opts.Argv) == 0 || strings.TrimSpace(opts.Argv[0]) == "" {
		result.Err = fmt.Errorf("command is required")
		event := newEvent("process_error", "command is empty", nil)
		result.Events = append(result.Events, event)
		dispatchEvent(opts.OnEvent, event)
		return finish()
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}

	output := newCappedBuffer(opts.MaxOutputBytes)
	stream := newChunkWriter(opts.OutputWriter, opts.OnOutput)

	var code int
	var events []Event
	var err error
	if opts.UsePTY {
		code, events, err = runWithPTY(ctx, opts, output, stream)
		result.Events = append(result.Events, events...)
		dispatchEvents(opts.OnEvent, events)
		if err == nil || !errors.Is(err, errPTYUnsupported) {
			result.ExitCode = code
			result.Err = err
			result.Output = output.String()
			result.OutputTruncated = output.Truncated()
			return finish()
		}
		fallback := newEvent("process_warn", "pty unavailable, falling back to pipes", map[string]any{
			"error": err.Error(),
		})
		result.Events = append(result.Events, fallback)
		dispatchEvent(opts.OnEvent, fallback)
	}

	code, events, err = runPiped(ctx, opts, output, stream)
	result.Events = append(result.Events, events...)
	dispatchEvents(opts.OnEvent, events)

	result.ExitCode = code
	result.Err = err
	result.Output = output.String()
	result.OutputTruncated = output.Truncated()
	return finish()
}

func newCommand(ctx context.Context, opts Options, ownGroup bool) *exec.Cmd {
	cmd := exec.CommandContext(ctx, opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	cmd.WaitDelay = defaultWaitDelay
	configureProcessGroup(cmd, ownGroup)
	return cmd
}

func runPiped(ctx context.Context, opts Options, output io.Writer, stream io.Writer) (int, []Event, error) {
	cmd := newCommand(ctx, opts, true)
	combined := io.MultiWriter(stream, output)
	cmd.Stdout = combined
	cmd.Stderr = combined

	if err := cmd.Start(); err != nil {
		return exitCode(cmd, err), []Event{
			newEvent("process_error", "process failed to start", map[string]any{"error": err.Error()}),
		}, err
	}
	events := []Event{
		newEvent("process_started", "process started", map[string]any{
			"command": opts.Argv[0],
			"pid":     cmd.Process.Pid,
			"mode":    "pipe",
		}),
	}

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	code := exitCode(cmd, err)
	events = append(events, newEvent("process_ended", "process exited", map[string]any{
		"exit_code": code,
	}))
	return code, events, err
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil && errors.Is(err, exec.ErrNotFound) {
		return 127
	}
	var exitErr *exec.ExitError
	if err != nil && errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func newEvent(eventType, message string, data map[string]any) Event {
	cloned := map[string]any(nil)
	if data != nil {
		cloned = maps.Clone(data)
	}
	return Event{
		Type:    eventType,
		At:      time.Now().UTC().Format(time.RFC3339Nano),
		Message: message,
		Data:    cloned,
	}
}

func dispatchEvents(handler func(Event), events []Event) {
	for _, event := range events {
		dispatchEvent(handler, event)
	}
}

func dispatchEvent(handler func(Event), event Event) {
	if handler != nil {
		handler(event)
	}
}

func newChunkWriter(base io.Writer, handler func(string)) io.Writer {
	if base == nil && handler == nil {
		return io.Discard
	}
	if base == nil {
		base = io.Discard
	}
	if handler == nil {
		return base
	}
	return io.MultiWriter(base, chunkCallbackWriter(handler))
}

type chunkCallbackWriter func(string)

func (c chunkCallbackWriter) Write(p []byte) (int, error) {
	if c != nil && len(p) > 0 {
		c(string(p))
	}
	return len(p), nil
}

type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
	mu        sync.Mutex
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = defaultMaxOutputBytes
	}
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) <= remaining {
		_, _ = c.buf.Write(p)
		return len(p), nil
	}
	_, _ = c.buf.Write(p[:remaining])
	c.truncated = true
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *cappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}
