package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bellwetherhq/bellwether/pkg/jsonrpc"
)

const stderrTailLines = 20

// stdioDriver spawns the server as a child process and frames messages as
// newline-delimited JSON on stdin/stdout. Stderr is captured into a ring
// buffer whose tail is attached to the exit error.
type stdioDriver struct {
	cfg Config

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	messages chan *jsonrpc.Message
	errs     chan *Error
	stderr   *ringBuffer

	// waited closes once waitLoop's single cmd.Wait has returned.
	waited     chan struct{}
	stderrDone chan struct{}
	closing    atomic.Bool
	closeOnce  sync.Once
}

func newStdioDriver(cfg Config) *stdioDriver {
	return &stdioDriver{
		cfg:      cfg,
		messages: make(chan *jsonrpc.Message, 32),
		errs:     make(chan *Error, 8),
		stderr:     newRingBuffer(stderrTailLines),
		waited:     make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
}

func (d *stdioDriver) Connect(ctx context.Context) error {
	cmd := exec.Command(d.cfg.Command, d.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range d.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return newError(CategoryConnectionRefused,
			fmt.Sprintf("failed to start %s", d.cfg.Command), false, err)
	}

	d.cmd = cmd
	d.stdin = stdin

	go d.readLoop(stdout)
	go d.stderrLoop(stderr)
	go d.waitLoop()

	slog.Debug("Started MCP server process", "command", d.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

func (d *stdioDriver) Send(ctx context.Context, msg *jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.stdin == nil {
		return newError(CategoryServerExit, "process not started", false, nil)
	}
	if _, err := d.stdin.Write(append(data, '\n')); err != nil {
		return newError(CategoryServerExit, "write to server stdin failed", false, err)
	}
	return nil
}

func (d *stdioDriver) Messages() <-chan *jsonrpc.Message {
	return d.messages
}

func (d *stdioDriver) Errors() <-chan *Error {
	return d.errs
}

func (d *stdioDriver) Close() error {
	d.closing.Store(true)
	d.closeOnce.Do(func() {
		if d.stdin != nil {
			d.stdin.Close()
		}
		if d.cmd != nil && d.cmd.Process != nil {
			// Give the server a moment to exit on closed stdin, then kill.
			// waitLoop owns the single cmd.Wait call.
			select {
			case <-d.waited:
			case <-time.After(5 * time.Second):
				d.cmd.Process.Kill()
				<-d.waited
			}
		}
	})
	return nil
}

func (d *stdioDriver) readLoop(stdout io.Reader) {
	defer close(d.messages)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := jsonrpc.Decode([]byte(line))
		if err != nil {
			d.emitError(newError(CategoryProtocolViolation,
				"server emitted a non-JSON line on stdout", true, err))
			continue
		}
		d.messages <- msg
	}
}

func (d *stdioDriver) stderrLoop(stderr io.Reader) {
	defer close(d.stderrDone)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		d.stderr.Append(scanner.Text())
	}
}

func (d *stdioDriver) waitLoop() {
	err := d.cmd.Wait()
	close(d.waited)
	if d.closing.Load() {
		return
	}

	// Wait closes the stderr pipe, so the reader finishes promptly; let it
	// drain before building the tail.
	select {
	case <-d.stderrDone:
	case <-time.After(time.Second):
	}

	exitCode := 0
	if d.cmd.ProcessState != nil {
		exitCode = d.cmd.ProcessState.ExitCode()
	}
	msg := fmt.Sprintf("server exited unexpectedly (code %d)", exitCode)
	if tail := d.stderr.Tail(); tail != "" {
		msg += "\nstderr tail:\n" + tail
	}
	d.emitError(newError(CategoryServerExit, msg, false, err))
}

func (d *stdioDriver) emitError(err *Error) {
	select {
	case d.errs <- err:
	default:
		slog.Debug("Dropping transport error, channel full", "error", err)
	}
}

// ringBuffer keeps the last n appended lines.
type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (r *ringBuffer) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

func (r *ringBuffer) Tail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}
