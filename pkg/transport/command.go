package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/protocol"
)

// SpawnSpec describes how to launch a server child process.
type SpawnSpec struct {
	// Command is the executable to run.
	Command string

	// Args are the command arguments.
	Args []string

	// Env is appended to the parent environment. Entries are in
	// "KEY=VALUE" form.
	Env []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// GraceTimeout bounds how long Stop waits for the child to exit
	// after a termination signal before killing it. Zero means
	// DefaultGraceTimeout.
	GraceTimeout time.Duration

	// Stderr receives the child's stderr. Nil means the parent's
	// stderr, so server diagnostics stay visible.
	Stderr io.Writer
}

// CommandTransport spawns a server as a child process and owns its
// stdin/stdout pipes. The child's exit, expected or not, closes Done
// so pending work never blocks forever.
type CommandTransport struct {
	handlerState

	spec SpawnSpec

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	encoder *protocol.Encoder

	done      chan struct{}
	exited    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewCommand creates a transport that will spawn the given command on
// Start.
func NewCommand(spec SpawnSpec) *CommandTransport {
	if spec.GraceTimeout <= 0 {
		spec.GraceTimeout = DefaultGraceTimeout
	}
	return &CommandTransport{
		spec:   spec,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start spawns the child process and begins reading its stdout.
func (t *CommandTransport) Start(ctx context.Context) error {
	var startErr error
	t.startOnce.Do(func() {
		startErr = t.start(ctx)
	})
	return startErr
}

func (t *CommandTransport) start(ctx context.Context) error {
	cmd := exec.Command(t.spec.Command, t.spec.Args...)
	cmd.Dir = t.spec.Dir
	cmd.Env = append(os.Environ(), t.spec.Env...)
	if t.spec.Stderr != nil {
		cmd.Stderr = t.spec.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return cwerrors.TransportClosed(err).WithDetail("failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return cwerrors.TransportClosed(err).WithDetail("failed to open stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return cwerrors.TransportClosed(err).
			WithDetail(fmt.Sprintf("failed to spawn %q", t.spec.Command))
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.encoder = protocol.NewEncoder(stdin)

	// Read loop: frames from the child's stdout until the stream ends.
	go t.readLoop()

	// Reaper: observe child exit exactly once, whoever caused it.
	go func() {
		err := cmd.Wait()
		t.errMu.Lock()
		if t.err == nil && err != nil && !t.stopping() {
			t.err = cwerrors.TransportClosed(err).WithDetail("child process exited")
		}
		t.errMu.Unlock()
		close(t.exited)
		t.stopOnce.Do(func() { close(t.done) })
	}()

	// Context cancellation tears the transport down.
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = t.Stop(context.Background())
			case <-t.done:
			}
		}()
	}

	return nil
}

func (t *CommandTransport) readLoop() {
	decoder := protocol.NewDecoder(t.stdout)
	for {
		data, err := decoder.DecodeBytes()
		if err != nil {
			// EOF or a closed pipe: the child is gone or Stop ran.
			// The reaper goroutine records the cause.
			return
		}
		t.deliver(data)
	}
}

func (t *CommandTransport) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.handleError(fmt.Errorf("panic in receive handler: %v", r))
		}
	}()
	t.receive(data)
}

// stopping reports whether Stop has begun (done already closed).
func (t *CommandTransport) stopping() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Send transmits one frame payload to the child's stdin.
func (t *CommandTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return cwerrors.TransportClosed(t.Err())
	default:
	}
	if t.encoder == nil {
		return cwerrors.TransportClosed(nil).WithDetail("transport not started")
	}

	if err := t.encoder.EncodeBytes(data); err != nil {
		return cwerrors.TransportClosed(err).WithContext(&cwerrors.Context{
			Component: "CommandTransport",
			Operation: "send",
		})
	}
	return nil
}

// Stop requests graceful child termination: close stdin, signal
// SIGTERM, and kill after the grace deadline. Resources are released
// exactly once; repeated calls are no-ops.
func (t *CommandTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.done) })

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	// Closing stdin is the polite shutdown request for a stdio server.
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	_ = t.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-t.exited:
		return nil
	case <-time.After(t.spec.GraceTimeout):
	case <-ctx.Done():
	}

	_ = t.cmd.Process.Kill()
	<-t.exited
	return nil
}

// Done reports transport termination.
func (t *CommandTransport) Done() <-chan struct{} {
	return t.done
}

// Err reports why the transport terminated; nil after a clean Stop.
func (t *CommandTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}
