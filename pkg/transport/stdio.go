package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/protocol"
)

// StdioTransport implements Transport over a pair of byte streams,
// by default the current process stdin/stdout. This is how a capwire
// server talks to the host that spawned it.
type StdioTransport struct {
	handlerState

	reader io.Reader
	writer io.Writer

	encoder *protocol.Encoder

	done     chan struct{}
	stopOnce sync.Once

	errMu sync.Mutex
	err   error
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithStreams replaces stdin/stdout with custom streams. Used to wire
// in-memory pipes in tests and by the command transport.
func WithStreams(r io.Reader, w io.Writer) StdioOption {
	return func(t *StdioTransport) {
		t.reader = r
		t.writer = w
	}
}

// NewStdio creates a transport over the process standard streams.
func NewStdio(opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		reader: os.Stdin,
		writer: os.Stdout,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.encoder = protocol.NewEncoder(t.writer)
	return t
}

// Start launches the background read loop. It returns immediately;
// termination is observable through Done.
func (t *StdioTransport) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	decoder := protocol.NewDecoder(t.reader)
	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)
		for {
			data, err := decoder.DecodeBytes()
			if err != nil {
				// A read error after Stop is the reader being torn
				// down, not a stream failure.
				select {
				case <-t.done:
					return nil
				default:
				}
				if err == io.EOF {
					return nil
				}
				return cwerrors.TransportClosed(err)
			}

			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.done:
				return nil
			default:
			}

			t.deliver(data)
		}
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			t.closeReader()
			return gctx.Err()
		case <-t.done:
			t.closeReader()
			return nil
		case <-scannerDone:
			return nil
		}
	})

	go func() {
		err := g.Wait()
		t.errMu.Lock()
		if t.err == nil && err != nil && err != context.Canceled {
			t.err = err
		}
		t.errMu.Unlock()
		t.stopOnce.Do(func() { close(t.done) })
	}()

	return nil
}

// deliver passes one frame to the receive handler, recovering panics
// so a bad handler cannot kill the read loop.
func (t *StdioTransport) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.handleError(fmt.Errorf("panic in receive handler: %v\n%s", r, debug.Stack()))
		}
	}()
	t.receive(data)
}

// closeReader unblocks a pending read, if the reader supports it.
func (t *StdioTransport) closeReader() {
	if closer, ok := t.reader.(io.Closer); ok {
		_ = closer.Close()
	}
}

// Send transmits one frame payload.
func (t *StdioTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return cwerrors.TransportClosed(t.Err())
	default:
	}

	if err := t.encoder.EncodeBytes(data); err != nil {
		return cwerrors.TransportClosed(err).WithContext(&cwerrors.Context{
			Component: "StdioTransport",
			Operation: "send",
		})
	}
	return nil
}

// Stop halts the transport and releases resources. Idempotent.
func (t *StdioTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.done) })
	t.closeReader()
	return nil
}

// Done reports transport termination.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}

// Err reports why the transport terminated.
func (t *StdioTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}
