// Package transport provides byte-stream transports for capwire
// sessions: a stdio transport for server processes and a command
// transport that spawns a server as a child process.
//
// A transport moves opaque frame payloads; message decoding happens in
// the layers above. Frames are newline-delimited per pkg/protocol.
package transport

import (
	"context"
	"sync"
	"time"
)

// ReceiveHandler processes one raw inbound frame payload. The slice is
// owned by the handler.
type ReceiveHandler func(data []byte)

// ErrorHandler handles asynchronous transport errors (bad frames,
// write failures). Fatal failures additionally close Done.
type ErrorHandler func(err error)

// Transport is the minimal byte-channel contract shared by the stdio
// and command transports.
type Transport interface {
	// Start begins the background read loop. Handlers must be set
	// before Start. Start does not block.
	Start(ctx context.Context) error

	// Send transmits one frame payload. It fails with a transport
	// closed error once the channel is down.
	Send(data []byte) error

	// SetReceiveHandler sets the handler for inbound frames.
	SetReceiveHandler(handler ReceiveHandler)

	// SetErrorHandler sets the handler for asynchronous errors.
	SetErrorHandler(handler ErrorHandler)

	// Stop tears the transport down. It is idempotent and releases
	// underlying resources exactly once.
	Stop(ctx context.Context) error

	// Done is closed when the transport has terminated, whether by
	// Stop, peer exit, or stream failure.
	Done() <-chan struct{}

	// Err reports why the transport terminated. It is nil before Done
	// is closed and after a clean Stop.
	Err() error
}

// DefaultGraceTimeout is how long Stop waits for a spawned child to
// exit before forcing termination.
const DefaultGraceTimeout = 5 * time.Second

// handlerState holds the receive/error handlers shared by transport
// implementations.
type handlerState struct {
	mu             sync.RWMutex
	receiveHandler ReceiveHandler
	errorHandler   ErrorHandler
}

func (h *handlerState) SetReceiveHandler(handler ReceiveHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receiveHandler = handler
}

func (h *handlerState) SetErrorHandler(handler ErrorHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorHandler = handler
}

func (h *handlerState) receive(data []byte) {
	h.mu.RLock()
	handler := h.receiveHandler
	h.mu.RUnlock()
	if handler != nil {
		handler(data)
	}
}

func (h *handlerState) handleError(err error) {
	h.mu.RLock()
	handler := h.errorHandler
	h.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}
