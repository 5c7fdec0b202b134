// Package client implements the capwire client side: a Session that
// connects over a transport, performs the initialize handshake, and
// correlates concurrent calls with their responses.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/logging"
	"github.com/capwire/capwire-go/pkg/observability"
	"github.com/capwire/capwire-go/pkg/protocol"
	"github.com/capwire/capwire-go/pkg/transport"
)

// State is the session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default deadlines.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCallTimeout      = 30 * time.Second
)

// NotificationHandler processes a server-initiated notification.
type NotificationHandler func(method string, params json.RawMessage)

// pendingCall tracks one in-flight request until its response arrives
// or a deadline resolves it locally.
type pendingCall struct {
	id     interface{}
	method string
	done   chan *protocol.Response
}

// Session is a client connection to one capwire server. All methods
// are safe for concurrent use; calls issued concurrently are resolved
// by response id regardless of arrival order.
type Session struct {
	id        string
	info      protocol.ClientInfo
	transport transport.Transport
	logger    logging.Logger
	metrics   *observability.Metrics
	tracing   *observability.Tracing
	onNotify  NotificationHandler

	handshakeTimeout time.Duration
	callTimeout      time.Duration

	state  atomic.Int32
	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	serverMu     sync.RWMutex
	serverInfo   *protocol.ServerInfo
	capabilities map[string]bool

	cache capabilityCache

	closeOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClientInfo sets the identity sent during the handshake.
func WithClientInfo(info protocol.ClientInfo) Option {
	return func(s *Session) { s.info = info }
}

// WithCallTimeout sets the default per-call wait deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithHandshakeTimeout sets the initialize exchange deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithMetrics attaches a metrics provider.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTracing attaches a tracing provider.
func WithTracing(tr *observability.Tracing) Option {
	return func(s *Session) { s.tracing = tr }
}

// WithNotificationHandler sets the handler for server notifications.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(s *Session) { s.onNotify = h }
}

// New creates a session over the given transport. The session owns the
// transport from here on.
func New(t transport.Transport, opts ...Option) *Session {
	s := &Session{
		id:               uuid.New().String(),
		info:             protocol.ClientInfo{Name: "capwire-client"},
		transport:        t,
		logger:           logging.New(nil, nil),
		handshakeTimeout: DefaultHandshakeTimeout,
		callTimeout:      DefaultCallTimeout,
		pending:          make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.info.SessionID = s.id
	if s.info.Platform == "" {
		s.info.Platform = runtime.GOOS
	}
	s.logger = s.logger.WithFields(
		logging.String("component", "session"),
		logging.String("session_id", s.id),
	)
	s.cache.session = s
	return s
}

// ID returns the session identity sent to the server.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	if s.metrics != nil {
		s.metrics.RecordSessionState(state.String())
	}
	s.logger.Debug("state changed", logging.String("state", state.String()))
}

// ServerInfo returns the identity the server reported during the
// handshake, or nil before Connect.
func (s *Session) ServerInfo() *protocol.ServerInfo {
	s.serverMu.RLock()
	defer s.serverMu.RUnlock()
	return s.serverInfo
}

// Capabilities returns the capability summary from the handshake.
func (s *Session) Capabilities() map[string]bool {
	s.serverMu.RLock()
	defer s.serverMu.RUnlock()
	return s.capabilities
}

// Connect opens the transport and performs the initialize handshake.
// On success the session is Ready and the capability cache is cleared.
// A failed Connect is terminal: the transport is spent, the session
// moves to Closed and cannot reconnect.
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateHandshaking)) {
		if s.State() == StateClosed {
			return cwerrors.SessionClosed()
		}
		return cwerrors.HandshakeFailed(fmt.Sprintf("connect in state %s", s.State()), nil)
	}
	s.setState(StateHandshaking)

	s.transport.SetReceiveHandler(s.handleFrame)
	s.transport.SetErrorHandler(func(err error) {
		s.logger.WithError(err).Warn("transport error")
	})

	if err := s.transport.Start(ctx); err != nil {
		s.teardown()
		return cwerrors.HandshakeFailed("transport start failed", err)
	}

	// Resolve pending calls and close the session the moment the
	// transport dies, whatever the cause.
	go func() {
		<-s.transport.Done()
		s.onTransportDone()
	}()

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	result, err := s.roundTrip(hctx, protocol.MethodInitialize, &protocol.InitializeParams{
		ProtocolVersion: protocol.Version,
		ClientInfo:      &s.info,
	})
	if err != nil {
		s.teardown()
		// A rejection travels back as the decoded wire error, so the
		// version check looks at its code directly.
		var werr *protocol.Error
		if errors.As(err, &werr) && werr.Code == protocol.VersionMismatch {
			return cwerrors.HandshakeFailed("protocol version mismatch", err)
		}
		return cwerrors.HandshakeFailed("initialize exchange failed", err)
	}

	var init protocol.InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		s.teardown()
		return cwerrors.HandshakeFailed("malformed initialize result", err)
	}
	if init.ProtocolVersion != protocol.Version {
		s.teardown()
		return cwerrors.HandshakeFailed("protocol version mismatch",
			cwerrors.VersionMismatch(protocol.Version, init.ProtocolVersion))
	}

	s.serverMu.Lock()
	s.serverInfo = init.ServerInfo
	s.capabilities = init.Capabilities
	s.serverMu.Unlock()

	s.cache.invalidate()

	if notif, err := protocol.NewNotification(protocol.MethodInitialized, nil); err == nil {
		s.sendMessage(notif)
	}

	s.setState(StateReady)
	serverName := ""
	if init.ServerInfo != nil {
		serverName = init.ServerInfo.Name
	}
	s.logger.Info("connected", logging.String("server", serverName))
	return nil
}

// Close tears the session down. Closed is terminal; a closed session
// cannot reconnect.
func (s *Session) Close(ctx context.Context) error {
	if s.State() == StateClosed {
		return nil
	}
	s.setState(StateClosing)
	err := s.transport.Stop(ctx)
	<-s.transport.Done()
	// Finish the transition here rather than racing the Done watcher.
	s.onTransportDone()
	return err
}

// teardown closes a session that never reached Ready.
func (s *Session) teardown() {
	_ = s.transport.Stop(context.Background())
	s.setState(StateClosed)
}

// CallTool invokes a named tool and returns its raw result.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.tracedCall(ctx, protocol.MethodCallTool, &protocol.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// ReadResource reads a resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	raw, err := s.tracedCall(ctx, protocol.MethodReadResource, &protocol.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var contents protocol.ResourceContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		return nil, cwerrors.Wrap(err, cwerrors.CodeInvalidRequest,
			"malformed resource contents", cwerrors.CategoryProtocol, cwerrors.SeverityError)
	}
	return &contents, nil
}

// GetPrompt renders a prompt template with the given arguments.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*protocol.PromptResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	raw, err := s.tracedCall(ctx, protocol.MethodGetPrompt, &protocol.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	var result protocol.PromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, cwerrors.Wrap(err, cwerrors.CodeInvalidRequest,
			"malformed prompt result", cwerrors.CategoryProtocol, cwerrors.SeverityError)
	}
	return &result, nil
}

// Tools lists the server's tools, memoized until the next Connect.
func (s *Session) Tools(ctx context.Context) ([]protocol.CapabilityDescriptor, error) {
	return s.cache.tools(ctx)
}

// Resources lists the server's resources, memoized until the next
// Connect.
func (s *Session) Resources(ctx context.Context) ([]protocol.CapabilityDescriptor, error) {
	return s.cache.resources(ctx)
}

// Prompts lists the server's prompts, memoized until the next Connect.
func (s *Session) Prompts(ctx context.Context) ([]protocol.CapabilityDescriptor, error) {
	return s.cache.prompts(ctx)
}

// Notify sends a fire-and-forget notification to the server.
func (s *Session) Notify(method string, params interface{}) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.sendMessage(notif)
}

func (s *Session) requireReady() error {
	switch s.State() {
	case StateReady:
		return nil
	case StateClosing, StateClosed:
		return cwerrors.SessionClosed()
	default:
		return cwerrors.New(cwerrors.CodeInvalidRequest,
			fmt.Sprintf("session not ready (state %s)", s.State()),
			cwerrors.CategorySession, cwerrors.SeverityError)
	}
}

func (s *Session) tracedCall(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if s.tracing != nil {
		var span trace.Span
		ctx, span = s.tracing.StartCallSpan(ctx, method, trace.SpanKindClient)
		defer span.End()
	}
	result, err := s.call(ctx, method, params)
	if err != nil && s.tracing != nil {
		s.tracing.RecordError(ctx, err)
	}
	return result, err
}

// call issues one request and waits for its response under the
// session's call timeout.
func (s *Session) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.roundTrip(cctx, method, params)
}

// roundTrip does the id bookkeeping: register pending, send, wait.
// The context carries the effective deadline.
func (s *Session) roundTrip(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	call := &pendingCall{
		id:     id,
		method: method,
		done:   make(chan *protocol.Response, 1),
	}
	key := idKey(id)

	s.pendingMu.Lock()
	s.pending[key] = call
	pendingNow := len(s.pending)
	s.pendingMu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordPendingCalls(pendingNow)
	}

	started := time.Now()
	if err := s.sendMessage(req); err != nil {
		s.removePending(key)
		return nil, err
	}

	select {
	case resp := <-call.done:
		if s.metrics != nil {
			status := "ok"
			if resp.Error != nil {
				status = "error"
			}
			s.metrics.RecordRequest(method, status, time.Since(started))
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil

	case <-ctx.Done():
		s.removePending(key)
		if s.State() == StateClosed {
			return nil, cwerrors.SessionClosed()
		}
		if ctx.Err() == context.DeadlineExceeded {
			if s.metrics != nil {
				s.metrics.RecordRequest(method, "timeout", time.Since(started))
			}
			return nil, cwerrors.CallTimeout(method).WithContext(&cwerrors.Context{
				RequestID: key,
				Method:    method,
				SessionID: s.id,
				Component: "session",
				Operation: "call",
				Timestamp: time.Now(),
			})
		}
		return nil, cwerrors.Cancelled(method)
	}
}

// Cancel abandons a pending call locally. The server may still run the
// handler; its eventual response is discarded as late.
func (s *Session) Cancel(id interface{}) bool {
	call, ok := s.takePending(idKey(id))
	if !ok {
		return false
	}
	if resp, err := protocol.NewErrorResponse(call.id, protocol.Cancelled,
		fmt.Sprintf("call %q cancelled", call.method), nil); err == nil {
		call.done <- resp
	}
	s.logger.Debug("call cancelled",
		logging.Any("id", call.id),
		logging.String("method", call.method))
	return true
}

func (s *Session) removePending(key string) {
	s.takePending(key)
}

func (s *Session) takePending(key string) (*pendingCall, bool) {
	s.pendingMu.Lock()
	call, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	pendingNow := len(s.pending)
	s.pendingMu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordPendingCalls(pendingNow)
	}
	return call, ok
}

// handleFrame processes one inbound frame from the transport.
func (s *Session) handleFrame(data []byte) {
	if s.metrics != nil {
		s.metrics.RecordFrame("inbound")
	}

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.logger.WithError(err).Warn("undecodable frame")
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		s.handleResponse(m)
	case *protocol.Notification:
		s.handleNotification(m)
	case *protocol.Request:
		// Server-initiated requests are not part of this client's
		// surface; answer so the peer is not left hanging.
		s.logger.Warn("rejecting server-initiated request",
			logging.String("method", m.Method))
		if resp, err := protocol.NewErrorResponse(m.ID, protocol.MethodNotFound,
			fmt.Sprintf("method %q not supported by client", m.Method), nil); err == nil {
			s.sendMessage(resp)
		}
	}
}

func (s *Session) handleResponse(resp *protocol.Response) {
	call, ok := s.takePending(idKey(resp.ID))
	if !ok {
		// Either a response to a timed-out or cancelled call, or an id
		// this session never issued. Both are discarded.
		s.logger.Warn("discarding unmatched response", logging.Any("id", resp.ID))
		return
	}
	call.done <- resp
}

func (s *Session) handleNotification(n *protocol.Notification) {
	if s.onNotify == nil {
		s.logger.Debug("dropping notification", logging.String("method", n.Method))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification handler panicked", logging.Any("panic", r))
		}
	}()
	s.onNotify(n.Method, n.Params)
}

// onTransportDone resolves every pending call with TransportClosed and
// moves the session to its terminal state.
func (s *Session) onTransportDone() {
	s.closeOnce.Do(func() {
		cause := s.transport.Err()

		s.pendingMu.Lock()
		orphaned := make([]*pendingCall, 0, len(s.pending))
		for _, call := range s.pending {
			orphaned = append(orphaned, call)
		}
		s.pending = make(map[string]*pendingCall)
		s.pendingMu.Unlock()

		for _, call := range orphaned {
			resp, err := protocol.NewErrorResponse(call.id, protocol.TransportClosed,
				cwerrors.TransportClosed(cause).Message(), nil)
			if err != nil {
				continue
			}
			call.done <- resp
		}
		if s.metrics != nil {
			s.metrics.RecordPendingCalls(0)
		}

		if len(orphaned) > 0 {
			s.logger.Warn("transport closed with calls in flight",
				logging.Int("orphaned", len(orphaned)))
		}
		s.setState(StateClosed)
	})
}

func (s *Session) sendMessage(msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := s.transport.Send(data); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordFrame("outbound")
	}
	return nil
}

// idKey canonicalizes a wire id for map lookup. JSON decoding turns
// the integer ids this session issues into float64, so both sides
// format through %v to meet in the middle.
func idKey(id interface{}) string {
	switch v := id.(type) {
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
	}
	return fmt.Sprintf("%v", id)
}
