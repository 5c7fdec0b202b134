// Package server implements the capwire server side: it binds a
// capability registry to a transport and dispatches inbound requests
// to registered handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/logging"
	"github.com/capwire/capwire-go/pkg/observability"
	"github.com/capwire/capwire-go/pkg/protocol"
	"github.com/capwire/capwire-go/pkg/registry"
	"github.com/capwire/capwire-go/pkg/transport"
)

// DefaultConcurrency bounds how many requests are dispatched at once.
const DefaultConcurrency = 16

// NotificationHandler processes an inbound notification. Notifications
// carry no id and get no reply.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// Server dispatches wire requests against a capability registry.
type Server struct {
	info        protocol.ServerInfo
	registry    *registry.Registry
	transport   transport.Transport
	logger      logging.Logger
	metrics     *observability.Metrics
	tracing     *observability.Tracing
	concurrency int

	notifyMu sync.RWMutex
	onNotify NotificationHandler

	dispatchGroup *errgroup.Group

	mu          sync.Mutex
	initialized bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Defaults to a text logger on
// stderr.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithServerInfo sets the identity reported in the handshake.
func WithServerInfo(info protocol.ServerInfo) Option {
	return func(s *Server) { s.info = info }
}

// WithConcurrency bounds concurrent request dispatch.
func WithConcurrency(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMetrics attaches a metrics provider.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracing attaches a tracing provider.
func WithTracing(tr *observability.Tracing) Option {
	return func(s *Server) { s.tracing = tr }
}

// WithNotificationHandler sets the handler for inbound notifications
// other than the lifecycle ones.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(s *Server) { s.onNotify = h }
}

// New creates a server over the given transport and registry.
func New(t transport.Transport, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		info:        protocol.ServerInfo{Name: "capwire-server"},
		registry:    reg,
		transport:   t,
		logger:      logging.New(nil, nil),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.String("component", "server"))
	return s
}

// Registry exposes the capability registry, so capabilities can be
// added before Serve.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Serve starts the transport and blocks until it terminates or the
// context is cancelled. In-flight handlers are awaited on the way out.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	s.dispatchGroup = g

	s.transport.SetReceiveHandler(func(data []byte) {
		s.handleFrame(gctx, data)
	})
	s.transport.SetErrorHandler(func(err error) {
		s.logger.WithError(err).Warn("transport error")
	})

	if err := s.transport.Start(gctx); err != nil {
		return err
	}

	s.logger.Info("serving",
		logging.String("server", s.info.Name),
		logging.Int("concurrency", s.concurrency))

	select {
	case <-s.transport.Done():
	case <-ctx.Done():
		_ = s.transport.Stop(context.Background())
	}

	_ = g.Wait()

	if err := s.transport.Err(); err != nil {
		s.logger.WithError(err).Warn("transport terminated with error")
		return err
	}
	return nil
}

// Stop tears down the transport, ending Serve.
func (s *Server) Stop(ctx context.Context) error {
	return s.transport.Stop(ctx)
}

// handleFrame decodes one inbound frame and routes it. Requests are
// dispatched on the bounded group so one slow handler never blocks the
// read loop or its peers.
func (s *Server) handleFrame(ctx context.Context, data []byte) {
	if s.metrics != nil {
		s.metrics.RecordFrame("inbound")
	}

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.logger.WithError(err).Warn("undecodable frame")
		werr := cwerrors.MalformedFrame(err)
		if errors.Is(err, protocol.ErrUnknownMessageShape) {
			werr = cwerrors.UnknownMessageShape()
		}
		if s.metrics != nil {
			s.metrics.RecordError(cwerrors.CodeName(werr.Code()))
		}
		// Decode failures cannot be correlated, so the reply id is null.
		s.sendError(nil, werr)
		return
	}

	switch m := msg.(type) {
	case *protocol.Request:
		s.dispatchGroup.Go(func() error {
			s.dispatch(ctx, m)
			return nil
		})
	case *protocol.Notification:
		s.handleNotification(ctx, m)
	case *protocol.Response:
		// Servers do not issue calls; a stray response is noise.
		s.logger.Warn("dropping unexpected response frame", logging.Any("id", m.ID))
	}
}

// dispatch handles one request end to end and always sends exactly one
// reply.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) {
	started := time.Now()
	if s.metrics != nil {
		done := s.metrics.RequestStarted()
		defer done()
	}

	if s.tracing != nil {
		var span trace.Span
		ctx, span = s.tracing.StartCallSpan(ctx, req.Method, trace.SpanKindServer)
		defer span.End()
	}

	result, werr := s.route(ctx, req)
	if werr != nil && s.tracing != nil {
		s.tracing.RecordError(ctx, werr)
	}

	status := "ok"
	if werr != nil {
		status = "error"
		if s.metrics != nil {
			s.metrics.RecordError(cwerrors.CodeName(werr.Code()))
		}
		s.logger.WithError(werr).Warn("request failed",
			logging.String("method", req.Method),
			logging.Any("id", req.ID))
		s.sendError(req.ID, werr)
	} else {
		s.sendResult(req.ID, result)
	}

	if s.metrics != nil {
		s.metrics.RecordRequest(req.Method, status, time.Since(started))
	}
	s.logger.Debug("request handled",
		logging.String("method", req.Method),
		logging.String("status", status),
		logging.Duration("elapsed", time.Since(started)))
}

// route maps a method to its operation.
func (s *Server) route(ctx context.Context, req *protocol.Request) (interface{}, cwerrors.WireError) {
	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req)

	case protocol.MethodListTools:
		return &protocol.ListToolsResult{Tools: s.registry.List(protocol.KindTool)}, nil
	case protocol.MethodListResources:
		return &protocol.ListResourcesResult{Resources: s.registry.List(protocol.KindResource)}, nil
	case protocol.MethodListPrompts:
		return &protocol.ListPromptsResult{Prompts: s.registry.List(protocol.KindPrompt)}, nil

	case protocol.MethodCallTool:
		var params protocol.CallToolParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.invokeNamed(ctx, protocol.KindTool, params.Name, params.Arguments)

	case protocol.MethodReadResource:
		var params protocol.ReadResourceParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.invokeResource(ctx, params.URI)

	case protocol.MethodGetPrompt:
		var params protocol.GetPromptParams
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.invokeNamed(ctx, protocol.KindPrompt, params.Name, params.Arguments)

	default:
		return nil, cwerrors.MethodNotFound(req.Method)
	}
}

func (s *Server) handleInitialize(req *protocol.Request) (interface{}, cwerrors.WireError) {
	var params protocol.InitializeParams
	if err := unmarshalParams(req.Params, &params); err != nil {
		return nil, err
	}
	if params.ProtocolVersion != protocol.Version {
		return nil, cwerrors.VersionMismatch(params.ProtocolVersion, protocol.Version)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	if params.ClientInfo != nil {
		s.logger.Info("client connected",
			logging.String("client", params.ClientInfo.Name),
			logging.String("session_id", params.ClientInfo.SessionID))
	}

	return &protocol.InitializeResult{
		ProtocolVersion: protocol.Version,
		ServerInfo:      &s.info,
		Capabilities:    s.registry.Capabilities(),
	}, nil
}

// invokeNamed resolves and runs a tool or prompt handler, validating
// arguments against the registered schema first.
func (s *Server) invokeNamed(ctx context.Context, kind protocol.CapabilityKind, name string, args map[string]interface{}) (interface{}, cwerrors.WireError) {
	desc, handler, err := s.registry.Resolve(kind, name)
	if err != nil {
		return nil, asWire(err)
	}
	if err := registry.ValidateArgs(desc.Schema, args); err != nil {
		return nil, asWire(err)
	}
	return s.invoke(ctx, string(kind), name, handler, args)
}

func (s *Server) invokeResource(ctx context.Context, uri string) (interface{}, cwerrors.WireError) {
	_, handler, params, err := s.registry.ResolveResource(uri)
	if err != nil {
		return nil, asWire(err)
	}
	args := map[string]interface{}{"uri": uri}
	for k, v := range params {
		args[k] = v
	}
	return s.invoke(ctx, string(protocol.KindResource), uri, handler, args)
}

// invoke runs one handler with panic isolation. Only the failure
// description crosses the wire; stacks stay in the server log.
func (s *Server) invoke(ctx context.Context, kind, name string, handler registry.Handler, args map[string]interface{}) (result interface{}, werr cwerrors.WireError) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				logging.String("capability", name),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			result = nil
			werr = cwerrors.HandlerFailure(name, fmt.Errorf("%v", r))
		}
		if s.metrics != nil {
			status := "ok"
			if werr != nil {
				status = "error"
			}
			s.metrics.RecordCapability(kind, name, status, time.Since(started))
		}
	}()

	out, err := handler(ctx, args)
	if err != nil {
		if wire, ok := cwerrors.AsWireError(err); ok {
			return nil, wire
		}
		return nil, cwerrors.HandlerFailure(name, err)
	}
	return out, nil
}

func (s *Server) handleNotification(ctx context.Context, n *protocol.Notification) {
	if n.Method == protocol.MethodInitialized {
		s.logger.Debug("client reported initialized")
		return
	}

	s.notifyMu.RLock()
	handler := s.onNotify
	s.notifyMu.RUnlock()
	if handler == nil {
		s.logger.Debug("dropping notification", logging.String("method", n.Method))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification handler panicked", logging.Any("panic", r))
		}
	}()
	handler(ctx, n.Method, n.Params)
}

// SetNotificationHandler replaces the notification handler at runtime.
func (s *Server) SetNotificationHandler(h NotificationHandler) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.onNotify = h
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		s.logger.WithError(err).Error("failed to build response")
		s.sendError(id, cwerrors.HandlerFailure("response encoding", err))
		return
	}
	s.sendMessage(resp)
}

func (s *Server) sendError(id interface{}, werr cwerrors.WireError) {
	resp, err := protocol.NewErrorResponse(id, protocol.ErrorCode(werr.Code()), werr.Message(), werr.Data())
	if err != nil {
		s.logger.WithError(err).Error("failed to build error response")
		return
	}
	s.sendMessage(resp)
}

func (s *Server) sendMessage(msg protocol.Message) {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode message")
		return
	}
	if err := s.transport.Send(data); err != nil {
		s.logger.WithError(err).Warn("failed to send message")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordFrame("outbound")
	}
}

func unmarshalParams(raw json.RawMessage, out interface{}) cwerrors.WireError {
	if len(raw) == 0 {
		return cwerrors.InvalidParams("params", "missing request parameters")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return cwerrors.InvalidParams("params", err.Error())
	}
	return nil
}

func asWire(err error) cwerrors.WireError {
	if wire, ok := cwerrors.AsWireError(err); ok {
		return wire
	}
	return cwerrors.HandlerFailure("internal", err)
}
