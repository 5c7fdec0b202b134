package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/logging"
	"github.com/capwire/capwire-go/pkg/protocol"
	"github.com/capwire/capwire-go/pkg/transport"
)

// scriptedTransport is an in-memory Transport that answers the
// initialize handshake automatically and hands every other request to
// the test for manual resolution.
type scriptedTransport struct {
	mu       sync.Mutex
	receive  transport.ReceiveHandler
	onError  transport.ErrorHandler
	requests chan *protocol.Request
	done     chan struct{}
	once     sync.Once

	answerHandshake bool
	// rejectHandshake answers initialize with a VersionMismatch error
	// instead of a result.
	rejectHandshake bool
	// handshakeVersion overrides the protocol version reported in the
	// initialize result.
	handshakeVersion string
}

func newScriptedTransport(answerHandshake bool) *scriptedTransport {
	return &scriptedTransport{
		requests:        make(chan *protocol.Request, 16),
		done:            make(chan struct{}),
		answerHandshake: answerHandshake,
	}
}

func (f *scriptedTransport) Start(ctx context.Context) error { return nil }

func (f *scriptedTransport) Send(data []byte) error {
	select {
	case <-f.done:
		return cwerrors.TransportClosed(nil)
	default:
	}

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return err
	}
	req, ok := msg.(*protocol.Request)
	if !ok {
		// Notifications need no reply.
		return nil
	}

	if req.Method == protocol.MethodInitialize && f.answerHandshake {
		if f.rejectHandshake {
			resp, err := protocol.NewErrorResponse(req.ID, protocol.VersionMismatch,
				"unsupported protocol version", nil)
			if err != nil {
				panic(err)
			}
			f.deliver(resp)
			return nil
		}
		version := f.handshakeVersion
		if version == "" {
			version = protocol.Version
		}
		f.reply(req.ID, &protocol.InitializeResult{
			ProtocolVersion: version,
			ServerInfo:      &protocol.ServerInfo{Name: "scripted"},
			Capabilities:    map[string]bool{"tools": true},
		})
		return nil
	}

	f.requests <- req
	return nil
}

func (f *scriptedTransport) reply(id interface{}, result interface{}) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		panic(err)
	}
	f.deliver(resp)
}

func (f *scriptedTransport) deliver(msg protocol.Message) {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	h := f.receive
	f.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (f *scriptedTransport) SetReceiveHandler(h transport.ReceiveHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receive = h
}

func (f *scriptedTransport) SetErrorHandler(h transport.ErrorHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = h
}

func (f *scriptedTransport) Stop(ctx context.Context) error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *scriptedTransport) Done() <-chan struct{} { return f.done }
func (f *scriptedTransport) Err() error            { return nil }

func (f *scriptedTransport) nextRequest(t *testing.T) *protocol.Request {
	t.Helper()
	select {
	case req := <-f.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request within deadline")
		return nil
	}
}

func connectedSession(t *testing.T, ft *scriptedTransport, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	s := New(ft, opts...)
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, StateReady, s.State())
	return s
}

func TestConnectHandshake(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)
	defer s.Close(context.Background())

	require.NotNil(t, s.ServerInfo())
	assert.Equal(t, "scripted", s.ServerInfo().Name)
	assert.True(t, s.Capabilities()["tools"])
	assert.NotEmpty(t, s.ID())
}

func TestConnectHandshakeTimeout(t *testing.T) {
	ft := newScriptedTransport(false)
	s := New(ft, WithLogger(logging.Nop()), WithHandshakeTimeout(50*time.Millisecond))

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeHandshakeFailed))
	assert.Equal(t, StateClosed, s.State())
}

func TestConnectVersionRejectedByServer(t *testing.T) {
	ft := newScriptedTransport(true)
	ft.rejectHandshake = true
	s := New(ft, WithLogger(logging.Nop()))

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeHandshakeFailed))
	assert.Contains(t, err.Error(), "version mismatch")
	assert.Equal(t, StateClosed, s.State())
}

func TestConnectServerReportsWrongVersion(t *testing.T) {
	ft := newScriptedTransport(true)
	ft.handshakeVersion = "9.9"
	s := New(ft, WithLogger(logging.Nop()))

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeHandshakeFailed))
	assert.Contains(t, err.Error(), "version mismatch")
	assert.Equal(t, StateClosed, s.State())
}

func TestCallBeforeConnect(t *testing.T) {
	s := New(newScriptedTransport(true), WithLogger(logging.Nop()))
	_, err := s.CallTool(context.Background(), "anything", nil)
	require.Error(t, err)
}

func TestConcurrentCallsResolveOutOfOrder(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)
	defer s.Close(context.Background())

	type outcome struct {
		name   string
		result string
		err    error
	}
	results := make(chan outcome, 2)

	for _, name := range []string{"first", "second"} {
		go func(name string) {
			raw, err := s.CallTool(context.Background(), name, nil)
			var decoded string
			if err == nil {
				err = json.Unmarshal(raw, &decoded)
			}
			results <- outcome{name: name, result: decoded, err: err}
		}(name)
	}

	reqA := ft.nextRequest(t)
	reqB := ft.nextRequest(t)

	// Answer in reverse arrival order.
	ft.reply(reqB.ID, toolName(t, reqB)+" result")
	ft.reply(reqA.ID, toolName(t, reqA)+" result")

	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		assert.Equal(t, out.name+" result", out.result)
	}
}

func toolName(t *testing.T, req *protocol.Request) string {
	t.Helper()
	var params protocol.CallToolParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	return params.Name
}

func TestCallTimeoutThenLateResponseDiscarded(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft, WithCallTimeout(50*time.Millisecond))
	defer s.Close(context.Background())

	_, err := s.CallTool(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeCallTimeout))

	// The response arrives after the deadline; it must be dropped
	// without disturbing later calls.
	late := ft.nextRequest(t)
	ft.reply(late.ID, "too late")

	go func() {
		req := ft.nextRequest(t)
		ft.reply(req.ID, "on time")
	}()
	raw, err := s.CallTool(context.Background(), "fast", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"on time"`, string(raw))
}

func TestTransportDeathResolvesAllPending(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.CallTool(context.Background(), fmt.Sprintf("call-%d", n), nil)
			errs <- err
		}(i)
	}

	// Wait until all three are on the wire, then kill the transport.
	for i := 0; i < 3; i++ {
		ft.nextRequest(t)
	}
	require.NoError(t, ft.Stop(context.Background()))
	wg.Wait()

	close(errs)
	count := 0
	for err := range errs {
		require.Error(t, err)
		var wireErr *protocol.Error
		require.ErrorAs(t, err, &wireErr)
		assert.Equal(t, protocol.TransportClosed, wireErr.Code)
		count++
	}
	assert.Equal(t, 3, count)

	require.Eventually(t, func() bool { return s.State() == StateClosed },
		time.Second, 5*time.Millisecond)

	_, err := s.CallTool(context.Background(), "after", nil)
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeSessionClosed))
}

func TestCancelPendingCall(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)
	defer s.Close(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.CallTool(context.Background(), "parked", nil)
		errCh <- err
	}()

	req := ft.nextRequest(t)
	require.True(t, s.Cancel(req.ID))

	err := <-errCh
	require.Error(t, err)
	var wireErr *protocol.Error
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, protocol.Cancelled, wireErr.Code)

	// Cancelling an unknown id is a no-op.
	assert.False(t, s.Cancel(99999))
}

func TestUnmatchedResponseDropped(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)
	defer s.Close(context.Background())

	resp, err := protocol.NewResponse(424242, "nobody asked")
	require.NoError(t, err)
	ft.deliver(resp)

	// Session still works.
	go func() {
		req := ft.nextRequest(t)
		ft.reply(req.ID, "fine")
	}()
	raw, err := s.CallTool(context.Background(), "check", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"fine"`, string(raw))
}

func TestServerErrorPropagates(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)
	defer s.Close(context.Background())

	go func() {
		req := ft.nextRequest(t)
		resp, err := protocol.NewErrorResponse(req.ID, protocol.CapabilityNotFound, "tool 'ghost' not found", nil)
		require.NoError(t, err)
		ft.deliver(resp)
	}()

	_, err := s.CallTool(context.Background(), "ghost", nil)
	require.Error(t, err)
	var wireErr *protocol.Error
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, protocol.CapabilityNotFound, wireErr.Code)
}

func TestNotificationDelivery(t *testing.T) {
	ft := newScriptedTransport(true)
	var mu sync.Mutex
	var got string
	s := connectedSession(t, ft, WithNotificationHandler(func(method string, params json.RawMessage) {
		mu.Lock()
		got = method
		mu.Unlock()
	}))
	defer s.Close(context.Background())

	notif, err := protocol.NewNotification("report/ready", map[string]string{"uri": "report://monthly"})
	require.NoError(t, err)
	ft.deliver(notif)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "report/ready"
	}, time.Second, 5*time.Millisecond)
}

func TestListingsAreMemoized(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)
	defer s.Close(context.Background())

	var listCalls atomic.Int32
	go func() {
		for req := range ft.requests {
			listCalls.Add(1)
			ft.reply(req.ID, &protocol.ListToolsResult{
				Tools: []protocol.CapabilityDescriptor{
					{Kind: protocol.KindTool, Name: "fetch_sales_data"},
				},
			})
		}
	}()

	first, err := s.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Give a hypothetical second wire call time to show up.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), listCalls.Load())
}

func TestCloseIsTerminal(t *testing.T) {
	ft := newScriptedTransport(true)
	s := connectedSession(t, ft)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateClosed, s.State())

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeSessionClosed))

	_, err = s.CallTool(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeSessionClosed))

	// Close twice is fine.
	assert.NoError(t, s.Close(context.Background()))
}
