package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"conclave/internal/adapter/storage"
	"conclave/internal/adapter/tool"
	"conclave/internal/domain"
	"conclave/internal/usecase/eventbus"
	"conclave/internal/usecase/multiagent"
)

// stubLLM answers the orchestrator ("ORCH" prompt) from a queue and every
// specialist with "noted".
type stubLLM struct {
	mu    sync.Mutex
	queue []domain.Message

	// When gate is set, orchestrator calls signal entered and block until
	// the gate is closed or their context ends.
	gate    chan struct{}
	entered chan struct{}
}

func (l *stubLLM) hold() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gate = make(chan struct{})
	l.entered = make(chan struct{}, 8)
}

func (l *stubLLM) push(msgs ...domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, msgs...)
}

func (l *stubLLM) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	l.mu.Lock()
	gate, entered := l.gate, l.entered
	l.mu.Unlock()
	if gate != nil && req.System == "ORCH" {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if req.System != "ORCH" || len(l.queue) == 0 {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "noted"}}, nil
	}
	msg := l.queue[0]
	l.queue = l.queue[1:]
	return &domain.ChatResponse{Message: msg}, nil
}

func (l *stubLLM) Name() string { return "stub" }

func reply(text string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: text}
}

func toolCall(name string, args map[string]string) domain.Message {
	raw, _ := json.Marshal(args)
	return domain.Message{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{Name: name, Arguments: raw}}}
}

type testGateway struct {
	srv  *Server
	llm  *stubLLM
	host *multiagent.Host
}

func startTestServer(t *testing.T, opts Options, tokens ...Token) *testGateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)

	orchTools, err := tool.NewOrchestratorRegistry(logger)
	require.NoError(t, err)
	specTools, err := tool.NewSpecialistRegistry(logger, bus)
	require.NoError(t, err)

	llm := &stubLLM{}
	host := multiagent.NewHost(multiagent.HostConfig{
		State:              storage.NewMemoryStateStore(),
		Bucket:             storage.NewMemoryBucket(),
		LLM:                llm,
		OrchestratorTools:  orchTools,
		SpecialistTools:    specTools,
		Bus:                bus,
		Logger:             logger,
		OrchestratorPrompt: "ORCH",
		SpecialistPrompt:   "RESEARCH {name}",
	})
	t.Cleanup(host.Wait)

	opts.Addr = "127.0.0.1:0"
	opts.Logger = logger
	srv := NewServer(bus, NewAuthenticator(tokens), opts)
	RegisterDefaultHandlers(srv, HandlerDeps{Host: host, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-srv.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start in time")
	}
	return &testGateway{srv: srv, llm: llm, host: host}
}

type wsClient struct {
	t         *testing.T
	ws        *websocket.Conn
	nextID    uint64
	events    []Frame
	responses map[uint64]Frame
}

func dial(t *testing.T, addr, query string, header http.Header) (*wsClient, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws"+query, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return &wsClient{t: t, ws: ws, responses: make(map[uint64]Frame)}, nil
}

func (c *wsClient) read() Frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f Frame
	require.NoError(c.t, wsjson.Read(ctx, c.ws, &f))
	return f
}

// send writes a request without waiting for its response.
func (c *wsClient) send(method string, payload any) uint64 {
	c.t.Helper()
	c.nextID++
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.ws, Frame{Type: FrameTypeRequest, ID: c.nextID, Method: method, Payload: raw}))
	return c.nextID
}

// await returns the response to request id. Other frames read on the way
// are kept for later await and waitEvent calls.
func (c *wsClient) await(id uint64) Frame {
	c.t.Helper()
	if f, ok := c.responses[id]; ok {
		delete(c.responses, id)
		return f
	}
	for {
		f := c.read()
		switch {
		case f.Type == FrameTypeResponse && f.ID == id:
			return f
		case f.Type == FrameTypeResponse:
			c.responses[f.ID] = f
		case f.Type == FrameTypeEvent:
			c.events = append(c.events, f)
		}
	}
}

// call sends a request and returns its response.
func (c *wsClient) call(method string, payload any) Frame {
	c.t.Helper()
	return c.await(c.send(method, payload))
}

func (c *wsClient) waitEvent(name string) Frame {
	c.t.Helper()
	for i, f := range c.events {
		if f.Event == name {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return f
		}
	}
	for {
		f := c.read()
		if f.Type == FrameTypeEvent && f.Event == name {
			return f
		}
	}
}

func TestServerHealthz(t *testing.T) {
	gw := startTestServer(t, Options{})
	resp, err := http.Get("http://" + gw.srv.BoundAddr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestServerAuth(t *testing.T) {
	gw := startTestServer(t, Options{}, Token{Token: "test-token", Name: "tester"})
	addr := gw.srv.BoundAddr()

	_, err := dial(t, addr, "?token=bad-token", nil)
	assert.Error(t, err)
	_, err = dial(t, addr, "", nil)
	assert.Error(t, err)

	_, err = dial(t, addr, "?token=test-token", nil)
	assert.NoError(t, err)
	_, err = dial(t, addr, "", http.Header{"Authorization": []string{"Bearer test-token"}})
	assert.NoError(t, err)
}

func TestChatSendStreamsAndReplies(t *testing.T) {
	gw := startTestServer(t, Options{})
	gw.llm.push(reply("hello there"))
	c, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)

	resp := c.call(MethodChatSend, chatSendRequest{SessionID: "s1", Content: "hi"})
	require.Empty(t, resp.Error)

	var out chatSendResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.Equal(t, "hello there", out.Reply)
	assert.Equal(t, "s1", out.SessionID)
	assert.NotEmpty(t, out.StreamID)

	var delta StreamFrame
	require.NoError(t, json.Unmarshal(c.waitEvent(EventStreamDelta).Payload, &delta))
	assert.Equal(t, out.StreamID, delta.StreamID)
	assert.Equal(t, "hello there", delta.Content)

	hist := c.call(MethodChatHistory, sessionRequest{SessionID: "s1"})
	require.Empty(t, hist.Error)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(hist.Payload, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello there", msgs[1].Content)
}

func TestChatSendDelegationForwardsEvents(t *testing.T) {
	gw := startTestServer(t, Options{})
	gw.llm.push(
		toolCall("create_agent", map[string]string{"name": "Alpha", "description": "market research", "message": "start"}),
		reply("Alpha is on it."),
	)
	c, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)

	resp := c.call(MethodChatSend, chatSendRequest{SessionID: "s1", Content: "research the market"})
	require.Empty(t, resp.Error)

	created := c.waitEvent(string(domain.EventAgentCreated))
	var ev domain.Event
	require.NoError(t, json.Unmarshal(created.Payload, &ev))
	assert.Equal(t, "s1", ev.SessionID)

	list := c.call(MethodAgentsList, sessionRequest{SessionID: "s1"})
	require.Empty(t, list.Error)
	var entries []domain.RegistryEntry
	require.NoError(t, json.Unmarshal(list.Payload, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", entries[0].ID)

	hist := c.call(MethodAgentsHistory, agentRequest{SessionID: "s1", AgentID: "alpha"})
	require.Empty(t, hist.Error)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(hist.Payload, &msgs))
	assert.NotEmpty(t, msgs)

	// Another session cannot read s1's specialist.
	other := c.call(MethodAgentsHistory, agentRequest{SessionID: "s2", AgentID: "alpha"})
	assert.Equal(t, domain.CodeAgentNotFound, other.Code)
}

func TestRPCErrors(t *testing.T) {
	gw := startTestServer(t, Options{})
	c, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		method  string
		payload any
		code    domain.ErrorCode
	}{
		{"unknown method", "nope", map[string]string{}, domain.CodeRPCMethodNotFound},
		{"missing session", MethodChatSend, chatSendRequest{Content: "hi"}, domain.CodeRPCInvalidPayload},
		{"blank content", MethodChatSend, chatSendRequest{SessionID: "s1", Content: "  "}, domain.CodeRPCInvalidPayload},
		{"unknown specialist", MethodAgentsHistory, agentRequest{SessionID: "s1", AgentID: "ghost"}, domain.CodeAgentNotFound},
		{"agent history without session", MethodAgentsHistory, agentRequest{AgentID: "ghost"}, domain.CodeRPCInvalidPayload},
		{"unknown tool call", MethodChatConfirm, chatConfirmRequest{SessionID: "s1", ToolCallID: "call_x", Approved: true}, domain.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.call(tt.method, tt.payload)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestChatAbortWithoutActiveRequest(t *testing.T) {
	gw := startTestServer(t, Options{})
	c, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)

	resp := c.call(MethodChatAbort, sessionRequest{SessionID: "idle"})
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"aborted":false}`, string(resp.Payload))
}

func TestChatAbortCancelsOwnRequestOnly(t *testing.T) {
	gw := startTestServer(t, Options{})
	gw.llm.hold()
	owner, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)
	other, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)

	sendID := owner.send(MethodChatSend, chatSendRequest{SessionID: "s1", Content: "slow question"})
	select {
	case <-gw.llm.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("chat turn did not start")
	}

	resp := other.call(MethodChatAbort, sessionRequest{SessionID: "s1"})
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"aborted":false}`, string(resp.Payload))

	resp = owner.call(MethodChatAbort, sessionRequest{SessionID: "s1"})
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"aborted":true,"count":1}`, string(resp.Payload))

	sent := owner.await(sendID)
	assert.NotEmpty(t, sent.Error)
}

func TestActiveRequestsConcurrentSends(t *testing.T) {
	active := newActiveRequests()
	var cancelled []string
	cancelFor := func(name string) context.CancelFunc {
		return func() { cancelled = append(cancelled, name) }
	}

	doneFirst := active.start(1, "stream-a", "s1", cancelFor("a"))
	doneSecond := active.start(1, "stream-b", "s1", cancelFor("b"))

	// The first send finishing must not forget the second.
	doneFirst()
	assert.Equal(t, 0, active.abort(2, "s1", ""), "other connections cannot abort")
	assert.Equal(t, 0, active.abort(1, "s2", ""))
	assert.Equal(t, 1, active.abort(1, "s1", ""))
	assert.Equal(t, []string{"b"}, cancelled)

	doneSecond()
	assert.Equal(t, 0, active.abort(1, "s1", ""))
}

func TestActiveRequestsAbortByStream(t *testing.T) {
	active := newActiveRequests()
	var cancelled []string
	cancelFor := func(name string) context.CancelFunc {
		return func() { cancelled = append(cancelled, name) }
	}
	active.start(1, "stream-a", "s1", cancelFor("a"))
	active.start(1, "stream-b", "s1", cancelFor("b"))

	assert.Equal(t, 1, active.abort(1, "s1", "stream-b"))
	assert.Equal(t, []string{"b"}, cancelled)
	assert.Equal(t, 2, active.abort(1, "s1", ""))
}

func TestPerConnectionRateLimit(t *testing.T) {
	gw := startTestServer(t, Options{RequestsPerSecond: 0.001, Burst: 2})
	c, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)

	first := c.call(MethodAgentsList, sessionRequest{SessionID: "s1"})
	second := c.call(MethodAgentsList, sessionRequest{SessionID: "s1"})
	third := c.call(MethodAgentsList, sessionRequest{SessionID: "s1"})

	assert.Empty(t, first.Error)
	assert.Empty(t, second.Error)
	assert.Equal(t, domain.CodeRateLimit, third.Code)
}

func TestStopClosesClients(t *testing.T) {
	gw := startTestServer(t, Options{})
	c, err := dial(t, gw.srv.BoundAddr(), "", nil)
	require.NoError(t, err)

	require.NoError(t, gw.srv.Stop(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var f Frame
	err = wsjson.Read(ctx, c.ws, &f)
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "deadline"), err.Error())
}
