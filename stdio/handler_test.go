package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/salon-mcp/broker/memorybroker"
	"github.com/ggoodman/salon-mcp/internal/engine"
	"github.com/ggoodman/salon-mcp/mcp"
	"github.com/ggoodman/salon-mcp/mcpservice"
)

type echoArgs struct {
	Text string `json:"text"`
}

type noArgs struct{}

func newEngine(t *testing.T) (*engine.Engine, *memorybroker.Broker) {
	t.Helper()
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "stdio-test", Version: "0.0.1"}),
		mcpservice.WithToolsContainer(mcpservice.NewToolsContainer(
			mcpservice.NewTool("echo", func(ctx context.Context, a echoArgs) (string, error) {
				mcpservice.MarkChanged(ctx)
				return a.Text, nil
			}, mcpservice.WithToolTouches("test://echo")),
			mcpservice.NewTool("boom", func(ctx context.Context, _ noArgs) (string, error) {
				panic("kaboom")
			}),
			mcpservice.NewTool("wait", func(ctx context.Context, _ noArgs) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
		)),
	)
	outbox := memorybroker.New()
	eng, err := engine.NewEngine(srv, engine.WithLogger(quietLogger()), engine.WithBroker(outbox))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, outbox
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// serveAll feeds input to a fresh handler and returns each output line.
func serveAll(t *testing.T, input string) []envelope {
	t.Helper()
	eng, outbox := newEngine(t)
	var out bytes.Buffer
	h, err := New(eng, WithIO(strings.NewReader(input), &out), WithLogger(quietLogger()), WithBroker(outbox))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	return parseLines(t, out.String())
}

func parseLines(t *testing.T, s string) []envelope {
	t.Helper()
	var envs []envelope
	for _, line := range strings.Split(strings.TrimSuffix(s, "\n"), "\n") {
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Fatalf("output line is not JSON: %q: %v", line, err)
		}
		envs = append(envs, env)
	}
	return envs
}

func byID(envs []envelope) map[string]envelope {
	m := make(map[string]envelope, len(envs))
	for _, e := range envs {
		if len(e.ID) > 0 {
			m[string(e.ID)] = e
		}
	}
	return m
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil engine")
	}
	eng, _ := newEngine(t)
	if _, err := New(eng, WithMaxMessageBytes(0)); err == nil {
		t.Fatal("expected error for zero message limit")
	}
	h, err := New(eng, WithSessionID("fixed"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := h.SessionID(); got != "fixed" {
		t.Fatalf("SessionID() = %q", got)
	}
}

func TestServeRequests(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":"two","method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"nope"}`,
	}, "\n")

	envs := serveAll(t, input)
	if len(envs) != 3 {
		t.Fatalf("got %d output lines, want 3: %+v", len(envs), envs)
	}
	got := byID(envs)

	var init struct {
		ServerInfo mcp.ImplementationInfo `json:"serverInfo"`
	}
	if err := json.Unmarshal(got["1"].Result, &init); err != nil {
		t.Fatalf("initialize result: %v", err)
	}
	if want, got := "stdio-test", init.ServerInfo.Name; want != got {
		t.Fatalf("serverInfo.name: want %q, got %q", want, got)
	}

	var list struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(got[`"two"`].Result, &list); err != nil {
		t.Fatalf("tools/list result: %v", err)
	}
	if want, got := 3, len(list.Tools); want != got {
		t.Fatalf("tools: want %d, got %d", want, got)
	}

	if e := got["3"]; e.Error == nil || e.Error.Code != -32601 {
		t.Fatalf("unknown method: %+v", e)
	}
}

func TestServeMalformedInput(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantCode int
		wantID   string
	}{
		{"not json", `{"jsonrpc":`, -32700, "null"},
		{"array", `[{"jsonrpc":"2.0","id":1,"method":"tools/list"}]`, -32600, "null"},
		{"id without method", `{"jsonrpc":"2.0","id":7}`, -32600, "7"},
		{"wrong version", `{"jsonrpc":"1.0","id":8,"method":"tools/list"}`, -32600, "8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envs := serveAll(t, tc.line+"\n")
			if len(envs) != 1 {
				t.Fatalf("got %d lines, want 1", len(envs))
			}
			e := envs[0]
			if e.Error == nil || e.Error.Code != tc.wantCode {
				t.Fatalf("error = %+v, want code %d", e.Error, tc.wantCode)
			}
			if want, got := tc.wantID, string(e.ID); want != got {
				t.Fatalf("id: want %s, got %s", want, got)
			}
		})
	}
}

func TestServeWritesOutboxAfterResponse(t *testing.T) {
	envs := serveAll(t, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`+"\n")
	if len(envs) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(envs), envs)
	}
	if want, got := "5", string(envs[0].ID); want != got {
		t.Fatalf("first line id: want %s, got %s", want, got)
	}
	if want, got := string(mcp.ResourcesUpdatedNotificationMethod), envs[1].Method; want != got {
		t.Fatalf("second line method: want %q, got %q", want, got)
	}
	if !strings.Contains(string(envs[1].Params), "test://echo") {
		t.Fatalf("notification params = %s", envs[1].Params)
	}
}

func TestServeRecoversPanics(t *testing.T) {
	envs := serveAll(t, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"boom","arguments":{}}}`+"\n")
	if len(envs) != 1 {
		t.Fatalf("got %d lines, want 1", len(envs))
	}
	if e := envs[0]; e.Error == nil || e.Error.Code != -32603 || string(e.ID) != "9" {
		t.Fatalf("panic response = %+v", e)
	}
}

func TestServeCancelledRequest(t *testing.T) {
	eng, outbox := newEngine(t)
	inR, inW := io.Pipe()
	var out lockedBuffer
	h, err := New(eng, WithIO(inR, &out), WithLogger(quietLogger()), WithBroker(outbox))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background()) }()

	io.WriteString(inW, `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"wait","arguments":{}}}`+"\n")
	time.Sleep(20 * time.Millisecond)
	io.WriteString(inW, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":11,"reason":"user"}}`+"\n")
	inW.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after EOF")
	}

	envs := parseLines(t, out.String())
	if len(envs) != 1 || envs[0].Error == nil || string(envs[0].ID) != "11" {
		t.Fatalf("cancelled request output = %+v", envs)
	}
}

func TestServeContextCancel(t *testing.T) {
	eng, _ := newEngine(t)
	inR, inW := io.Pipe()
	defer inW.Close()
	h, err := New(eng, WithIO(inR, io.Discard), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if err := h.Serve(context.Background()); err == nil {
		t.Fatal("second Serve should fail")
	}
}

func TestServeLineTooLong(t *testing.T) {
	eng, _ := newEngine(t)
	long := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"pad":"` + strings.Repeat("x", 256) + `"}}` + "\n"
	h, err := New(eng, WithIO(strings.NewReader(long), io.Discard), WithLogger(quietLogger()), WithMaxMessageBytes(64))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Serve(context.Background()); err == nil {
		t.Fatal("expected read error for oversized line")
	}
}
