package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-inspect/internal/log"
	"github.com/teslashibe/go-inspect/pkg/bridge"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Config{StaticDir: t.TempDir(), Logger: log.Discard()})
}

func doJSON(t *testing.T, s *Server, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestLogPanesAreSeparate(t *testing.T) {
	s := newTestServer(t)
	s.Log(bridge.TagStdout, "running")
	s.Log(bridge.TagStatus, "Status: ok | Score: 0.500 | Frame: 1")
	s.Log(bridge.TagStderr, "warning: slow")

	var logs, statuses []LogEntry
	doJSON(t, s, "GET", "/api/logs", "", &logs)
	doJSON(t, s, "GET", "/api/statuses", "", &statuses)

	if len(logs) != 2 || logs[0].Prefix != "[PY OUT]" || logs[1].Tag != "stderr" {
		t.Errorf("logs = %+v", logs)
	}
	if len(statuses) != 1 || statuses[0].Message != "Status: ok | Score: 0.500 | Frame: 1" {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestRingKeepsNewest(t *testing.T) {
	r := newRing()
	for i := 0; i < maxEntries+10; i++ {
		r.add(LogEntry{Message: fmt.Sprint(i)})
	}
	got := r.snapshot()
	if len(got) != maxEntries {
		t.Fatalf("len = %d, want %d", len(got), maxEntries)
	}
	if got[0].Message != "10" || got[len(got)-1].Message != fmt.Sprint(maxEntries+9) {
		t.Errorf("window = %s..%s", got[0].Message, got[len(got)-1].Message)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.OnStatus = func() any { return map[string]string{"bridge": "running"} }
	s.ShowOverlay(bridge.Overlay{
		Image:  image.NewRGBA(image.Rect(0, 0, 8, 4)),
		Data:   []byte{1},
		Format: "png",
		Status: "ok",
		Seq:    3,
	})

	var resp struct {
		App         map[string]string `json:"app"`
		LastOverlay *OverlayInfo      `json:"last_overlay"`
		Viewers     map[string]int    `json:"viewers"`
	}
	if code := doJSON(t, s, "GET", "/api/status", "", &resp); code != 200 {
		t.Fatalf("status %d", code)
	}
	if resp.App["bridge"] != "running" {
		t.Errorf("app = %v", resp.App)
	}
	if resp.LastOverlay == nil || resp.LastOverlay.Seq != 3 || resp.LastOverlay.Width != 8 {
		t.Errorf("last overlay = %+v", resp.LastOverlay)
	}
	if _, ok := resp.Viewers["live"]; !ok {
		t.Errorf("viewers = %v", resp.Viewers)
	}
}

func TestBridgeActions(t *testing.T) {
	s := newTestServer(t)

	if code := doJSON(t, s, "POST", "/api/bridge/start", "", nil); code != 503 {
		t.Errorf("unconfigured start = %d, want 503", code)
	}

	var calls []string
	s.OnBridgeAction = func(action string) error {
		calls = append(calls, action)
		if action == "start" && len(calls) > 1 {
			return bridge.ErrAlreadyRunning
		}
		if action == "restart" {
			return errors.New("spawn failed")
		}
		return nil
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/bridge/start", 200},
		{"/api/bridge/start", 409},
		{"/api/bridge/stop", 200},
		{"/api/bridge/restart", 500},
		{"/api/bridge/explode", 404},
	}
	for _, tc := range tests {
		if code := doJSON(t, s, "POST", tc.path, "", nil); code != tc.want {
			t.Errorf("POST %s = %d, want %d", tc.path, code, tc.want)
		}
	}

	if strings.Join(calls, ",") != "start,start,stop,restart" {
		t.Errorf("calls = %v", calls)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t)
	settings := map[string]any{"sample_interval": float64(5)}
	s.OnGetSettings = func() any { return settings }
	s.OnUpdateSettings = func(u map[string]any) (any, error) {
		if v, ok := u["sample_interval"].(float64); ok && v < 1 {
			return nil, errors.New("sample_interval must be >= 1")
		}
		for k, v := range u {
			settings[k] = v
		}
		return settings, nil
	}

	var got map[string]any
	if code := doJSON(t, s, "PATCH", "/api/settings", `{"sample_interval":3}`, &got); code != 200 {
		t.Fatalf("PATCH = %d", code)
	}
	if got["sample_interval"] != float64(3) {
		t.Errorf("settings = %v", got)
	}

	var errBody map[string]string
	if code := doJSON(t, s, "PATCH", "/api/settings", `{"sample_interval":0}`, &errBody); code != 400 {
		t.Errorf("invalid PATCH = %d, want 400", code)
	}
	if !strings.Contains(errBody["error"], "sample_interval") {
		t.Errorf("error body = %v", errBody)
	}

	doJSON(t, s, "GET", "/api/settings", "", &got)
	if got["sample_interval"] != float64(3) {
		t.Errorf("GET settings = %v", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "inspect_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(2)

	s := NewServer(Config{StaticDir: t.TempDir(), Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), Logger: log.Discard()})
	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "inspect_test_total 2") {
		t.Errorf("metrics body = %s", body)
	}
}

func TestStaticIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<title>inspect</title>"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewServer(Config{StaticDir: dir, Logger: log.Discard()})

	resp, err := s.App().Test(httptest.NewRequest("GET", "/", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), "inspect") {
		t.Errorf("GET / = %d %q", resp.StatusCode, body)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/logs", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("plain GET /ws/logs = %d, want 426", resp.StatusCode)
	}
}

func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		s.Shutdown()
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func waitClients(t *testing.T, n func() int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for n() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLogsWebSocket(t *testing.T) {
	s := newTestServer(t)
	s.Log(bridge.TagStatus, "Status: ok | Score: 0.100 | Frame: 1")
	s.Log(bridge.TagInfo, "before connect")
	addr := serve(t, s)

	conn := dial(t, addr, "/ws/logs")

	var e LogEntry
	for _, want := range []string{"Status: ok | Score: 0.100 | Frame: 1", "before connect"} {
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("backlog: %v", err)
		}
		if e.Message != want {
			t.Errorf("backlog entry = %q, want %q", e.Message, want)
		}
	}

	waitClients(t, s.logHub.ClientCount)
	s.Log(bridge.TagError, "after connect")
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("live: %v", err)
	}
	if e.Message != "after connect" || e.Prefix != "[ERROR]" {
		t.Errorf("live entry = %+v", e)
	}
}

func TestLogsWebSocketWhileLogging(t *testing.T) {
	s := newTestServer(t)
	addr := serve(t, s)

	const n = 300
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			s.Log(bridge.TagInfo, fmt.Sprintf("line %d", i))
			time.Sleep(time.Millisecond)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	conn := dial(t, addr, "/ws/logs")
	<-done
	s.Log(bridge.TagInfo, "end")

	// Backlog and live entries together are every line once, in order.
	var e LogEntry
	for i := 0; ; i++ {
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("after %d entries: %v", i, err)
		}
		if e.Message == "end" {
			if i != n {
				t.Errorf("got %d lines before end, want %d", i, n)
			}
			return
		}
		if want := fmt.Sprintf("line %d", i); e.Message != want {
			t.Fatalf("entry %d = %q, want %q", i, e.Message, want)
		}
	}
}

func TestOverlayWebSocketReplaysLatest(t *testing.T) {
	s := newTestServer(t)
	addr := serve(t, s)

	s.ShowOverlay(bridge.Overlay{Data: []byte("first"), Seq: 1})
	s.ShowOverlay(bridge.Overlay{Data: []byte("second"), Seq: 2})

	conn := dial(t, addr, "/ws/overlay")
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if mt != websocket.BinaryMessage || string(data) != "second" {
		t.Errorf("got %d %q, want the latest overlay as binary", mt, data)
	}
}
