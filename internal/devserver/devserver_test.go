package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const testPage = "<!doctype html><html><body><h1>red</h1></body></html>"

func newTestRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":       testPage,
		"red-1a2b3c4d.css": "body{background:red}",
		"nested/page.html": "<p>no body tag</p>",
		".env":             "SECRET=1",
		".git/config":      "[core]",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func startServer(t *testing.T) *Server {
	t.Helper()
	s := New(Options{Root: newTestRoot(t), Port: 0})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestInjectReloadScript(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"before body", "<body>x</body></html>", "<body>x" + reloadScript + "</body></html>"},
		{"uppercase", "<BODY>x</BODY>", "<BODY>x" + reloadScript + "</BODY>"},
		{"last body wins", "<body>\"</body>\"</body>", "<body>\"</body>\"" + reloadScript + "</body>"},
		{"no body", "<p>x</p>", "<p>x</p>" + reloadScript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(injectReloadScript([]byte(tt.page))); got != tt.want {
				t.Errorf("injectReloadScript() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileHandler(t *testing.T) {
	s := New(Options{Root: newTestRoot(t)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	tests := []struct {
		path       string
		wantStatus int
		contains   string
		injected   bool
	}{
		{"/", http.StatusOK, "<h1>red</h1>", true},
		{"/index.html", http.StatusOK, "<h1>red</h1>", true},
		{"/nested/page.html", http.StatusOK, "no body tag", true},
		{"/red-1a2b3c4d.css", http.StatusOK, "background:red", false},
		{"/missing.html", http.StatusNotFound, "", false},
		{"/.env", http.StatusNotFound, "", false},
		{"/.git/config", http.StatusNotFound, "", false},
		{"/nested/../.env", http.StatusNotFound, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
			if !strings.Contains(body, tt.contains) {
				t.Errorf("body = %q, want it to contain %q", body, tt.contains)
			}
			if got := strings.Contains(body, reloadPath); got != tt.injected {
				t.Errorf("reload script injected = %v, want %v", got, tt.injected)
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	s := New(Options{Root: newTestRoot(t), Port: 0})
	if s.State() != StateOffline {
		t.Errorf("State() = %s, want %s", s.State(), StateOffline)
	}

	ts := httptest.NewServer(s.Handler())
	resp, _ := get(t, ts.URL+healthPath)
	ts.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health before Start = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != StateOnline {
		t.Errorf("State() = %s, want %s", s.State(), StateOnline)
	}
	if s.Port() == 0 {
		t.Errorf("Port() = 0 after Start")
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	resp, body := get(t, s.URL()+strings.TrimPrefix(healthPath, "/"))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(body) != string(StateOnline) {
		t.Errorf("health = %d %q, want 200 online", resp.StatusCode, body)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopping {
		t.Errorf("State() = %s, want %s", s.State(), StateStopping)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() after Stop error = %v, want %v", err, ErrAlreadyStarted)
	}
}

func dialReload(t *testing.T, s *Server) (*websocket.Conn, message) {
	t.Helper()
	url := strings.Replace(s.URL(), "http://", "ws://", 1) + strings.TrimPrefix(reloadPath, "/")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("reading hello: %v", err)
	}
	return conn, hello
}

func TestReload(t *testing.T) {
	s := startServer(t)
	first, hello1 := dialReload(t, s)
	second, hello2 := dialReload(t, s)

	for _, hello := range []message{hello1, hello2} {
		if hello.Type != messageHello {
			t.Errorf("first message type = %q, want %q", hello.Type, messageHello)
		}
		if _, err := uuid.Parse(hello.ID); err != nil {
			t.Errorf("client id %q is not a uuid: %v", hello.ID, err)
		}
	}
	if hello1.ID == hello2.ID {
		t.Errorf("clients share id %s", hello1.ID)
	}

	s.Reload()

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading reload: %v", err)
		}
		if msg.Type != messageReload {
			t.Errorf("message type = %q, want %q", msg.Type, messageReload)
		}
	}

	_, body := get(t, s.URL()+strings.TrimPrefix(metricsPath, "/"))
	for _, want := range []string{"zoetrope_reloads_total 1", "zoetrope_reload_clients 2"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	s := startServer(t)
	conn, _ := dialReload(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Errorf("ReadMessage() after Stop: want error")
	}
	s.Reload()
}

func TestObserveBuild(t *testing.T) {
	s := New(Options{Root: t.TempDir()})
	s.ObserveBuild(120*time.Millisecond, nil)
	s.ObserveBuild(80*time.Millisecond, errors.New("boom"))
	s.ObserveBuild(90*time.Millisecond, nil)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	_, body := get(t, ts.URL+metricsPath)

	for _, want := range []string{
		`zoetrope_builds_total{outcome="success"} 2`,
		`zoetrope_builds_total{outcome="failure"} 1`,
		"zoetrope_build_duration_seconds_count 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
