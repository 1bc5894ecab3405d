package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/casetrace/casetrace/internal/analysis"
	"github.com/casetrace/casetrace/internal/config"
	"github.com/casetrace/casetrace/internal/home"
	"github.com/casetrace/casetrace/internal/store"
)

func newTestConfig(t *testing.T) (*home.Dir, *config.Manager) {
	t.Helper()

	dir, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New: %v", err)
	}
	mgr, err := config.NewManager("")
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	return dir, mgr
}

func TestNew_Validation(t *testing.T) {
	dir, mgr := newTestConfig(t)

	if _, err := New(Config{ConfigManager: mgr}); err == nil {
		t.Error("expected error without home directory")
	}
	if _, err := New(Config{Home: dir}); err == nil {
		t.Error("expected error without config manager")
	}
	s, err := New(Config{Home: dir, ConfigManager: mgr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Addr() != "127.0.0.1:8080" {
		t.Errorf("addr = %q, want default", s.Addr())
	}
	if s.IsRunning() {
		t.Error("new server should not be running")
	}
}

func TestRequireInit_BeforeStart(t *testing.T) {
	dir, mgr := newTestConfig(t)

	s, err := New(Config{Home: dir, ConfigManager: mgr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/jobs", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected an error message")
	}
}

func TestStartAndShutdown(t *testing.T) {
	dir, mgr := newTestConfig(t)

	s, err := New(Config{
		Host:          "127.0.0.1",
		Port:          "0",
		Home:          dir,
		ConfigManager: mgr,
		Store:         store.NewMemoryStore(),
		Analyzer:      &analysis.MockGateway{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.After(5 * time.Second)
	for !s.IsRunning() {
		select {
		case err := <-done:
			t.Fatalf("server exited early: %v", err)
		case <-deadline:
			t.Fatal("server never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Services wired once started
	if s.Store() == nil || s.JobManager() == nil || s.Engine() == nil {
		t.Error("services not initialized after start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if s.IsRunning() {
		t.Error("server still marked running after shutdown")
	}

	// A second start on the same instance is allowed once stopped
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if err := s.Start(ctx2); err != nil {
		t.Fatalf("restart: %v", err)
	}
}
