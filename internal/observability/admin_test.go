package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pvbridge/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

type stubSource struct {
	status Status
	vars   []VariableStatus
}

func (s stubSource) Status() Status              { return s.status }
func (s stubSource) Variables() []VariableStatus { return s.vars }

func get(t *testing.T, a *Admin, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	src := stubSource{
		status: Status{State: "connected", ConnID: "c-1", Ready: true},
		vars: []VariableStatus{
			{Name: "example:ai", Kind: "f64", Direction: "input", Policy: "every", Commits: 3},
		},
	}
	a := NewAdmin("pvbridge", "127.0.0.1:0", nil, src)

	rr := get(t, a, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = get(t, a, "/ready")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", rr.Code)
	}
	var ready map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if ready["conn_id"] != "c-1" || ready["state"] != "connected" {
		t.Fatalf("unexpected ready body: %#v", ready)
	}

	rr = get(t, a, "/variables")
	var body struct {
		Variables []VariableStatus `json:"variables"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode variables: %v", err)
	}
	if len(body.Variables) != 1 || body.Variables[0].Commits != 3 {
		t.Fatalf("unexpected variables: %#v", body.Variables)
	}

	rr = get(t, a, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pvbridge_http_requests_total") {
		t.Fatalf("metrics endpoint missing request counter, code=%d", rr.Code)
	}
	log.Debug().Msg("observability/admin: health ready variables metrics served")
}

func TestAdminReadyUnavailable(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("pvbridge", "127.0.0.1:0", []string{"http://example.test"}, stubSource{status: Status{State: "idle"}})
	rr := get(t, a, "/ready")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while not ready, got %d", rr.Code)
	}
}

func TestAdminRequestID(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("pvbridge", "127.0.0.1:0", nil, stubSource{})

	rr := get(t, a, "/health")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}
}

func TestAdminServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("pvbridge", "127.0.0.1:0", nil, stubSource{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("admin did not stop")
	}
}
