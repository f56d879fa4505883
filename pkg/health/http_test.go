package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPChecker_HealthyEndpoint(t *testing.T) {
	// Create test HTTP server that returns 200 OK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}

	if result.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestHTTPChecker_UnhealthyEndpoint(t *testing.T) {
	// Create test HTTP server that returns 500 Internal Server Error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Errorf("Expected unhealthy, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_CustomStatusRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated) // 201
	}))
	defer server.Close()

	// Accept only 200-299
	checker := NewHTTPChecker(server.URL).WithStatusRange(200, 299)

	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("Expected healthy for 201 status, got unhealthy: %s", result.Message)
	}
}

func TestHTTPChecker_ConnectionRefused(t *testing.T) {
	// Port 1 should refuse connections
	checker := NewHTTPChecker("http://127.0.0.1:1/healthz")

	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("Expected unhealthy for refused connection")
	}
}

func TestTCPChecker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	addr := server.Listener.Addr().String()
	checker := NewTCPChecker(addr)

	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("Expected healthy TCP check against %s: %s", addr, result.Message)
	}

	refused := NewTCPChecker("127.0.0.1:1")
	result = refused.Check(context.Background())
	if result.Healthy {
		t.Error("Expected unhealthy TCP check for refused connection")
	}
}

func TestExecChecker(t *testing.T) {
	ok := NewExecChecker([]string{"true"})
	if result := ok.Check(context.Background()); !result.Healthy {
		t.Errorf("Expected healthy for exit 0: %s", result.Message)
	}

	fail := NewExecChecker([]string{"false"})
	if result := fail.Check(context.Background()); result.Healthy {
		t.Error("Expected unhealthy for exit 1")
	}

	empty := NewExecChecker(nil)
	if result := empty.Check(context.Background()); result.Healthy {
		t.Error("Expected unhealthy for empty command")
	}
}
