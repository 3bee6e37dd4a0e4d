package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

// freePort asks the kernel for an unused TCP port. There is an unavoidable
// window between releasing and rebinding it, acceptable in tests.
func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}

func startCallbackServer(t *testing.T) (*CallbackServer, int) {
	t.Helper()
	port := freePort(t)
	server := NewCallbackServer(port, "")
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server, port
}

func TestCallbackServerDeliversCode(t *testing.T) {
	t.Parallel()

	server, port := startCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=abc123&state=xyz", port))
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("callback response status = %d, want 200", resp.StatusCode)
	}

	result, err := server.WaitForCallback(5 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if result.Code != "abc123" || result.State != "xyz" {
		t.Errorf("result = %+v, want code abc123 state xyz", result)
	}
}

func TestCallbackServerDeliversError(t *testing.T) {
	t.Parallel()

	server, port := startCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?error=access_denied", port))
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	_ = resp.Body.Close()

	result, err := server.WaitForCallback(5 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if result.Error != "access_denied" {
		t.Errorf("result.Error = %q, want access_denied", result.Error)
	}
}

func TestCallbackServerMissingCode(t *testing.T) {
	t.Parallel()

	server, port := startCallbackServer(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback", port))
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	_ = resp.Body.Close()

	result, err := server.WaitForCallback(5 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if result.Error != "missing_code" {
		t.Errorf("result.Error = %q, want missing_code", result.Error)
	}
}

func TestCallbackServerTimeout(t *testing.T) {
	t.Parallel()

	server, _ := startCallbackServer(t)

	if _, err := server.WaitForCallback(50 * time.Millisecond); err == nil {
		t.Error("WaitForCallback() error = nil, want timeout")
	}
}

func TestCallbackServerDoubleStart(t *testing.T) {
	t.Parallel()

	server, _ := startCallbackServer(t)

	if err := server.Start(); err == nil {
		t.Error("second Start() error = nil, want already-running error")
	}
}
