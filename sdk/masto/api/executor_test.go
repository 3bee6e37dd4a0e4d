package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// fakeSource is a CredentialSource test double.
type fakeSource struct {
	authenticated bool
	client        *http.Client
}

func (f *fakeSource) IsAuthenticated() bool              { return f.authenticated }
func (f *fakeSource) AuthenticatedClient() *http.Client { return f.client }

func TestExecuteRejectsUnauthenticated(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(&fakeSource{})

	invoked := 0
	_, err := Execute(context.Background(), executor, func(ctx context.Context, transport Transport) (string, error) {
		invoked++
		return "", nil
	}, nil)

	apiErr, ok := AsError(err)
	if !ok || apiErr.Kind != ErrorKindAuthentication {
		t.Fatalf("Execute() error = %v, want authentication error", err)
	}
	if invoked != 0 {
		t.Errorf("request closure invoked %d times, want 0", invoked)
	}
}

func TestExecuteAnonymousWhenAuthNotRequired(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(&fakeSource{})

	result, err := Execute(context.Background(), executor, func(ctx context.Context, transport Transport) (string, error) {
		if transport == nil {
			t.Error("transport is nil")
		}
		return "ok", nil
	}, &ExecuteOptions{RequireAuth: false})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
}

// markingRoundTripper tags outgoing requests so tests can tell which client
// carried them.
type markingRoundTripper struct {
	marker string
	base   http.RoundTripper
}

func (m *markingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Test-Client", m.marker)
	return m.base.RoundTrip(req)
}

func TestExecutePrefersAuthenticatedClient(t *testing.T) {
	t.Parallel()

	var gotMarker string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMarker = r.Header.Get("X-Test-Client")
	}))
	defer server.Close()

	source := &fakeSource{
		authenticated: true,
		client: &http.Client{
			Transport: &markingRoundTripper{marker: "authenticated", base: http.DefaultTransport},
		},
	}
	executor := NewExecutor(source, WithTransportFactory(func() (Transport, error) {
		t.Error("factory used despite authenticated client being available")
		return nil, nil
	}))

	_, err := Execute(context.Background(), executor, func(ctx context.Context, transport Transport) (struct{}, error) {
		req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		if errReq != nil {
			return struct{}{}, errReq
		}
		resp, errDo := transport.Do(req)
		if errDo != nil {
			return struct{}{}, errDo
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return struct{}{}, nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotMarker != "authenticated" {
		t.Errorf("request carried by %q, want the authenticated client", gotMarker)
	}
}

func TestExecuteUsesFactoryWhenUnauthenticated(t *testing.T) {
	t.Parallel()

	factoryUsed := false
	executor := NewExecutor(&fakeSource{}, WithTransportFactory(func() (Transport, error) {
		factoryUsed = true
		return WrapClient(http.DefaultClient), nil
	}))

	_, err := Execute(context.Background(), executor, func(ctx context.Context, transport Transport) (struct{}, error) {
		return struct{}{}, nil
	}, &ExecuteOptions{RequireAuth: false})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !factoryUsed {
		t.Error("injected transport factory was not used")
	}
}

func TestExecuteClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{
			"url.Error maps to network",
			&url.Error{Op: "Get", URL: "https://example.social", Err: errors.New("connection refused")},
			ErrorKindNetwork,
		},
		{
			"deadline maps to network",
			context.DeadlineExceeded,
			ErrorKindNetwork,
		},
		{
			"unexpected EOF maps to network",
			io.ErrUnexpectedEOF,
			ErrorKindNetwork,
		},
		{
			"plain error maps to unknown",
			errors.New("something else"),
			ErrorKindUnknown,
		},
		{
			"existing typed error passes through",
			&Error{Kind: ErrorKindClient, StatusCode: 404, Message: "Record not found"},
			ErrorKindClient,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			executor := NewExecutor(&fakeSource{})
			_, err := Execute(context.Background(), executor, func(ctx context.Context, transport Transport) (struct{}, error) {
				return struct{}{}, tt.err
			}, &ExecuteOptions{RequireAuth: false})

			apiErr, ok := AsError(err)
			if !ok {
				t.Fatalf("Execute() error = %v, want *Error", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", apiErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestCheckResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   ErrorKind
		wantNilErr bool
		wantMsg    string
	}{
		{"200 OK", 200, "", "", true, ""},
		{"204 no content", 204, "", "", true, ""},
		{"401 unauthorized", 401, `{"error":"The access token is invalid"}`, ErrorKindAuthentication, false, "The access token is invalid"},
		{"403 forbidden", 403, `{"error":"This action is outside the authorized scopes"}`, ErrorKindAuthentication, false, "This action is outside the authorized scopes"},
		{"404 not found", 404, `{"error":"Record not found"}`, ErrorKindClient, false, "Record not found"},
		{"422 unprocessable", 422, `{"error":"Validation failed"}`, ErrorKindClient, false, "Validation failed"},
		{"429 rate limited", 429, `{"error":"Too many requests"}`, ErrorKindClient, false, "Too many requests"},
		{"500 server error", 500, "", ErrorKindServer, false, "Internal Server Error"},
		{"503 unavailable", 503, `{"error":"Maintenance"}`, ErrorKindServer, false, "Maintenance"},
		{"non-JSON body falls back to status text", 404, "<html>not found</html>", ErrorKindClient, false, "Not Found"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			err := CheckResponse(resp)

			if tt.wantNilErr {
				if err != nil {
					t.Errorf("CheckResponse(%d) = %v, want nil", tt.status, err)
				}
				return
			}

			apiErr, ok := AsError(err)
			if !ok {
				t.Fatalf("CheckResponse(%d) = %v, want *Error", tt.status, err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", apiErr.Kind, tt.wantKind)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	withStatus := &Error{Kind: ErrorKindClient, StatusCode: 404, Message: "Record not found"}
	if got := withStatus.Error(); !strings.Contains(got, "404") || !strings.Contains(got, "Record not found") {
		t.Errorf("Error() = %q, want status and message included", got)
	}

	cause := errors.New("root cause")
	wrapped := &Error{Kind: ErrorKindNetwork, Message: "request failed", Cause: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is does not reach the cause")
	}
}
