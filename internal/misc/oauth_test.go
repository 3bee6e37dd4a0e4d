package misc

import "testing"

func TestGenerateRandomState(t *testing.T) {
	t.Parallel()

	first := GenerateRandomState()
	second := GenerateRandomState()

	if len(first) != 32 {
		t.Errorf("state length = %d, want 32", len(first))
	}
	if first == second {
		t.Error("consecutive states are identical")
	}
}

func TestParseOAuthCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantCode  string
		wantState string
		wantError string
		wantNil   bool
		wantErr   bool
	}{
		{
			name:     "full callback URL",
			input:    "http://localhost:54545/callback?code=abc123&state=xyz",
			wantCode: "abc123", wantState: "xyz",
		},
		{
			name:     "bare query string",
			input:    "?code=abc123&state=xyz",
			wantCode: "abc123", wantState: "xyz",
		},
		{
			name:     "query without question mark",
			input:    "code=abc123&state=xyz",
			wantCode: "abc123", wantState: "xyz",
		},
		{
			name:     "parameters in fragment",
			input:    "http://localhost/callback#code=abc123&state=xyz",
			wantCode: "abc123", wantState: "xyz",
		},
		{
			name:     "fragment noise after the code is ignored",
			input:    "?code=abc123#xyz",
			wantCode: "abc123",
		},
		{
			name:     "bare code token",
			input:    "abc123",
			wantCode: "abc123",
		},
		{
			name:      "error callback",
			input:     "http://localhost/callback?error=access_denied&error_description=The+user+denied+the+request",
			wantError: "access_denied",
		},
		{
			name:    "empty input",
			input:   "   ",
			wantNil: true,
		},
		{
			name:    "URL without code or error",
			input:   "http://localhost/callback?foo=bar",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseOAuthCallback(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseOAuthCallback(%q) error = nil, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOAuthCallback(%q) error = %v", tt.input, err)
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("ParseOAuthCallback(%q) = %+v, want nil", tt.input, got)
				}
				return
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.State != tt.wantState {
				t.Errorf("State = %q, want %q", got.State, tt.wantState)
			}
			if got.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", got.Error, tt.wantError)
			}
		})
	}
}
