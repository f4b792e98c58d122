package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer secret123", "secret123", nil},
		{"missing header", "", "", ErrMissingHeader},
		{"wrong scheme", "Basic secret123", "", ErrBadFormat},
		{"empty token", "Bearer   ", "", ErrMissingToken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/modules", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, err := ExtractBearerToken(r)
			if err != tc.wantErr {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("token = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	if !Authenticate("secret123", "secret123") {
		t.Fatal("matching key rejected")
	}
	if Authenticate("secret124", "secret123") {
		t.Fatal("wrong key accepted")
	}
	if Authenticate("", "") {
		t.Fatal("empty keys accepted")
	}
	if Authenticate("short", "secret123") {
		t.Fatal("length mismatch accepted")
	}
}
