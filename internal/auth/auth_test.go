package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "analyst-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tok
}

func TestCheckToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrNoToken},
		{"opaque", "opaque-session-token", nil},
		{"valid jwt", signedToken(t, now.Add(time.Hour)), nil},
		{"expired jwt", signedToken(t, now.Add(-time.Minute)), ErrTokenExpired},
		{"expires now", signedToken(t, now), ErrTokenExpired},
		{"dotted garbage", "a.b.c", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckToken(tt.token, now)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckToken() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCurrent(t *testing.T) {
	now := time.Now()

	if _, err := Current(nil, now); !errors.Is(err, ErrNoToken) {
		t.Errorf("Current(nil) error = %v, want ErrNoToken", err)
	}
	if _, err := Current(Static(""), now); !errors.Is(err, ErrNoToken) {
		t.Errorf("Current(empty) error = %v, want ErrNoToken", err)
	}

	tok, err := Current(TokenFunc(func() string { return "abc" }), now)
	if err != nil || tok != "abc" {
		t.Errorf("Current() = %q, %v; want abc, nil", tok, err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RT_TEST_TOKEN", "  from-env \n")
	p := FromEnv("RT_TEST_TOKEN")
	if got := p.Token(); got != "from-env" {
		t.Errorf("Token() = %q, want from-env", got)
	}

	t.Setenv("RT_TEST_TOKEN", "rotated")
	if got := p.Token(); got != "rotated" {
		t.Errorf("Token() after rotation = %q, want rotated", got)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if got := p.Token(); got != "first" {
		t.Errorf("Token() = %q, want first", got)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if got := p.Token(); got != "second" {
		t.Errorf("Token() after rewrite = %q, want second", got)
	}

	// A vanished file keeps the last good token.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if got := p.Token(); got != "second" {
		t.Errorf("Token() after remove = %q, want second", got)
	}
}

func TestFromFile_Missing(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("FromFile() expected error for missing file")
	}
	if _, err := FromFile(""); err == nil {
		t.Error("FromFile() expected error for empty path")
	}
}
