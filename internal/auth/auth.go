// Package auth supplies the bearer token used to open realtime connections.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no token available")
	ErrTokenExpired = errors.New("token expired")
)

// TokenProvider returns the current token, or "" when none is available.
type TokenProvider interface {
	Token() string
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Static always returns the same token.
type Static string

func (s Static) Token() string { return string(s) }

// FromEnv reads the named environment variable on every call so rotated
// values are picked up by the next dial.
func FromEnv(name string) TokenProvider {
	return TokenFunc(func() string {
		return strings.TrimSpace(os.Getenv(name))
	})
}

// FileProvider reads a token from disk, re-reading when the file changes.
type FileProvider struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	token   string
}

// FromFile returns a provider backed by path. The file is read eagerly so a
// missing file is reported at startup.
func FromFile(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	p := &FileProvider{path: path}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) reload() error {
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("stat token file: %w", err)
	}
	if info.ModTime().Equal(p.modTime) {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	p.token = strings.TrimSpace(string(data))
	p.modTime = info.ModTime()
	return nil
}

// Token returns the last successfully read token.
func (p *FileProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.reload()
	return p.token
}

// CheckToken reports whether tok is usable for a dial. Empty tokens fail with
// ErrNoToken. JWTs are inspected without verification and fail with
// ErrTokenExpired once their exp claim has passed. Opaque tokens pass.
func CheckToken(tok string, now time.Time) error {
	if tok == "" {
		return ErrNoToken
	}
	if strings.Count(tok, ".") != 2 {
		return nil
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

// Current fetches a token from p and checks it.
func Current(p TokenProvider, now time.Time) (string, error) {
	if p == nil {
		return "", ErrNoToken
	}
	tok := p.Token()
	if err := CheckToken(tok, now); err != nil {
		return "", err
	}
	return tok, nil
}
