// Package auth issues and verifies the opaque bearer tokens described for
// C4: dashboard tokens compared constant-time against an expected value,
// and machine tokens stored (and compared) as SHA-256 digests, adapted from
// the constant-time ValidateAPIKey loop this package used for a different
// credential model. Lockout bookkeeping lives in lockout.go.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jarvis-labs/fabric/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth: disabled")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// MinTokenBytes is the minimum length (before hex-encoding) of an opaque
// token, per §4.4.
const MinTokenBytes = 16

// GenerateToken returns a hex-encoded opaque random token of at least
// MinTokenBytes of entropy.
func GenerateToken() (string, error) {
	buf := make([]byte, MinTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DigestToken returns the SHA-256 hex digest of a machine token, the form
// in which machine tokens are stored and compared.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Config configures a Service: one shared dashboard token compared
// directly, plus any number of machine tokens stored as digests.
type Config struct {
	DashboardToken string
	APIKeys        []models.APIKeyConfig
}

// Service validates dashboard and machine tokens in constant time.
type Service struct {
	mu             sync.RWMutex
	dashboardToken string
	apiKeys        map[string]*models.User // digest -> user
}

// NewService builds a Service. An empty Config disables auth entirely;
// Enabled() reports false and every Validate* call returns ErrAuthDisabled.
func NewService(cfg Config) *Service {
	s := &Service{
		dashboardToken: strings.TrimSpace(cfg.DashboardToken),
		apiKeys:        buildAPIKeyMap(cfg.APIKeys),
	}
	return s
}

func buildAPIKeyMap(keys []models.APIKeyConfig) map[string]*models.User {
	out := map[string]*models.User{}
	for _, entry := range keys {
		digest := strings.TrimSpace(entry.Key)
		if digest == "" {
			continue
		}
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			userID = "api_" + digest[:minInt(8, len(digest))]
		}
		out[digest] = &models.User{ID: userID, Email: strings.TrimSpace(entry.Email), Name: strings.TrimSpace(entry.Name)}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Enabled reports whether any credential is configured.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dashboardToken != "" || len(s.apiKeys) > 0
}

// ValidateDashboardToken compares token against the configured dashboard
// token in constant time.
func (s *Service) ValidateDashboardToken(token string) error {
	if s == nil {
		return ErrAuthDisabled
	}
	s.mu.RLock()
	expected := s.dashboardToken
	s.mu.RUnlock()
	if expected == "" {
		return ErrAuthDisabled
	}
	// Pad/compare a fixed-length buffer so a length mismatch does not
	// short-circuit before ConstantTimeCompare runs.
	a, b := []byte(token), []byte(expected)
	if len(a) != len(b) {
		b = append(b, a...) // guarantee mismatch without early return
	}
	if subtle.ConstantTimeCompare(a, b[:len(a)]) == 1 && len(token) == len(expected) {
		return nil
	}
	return ErrInvalidToken
}

// ValidateAPIKey checks token's digest against every configured machine
// token, iterating the full map regardless of where a match is found so
// timing does not reveal which entry (if any) matched.
func (s *Service) ValidateAPIKey(token string) (*models.User, error) {
	if s == nil {
		return nil, ErrAuthDisabled
	}
	s.mu.RLock()
	apiKeys := s.apiKeys
	s.mu.RUnlock()
	if len(apiKeys) == 0 {
		return nil, ErrAuthDisabled
	}

	digest := DigestToken(token)
	var matched *models.User
	for stored, user := range apiKeys {
		if subtle.ConstantTimeCompare([]byte(digest), []byte(stored)) == 1 {
			matched = user
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return matched, nil
}

// Validate tries the dashboard token first, then machine tokens.
func (s *Service) Validate(token string) (*models.User, error) {
	if err := s.ValidateDashboardToken(token); err == nil {
		return &models.User{ID: "dashboard"}, nil
	}
	return s.ValidateAPIKey(token)
}
