// Package identity provides id generation, management API keys and the
// people service that owns person attributes and external user ids.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/ashureev/surveysync/internal/domain"
)

const (
	// APIKeyHeaderName carries the management API key.
	APIKeyHeaderName = "x-api-key"
	apiKeyPrefix     = "ssk_"
)

type contextKey int

const (
	environmentIDKey contextKey = iota
	apiKeyIDKey
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewID returns a new lexicographically sortable entity id.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}

// IsValidID reports whether id is an acceptable opaque entity id.
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// GenerateAPIKey returns a new plaintext management API key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the stored representation of a plaintext key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// EnvironmentIDFromContext extracts the environment authorized by the API key.
func EnvironmentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(environmentIDKey).(string); ok {
		return v
	}
	return ""
}

// APIKeyIDFromContext extracts the id of the API key used for the request.
func APIKeyIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAPIKey returns a context carrying the authenticated key.
func WithAPIKey(ctx context.Context, key *domain.APIKey) context.Context {
	ctx = context.WithValue(ctx, environmentIDKey, key.EnvironmentID)
	return context.WithValue(ctx, apiKeyIDKey, key.ID)
}

// APIKeyLookup resolves a hashed key. It returns nil, nil for unknown keys.
type APIKeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, hashedKey string) (*domain.APIKey, error)
}

// Authenticate resolves the API key presented by r.
func Authenticate(ctx context.Context, keys APIKeyLookup, r *http.Request) (*domain.APIKey, error) {
	raw := strings.TrimSpace(r.Header.Get(APIKeyHeaderName))
	if raw == "" {
		return nil, &domain.AuthenticationError{Message: "Not authenticated"}
	}
	key, err := keys.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, &domain.AuthenticationError{Message: "Invalid API key"}
	}
	return key, nil
}

// Authorize checks that key may act on environmentID.
func Authorize(key *domain.APIKey, environmentID string) error {
	if key == nil || key.EnvironmentID != environmentID {
		return &domain.AuthorizationError{Message: "You are not authorized to access this environment"}
	}
	return nil
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
