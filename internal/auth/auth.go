package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/store"
)

// Authenticator validates inbound gateway credentials against stored keys.
type Authenticator struct {
	Store store.Store
}

// New creates an Authenticator backed by the given store.
func New(s store.Store) *Authenticator {
	return &Authenticator{Store: s}
}

// Authenticate locates a GatewayKey by the SHA256 hash of the credential and
// checks its lifecycle state. Failure order: not found, revoked, disabled,
// expired.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (store.GatewayKey, error) {
	if credential == "" {
		return store.GatewayKey{}, model.NewGatewayError(model.ErrInvalidKey, "missing API key")
	}

	key, err := a.Store.GetKeyByHash(ctx, HashToken(credential))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.GatewayKey{}, model.NewGatewayError(model.ErrInvalidKey, "invalid API key")
		}
		return store.GatewayKey{}, fmt.Errorf("key lookup: %w", err)
	}

	if key.Status == store.KeyStatusRevoked {
		return store.GatewayKey{}, model.NewGatewayError(model.ErrKeyRevoked, "API key has been revoked")
	}
	if !key.Enabled {
		return store.GatewayKey{}, model.NewGatewayError(model.ErrKeyDisabled, "API key is disabled")
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return store.GatewayKey{}, model.NewGatewayError(model.ErrKeyExpired, "API key has expired")
	}

	return key, nil
}

// CheckModelAccess enforces the key's model block/allow lists. The block list
// is checked first; a non-empty allow list then requires membership.
func (a *Authenticator) CheckModelAccess(key *store.GatewayKey, modelName string) error {
	for _, blocked := range key.BlockedModels {
		if blocked == modelName {
			return model.NewGatewayError(model.ErrModelBlocked,
				fmt.Sprintf("model %q is blocked for this key", modelName))
		}
	}
	if len(key.AllowedModels) > 0 {
		for _, allowed := range key.AllowedModels {
			if allowed == modelName {
				return nil
			}
		}
		return model.NewGatewayError(model.ErrModelBlocked,
			fmt.Sprintf("model %q is not in this key's allow list", modelName))
	}
	return nil
}

// ResolveAttribution merges caller-supplied hints over the key's defaults.
// Only the team-adjacent dimensions are overridable; the organization is
// always taken from the key.
func ResolveAttribution(key *store.GatewayKey, hints model.AttributionHints) store.Attribution {
	attr := key.Defaults
	if hints.Team != "" {
		attr.Team = hints.Team
	}
	if hints.Project != "" {
		attr.Project = hints.Project
	}
	if hints.App != "" {
		attr.App = hints.App
	}
	if hints.Client != "" {
		attr.Client = hints.Client
	}
	return attr
}

// HashToken returns the hex-encoded SHA256 hash of a credential.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ExtractToken extracts the bearer credential from a request. Supports
// Authorization: Bearer and x-api-key.
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		if token, ok := strings.CutPrefix(auth, "bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	return ""
}

const secretPrefix = "pgw_"

// NewSecret generates a fresh gateway key secret together with its stored
// hash and short visible prefix.
func NewSecret() (secret, hash, prefix string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	secret = secretPrefix + hex.EncodeToString(buf)
	prefix = secret[:len(secretPrefix)+8]
	return secret, HashToken(secret), prefix, nil
}
