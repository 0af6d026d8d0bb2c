package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/store"
)

func seedKey(t *testing.T, mem *store.Memory, mutate func(*store.GatewayKey)) (string, store.GatewayKey) {
	t.Helper()
	secret, hash, prefix, err := NewSecret()
	require.NoError(t, err)

	key := store.GatewayKey{
		OrgID:     "org-1",
		TokenHash: hash,
		Prefix:    prefix,
		Status:    store.KeyStatusActive,
		Enabled:   true,
	}
	if mutate != nil {
		mutate(&key)
	}
	created, err := mem.CreateKey(context.Background(), key)
	require.NoError(t, err)
	return secret, created
}

func TestAuthenticateSuccess(t *testing.T) {
	mem := store.NewMemory()
	secret, created := seedKey(t, mem, nil)

	a := New(mem)
	got, err := a.Authenticate(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "org-1", got.OrgID)
}

func TestAuthenticateUnknownKey(t *testing.T) {
	a := New(store.NewMemory())
	_, err := a.Authenticate(context.Background(), "pgw_nonexistent")
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "invalid_key", ge.Code)
}

func TestAuthenticateRevoked(t *testing.T) {
	mem := store.NewMemory()
	secret, created := seedKey(t, mem, nil)
	require.NoError(t, mem.RevokeKey(context.Background(), created.ID))

	_, err := New(mem).Authenticate(context.Background(), secret)
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "key_revoked", ge.Code)
}

func TestAuthenticateDisabled(t *testing.T) {
	mem := store.NewMemory()
	secret, _ := seedKey(t, mem, func(k *store.GatewayKey) { k.Enabled = false })

	_, err := New(mem).Authenticate(context.Background(), secret)
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "key_disabled", ge.Code)
}

func TestAuthenticateExpired(t *testing.T) {
	mem := store.NewMemory()
	past := time.Now().Add(-time.Hour)
	secret, _ := seedKey(t, mem, func(k *store.GatewayKey) { k.ExpiresAt = &past })

	_, err := New(mem).Authenticate(context.Background(), secret)
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "key_expired", ge.Code)
}

func TestCheckModelAccessBlockList(t *testing.T) {
	a := New(store.NewMemory())
	key := &store.GatewayKey{BlockedModels: []string{"gpt-3.5-turbo"}}

	assert.NoError(t, a.CheckModelAccess(key, "gpt-4"))
	err := a.CheckModelAccess(key, "gpt-3.5-turbo")
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "model_blocked", ge.Code)
}

func TestCheckModelAccessAllowList(t *testing.T) {
	a := New(store.NewMemory())
	key := &store.GatewayKey{AllowedModels: []string{"gpt-4"}}

	assert.NoError(t, a.CheckModelAccess(key, "gpt-4"))
	err := a.CheckModelAccess(key, "gpt-3.5-turbo")
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "model_blocked", ge.Code)
}

func TestResolveAttribution(t *testing.T) {
	key := &store.GatewayKey{Defaults: store.Attribution{
		Team:    "platform",
		Project: "website",
	}}

	// No hints: defaults pass through.
	attr := ResolveAttribution(key, model.AttributionHints{})
	assert.Equal(t, "platform", attr.Team)
	assert.Equal(t, "website", attr.Project)

	// Hints override per dimension.
	attr = ResolveAttribution(key, model.AttributionHints{Team: "data", Client: "cli"})
	assert.Equal(t, "data", attr.Team)
	assert.Equal(t, "website", attr.Project)
	assert.Equal(t, "cli", attr.Client)
}

func TestNewSecretShape(t *testing.T) {
	secret, hash, prefix, err := NewSecret()
	require.NoError(t, err)
	assert.True(t, len(secret) > 12)
	assert.Equal(t, HashToken(secret), hash)
	assert.Equal(t, secret[:12], prefix)
}
