package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/store"
	"github.com/pulselabs/pulse/internal/vault"
)

func newFixture(t *testing.T) (*Router, *store.Memory, *vault.Vault) {
	t.Helper()
	mem := store.NewMemory()
	v := vault.New("test-master-key")
	return New(mem, v), mem, v
}

func seedConnection(t *testing.T, mem *store.Memory, v *vault.Vault, orgID, provider, secret string, status store.ConnectionStatus) store.ProviderConnection {
	t.Helper()
	ct, last4, err := v.Encrypt(secret)
	require.NoError(t, err)
	conn, err := mem.CreateConnection(context.Background(), store.ProviderConnection{
		OrgID:           orgID,
		Provider:        provider,
		Name:            provider + "-default",
		Status:          status,
		EncryptedSecret: ct,
		SecretLast4:     last4,
	})
	require.NoError(t, err)
	return conn
}

func seedRoute(t *testing.T, mem *store.Memory, orgID, provider, modelName string, priority int, enabled bool) store.ModelRoute {
	t.Helper()
	route, err := mem.CreateRoute(context.Background(), store.ModelRoute{
		OrgID:    orgID,
		Provider: provider,
		Model:    modelName,
		Priority: priority,
		Enabled:  enabled,
	})
	require.NoError(t, err)
	return route
}

func TestResolveNoRoute(t *testing.T) {
	r, _, _ := newFixture(t)

	_, err := r.Resolve(context.Background(), "org-1", "unknown-model")
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "no_route", ge.Code)
}

func TestResolveNoActiveConnection(t *testing.T) {
	r, mem, v := newFixture(t)
	seedRoute(t, mem, "org-1", "openai", "gpt-4", 10, true)
	seedConnection(t, mem, v, "org-1", "openai", "sk-test", store.ConnectionStatusDisabled)

	_, err := r.Resolve(context.Background(), "org-1", "gpt-4")
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "no_active_connection", ge.Code)
}

func TestResolveDecryptsSecret(t *testing.T) {
	r, mem, v := newFixture(t)
	seedRoute(t, mem, "org-1", "openai", "gpt-4", 10, true)
	seedConnection(t, mem, v, "org-1", "openai", "sk-live-secret-1234", store.ConnectionStatusActive)

	resolved, err := r.Resolve(context.Background(), "org-1", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "openai", resolved.Route.Provider)
	assert.Equal(t, "sk-live-secret-1234", resolved.Secret)
	assert.Equal(t, "1234", resolved.Connection.SecretLast4)
}

func TestResolvePicksLowestPriority(t *testing.T) {
	r, mem, v := newFixture(t)
	low := seedRoute(t, mem, "org-1", "anthropic", "gpt-4", 10, true)
	seedRoute(t, mem, "org-1", "openai", "gpt-4", 20, true)
	seedConnection(t, mem, v, "org-1", "openai", "sk-openai", store.ConnectionStatusActive)
	seedConnection(t, mem, v, "org-1", "anthropic", "sk-ant", store.ConnectionStatusActive)

	resolved, err := r.Resolve(context.Background(), "org-1", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resolved.Route.Provider)

	// Disabling the preferred route shifts selection to priority 20.
	require.NoError(t, mem.SetRouteEnabled(context.Background(), low.ID, false))
	resolved, err = r.Resolve(context.Background(), "org-1", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "openai", resolved.Route.Provider)
}

func TestResolveIgnoresOtherOrgs(t *testing.T) {
	r, mem, v := newFixture(t)
	seedRoute(t, mem, "org-2", "openai", "gpt-4", 10, true)
	seedConnection(t, mem, v, "org-2", "openai", "sk-other", store.ConnectionStatusActive)

	_, err := r.Resolve(context.Background(), "org-1", "gpt-4")
	var ge *model.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "no_route", ge.Code)
}
