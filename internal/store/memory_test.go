package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	key, err := m.CreateKey(ctx, GatewayKey{OrgID: "org-1", TokenHash: "hash-1", Prefix: "pgw_aaaa", Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, key.ID)
	assert.Equal(t, KeyStatusActive, key.Status)

	got, err := m.GetKeyByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	rotated, err := m.RotateKey(ctx, key.ID, "hash-2", "pgw_bbbb")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", rotated.TokenHash)

	_, err = m.GetKeyByHash(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.RevokeKey(ctx, key.ID))
	got, err = m.GetKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, KeyStatusRevoked, got.Status)
}

func TestRevocationIsTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key, err := m.CreateKey(ctx, GatewayKey{OrgID: "org-1", TokenHash: "h"})
	require.NoError(t, err)
	require.NoError(t, m.RevokeKey(ctx, key.ID))

	_, err = m.RotateKey(ctx, key.ID, "h2", "p2")
	assert.ErrorIs(t, err, ErrKeyRevoked)

	key.Enabled = true
	_, err = m.UpdateKey(ctx, key)
	assert.ErrorIs(t, err, ErrKeyRevoked)
}

func TestUpdateKeyCannotUnrevoke(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key, err := m.CreateKey(ctx, GatewayKey{OrgID: "org-1", TokenHash: "h"})
	require.NoError(t, err)

	// Status changes only flow through RevokeKey.
	key.Status = KeyStatusRevoked
	updated, err := m.UpdateKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, KeyStatusActive, updated.Status)
}

func TestDuplicateRoute(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateRoute(ctx, ModelRoute{OrgID: "org-1", Provider: "openai", Model: "gpt-4", Priority: 10, Enabled: true})
	require.NoError(t, err)
	_, err = m.CreateRoute(ctx, ModelRoute{OrgID: "org-1", Provider: "openai", Model: "gpt-4", Priority: 20, Enabled: true})
	assert.ErrorIs(t, err, ErrDuplicateRoute)

	// Same model under another provider or org is fine.
	_, err = m.CreateRoute(ctx, ModelRoute{OrgID: "org-1", Provider: "mistral", Model: "gpt-4", Priority: 20, Enabled: true})
	assert.NoError(t, err)
	_, err = m.CreateRoute(ctx, ModelRoute{OrgID: "org-2", Provider: "openai", Model: "gpt-4", Priority: 10, Enabled: true})
	assert.NoError(t, err)
}

func TestListEnabledRoutesOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateRoute(ctx, ModelRoute{OrgID: "org-1", Provider: "anthropic", Model: "shared", Priority: 20, Enabled: true})
	require.NoError(t, err)
	_, err = m.CreateRoute(ctx, ModelRoute{OrgID: "org-1", Provider: "openai", Model: "shared", Priority: 10, Enabled: true})
	require.NoError(t, err)
	disabled, err := m.CreateRoute(ctx, ModelRoute{OrgID: "org-1", Provider: "mistral", Model: "shared", Priority: 5, Enabled: true})
	require.NoError(t, err)
	require.NoError(t, m.SetRouteEnabled(ctx, disabled.ID, false))

	routes, err := m.ListEnabledRoutes(ctx, "org-1", "shared")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "openai", routes[0].Provider)
	assert.Equal(t, "anthropic", routes[1].Provider)
}

func TestGetActiveConnection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateConnection(ctx, ProviderConnection{OrgID: "org-1", Provider: "openai", Name: "old", Status: ConnectionStatusDisabled})
	require.NoError(t, err)
	_, err = m.GetActiveConnection(ctx, "org-1", "openai")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := m.CreateConnection(ctx, ProviderConnection{OrgID: "org-1", Provider: "openai", Name: "prod", Status: ConnectionStatusActive})
	require.NoError(t, err)
	got, err := m.GetActiveConnection(ctx, "org-1", "openai")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)
}

func TestSumCostSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	for _, ev := range []CostEvent{
		{ID: "1", KeyID: "key-1", AmountEUR: 1.5, CreatedAt: now.Add(-time.Hour)},
		{ID: "2", KeyID: "key-1", AmountEUR: 2.5, CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "3", KeyID: "key-1", AmountEUR: 4.0, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "4", KeyID: "key-2", AmountEUR: 8.0, CreatedAt: now.Add(-time.Minute)},
	} {
		require.NoError(t, m.InsertCostEvent(ctx, ev))
	}

	sum, err := m.SumCostSince(ctx, "key-1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, sum, 1e-9)

	sum, err = m.SumCostSince(ctx, "key-1", now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 8.0, sum, 1e-9)
}

func TestWebhookSubscription(t *testing.T) {
	all := Webhook{}
	assert.True(t, all.SubscribedTo("ai_request.completed"))

	scoped := Webhook{EventTypes: []string{"budget.alert"}}
	assert.False(t, scoped.SubscribedTo("ai_request.completed"))
	assert.True(t, scoped.SubscribedTo("budget.alert"))
}

func TestListEnabledWebhooks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateWebhook(ctx, Webhook{OrgID: "org-1", URL: "https://a.example", Enabled: true})
	require.NoError(t, err)
	_, err = m.CreateWebhook(ctx, Webhook{OrgID: "org-1", URL: "https://b.example", Enabled: false})
	require.NoError(t, err)
	_, err = m.CreateWebhook(ctx, Webhook{OrgID: "org-2", URL: "https://c.example", Enabled: true})
	require.NoError(t, err)

	hooks, err := m.ListEnabledWebhooks(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "https://a.example", hooks[0].URL)
}

func TestGetPlanDefaultsToFree(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	plan, err := m.GetPlan(ctx, "org-unknown")
	require.NoError(t, err)
	assert.Equal(t, "free", plan)

	m.SetPlan("org-1", "pro")
	plan, err = m.GetPlan(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", plan)
}
