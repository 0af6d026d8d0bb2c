package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/store"
	"github.com/pulselabs/pulse/internal/vault"
)

// ResolvedRoute is the outcome of routing one request: the chosen route, its
// backing connection, and the decrypted provider secret. The secret is scoped
// to this request and must not be cached beyond it.
type ResolvedRoute struct {
	Route      store.ModelRoute
	Connection store.ProviderConnection
	Secret     string
}

// Router maps a requested model name to a provider and an active,
// credentialed connection.
type Router struct {
	Store store.Store
	Vault *vault.Vault
}

// New creates a Router.
func New(s store.Store, v *vault.Vault) *Router {
	return &Router{Store: s, Vault: v}
}

// Resolve picks the single best-priority enabled route for (org, model),
// requires an ACTIVE connection for the route's provider, and decrypts its
// secret. There is no automatic fallback to lower-priority routes when the
// chosen provider later fails.
func (r *Router) Resolve(ctx context.Context, orgID, modelName string) (*ResolvedRoute, error) {
	routes, err := r.Store.ListEnabledRoutes(ctx, orgID, modelName)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	if len(routes) == 0 {
		return nil, model.NewGatewayError(model.ErrNoRoute,
			fmt.Sprintf("no enabled route for model %q", modelName))
	}

	// ListEnabledRoutes orders by ascending priority; take the best.
	route := routes[0]

	conn, err := r.Store.GetActiveConnection(ctx, orgID, route.Provider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.NewGatewayError(model.ErrNoActiveConnection,
				fmt.Sprintf("no active %s connection for model %q", route.Provider, modelName))
		}
		return nil, fmt.Errorf("lookup connection: %w", err)
	}

	secret, err := r.Vault.Decrypt(conn.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s connection secret: %w", route.Provider, err)
	}

	return &ResolvedRoute{Route: route, Connection: conn, Secret: secret}, nil
}
