package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound       = errors.New("not found")
	ErrKeyRevoked     = errors.New("key is revoked")
	ErrDuplicateRoute = errors.New("route already exists for (org, provider, model)")
)

// Store is the persistence contract consumed by the gateway. It is satisfied
// by *Queries (Postgres) and *Memory (in-process, used by tests and DB-less
// deployments).
type Store interface {
	Ping(ctx context.Context) error

	// Gateway keys
	CreateKey(ctx context.Context, key GatewayKey) (GatewayKey, error)
	GetKeyByHash(ctx context.Context, tokenHash string) (GatewayKey, error)
	GetKey(ctx context.Context, id string) (GatewayKey, error)
	RotateKey(ctx context.Context, id, newHash, newPrefix string) (GatewayKey, error)
	UpdateKey(ctx context.Context, key GatewayKey) (GatewayKey, error)
	RevokeKey(ctx context.Context, id string) error

	// Provider connections
	CreateConnection(ctx context.Context, conn ProviderConnection) (ProviderConnection, error)
	GetActiveConnection(ctx context.Context, orgID, provider string) (ProviderConnection, error)
	CountConnections(ctx context.Context, orgID string) (int, error)

	// Model routes
	CreateRoute(ctx context.Context, route ModelRoute) (ModelRoute, error)
	ListEnabledRoutes(ctx context.Context, orgID, modelName string) ([]ModelRoute, error)
	SetRouteEnabled(ctx context.Context, id string, enabled bool) error
	CountRoutes(ctx context.Context, orgID string) (int, error)

	// Metering records
	InsertRequestLog(ctx context.Context, rec RequestLog) error
	InsertCostEvent(ctx context.Context, ev CostEvent) error
	SumCostSince(ctx context.Context, keyID string, since time.Time) (float64, error)

	// Webhooks
	CreateWebhook(ctx context.Context, wh Webhook) (Webhook, error)
	ListEnabledWebhooks(ctx context.Context, orgID string) ([]Webhook, error)
	CountWebhooks(ctx context.Context, orgID string) (int, error)

	// Plans
	GetPlan(ctx context.Context, orgID string) (string, error)
}
