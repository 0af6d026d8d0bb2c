package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries is the Postgres-backed Store implementation.
type Queries struct {
	pool *pgxpool.Pool
}

// NewQueries creates a Queries bound to a pgx pool.
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// Pool returns the underlying pgxpool.Pool.
func (q *Queries) Pool() *pgxpool.Pool { return q.pool }

func (q *Queries) Ping(ctx context.Context) error {
	return q.pool.Ping(ctx)
}

const createKey = `
INSERT INTO gateway_keys (
  id, org_id, token_hash, prefix, status, enabled, expires_at,
  team, project, app, client,
  allowed_models, blocked_models,
  rpm_limit, daily_cost_limit_eur, monthly_cost_limit_eur, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`

func (q *Queries) CreateKey(ctx context.Context, key GatewayKey) (GatewayKey, error) {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.Status == "" {
		key.Status = KeyStatusActive
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := q.pool.Exec(ctx, createKey,
		key.ID, key.OrgID, key.TokenHash, key.Prefix, key.Status, key.Enabled, key.ExpiresAt,
		key.Defaults.Team, key.Defaults.Project, key.Defaults.App, key.Defaults.Client,
		key.AllowedModels, key.BlockedModels,
		key.RPMLimit, key.DailyCostLimitEUR, key.MonthlyCostLimitEUR, key.CreatedAt,
	)
	return key, err
}

const selectKey = `
SELECT id, org_id, token_hash, prefix, status, enabled, expires_at,
       team, project, app, client,
       allowed_models, blocked_models,
       rpm_limit, daily_cost_limit_eur, monthly_cost_limit_eur, created_at
FROM gateway_keys
`

func (q *Queries) scanKey(row pgx.Row) (GatewayKey, error) {
	var k GatewayKey
	err := row.Scan(
		&k.ID, &k.OrgID, &k.TokenHash, &k.Prefix, &k.Status, &k.Enabled, &k.ExpiresAt,
		&k.Defaults.Team, &k.Defaults.Project, &k.Defaults.App, &k.Defaults.Client,
		&k.AllowedModels, &k.BlockedModels,
		&k.RPMLimit, &k.DailyCostLimitEUR, &k.MonthlyCostLimitEUR, &k.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return GatewayKey{}, ErrNotFound
	}
	return k, err
}

func (q *Queries) GetKeyByHash(ctx context.Context, tokenHash string) (GatewayKey, error) {
	return q.scanKey(q.pool.QueryRow(ctx, selectKey+"WHERE token_hash = $1", tokenHash))
}

func (q *Queries) GetKey(ctx context.Context, id string) (GatewayKey, error) {
	return q.scanKey(q.pool.QueryRow(ctx, selectKey+"WHERE id = $1", id))
}

const rotateKey = `
UPDATE gateway_keys SET token_hash = $2, prefix = $3
WHERE id = $1 AND status != 'revoked'
`

func (q *Queries) RotateKey(ctx context.Context, id, newHash, newPrefix string) (GatewayKey, error) {
	tag, err := q.pool.Exec(ctx, rotateKey, id, newHash, newPrefix)
	if err != nil {
		return GatewayKey{}, err
	}
	if tag.RowsAffected() == 0 {
		// Either missing or revoked; distinguish for the caller.
		if _, err := q.GetKey(ctx, id); err != nil {
			return GatewayKey{}, err
		}
		return GatewayKey{}, ErrKeyRevoked
	}
	return q.GetKey(ctx, id)
}

const updateKey = `
UPDATE gateway_keys SET
  enabled = $2, expires_at = $3,
  team = $4, project = $5, app = $6, client = $7,
  allowed_models = $8, blocked_models = $9,
  rpm_limit = $10, daily_cost_limit_eur = $11, monthly_cost_limit_eur = $12
WHERE id = $1 AND status != 'revoked'
`

func (q *Queries) UpdateKey(ctx context.Context, key GatewayKey) (GatewayKey, error) {
	tag, err := q.pool.Exec(ctx, updateKey,
		key.ID, key.Enabled, key.ExpiresAt,
		key.Defaults.Team, key.Defaults.Project, key.Defaults.App, key.Defaults.Client,
		key.AllowedModels, key.BlockedModels,
		key.RPMLimit, key.DailyCostLimitEUR, key.MonthlyCostLimitEUR,
	)
	if err != nil {
		return GatewayKey{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := q.GetKey(ctx, key.ID); err != nil {
			return GatewayKey{}, err
		}
		return GatewayKey{}, ErrKeyRevoked
	}
	return q.GetKey(ctx, key.ID)
}

func (q *Queries) RevokeKey(ctx context.Context, id string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE gateway_keys SET status = 'revoked', enabled = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const createConnection = `
INSERT INTO provider_connections (
  id, org_id, provider, name, status, encrypted_secret, secret_last4, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`

func (q *Queries) CreateConnection(ctx context.Context, conn ProviderConnection) (ProviderConnection, error) {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.Status == "" {
		conn.Status = ConnectionStatusActive
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	_, err := q.pool.Exec(ctx, createConnection,
		conn.ID, conn.OrgID, conn.Provider, conn.Name, conn.Status,
		conn.EncryptedSecret, conn.SecretLast4, conn.CreatedAt,
	)
	return conn, err
}

const selectActiveConnection = `
SELECT id, org_id, provider, name, status, encrypted_secret, secret_last4, created_at
FROM provider_connections
WHERE org_id = $1 AND provider = $2 AND status = 'active'
ORDER BY created_at ASC
LIMIT 1
`

func (q *Queries) GetActiveConnection(ctx context.Context, orgID, provider string) (ProviderConnection, error) {
	var c ProviderConnection
	err := q.pool.QueryRow(ctx, selectActiveConnection, orgID, provider).Scan(
		&c.ID, &c.OrgID, &c.Provider, &c.Name, &c.Status,
		&c.EncryptedSecret, &c.SecretLast4, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProviderConnection{}, ErrNotFound
	}
	return c, err
}

func (q *Queries) CountConnections(ctx context.Context, orgID string) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM provider_connections WHERE org_id = $1`, orgID).Scan(&n)
	return n, err
}

const createRoute = `
INSERT INTO model_routes (
  id, org_id, provider, model, priority, enabled, max_cost_per_request_eur, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`

func (q *Queries) CreateRoute(ctx context.Context, route ModelRoute) (ModelRoute, error) {
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = time.Now().UTC()
	}
	_, err := q.pool.Exec(ctx, createRoute,
		route.ID, route.OrgID, route.Provider, route.Model,
		route.Priority, route.Enabled, route.MaxCostPerRequestEUR, route.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ModelRoute{}, ErrDuplicateRoute
	}
	return route, err
}

const selectEnabledRoutes = `
SELECT id, org_id, provider, model, priority, enabled, max_cost_per_request_eur, created_at
FROM model_routes
WHERE org_id = $1 AND model = $2 AND enabled = true
ORDER BY priority ASC
`

func (q *Queries) ListEnabledRoutes(ctx context.Context, orgID, modelName string) ([]ModelRoute, error) {
	rows, err := q.pool.Query(ctx, selectEnabledRoutes, orgID, modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ModelRoute
	for rows.Next() {
		var r ModelRoute
		if err := rows.Scan(
			&r.ID, &r.OrgID, &r.Provider, &r.Model,
			&r.Priority, &r.Enabled, &r.MaxCostPerRequestEUR, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (q *Queries) SetRouteEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE model_routes SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) CountRoutes(ctx context.Context, orgID string) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM model_routes WHERE org_id = $1`, orgID).Scan(&n)
	return n, err
}

const insertRequestLog = `
INSERT INTO request_logs (
  id, org_id, key_id, team, project, app, client,
  provider, model, prompt_hash,
  prompt_tokens, completion_tokens, total_tokens,
  cost_eur, latency_ms, status_code, error_code, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`

func (q *Queries) InsertRequestLog(ctx context.Context, rec RequestLog) error {
	_, err := q.pool.Exec(ctx, insertRequestLog,
		rec.ID, rec.OrgID, rec.KeyID,
		rec.Attribution.Team, rec.Attribution.Project, rec.Attribution.App, rec.Attribution.Client,
		rec.Provider, rec.Model, rec.PromptHash,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostEUR, rec.LatencyMs, rec.StatusCode, rec.ErrorCode, rec.CreatedAt,
	)
	return err
}

const insertCostEvent = `
INSERT INTO cost_events (
  id, org_id, key_id, team, project, app, client,
  provider, model, amount_eur, source, request_log_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`

func (q *Queries) InsertCostEvent(ctx context.Context, ev CostEvent) error {
	_, err := q.pool.Exec(ctx, insertCostEvent,
		ev.ID, ev.OrgID, ev.KeyID,
		ev.Attribution.Team, ev.Attribution.Project, ev.Attribution.App, ev.Attribution.Client,
		ev.Provider, ev.Model, ev.AmountEUR, ev.Source, ev.RequestLogID, ev.CreatedAt,
	)
	return err
}

func (q *Queries) SumCostSince(ctx context.Context, keyID string, since time.Time) (float64, error) {
	var sum float64
	err := q.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_eur), 0) FROM cost_events WHERE key_id = $1 AND created_at >= $2`,
		keyID, since).Scan(&sum)
	return sum, err
}

const createWebhook = `
INSERT INTO webhooks (id, org_id, url, secret, enabled, event_types, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`

func (q *Queries) CreateWebhook(ctx context.Context, wh Webhook) (Webhook, error) {
	if wh.ID == "" {
		wh.ID = uuid.New().String()
	}
	if wh.CreatedAt.IsZero() {
		wh.CreatedAt = time.Now().UTC()
	}
	_, err := q.pool.Exec(ctx, createWebhook,
		wh.ID, wh.OrgID, wh.URL, wh.Secret, wh.Enabled, wh.EventTypes, wh.CreatedAt,
	)
	return wh, err
}

const selectEnabledWebhooks = `
SELECT id, org_id, url, secret, enabled, event_types, created_at
FROM webhooks
WHERE org_id = $1 AND enabled = true
ORDER BY created_at ASC
`

func (q *Queries) ListEnabledWebhooks(ctx context.Context, orgID string) ([]Webhook, error) {
	rows, err := q.pool.Query(ctx, selectEnabledWebhooks, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Webhook
	for rows.Next() {
		var w Webhook
		if err := rows.Scan(
			&w.ID, &w.OrgID, &w.URL, &w.Secret, &w.Enabled, &w.EventTypes, &w.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (q *Queries) CountWebhooks(ctx context.Context, orgID string) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhooks WHERE org_id = $1`, orgID).Scan(&n)
	return n, err
}

func (q *Queries) GetPlan(ctx context.Context, orgID string) (string, error) {
	var plan string
	err := q.pool.QueryRow(ctx,
		`SELECT plan FROM organizations WHERE id = $1`, orgID).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return "free", nil
	}
	return plan, err
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// Compile-time check: *Queries implements Store.
var _ Store = (*Queries)(nil)
