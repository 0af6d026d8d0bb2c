package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and DB-less deployments.
type Memory struct {
	mu          sync.RWMutex
	keys        map[string]GatewayKey
	connections map[string]ProviderConnection
	routes      map[string]ModelRoute
	requestLogs []RequestLog
	costEvents  []CostEvent
	webhooks    map[string]Webhook
	plans       map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		keys:        make(map[string]GatewayKey),
		connections: make(map[string]ProviderConnection),
		routes:      make(map[string]ModelRoute),
		webhooks:    make(map[string]Webhook),
		plans:       make(map[string]string),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateKey(_ context.Context, key GatewayKey) (GatewayKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.Status == "" {
		key.Status = KeyStatusActive
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	m.keys[key.ID] = key
	return key, nil
}

func (m *Memory) GetKeyByHash(_ context.Context, tokenHash string) (GatewayKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.TokenHash == tokenHash {
			return k, nil
		}
	}
	return GatewayKey{}, ErrNotFound
}

func (m *Memory) GetKey(_ context.Context, id string) (GatewayKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	if !ok {
		return GatewayKey{}, ErrNotFound
	}
	return k, nil
}

func (m *Memory) RotateKey(_ context.Context, id, newHash, newPrefix string) (GatewayKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return GatewayKey{}, ErrNotFound
	}
	if k.Status == KeyStatusRevoked {
		return GatewayKey{}, ErrKeyRevoked
	}
	k.TokenHash = newHash
	k.Prefix = newPrefix
	m.keys[id] = k
	return k, nil
}

func (m *Memory) UpdateKey(_ context.Context, key GatewayKey) (GatewayKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.keys[key.ID]
	if !ok {
		return GatewayKey{}, ErrNotFound
	}
	if existing.Status == KeyStatusRevoked {
		return GatewayKey{}, ErrKeyRevoked
	}
	// Revocation only happens through RevokeKey.
	key.Status = existing.Status
	m.keys[key.ID] = key
	return key, nil
}

func (m *Memory) RevokeKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.Status = KeyStatusRevoked
	m.keys[id] = k
	return nil
}

func (m *Memory) CreateConnection(_ context.Context, conn ProviderConnection) (ProviderConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.Status == "" {
		conn.Status = ConnectionStatusActive
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	m.connections[conn.ID] = conn
	return conn, nil
}

func (m *Memory) GetActiveConnection(_ context.Context, orgID, provider string) (ProviderConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.connections {
		if c.OrgID == orgID && c.Provider == provider && c.Status == ConnectionStatusActive {
			return c, nil
		}
	}
	return ProviderConnection{}, ErrNotFound
}

func (m *Memory) CountConnections(_ context.Context, orgID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.connections {
		if c.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateRoute(_ context.Context, route ModelRoute) (ModelRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.routes {
		if r.OrgID == route.OrgID && r.Provider == route.Provider && r.Model == route.Model {
			return ModelRoute{}, ErrDuplicateRoute
		}
	}
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = time.Now().UTC()
	}
	m.routes[route.ID] = route
	return route, nil
}

func (m *Memory) ListEnabledRoutes(_ context.Context, orgID, modelName string) ([]ModelRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ModelRoute
	for _, r := range m.routes {
		if r.OrgID == orgID && r.Model == modelName && r.Enabled {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *Memory) SetRouteEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return ErrNotFound
	}
	r.Enabled = enabled
	m.routes[id] = r
	return nil
}

func (m *Memory) CountRoutes(_ context.Context, orgID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.routes {
		if r.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertRequestLog(_ context.Context, rec RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLogs = append(m.requestLogs, rec)
	return nil
}

func (m *Memory) InsertCostEvent(_ context.Context, ev CostEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costEvents = append(m.costEvents, ev)
	return nil
}

func (m *Memory) SumCostSince(_ context.Context, keyID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, ev := range m.costEvents {
		if ev.KeyID == keyID && !ev.CreatedAt.Before(since) {
			sum += ev.AmountEUR
		}
	}
	return sum, nil
}

func (m *Memory) CreateWebhook(_ context.Context, wh Webhook) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wh.ID == "" {
		wh.ID = uuid.New().String()
	}
	if wh.CreatedAt.IsZero() {
		wh.CreatedAt = time.Now().UTC()
	}
	m.webhooks[wh.ID] = wh
	return wh, nil
}

func (m *Memory) ListEnabledWebhooks(_ context.Context, orgID string) ([]Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Webhook
	for _, w := range m.webhooks {
		if w.OrgID == orgID && w.Enabled {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountWebhooks(_ context.Context, orgID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, w := range m.webhooks {
		if w.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SetPlan(orgID, plan string) {
	m.mu.Lock()
	m.plans[orgID] = plan
	m.mu.Unlock()
}

func (m *Memory) GetPlan(_ context.Context, orgID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[orgID]
	if !ok {
		return "free", nil
	}
	return plan, nil
}

// RequestLogs returns a snapshot of all request logs (for tests).
func (m *Memory) RequestLogs() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RequestLog, len(m.requestLogs))
	copy(out, m.requestLogs)
	return out
}

// CostEvents returns a snapshot of all cost events (for tests).
func (m *Memory) CostEvents() []CostEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CostEvent, len(m.costEvents))
	copy(out, m.costEvents)
	return out
}

// Compile-time check: *Memory implements Store.
var _ Store = (*Memory)(nil)
