package store

import "time"

// KeyStatus is the lifecycle status of a GatewayKey. Revocation is terminal.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// ConnectionStatus is the lifecycle status of a ProviderConnection.
type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusDisabled ConnectionStatus = "disabled"
)

// Attribution is the resolved cost attribution tuple attached to a request.
type Attribution struct {
	Team    string `json:"team,omitempty"`
	Project string `json:"project,omitempty"`
	App     string `json:"app,omitempty"`
	Client  string `json:"client,omitempty"`
}

// GatewayKey is an opaque bearer credential issued by an organization.
// Only the SHA256 hash of the secret is stored.
type GatewayKey struct {
	ID        string
	OrgID     string
	TokenHash string
	Prefix    string
	Status    KeyStatus
	Enabled   bool
	ExpiresAt *time.Time

	Defaults      Attribution
	AllowedModels []string
	BlockedModels []string

	RPMLimit            int
	DailyCostLimitEUR   *float64
	MonthlyCostLimitEUR *float64

	CreatedAt time.Time
}

// ProviderConnection is an organization's encrypted credential for one
// upstream provider, identified by (org, provider, name).
type ProviderConnection struct {
	ID              string
	OrgID           string
	Provider        string
	Name            string
	Status          ConnectionStatus
	EncryptedSecret string
	SecretLast4     string
	CreatedAt       time.Time
}

// ModelRoute binds (org, provider, model) to a dispatch priority.
// Lower priority numbers are preferred.
type ModelRoute struct {
	ID                   string
	OrgID                string
	Provider             string
	Model                string
	Priority             int
	Enabled              bool
	MaxCostPerRequestEUR *float64
	CreatedAt            time.Time
}

// RequestLog is the immutable record of one completed (or failed) gateway
// call. PromptHash is a SHA256 of the prompt; the raw prompt is never stored.
type RequestLog struct {
	ID               string
	OrgID            string
	KeyID            string
	Attribution      Attribution
	Provider         string
	Model            string
	PromptHash       string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostEUR          float64
	LatencyMs        int64
	StatusCode       int
	ErrorCode        string
	CreatedAt        time.Time
}

// CostEvent is the financial ledger entry derived from a RequestLog. It is
// the system of record for budgets and is never removed by retention jobs.
type CostEvent struct {
	ID           string
	OrgID        string
	KeyID        string
	Attribution  Attribution
	Provider     string
	Model        string
	AmountEUR    float64
	Source       string
	RequestLogID string
	CreatedAt    time.Time
}

// Webhook is an organization's registration for outbound event delivery.
type Webhook struct {
	ID         string
	OrgID      string
	URL        string
	Secret     string
	Enabled    bool
	EventTypes []string
	CreatedAt  time.Time
}

// SubscribedTo reports whether the webhook is subscribed to the event type.
// An empty EventTypes list subscribes to everything.
func (w *Webhook) SubscribedTo(event string) bool {
	if len(w.EventTypes) == 0 {
		return true
	}
	for _, e := range w.EventTypes {
		if e == event {
			return true
		}
	}
	return false
}
