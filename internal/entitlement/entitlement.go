package entitlement

import (
	"context"
	"fmt"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/store"
)

// Feature names gated by organization plans.
const (
	FeatureConnections = "provider_connections"
	FeatureRoutes      = "model_routes"
	FeatureWebhooks    = "webhooks"
)

// Limits holds the per-plan resource ceilings. Zero means the feature is not
// available on the plan; a negative value means unlimited.
type Limits struct {
	MaxConnections int
	MaxRoutes      int
	MaxWebhooks    int
}

// planLimits is the plan entitlement table, ordered cheapest first.
var planOrder = []string{"free", "starter", "pro", "scale"}

var planLimits = map[string]Limits{
	"free":    {MaxConnections: 1, MaxRoutes: 2, MaxWebhooks: 0},
	"starter": {MaxConnections: 2, MaxRoutes: 10, MaxWebhooks: 1},
	"pro":     {MaxConnections: 5, MaxRoutes: 50, MaxWebhooks: 5},
	"scale":   {MaxConnections: -1, MaxRoutes: -1, MaxWebhooks: -1},
}

// GetEntitlements returns the limits for a plan name. Unknown plans get the
// free tier.
func GetEntitlements(plan string) Limits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits["free"]
}

func (l Limits) forFeature(feature string) int {
	switch feature {
	case FeatureConnections:
		return l.MaxConnections
	case FeatureRoutes:
		return l.MaxRoutes
	case FeatureWebhooks:
		return l.MaxWebhooks
	default:
		return 0
	}
}

// Service checks plan entitlements before resource creation.
type Service struct {
	Store store.Store
}

// New creates an entitlement Service over the given store.
func New(s store.Store) *Service {
	return &Service{Store: s}
}

// Assert verifies the organization's plan allows one more unit of the
// feature given its current usage. On rejection it returns a structured
// entitlement error carrying the feature, current plan, and the minimum
// plan that would allow it.
func (s *Service) Assert(ctx context.Context, orgID, feature string, usage int) error {
	plan, err := s.Store.GetPlan(ctx, orgID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}
	return Assert(plan, feature, usage)
}

// Assert is the plan-only check, usable without a store.
func Assert(plan, feature string, usage int) error {
	limit := GetEntitlements(plan).forFeature(feature)
	if limit < 0 || usage < limit {
		return nil
	}

	ge := model.NewGatewayError(model.ErrEntitlement,
		fmt.Sprintf("plan %q allows at most %d %s", plan, limit, feature))
	ge.Feature = feature
	ge.Plan = plan
	ge.RequiredPlan = minimumPlanFor(feature, usage)
	return ge
}

// minimumPlanFor returns the cheapest plan whose limit exceeds the current
// usage, or the top plan if none does.
func minimumPlanFor(feature string, usage int) string {
	for _, plan := range planOrder {
		limit := planLimits[plan].forFeature(feature)
		if limit < 0 || usage < limit {
			return plan
		}
	}
	return planOrder[len(planOrder)-1]
}
