package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/store"
)

// CostGate enforces per-key daily and monthly EUR ceilings against prior
// spend. It is a pre-check, not a reservation: a single in-flight request may
// still push spend past the ceiling before the next call is blocked.
type CostGate struct {
	Store store.Store
	now   func() time.Time
}

// NewCostGate creates a cost gate over the given store.
func NewCostGate(s store.Store) *CostGate {
	return &CostGate{Store: s, now: time.Now}
}

// Check sums prior CostEvents for the key over the current UTC day and
// calendar month and rejects when either ceiling is already met.
func (g *CostGate) Check(ctx context.Context, key *store.GatewayKey) error {
	if key.DailyCostLimitEUR == nil && key.MonthlyCostLimitEUR == nil {
		return nil
	}

	now := g.now().UTC()

	if key.DailyCostLimitEUR != nil {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		spent, err := g.Store.SumCostSince(ctx, key.ID, dayStart)
		if err != nil {
			return fmt.Errorf("sum daily cost: %w", err)
		}
		if spent >= *key.DailyCostLimitEUR {
			return model.NewGatewayError(model.ErrCostLimitExceeded,
				fmt.Sprintf("daily cost limit of %.2f EUR reached (%.2f EUR spent)",
					*key.DailyCostLimitEUR, spent))
		}
	}

	if key.MonthlyCostLimitEUR != nil {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		spent, err := g.Store.SumCostSince(ctx, key.ID, monthStart)
		if err != nil {
			return fmt.Errorf("sum monthly cost: %w", err)
		}
		if spent >= *key.MonthlyCostLimitEUR {
			return model.NewGatewayError(model.ErrCostLimitExceeded,
				fmt.Sprintf("monthly cost limit of %.2f EUR reached (%.2f EUR spent)",
					*key.MonthlyCostLimitEUR, spent))
		}
	}

	return nil
}
