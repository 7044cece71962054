// Package quota enforces the monthly consulta allowance attached to each
// subscription plan.
package quota

import "zecu/internal/types"

// PlanLimits describes the monthly allowance of one subscription tier.
type PlanLimits struct {
	Tier              types.PlanTier
	ConsultasPerMonth int
	PriceARSCents     int64
	PriceUSDCents     int64
}

// planRegistry is the static plan catalog. Limits live in code, not the
// database: a plan change is a deploy, which keeps quota checks a single
// COUNT query with no join.
var planRegistry = map[types.PlanTier]PlanLimits{
	types.PlanFree: {
		Tier:              types.PlanFree,
		ConsultasPerMonth: 5,
	},
	types.PlanPlus: {
		Tier:              types.PlanPlus,
		ConsultasPerMonth: 50,
		PriceARSCents:     299900, // ARS 2999.00 via Mercado Pago
		PriceUSDCents:     299,    // USD 2.99 via Polar
	},
}

// LimitsFor returns the allowance for a tier. Unknown tiers fall back to the
// free plan so a bad row can never grant unlimited usage.
func LimitsFor(tier types.PlanTier) PlanLimits {
	if limits, ok := planRegistry[tier]; ok {
		return limits
	}
	return planRegistry[types.PlanFree]
}
