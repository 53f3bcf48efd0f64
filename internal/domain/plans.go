package domain

import "strings"

// Tier is the user's subscription tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierPlan describes the limits of one tier.
type TierPlan struct {
	Tier            Tier
	Name            string
	DailyAlertMax   int
	DisplayMax      int
	WatchlistOnlyOK bool
}

var plans = map[Tier]TierPlan{
	TierFree: {
		Tier:          TierFree,
		Name:          "Free",
		DailyAlertMax: 3,
		DisplayMax:    20,
	},
	TierPro: {
		Tier:            TierPro,
		Name:            "Pro",
		DailyAlertMax:   6,
		DisplayMax:      0,
		WatchlistOnlyOK: true,
	},
}

// PlanForTier returns the plan for a tier, defaulting to free.
func PlanForTier(tier Tier) TierPlan {
	if plan, ok := plans[Tier(strings.ToLower(string(tier)))]; ok {
		return plan
	}
	return plans[TierFree]
}

// Plan returns the user's tier plan.
func (p UserProfile) Plan() TierPlan {
	return PlanForTier(p.Tier)
}
