package curation

import (
	"fare-alerts/internal/domain"
	"fare-alerts/internal/usecase/ranking"
)

// Raw deal-score bands for the free-tier display list.
const (
	excellentThreshold = 80
	goodThreshold      = 70
)

// Curate bounds a ranked deal list for display. Pro tier passes through
// untouched. Free tier keeps every excellent deal (raw score >= 80) up to the
// plan's display cap, dropping the lowest queue scores first, and backfills
// from good deals ([70,80)) best-first. Backfilled deals never displace an
// excellent one. The result stays in ranking order.
func Curate(rankedDeals []domain.RankedDeal, tier domain.Tier) []domain.RankedDeal {
	plan := domain.PlanForTier(tier)
	if plan.DisplayMax <= 0 {
		return rankedDeals
	}

	var excellent, good []domain.RankedDeal
	for _, rd := range rankedDeals {
		switch {
		case rd.Deal.DealScore >= excellentThreshold:
			excellent = append(excellent, rd)
		case rd.Deal.DealScore >= goodThreshold:
			good = append(good, rd)
		}
	}

	ranking.Sort(excellent)
	ranking.Sort(good)

	out := excellent
	if len(out) > plan.DisplayMax {
		out = out[:plan.DisplayMax]
	}
	for _, rd := range good {
		if len(out) >= plan.DisplayMax {
			break
		}
		out = append(out, rd)
	}

	ranking.Sort(out)
	return out
}
