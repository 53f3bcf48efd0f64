package ranking

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
)

// watchlistBoost is the multiplier bonus for deals matching a watchlist
// criterion.
const watchlistBoost = 0.2

// Comparison tolerances for the ranking total order.
const (
	scoreEpsilon = 0.001
	priceEpsilon = "0.01"
)

var priceEps = decimal.RequireFromString(priceEpsilon)

// Score computes the queue score for one deal. The profile is assumed valid;
// malformed weights are a caller contract violation.
func Score(deal domain.Deal, profile domain.UserProfile) float64 {
	score := float64(deal.DealScore)
	if profile.MatchesWatchlist(deal) {
		score *= 1 + watchlistBoost
	}
	score *= 1 + profile.OriginWeight(deal.Origin)
	return score
}

// Rank scores every deal and returns them in delivery order.
func Rank(deals []domain.Deal, profile domain.UserProfile) []domain.RankedDeal {
	ranked := make([]domain.RankedDeal, 0, len(deals))
	for _, d := range deals {
		ranked = append(ranked, domain.RankedDeal{Deal: d, Score: Score(d, profile)})
	}
	Sort(ranked)
	return ranked
}

// Sort orders ranked deals in place per the ranking total order.
func Sort(ranked []domain.RankedDeal) {
	sort.Slice(ranked, func(i, j int) bool { return Less(ranked[i], ranked[j]) })
}

// Less reports whether a ranks before b: descending score, then ascending
// price, then ascending departure time.
func Less(a, b domain.RankedDeal) bool {
	if math.Abs(a.Score-b.Score) > scoreEpsilon {
		return a.Score > b.Score
	}
	if a.Deal.TotalPrice.Sub(b.Deal.TotalPrice).Abs().GreaterThan(priceEps) {
		return a.Deal.TotalPrice.LessThan(b.Deal.TotalPrice)
	}
	return a.Deal.DepartureDate.Before(b.Deal.DepartureDate)
}
