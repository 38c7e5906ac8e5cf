// Package allocation computes deterministic lot splits across the accounts of
// an execution group. The split is a pure function of (mappings, lots): the
// same inputs always produce the same legs in the same order.
package allocation

import (
	"math"
	"sort"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// Planner splits a total lot count across group account mappings.
type Planner struct{}

// NewPlanner creates a Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan allocates totalLots across the given mappings. Mappings must already be
// in stable group order (GroupStore returns them ordered by position). links
// maps account id -> broker link id for the resulting legs.
//
// Fixed mappings are satisfied first, clipped in mapping order when they
// exceed the total. The remainder is split across weighted and proportional
// mappings by largest-remainder rounding; proportional mappings participate
// with weight 1. Zero-lot accounts are dropped from Legs but kept in Trace.
func (p *Planner) Plan(
	mappings []domain.GroupAccountMapping,
	links map[string]string,
	totalLots, lotSize int64,
) (domain.Allocation, error) {
	if len(mappings) == 0 {
		return domain.Allocation{}, &domain.RiskViolation{
			Code:    domain.CodeNoEligibleAccounts,
			Message: "execution group has no accounts",
		}
	}
	if totalLots <= 0 {
		return domain.Allocation{}, &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: "total lots must be greater than zero",
		}
	}
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return domain.Allocation{}, err
		}
	}

	lots := make([]int64, len(mappings))
	remaining := totalLots

	// Pass 1: fixed mappings, clipped to what is left in mapping order.
	for i, m := range mappings {
		if m.Policy != domain.PolicyFixed {
			continue
		}
		take := m.FixedLots
		if take > remaining {
			take = remaining
		}
		lots[i] = take
		remaining -= take
	}

	// Pass 2: largest-remainder split of the remainder over the variable
	// pool. Proportional mappings carry weight 1.
	type share struct {
		idx  int
		frac float64
	}
	var (
		variable    []int
		totalWeight float64
	)
	for i, m := range mappings {
		if m.Policy == domain.PolicyFixed {
			continue
		}
		variable = append(variable, i)
		totalWeight += p.weightOf(m)
	}

	if remaining > 0 {
		if len(variable) == 0 {
			return domain.Allocation{}, &domain.RiskViolation{
				Code:    domain.CodeNoEligibleAccounts,
				Message: "no variable accounts available for remaining lots",
			}
		}
		shares := make([]share, 0, len(variable))
		var assigned int64
		for _, i := range variable {
			exact := float64(remaining) * p.weightOf(mappings[i]) / totalWeight
			base := int64(math.Floor(exact))
			lots[i] = base
			assigned += base
			shares = append(shares, share{idx: i, frac: exact - float64(base)})
		}
		// Leftover lots go one at a time to the largest fractional
		// remainders; ties resolve to the earlier mapping.
		sort.SliceStable(shares, func(a, b int) bool {
			return shares[a].frac > shares[b].frac
		})
		leftover := remaining - assigned
		for j := 0; leftover > 0 && j < len(shares); j++ {
			lots[shares[j].idx]++
			leftover--
		}
	}

	alloc := domain.Allocation{}
	for i, m := range mappings {
		leg := domain.AllocationLeg{
			AccountID:    m.AccountID,
			BrokerLinkID: links[m.AccountID],
			Lots:         lots[i],
			Quantity:     lots[i] * lotSize,
			Policy:       m.Policy,
			Weight:       m.Weight,
			FixedLots:    m.FixedLots,
		}
		alloc.Trace = append(alloc.Trace, leg)
		if leg.Lots > 0 {
			alloc.Legs = append(alloc.Legs, leg)
		}
	}

	if got := alloc.TotalLots(); got != totalLots {
		return domain.Allocation{}, &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: "allocation does not sum to requested lots",
		}
	}
	return alloc, nil
}

func (p *Planner) weightOf(m domain.GroupAccountMapping) float64 {
	if m.Policy == domain.PolicyWeighted {
		return m.Weight
	}
	return 1
}
