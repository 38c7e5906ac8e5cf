package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

func mapping(acct string, policy domain.AllocationPolicy, weight float64, fixed int64, pos int) domain.GroupAccountMapping {
	return domain.GroupAccountMapping{
		ID:        "map-" + acct,
		GroupID:   "grp-1",
		AccountID: acct,
		Policy:    policy,
		Weight:    weight,
		FixedLots: fixed,
		Position:  pos,
	}
}

func links(accts ...string) map[string]string {
	out := make(map[string]string, len(accts))
	for _, a := range accts {
		out[a] = "link-" + a
	}
	return out
}

func legLots(a domain.Allocation) []int64 {
	out := make([]int64, 0, len(a.Legs))
	for _, leg := range a.Legs {
		out = append(out, leg.Lots)
	}
	return out
}

func TestPlanProportionalSplit(t *testing.T) {
	p := NewPlanner()
	ms := []domain.GroupAccountMapping{
		mapping("a", domain.PolicyProportional, 0, 0, 0),
		mapping("b", domain.PolicyProportional, 0, 0, 1),
		mapping("c", domain.PolicyProportional, 0, 0, 2),
	}

	alloc, err := p.Plan(ms, links("a", "b", "c"), 10, 25)
	require.NoError(t, err)

	// Remainder goes to the first account in mapping order.
	assert.Equal(t, []int64{4, 3, 3}, legLots(alloc))
	assert.Equal(t, int64(10), alloc.TotalLots())
	assert.Equal(t, int64(100), alloc.Legs[0].Quantity)
	assert.Equal(t, "link-a", alloc.Legs[0].BrokerLinkID)
}

func TestPlanWeightedWithFixed(t *testing.T) {
	p := NewPlanner()
	ms := []domain.GroupAccountMapping{
		mapping("a", domain.PolicyFixed, 0, 2, 0),
		mapping("b", domain.PolicyWeighted, 3, 0, 1),
		mapping("c", domain.PolicyWeighted, 1, 0, 2),
	}

	alloc, err := p.Plan(ms, links("a", "b", "c"), 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 6, 2}, legLots(alloc))
	assert.Equal(t, int64(10), alloc.TotalLots())
}

func TestPlanFixedExceedsTotal(t *testing.T) {
	p := NewPlanner()
	ms := []domain.GroupAccountMapping{
		mapping("a", domain.PolicyFixed, 0, 4, 0),
		mapping("b", domain.PolicyFixed, 0, 4, 1),
		mapping("c", domain.PolicyFixed, 0, 4, 2),
	}

	alloc, err := p.Plan(ms, links("a", "b", "c"), 6, 1)
	require.NoError(t, err)

	// Fixed accounts are satisfied in mapping order until lots run out; the
	// starved account stays in the trace with zero lots.
	assert.Equal(t, []int64{4, 2}, legLots(alloc))
	require.Len(t, alloc.Trace, 3)
	assert.Equal(t, int64(0), alloc.Trace[2].Lots)
}

func TestPlanZeroLotAccountsDropped(t *testing.T) {
	p := NewPlanner()
	ms := []domain.GroupAccountMapping{
		mapping("a", domain.PolicyWeighted, 100, 0, 0),
		mapping("b", domain.PolicyWeighted, 1, 0, 1),
	}

	alloc, err := p.Plan(ms, links("a", "b"), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, legLots(alloc))
	assert.Len(t, alloc.Trace, 2)
}

func TestPlanDeterministic(t *testing.T) {
	p := NewPlanner()
	ms := []domain.GroupAccountMapping{
		mapping("a", domain.PolicyWeighted, 2, 0, 0),
		mapping("b", domain.PolicyProportional, 0, 0, 1),
		mapping("c", domain.PolicyFixed, 0, 3, 2),
		mapping("d", domain.PolicyWeighted, 5, 0, 3),
	}

	first, err := p.Plan(ms, links("a", "b", "c", "d"), 17, 50)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := p.Plan(ms, links("a", "b", "c", "d"), 17, 50)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, int64(17), first.TotalLots())
}

func TestPlanSumInvariantAcrossInputs(t *testing.T) {
	p := NewPlanner()
	ms := []domain.GroupAccountMapping{
		mapping("a", domain.PolicyWeighted, 7, 0, 0),
		mapping("b", domain.PolicyWeighted, 3, 0, 1),
		mapping("c", domain.PolicyProportional, 0, 0, 2),
		mapping("d", domain.PolicyFixed, 0, 2, 3),
	}
	for lots := int64(1); lots <= 200; lots++ {
		alloc, err := p.Plan(ms, links("a", "b", "c", "d"), lots, 1)
		require.NoError(t, err, "lots=%d", lots)
		assert.Equal(t, lots, alloc.TotalLots(), "lots=%d", lots)
		for _, leg := range alloc.Legs {
			assert.Positive(t, leg.Lots)
		}
	}
}

func TestPlanNoAccounts(t *testing.T) {
	p := NewPlanner()
	_, err := p.Plan(nil, nil, 5, 1)
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNoEligibleAccounts, v.Code)
}

func TestPlanInvalidWeight(t *testing.T) {
	p := NewPlanner()
	ms := []domain.GroupAccountMapping{mapping("a", domain.PolicyWeighted, 0, 0, 0)}
	_, err := p.Plan(ms, links("a"), 5, 1)
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeAllocationInvalid, v.Code)
}
