package domain

import "time"

// ExecutionMode controls how legs of a fan-out run are dispatched.
type ExecutionMode string

const (
	ModeParallel  ExecutionMode = "parallel"
	ModeSync      ExecutionMode = "sync"
	ModeStaggered ExecutionMode = "staggered"
)

// AllocationPolicy names how an account's share of lots is computed.
type AllocationPolicy string

const (
	PolicyProportional AllocationPolicy = "proportional"
	PolicyFixed        AllocationPolicy = "fixed"
	PolicyWeighted     AllocationPolicy = "weighted"
)

// ExecutionGroup is a named set of accounts that one logical order fans out
// across.
type ExecutionGroup struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Mode        ExecutionMode `json:"mode"`
	// RollbackOnPartial enables best-effort rollback of successful legs when
	// a sync-mode run ends Partial. Ignored for parallel and staggered.
	RollbackOnPartial bool `json:"rollback_on_partial"`
	// StaggerDelayMs is the inter-leg release delay for staggered mode.
	StaggerDelayMs int64     `json:"stagger_delay_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GroupAccountMapping binds an account into a group under one policy. An
// account appears at most once per group.
type GroupAccountMapping struct {
	ID        string           `json:"id"`
	GroupID   string           `json:"group_id"`
	AccountID string           `json:"account_id"`
	Policy    AllocationPolicy `json:"policy"`
	Weight    float64          `json:"weight,omitempty"`     // policy=weighted: must be > 0
	FixedLots int64            `json:"fixed_lots,omitempty"` // policy=fixed: must be > 0
	Position  int              `json:"position"`             // stable mapping order within the group
	CreatedAt time.Time        `json:"created_at"`
}

// Validate checks the policy-specific invariants on a mapping.
func (m GroupAccountMapping) Validate() error {
	switch m.Policy {
	case PolicyWeighted:
		if m.Weight <= 0 {
			return &RiskViolation{Code: CodeAllocationInvalid, Message: "weighted mapping requires weight > 0"}
		}
	case PolicyFixed:
		if m.FixedLots <= 0 {
			return &RiskViolation{Code: CodeAllocationInvalid, Message: "fixed mapping requires fixed_lots > 0"}
		}
	case PolicyProportional:
	default:
		return &RiskViolation{Code: CodeAllocationInvalid, Message: "unknown allocation policy"}
	}
	return nil
}

// AllocationLeg is one account's slice of a planned fan-out.
type AllocationLeg struct {
	AccountID    string           `json:"account_id"`
	BrokerLinkID string           `json:"broker_link_id"`
	Lots         int64            `json:"lots"`
	Quantity     int64            `json:"quantity"` // lots * lot_size
	Policy       AllocationPolicy `json:"policy"`
	Weight       float64          `json:"weight,omitempty"`
	FixedLots    int64            `json:"fixed_lots,omitempty"`
}

// Allocation is a deterministic lot split. Σ Legs.Lots always equals the
// requested total; accounts that rounded to zero are kept in Trace only.
type Allocation struct {
	Legs  []AllocationLeg `json:"legs"`
	Trace []AllocationLeg `json:"trace,omitempty"` // includes zero-lot accounts, for observability
}

// TotalLots returns the sum of lots across dispatched legs.
func (a Allocation) TotalLots() int64 {
	var sum int64
	for _, leg := range a.Legs {
		sum += leg.Lots
	}
	return sum
}
