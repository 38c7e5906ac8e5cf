package domain

import "time"

// StrategyType distinguishes how a strategy's signals originate.
type StrategyType string

const (
	StrategyBuiltIn   StrategyType = "built-in"
	StrategyCustom    StrategyType = "custom"
	StrategyConnector StrategyType = "connector"
)

// StrategyStatus is active until stopped manually or by the error window.
type StrategyStatus string

const (
	StrategyActive  StrategyStatus = "active"
	StrategyStopped StrategyStatus = "stopped"
)

// Strategy is a named, parameterised trading recipe owned by one user.
// Params is validated on ingress and treated as opaque afterwards.
type Strategy struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Name      string         `json:"name"`
	Type      StrategyType   `json:"type"`
	Status    StrategyStatus `json:"status"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StrategyMode selects the execution path of a run. All three modes share the
// same orchestration code so behaviour is invariant across promotion.
type StrategyMode string

const (
	ModeBacktest StrategyMode = "backtest"
	ModePaper    StrategyMode = "paper"
	ModeLive     StrategyMode = "live"
)

// StrategyRunStatus is the lifecycle of one strategy run.
type StrategyRunStatus string

const (
	StrategyRunPending   StrategyRunStatus = "pending"
	StrategyRunRunning   StrategyRunStatus = "running"
	StrategyRunSucceeded StrategyRunStatus = "succeeded"
	StrategyRunFailed    StrategyRunStatus = "failed"
	StrategyRunStopped   StrategyRunStatus = "stopped"
)

// Terminal reports whether the run can no longer change state.
func (s StrategyRunStatus) Terminal() bool {
	switch s {
	case StrategyRunSucceeded, StrategyRunFailed, StrategyRunStopped:
		return true
	}
	return false
}

// StrategyRun binds a strategy to zero or more execution runs.
type StrategyRun struct {
	ID              string            `json:"id"`
	StrategyID      string            `json:"strategy_id"`
	UserID          string            `json:"user_id"`
	Mode            StrategyMode      `json:"mode"`
	Status          StrategyRunStatus `json:"status"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	ResultMetrics   map[string]any    `json:"result_metrics,omitempty"`
	ExecutionRunIDs []string          `json:"execution_run_ids,omitempty"`
}

// StrategyLogLevel classifies strategy log entries.
type StrategyLogLevel string

const (
	LogDebug StrategyLogLevel = "debug"
	LogInfo  StrategyLogLevel = "info"
	LogWarn  StrategyLogLevel = "warn"
	LogError StrategyLogLevel = "error"
)

// StrategyLog is one log line attached to a strategy run.
type StrategyLog struct {
	ID         string           `json:"id"`
	StrategyID string           `json:"strategy_id"`
	RunID      string           `json:"run_id,omitempty"`
	Level      StrategyLogLevel `json:"level"`
	Message    string           `json:"message"`
	Context    map[string]any   `json:"context,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
