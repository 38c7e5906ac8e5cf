package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserStore persists users.
type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
}

// BrokerLinkStore persists broker links. Delete cascades to accounts.
type BrokerLinkStore interface {
	Create(ctx context.Context, link BrokerLink) error
	Update(ctx context.Context, link BrokerLink) error
	GetByID(ctx context.Context, id string) (BrokerLink, error)
	ListByUser(ctx context.Context, userID string) ([]BrokerLink, error)
	Delete(ctx context.Context, id string) error
}

// AccountStore persists broker accounts.
type AccountStore interface {
	Upsert(ctx context.Context, a Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	ListByLink(ctx context.Context, linkID string) ([]Account, error)
	ListByUser(ctx context.Context, userID string) ([]Account, error)
	UpdateMargin(ctx context.Context, id string, m MarginSnapshot) error
}

// GroupStore persists execution groups and their account mappings. Mappings
// are returned in stable position order.
type GroupStore interface {
	Create(ctx context.Context, g ExecutionGroup) error
	Update(ctx context.Context, g ExecutionGroup) error
	GetByID(ctx context.Context, userID, id string) (ExecutionGroup, error)
	ListByUser(ctx context.Context, userID string) ([]ExecutionGroup, error)
	Delete(ctx context.Context, userID, id string) error

	AddMapping(ctx context.Context, m GroupAccountMapping) error
	UpdateMapping(ctx context.Context, m GroupAccountMapping) error
	RemoveMapping(ctx context.Context, groupID, mappingID string) error
	ListMappings(ctx context.Context, groupID string) ([]GroupAccountMapping, error)
}

// RunStore persists execution runs. Terminal runs are immutable; Update on a
// terminal run returns ErrRunTerminal.
type RunStore interface {
	Create(ctx context.Context, r ExecutionRun) error
	Update(ctx context.Context, r ExecutionRun) error
	GetByID(ctx context.Context, id string) (ExecutionRun, error)
	ListByGroup(ctx context.Context, groupID string, opts ListOpts) ([]ExecutionRun, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]ExecutionRun, error)
	CountByUser(ctx context.Context, userID string) (total int64, failed int64, err error)
}

// EventStore is the append-only per-leg telemetry log. Append assigns the
// next per-run sequence number; readers always observe a monotonic sequence.
type EventStore interface {
	Append(ctx context.Context, e ExecutionEvent) (ExecutionEvent, error)
	ListByRun(ctx context.Context, runID string) ([]ExecutionEvent, error)
	Latencies(ctx context.Context, userID string, opts ListOpts) ([]float64, error)
	StatusCounts(ctx context.Context, userID string, opts ListOpts) (map[EventStatus]int64, error)
}

// OrderStore persists broker orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Order, error)
	ListByRun(ctx context.Context, runID string) ([]Order, error)
}

// TradeStore persists realised fills.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	DailyPnL(ctx context.Context, userID string, days int) ([]DailyPnLPoint, error)
	SumRealized(ctx context.Context, userID string, since *time.Time) (decimal.Decimal, error)
}

// PositionStore persists rolling positions.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	Get(ctx context.Context, accountID, symbol string) (Position, error)
	ListOpenByUser(ctx context.Context, userID string) ([]Position, error)
}

// RmsStore persists RMS configuration and daily counters. Counter mutation
// happens only under the gate's per-user lock.
type RmsStore interface {
	GetConfig(ctx context.Context, userID string) (RmsConfig, error)
	UpsertConfig(ctx context.Context, cfg RmsConfig) error
	GetCounters(ctx context.Context, userID, tradingDay string) (RmsCounters, error)
	SaveCounters(ctx context.Context, c RmsCounters) error
	// ListConfiguredUsers returns the ids of every user with a stored
	// guardrail config. The enforcement sweep iterates this set.
	ListConfiguredUsers(ctx context.Context) ([]string, error)
}

// StrategyStore persists strategies, their runs and logs.
type StrategyStore interface {
	Create(ctx context.Context, s Strategy) error
	Update(ctx context.Context, s Strategy) error
	GetByID(ctx context.Context, userID, id string) (Strategy, error)
	ListByUser(ctx context.Context, userID string) ([]Strategy, error)
	Delete(ctx context.Context, userID, id string) error

	CreateRun(ctx context.Context, r StrategyRun) error
	UpdateRun(ctx context.Context, r StrategyRun) error
	GetRun(ctx context.Context, id string) (StrategyRun, error)
	ListRuns(ctx context.Context, strategyID string, opts ListOpts) ([]StrategyRun, error)
	CountRecentFailures(ctx context.Context, strategyID string, window time.Duration) (int64, error)

	AppendLog(ctx context.Context, l StrategyLog) error
	ListLogs(ctx context.Context, strategyID string, opts ListOpts) ([]StrategyLog, error)
}

// JobStore persists scheduled jobs.
type JobStore interface {
	Create(ctx context.Context, j ScheduledJob) error
	Update(ctx context.Context, j ScheduledJob) error
	GetByID(ctx context.Context, userID, id string) (ScheduledJob, error)
	ListEnabled(ctx context.Context) ([]ScheduledJob, error)
	ListByUser(ctx context.Context, userID string) ([]ScheduledJob, error)
	Delete(ctx context.Context, userID, id string) error
}

// ConnectorStore persists webhook connectors.
type ConnectorStore interface {
	Create(ctx context.Context, c WebhookConnector) error
	GetByToken(ctx context.Context, token string) (WebhookConnector, error)
	ListByUser(ctx context.Context, userID string) ([]WebhookConnector, error)
	Delete(ctx context.Context, userID, id string) error
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        int64
	UserID    string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the audit log. RMS actions, vault fetches and session
// re-auths all land here.
type AuditStore interface {
	Log(ctx context.Context, userID, event string, detail map[string]any) error
	List(ctx context.Context, userID string, opts ListOpts) ([]AuditEntry, error)
}

// VaultStore persists encrypted broker credentials. Values are ciphertext
// blobs; the vault package owns the cipher.
type VaultStore interface {
	Put(ctx context.Context, linkID string, ciphertext []byte) error
	Get(ctx context.Context, linkID string) ([]byte, error)
	Delete(ctx context.Context, linkID string) error
}

// DailyPnLPoint is one row of the daily PnL series.
type DailyPnLPoint struct {
	Date          string          `json:"date"` // ISO date
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TradeCount    int64           `json:"trade_count"`
}
