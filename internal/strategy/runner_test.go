package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type memStrategyStore struct {
	mu         sync.Mutex
	strategies map[string]domain.Strategy
	runs       map[string]domain.StrategyRun
	logs       []domain.StrategyLog
	failures   int64
}

func newMemStrategyStore() *memStrategyStore {
	return &memStrategyStore{
		strategies: make(map[string]domain.Strategy),
		runs:       make(map[string]domain.StrategyRun),
	}
}

func (s *memStrategyStore) Create(_ context.Context, st domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[st.ID] = st
	return nil
}
func (s *memStrategyStore) Update(_ context.Context, st domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[st.ID] = st
	return nil
}
func (s *memStrategyStore) GetByID(_ context.Context, userID, id string) (domain.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok || st.UserID != userID {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return st, nil
}
func (s *memStrategyStore) ListByUser(context.Context, string) ([]domain.Strategy, error) {
	return nil, nil
}
func (s *memStrategyStore) Delete(context.Context, string, string) error { return nil }

func (s *memStrategyStore) CreateRun(_ context.Context, r domain.StrategyRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}
func (s *memStrategyStore) UpdateRun(_ context.Context, r domain.StrategyRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}
func (s *memStrategyStore) GetRun(_ context.Context, id string) (domain.StrategyRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return domain.StrategyRun{}, domain.ErrNotFound
	}
	return r, nil
}
func (s *memStrategyStore) ListRuns(context.Context, string, domain.ListOpts) ([]domain.StrategyRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StrategyRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out, nil
}
func (s *memStrategyStore) CountRecentFailures(context.Context, string, time.Duration) (int64, error) {
	return s.failures, nil
}

func (s *memStrategyStore) AppendLog(_ context.Context, l domain.StrategyLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}
func (s *memStrategyStore) ListLogs(context.Context, string, domain.ListOpts) ([]domain.StrategyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StrategyLog(nil), s.logs...), nil
}

type memExecRunStore struct {
	mu   sync.Mutex
	runs map[string]domain.ExecutionRun
}

func (s *memExecRunStore) Create(_ context.Context, r domain.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}
func (s *memExecRunStore) Update(_ context.Context, r domain.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}
func (s *memExecRunStore) GetByID(_ context.Context, id string) (domain.ExecutionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return domain.ExecutionRun{}, domain.ErrNotFound
	}
	return r, nil
}
func (s *memExecRunStore) ListByGroup(context.Context, string, domain.ListOpts) ([]domain.ExecutionRun, error) {
	return nil, nil
}
func (s *memExecRunStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.ExecutionRun, error) {
	return nil, nil
}
func (s *memExecRunStore) CountByUser(context.Context, string) (int64, int64, error) {
	return 0, 0, nil
}

type memExecEventStore struct {
	mu     sync.Mutex
	events []domain.ExecutionEvent
}

func (s *memExecEventStore) Append(_ context.Context, e domain.ExecutionEvent) (domain.ExecutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Seq = int64(len(s.events) + 1)
	s.events = append(s.events, e)
	return e, nil
}
func (s *memExecEventStore) ListByRun(context.Context, string) ([]domain.ExecutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ExecutionEvent(nil), s.events...), nil
}
func (s *memExecEventStore) Latencies(context.Context, string, domain.ListOpts) ([]float64, error) {
	return nil, nil
}
func (s *memExecEventStore) StatusCounts(context.Context, string, domain.ListOpts) (map[domain.EventStatus]int64, error) {
	return nil, nil
}

type memExecOrderStore struct {
	orders []domain.Order
}

func (s *memExecOrderStore) Create(context.Context, domain.Order) error { return nil }
func (s *memExecOrderStore) UpdateStatus(context.Context, string, domain.OrderStatus) error {
	return nil
}
func (s *memExecOrderStore) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *memExecOrderStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}
func (s *memExecOrderStore) ListByRun(context.Context, string) ([]domain.Order, error) {
	return s.orders, nil
}

type fakeExecutor struct {
	run  domain.ExecutionRun
	err  error
	seen []domain.TradeIntent
}

func (f *fakeExecutor) Execute(_ context.Context, _, _, strategyRunID string, intent domain.TradeIntent) (domain.ExecutionRun, error) {
	f.seen = append(f.seen, intent)
	run := f.run
	run.StrategyRunID = strategyRunID
	return run, f.err
}

func testRunner(store *memStrategyStore, exec Executor) (*Runner, *memExecRunStore, *memExecEventStore) {
	runs := &memExecRunStore{runs: make(map[string]domain.ExecutionRun)}
	events := &memExecEventStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(store, runs, events, &memExecOrderStore{}, exec, logger), runs, events
}

func testStrategy(params map[string]any) domain.Strategy {
	if params == nil {
		params = map[string]any{
			"symbol": "NIFTY", "side": "BUY", "lots": float64(2),
			"lot_size": float64(25), "group_id": "g1",
		}
	}
	return domain.Strategy{
		ID: "s1", UserID: "u1", Name: "momentum",
		Type: domain.StrategyBuiltIn, Status: domain.StrategyActive,
		Params: params,
	}
}

func TestBacktestIsDeterministic(t *testing.T) {
	store := newMemStrategyStore()
	r, runs, events := testRunner(store, &fakeExecutor{})

	run1, err := r.Start(context.Background(), testStrategy(nil), domain.ModeBacktest)
	require.NoError(t, err)
	run2, err := r.Start(context.Background(), testStrategy(nil), domain.ModeBacktest)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyRunSucceeded, run1.Status)
	assert.Equal(t, run1.ResultMetrics["pnl"], run2.ResultMetrics["pnl"])
	require.Len(t, run1.ExecutionRunIDs, 1)

	execRun, err := runs.GetByID(context.Background(), run1.ExecutionRunIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, execRun.Status)

	evts, _ := events.ListByRun(context.Background(), execRun.ID)
	require.NotEmpty(t, evts)
	for _, e := range evts {
		if e.RunID != execRun.ID {
			continue
		}
		assert.Equal(t, "simulated", e.Message)
		assert.Equal(t, true, e.Metadata["simulated"])
	}
}

func TestErrorWindowStopsStrategy(t *testing.T) {
	store := newMemStrategyStore()
	store.failures = 3
	strat := testStrategy(nil)
	require.NoError(t, store.Create(context.Background(), strat))
	r, _, _ := testRunner(store, &fakeExecutor{})

	_, err := r.Start(context.Background(), strat, domain.ModeLive)
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeConflict, v.Code)

	stored, err := store.GetByID(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStopped, stored.Status)
}

func TestLiveModeLinksExecutionRun(t *testing.T) {
	store := newMemStrategyStore()
	exec := &fakeExecutor{run: domain.ExecutionRun{
		ID:     "er-1",
		Status: domain.RunSucceeded,
		Latency: &domain.LatencySummary{
			Count: 2, AverageMs: 12.5, MaxMs: 20, P50Ms: 12, P95Ms: 19,
		},
	}}
	r, _, _ := testRunner(store, exec)

	run, err := r.Start(context.Background(), testStrategy(nil), domain.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyRunSucceeded, run.Status)
	assert.Equal(t, []string{"er-1"}, run.ExecutionRunIDs)
	assert.Equal(t, 12.5, run.ResultMetrics["avg_latency_ms"])

	require.Len(t, exec.seen, 1)
	assert.Equal(t, "NIFTY", exec.seen[0].Symbol)
	assert.Equal(t, int64(2), exec.seen[0].Lots)
	assert.Equal(t, "s1", exec.seen[0].StrategyID)
}

func TestFailedExecutionRunFailsStrategyRun(t *testing.T) {
	store := newMemStrategyStore()
	exec := &fakeExecutor{run: domain.ExecutionRun{ID: "er-1", Status: domain.RunFailed}}
	r, _, _ := testRunner(store, exec)

	run, err := r.Start(context.Background(), testStrategy(nil), domain.ModeLive)
	require.Error(t, err)
	assert.Equal(t, domain.StrategyRunFailed, run.Status)
	assert.Equal(t, []string{"er-1"}, run.ExecutionRunIDs)
}

func TestStartRejectsInvalidParams(t *testing.T) {
	store := newMemStrategyStore()
	r, _, _ := testRunner(store, &fakeExecutor{})

	run, err := r.Start(context.Background(), testStrategy(map[string]any{"symbol": "NIFTY"}), domain.ModeLive)
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeAllocationInvalid, v.Code)
	assert.Equal(t, domain.StrategyRunFailed, run.Status)
}

func TestStopRun(t *testing.T) {
	store := newMemStrategyStore()
	r, _, _ := testRunner(store, &fakeExecutor{})
	require.NoError(t, store.CreateRun(context.Background(), domain.StrategyRun{
		ID: "run-1", StrategyID: "s1", UserID: "u1",
		Mode: domain.ModeLive, Status: domain.StrategyRunRunning,
	}))

	run, err := r.Stop(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyRunStopped, run.Status)
	require.NotNil(t, run.FinishedAt)

	_, err = r.Stop(context.Background(), "run-1")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeConflict, v.Code)
}

func TestPaperModeMarksIntentForSimulator(t *testing.T) {
	store := newMemStrategyStore()
	exec := &fakeExecutor{run: domain.ExecutionRun{ID: "e1", Status: domain.RunSucceeded}}
	r, _, _ := testRunner(store, exec)

	_, err := r.Start(context.Background(), testStrategy(nil), domain.ModePaper)
	require.NoError(t, err)
	_, err = r.Start(context.Background(), testStrategy(nil), domain.ModeLive)
	require.NoError(t, err)

	require.Len(t, exec.seen, 2)
	assert.True(t, exec.seen[0].Paper, "paper run routes through the simulator")
	assert.False(t, exec.seen[1].Paper, "live run keeps the real broker binding")
}
