package execution

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/allocation"
	"github.com/Mohith0505/NextGenAlgo/internal/broker"
	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type memGroupStore struct {
	group    domain.ExecutionGroup
	mappings []domain.GroupAccountMapping
}

func (s *memGroupStore) Create(context.Context, domain.ExecutionGroup) error { return nil }
func (s *memGroupStore) Update(context.Context, domain.ExecutionGroup) error { return nil }
func (s *memGroupStore) GetByID(_ context.Context, _, id string) (domain.ExecutionGroup, error) {
	if id != s.group.ID {
		return domain.ExecutionGroup{}, domain.ErrNotFound
	}
	return s.group, nil
}
func (s *memGroupStore) ListByUser(context.Context, string) ([]domain.ExecutionGroup, error) {
	return []domain.ExecutionGroup{s.group}, nil
}
func (s *memGroupStore) Delete(context.Context, string, string) error             { return nil }
func (s *memGroupStore) AddMapping(context.Context, domain.GroupAccountMapping) error    { return nil }
func (s *memGroupStore) UpdateMapping(context.Context, domain.GroupAccountMapping) error { return nil }
func (s *memGroupStore) RemoveMapping(context.Context, string, string) error      { return nil }
func (s *memGroupStore) ListMappings(context.Context, string) ([]domain.GroupAccountMapping, error) {
	return s.mappings, nil
}

type memAccountStore struct {
	accounts map[string]domain.Account
}

func (s *memAccountStore) Upsert(context.Context, domain.Account) error { return nil }
func (s *memAccountStore) GetByID(_ context.Context, id string) (domain.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}
func (s *memAccountStore) ListByLink(context.Context, string) ([]domain.Account, error) {
	return nil, nil
}
func (s *memAccountStore) ListByUser(context.Context, string) ([]domain.Account, error) {
	return nil, nil
}
func (s *memAccountStore) UpdateMargin(context.Context, string, domain.MarginSnapshot) error {
	return nil
}

type memLinkStore struct {
	links map[string]domain.BrokerLink
}

func (s *memLinkStore) Create(context.Context, domain.BrokerLink) error { return nil }
func (s *memLinkStore) Update(context.Context, domain.BrokerLink) error { return nil }
func (s *memLinkStore) GetByID(_ context.Context, id string) (domain.BrokerLink, error) {
	l, ok := s.links[id]
	if !ok {
		return domain.BrokerLink{}, domain.ErrNotFound
	}
	return l, nil
}
func (s *memLinkStore) ListByUser(context.Context, string) ([]domain.BrokerLink, error) {
	return nil, nil
}
func (s *memLinkStore) Delete(context.Context, string) error { return nil }

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]domain.ExecutionRun
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]domain.ExecutionRun)}
}

func (s *memRunStore) Create(_ context.Context, r domain.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}
func (s *memRunStore) Update(_ context.Context, r domain.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}
func (s *memRunStore) GetByID(_ context.Context, id string) (domain.ExecutionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return domain.ExecutionRun{}, domain.ErrNotFound
	}
	return r, nil
}
func (s *memRunStore) ListByGroup(context.Context, string, domain.ListOpts) ([]domain.ExecutionRun, error) {
	return nil, nil
}
func (s *memRunStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.ExecutionRun, error) {
	return nil, nil
}
func (s *memRunStore) CountByUser(context.Context, string) (int64, int64, error) { return 0, 0, nil }

type memEventStore struct {
	mu     sync.Mutex
	events []domain.ExecutionEvent
}

func (s *memEventStore) Append(_ context.Context, e domain.ExecutionEvent) (domain.ExecutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Seq = int64(len(s.events) + 1)
	s.events = append(s.events, e)
	return e, nil
}
func (s *memEventStore) ListByRun(context.Context, string) ([]domain.ExecutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ExecutionEvent(nil), s.events...), nil
}
func (s *memEventStore) Latencies(context.Context, string, domain.ListOpts) ([]float64, error) {
	return nil, nil
}
func (s *memEventStore) StatusCounts(context.Context, string, domain.ListOpts) (map[domain.EventStatus]int64, error) {
	return nil, nil
}

type memOrderStore struct {
	mu       sync.Mutex
	orders   []domain.Order
	statuses map[string]domain.OrderStatus
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{statuses: make(map[string]domain.OrderStatus)}
}

func (s *memOrderStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	return nil
}
func (s *memOrderStore) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}
func (s *memOrderStore) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *memOrderStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}
func (s *memOrderStore) ListByRun(context.Context, string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Order(nil), s.orders...), nil
}

// fakeGate approves every leg unless the account id is listed in rejected.
type fakeGate struct {
	mu       sync.Mutex
	rejected map[string]bool
	releases int
	pnl      []pnlRecord
}

type pnlRecord struct {
	userID         string
	realized       decimal.Decimal
	closedNotional decimal.Decimal
}

type fakeReservation struct {
	gate *fakeGate
	once sync.Once
}

func (r *fakeReservation) Release(context.Context) error {
	r.once.Do(func() {
		r.gate.mu.Lock()
		r.gate.releases++
		r.gate.mu.Unlock()
	})
	return nil
}

func (g *fakeGate) ReserveLeg(_ context.Context, _ domain.Account, _ domain.TradeIntent, leg domain.AllocationLeg, _ string) (Reservation, error) {
	if g.rejected[leg.AccountID] {
		return nil, &domain.RiskViolation{Code: domain.CodeRMSMaxLots, Message: "daily lot limit reached"}
	}
	return &fakeReservation{gate: g}, nil
}

func (g *fakeGate) RecordPnL(_ context.Context, userID string, realizedDelta, closedNotional decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pnl = append(g.pnl, pnlRecord{userID: userID, realized: realizedDelta, closedNotional: closedNotional})
	return nil
}

func (g *fakeGate) releaseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releases
}

// fakePlacer fails placements for accounts listed in failOn and records every
// Place and Cancel call. With fillPrice set it reports immediate fills.
type fakePlacer struct {
	mu        sync.Mutex
	failOn    map[string]error // keyed by broker link id
	fillPrice *decimal.Decimal
	placed    []broker.PlaceIntent
	kinds     []domain.BrokerKind
	cancelled []string
	seq       int
}

func (p *fakePlacer) Place(_ context.Context, link domain.BrokerLink, intent broker.PlaceIntent) (broker.PlaceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failOn[link.ID]; ok {
		return broker.PlaceResult{}, err
	}
	p.seq++
	p.placed = append(p.placed, intent)
	p.kinds = append(p.kinds, link.Kind)
	result := broker.PlaceResult{
		BrokerOrderID: "BRK-" + link.ID,
		Status:        domain.OrderAccepted,
	}
	if p.fillPrice != nil {
		px := *p.fillPrice
		result.Status = domain.OrderFilled
		result.FillPrice = &px
	}
	return result, nil
}

func (p *fakePlacer) Cancel(_ context.Context, _ domain.BrokerLink, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, brokerOrderID)
	return nil
}

type memTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *memTradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}
func (s *memTradeStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...), nil
}
func (s *memTradeStore) DailyPnL(context.Context, string, int) ([]domain.DailyPnLPoint, error) {
	return nil, nil
}
func (s *memTradeStore) SumRealized(context.Context, string, *time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position // keyed accountID|symbol
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (s *memPositionStore) Upsert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.AccountID+"|"+p.Symbol] = p
	return nil
}
func (s *memPositionStore) Get(_ context.Context, accountID, symbol string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[accountID+"|"+symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}
func (s *memPositionStore) ListOpenByUser(context.Context, string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.NetQty != 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

type fixture struct {
	orch      *Orchestrator
	gate      *fakeGate
	placer    *fakePlacer
	runs      *memRunStore
	events    *memEventStore
	orders    *memOrderStore
	trades    *memTradeStore
	positions *memPositionStore
	links     *memLinkStore
}

// newFixture builds an orchestrator over n accounts in proportional policy,
// one broker link per account.
func newFixture(t *testing.T, mode domain.ExecutionMode, rollback bool, n int) *fixture {
	t.Helper()

	group := domain.ExecutionGroup{
		ID: "g1", UserID: "u1", Name: "test group",
		Mode: mode, RollbackOnPartial: rollback, StaggerDelayMs: 1,
	}
	groups := &memGroupStore{group: group}
	accounts := &memAccountStore{accounts: make(map[string]domain.Account)}
	links := &memLinkStore{links: make(map[string]domain.BrokerLink)}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		accounts.accounts[id] = domain.Account{
			ID: id, BrokerLinkID: "l-" + id,
			MarginAvailable: decimal.NewFromInt(1_000_000),
		}
		links.links["l-"+id] = domain.BrokerLink{ID: "l-" + id, UserID: "u1", Kind: "paper_trading"}
		groups.mappings = append(groups.mappings, domain.GroupAccountMapping{
			ID: "m-" + id, GroupID: "g1", AccountID: id,
			Policy: domain.PolicyProportional, Position: i,
		})
	}

	f := &fixture{
		gate:      &fakeGate{rejected: make(map[string]bool)},
		placer:    &fakePlacer{failOn: make(map[string]error)},
		runs:      newMemRunStore(),
		events:    &memEventStore{},
		orders:    newMemOrderStore(),
		trades:    &memTradeStore{},
		positions: newMemPositionStore(),
		links:     links,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.orch = NewOrchestrator(allocation.NewPlanner(), f.gate, f.placer,
		groups, accounts, links, f.runs, f.events, f.orders,
		f.trades, f.positions, nil, logger)
	return f
}

func testIntent(lots int64) domain.TradeIntent {
	px := decimal.NewFromInt(100)
	return domain.TradeIntent{
		Symbol: "NIFTY", Side: domain.SideBuy, Lots: lots, LotSize: 25,
		OrderType: domain.OrderMarket, Price: &px,
	}
}

func TestExecuteParallelAllSucceed(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 3)

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(9))
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.Latency)
	assert.Equal(t, 3, run.Latency.Count)

	orders, _ := f.orders.ListByRun(context.Background(), run.ID)
	assert.Len(t, orders, 3)

	var total int64
	for _, o := range orders {
		total += o.Quantity
	}
	assert.Equal(t, int64(9*25), total)
}

func TestExecuteSyncAbortsRemainingLegs(t *testing.T) {
	f := newFixture(t, domain.ModeSync, false, 3)
	f.placer.failOn["l-b"] = &domain.BrokerFault{Code: domain.CodeBrokerRejected, Message: "margin shortfall"}

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(9))
	require.NoError(t, err)
	assert.Equal(t, domain.RunPartial, run.Status)

	events, _ := f.events.ListByRun(context.Background(), run.ID)
	require.Len(t, events, 3)
	byAccount := make(map[string]domain.EventStatus)
	for _, e := range events {
		byAccount[e.AccountID] = e.Status
	}
	assert.Equal(t, domain.EventAccepted, byAccount["a"])
	assert.Equal(t, domain.EventRejected, byAccount["b"])
	assert.Equal(t, domain.EventCancelledBeforeSend, byAccount["c"])

	// The rejected and the never-sent leg both give their budget back.
	assert.Equal(t, 2, f.gate.releaseCount())
}

func TestExecuteSyncRollbackCancelsSuccessfulLegs(t *testing.T) {
	f := newFixture(t, domain.ModeSync, true, 2)
	f.placer.failOn["l-b"] = &domain.BrokerFault{Code: domain.CodeBrokerRejected, Message: "rejected"}

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(4))
	require.NoError(t, err)
	assert.Equal(t, domain.RunRolledBack, run.Status)
	assert.Equal(t, []string{"BRK-l-a"}, f.placer.cancelled)

	events, _ := f.events.ListByRun(context.Background(), run.ID)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.NotEqual(t, domain.EventAccepted, e.Status)
	}
}

func TestExecuteGateRejectionKeepsOtherLegs(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 3)
	f.gate.rejected["b"] = true

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(9))
	require.NoError(t, err)
	assert.Equal(t, domain.RunPartial, run.Status)

	events, _ := f.events.ListByRun(context.Background(), run.ID)
	require.Len(t, events, 3)
	statuses := make(map[domain.EventStatus]int)
	for _, e := range events {
		statuses[e.Status]++
	}
	assert.Equal(t, 2, statuses[domain.EventAccepted])
	assert.Equal(t, 1, statuses[domain.EventRejected])
}

func TestExecuteAllLegsFailIsFailedRun(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 2)
	fault := &domain.BrokerFault{Code: domain.CodeBrokerRejected, Message: "rejected"}
	f.placer.failOn["l-a"] = fault
	f.placer.failOn["l-b"] = fault

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(4))
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, 2, f.gate.releaseCount())
}

func TestExecuteExactlyOneTerminalEventPerLeg(t *testing.T) {
	f := newFixture(t, domain.ModeStaggered, false, 4)
	f.placer.failOn["l-c"] = &domain.BrokerFault{Code: domain.CodeBrokerRejected, Message: "rejected"}

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(8))
	require.NoError(t, err)

	events, _ := f.events.ListByRun(context.Background(), run.ID)
	require.Len(t, events, 4)
	seen := make(map[string]int)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq, "sequence is monotonic")
		assert.True(t, e.Status.TerminalLeg())
		seen[e.AccountID]++
	}
	for acct, n := range seen {
		assert.Equal(t, 1, n, "account %s has one terminal event", acct)
	}
}

func TestExecuteUnknownGroup(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 1)

	_, err := f.orch.Execute(context.Background(), "u1", "missing", "", testIntent(1))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSquareOffPlacesOppositeMarketOrders(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 2)

	cmd := domain.SquareOffCommand{
		UserID: "u1", Rule: "max_daily_loss", Automated: true,
		Positions: []domain.Position{
			{AccountID: "a", Symbol: "NIFTY", NetQty: 50},
			{AccountID: "b", Symbol: "BANKNIFTY", NetQty: -30},
		},
		IssuedAt: time.Now(),
	}
	require.NoError(t, f.orch.SquareOff(context.Background(), cmd))

	require.Len(t, f.placer.placed, 2)
	bySymbol := make(map[string]broker.PlaceIntent)
	for _, pi := range f.placer.placed {
		bySymbol[pi.Symbol] = pi
	}
	assert.Equal(t, domain.SideSell, bySymbol["NIFTY"].Side)
	assert.Equal(t, int64(50), bySymbol["NIFTY"].Quantity)
	assert.Equal(t, domain.SideBuy, bySymbol["BANKNIFTY"].Side)
	assert.Equal(t, int64(30), bySymbol["BANKNIFTY"].Quantity)
	assert.Equal(t, domain.OrderMarket, bySymbol["NIFTY"].OrderType)
}

// steppingClock returns a now func that advances a fixed step per call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

func TestExecuteEventLatencyMatchesTimestamps(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 1)
	base := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	f.orch.now = steppingClock(base, 500*time.Millisecond)

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(2))
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)

	events, _ := f.events.ListByRun(context.Background(), run.ID)
	require.Len(t, events, 1)
	e := events[0]
	require.NotNil(t, e.CompletedAt)
	require.NotNil(t, e.LatencyMs)

	// The event carries the leg's own broker round trip, not the run bounds.
	assert.True(t, e.RequestedAt.After(run.RequestedAt))
	elapsed := float64(e.CompletedAt.Sub(e.RequestedAt).Microseconds()) / 1000
	assert.Equal(t, elapsed, *e.LatencyMs)
	assert.Equal(t, 500.0, *e.LatencyMs)
}

func TestExecuteGateRejectedLegFallsBackToRunBounds(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 2)
	f.gate.rejected["b"] = true
	base := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	f.orch.now = steppingClock(base, time.Second)

	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(4))
	require.NoError(t, err)

	events, _ := f.events.ListByRun(context.Background(), run.ID)
	require.Len(t, events, 2)
	for _, e := range events {
		if e.AccountID != "b" {
			continue
		}
		// Never dispatched: no latency, stamped with the run's window.
		assert.Nil(t, e.LatencyMs)
		assert.Equal(t, run.RequestedAt, e.RequestedAt)
		assert.Equal(t, *run.CompletedAt, *e.CompletedAt)
	}
}

func TestExecutePaperIntentRoutesEveryLegToSimulator(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 3)
	for id, link := range f.links.links {
		link.Kind = domain.BrokerZerodha
		f.links.links[id] = link
	}

	intent := testIntent(9)
	intent.Paper = true
	run, err := f.orch.Execute(context.Background(), "u1", "g1", "", intent)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)

	require.Len(t, f.placer.kinds, 3)
	for _, kind := range f.placer.kinds {
		assert.Equal(t, domain.BrokerPaper, kind)
	}

	// Without the flag the legs hit the account's real broker.
	run, err = f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(9))
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	require.Len(t, f.placer.kinds, 6)
	for _, kind := range f.placer.kinds[3:] {
		assert.Equal(t, domain.BrokerZerodha, kind)
	}
}

func TestExecuteFilledLegSettlesTradeAndPosition(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 1)
	openPx := decimal.NewFromInt(110)
	f.placer.fillPrice = &openPx

	_, err := f.orch.Execute(context.Background(), "u1", "g1", "", testIntent(2))
	require.NoError(t, err)

	trades, _ := f.trades.ListByUser(context.Background(), "u1", domain.ListOpts{})
	require.Len(t, trades, 1)
	assert.Equal(t, int64(50), trades[0].Quantity)
	assert.True(t, trades[0].Price.Equal(openPx))
	assert.True(t, trades[0].RealizedPnL.IsZero())
	assert.NotEmpty(t, trades[0].OrderID)

	pos, err := f.positions.Get(context.Background(), "a", "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, int64(50), pos.NetQty)
	assert.True(t, pos.AvgPrice.Equal(openPx))

	// Opening adds exposure, it realises nothing.
	assert.Empty(t, f.gate.pnl)

	closePx := decimal.NewFromInt(120)
	f.placer.fillPrice = &closePx
	closing := testIntent(2)
	closing.Side = domain.SideSell
	_, err = f.orch.Execute(context.Background(), "u1", "g1", "", closing)
	require.NoError(t, err)

	pos, err = f.positions.Get(context.Background(), "a", "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos.NetQty)
	assert.True(t, pos.PnL.Equal(decimal.NewFromInt(500)), "got %s", pos.PnL)

	require.Len(t, f.gate.pnl, 1)
	assert.Equal(t, "u1", f.gate.pnl[0].userID)
	assert.True(t, f.gate.pnl[0].realized.Equal(decimal.NewFromInt(500)))
	assert.True(t, f.gate.pnl[0].closedNotional.Equal(decimal.NewFromInt(5500)))
}

func TestSquareOffSettlesFilledPositions(t *testing.T) {
	f := newFixture(t, domain.ModeParallel, false, 1)
	exitPx := decimal.NewFromInt(90)
	f.placer.fillPrice = &exitPx

	cmd := domain.SquareOffCommand{
		UserID: "u1", Rule: "max_daily_loss", Automated: true,
		Positions: []domain.Position{
			{ID: "p1", AccountID: "a", Symbol: "NIFTY", NetQty: 50, AvgPrice: decimal.NewFromInt(100)},
		},
		IssuedAt: time.Now(),
	}
	require.NoError(t, f.orch.SquareOff(context.Background(), cmd))

	trades, _ := f.trades.ListByUser(context.Background(), "u1", domain.ListOpts{})
	require.Len(t, trades, 1)
	assert.Equal(t, int64(-50), trades[0].Quantity)
	assert.True(t, trades[0].RealizedPnL.Equal(decimal.NewFromInt(-500)))

	pos, err := f.positions.Get(context.Background(), "a", "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos.NetQty)

	require.Len(t, f.gate.pnl, 1)
	assert.True(t, f.gate.pnl[0].realized.Equal(decimal.NewFromInt(-500)))
	assert.True(t, f.gate.pnl[0].closedNotional.Equal(decimal.NewFromInt(5000)))
}

func TestNetFillPartialCloseAndFlip(t *testing.T) {
	px := decimal.NewFromInt(120)

	pos := domain.Position{NetQty: 100, AvgPrice: decimal.NewFromInt(100)}
	realized, closedNotional := netFill(&pos, -40, px)
	assert.True(t, realized.Equal(decimal.NewFromInt(800)), "got %s", realized)
	assert.True(t, closedNotional.Equal(decimal.NewFromInt(4000)))
	assert.Equal(t, int64(60), pos.NetQty)
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(100)), "partial close keeps entry price")

	pos = domain.Position{NetQty: 100, AvgPrice: decimal.NewFromInt(100)}
	realized, closedNotional = netFill(&pos, -150, px)
	assert.True(t, realized.Equal(decimal.NewFromInt(2000)))
	assert.True(t, closedNotional.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, int64(-50), pos.NetQty)
	assert.True(t, pos.AvgPrice.Equal(px), "flipped remainder opens at the fill price")
}
