package rms

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

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type memRmsStore struct {
	mu       sync.Mutex
	configs  map[string]domain.RmsConfig
	counters map[string]domain.RmsCounters // keyed user|day
}

func newMemRmsStore() *memRmsStore {
	return &memRmsStore{
		configs:  make(map[string]domain.RmsConfig),
		counters: make(map[string]domain.RmsCounters),
	}
}

func (s *memRmsStore) GetConfig(_ context.Context, userID string) (domain.RmsConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[userID]
	if !ok {
		return domain.RmsConfig{UserID: userID}, nil
	}
	return cfg, nil
}

func (s *memRmsStore) UpsertConfig(_ context.Context, cfg domain.RmsConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.UserID] = cfg
	return nil
}

func (s *memRmsStore) GetCounters(_ context.Context, userID, day string) (domain.RmsCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[userID+"|"+day]
	if !ok {
		return domain.RmsCounters{UserID: userID, TradingDay: day}, nil
	}
	return c, nil
}

func (s *memRmsStore) SaveCounters(_ context.Context, c domain.RmsCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[c.UserID+"|"+c.TradingDay] = c
	return nil
}

func (s *memRmsStore) ListConfiguredUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	return ids, nil
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, string, map[string]any) error { return nil }
func (nopAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testGate(t *testing.T, store *memRmsStore) *Gate {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGate(store, nopAudit{}, nil, logger)
}

func i64(v int64) *int64 { return &v }

func dp(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func intent(lots int64) domain.TradeIntent {
	px := decimal.NewFromInt(100)
	return domain.TradeIntent{
		Symbol: "NIFTY", Side: domain.SideBuy, Lots: lots, LotSize: 25,
		OrderType: domain.OrderMarket, Price: &px,
	}
}

func leg(acct string, lots int64) domain.AllocationLeg {
	return domain.AllocationLeg{AccountID: acct, Lots: lots, Quantity: lots * 25}
}

func account(margin int64) domain.Account {
	return domain.Account{ID: "acct-1", MarginAvailable: decimal.NewFromInt(margin)}
}

func TestGateMaxLotsPerOrder(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(),
		domain.RmsConfig{UserID: "u1", MaxLotsPerOrder: i64(5)}))
	g := testGate(t, store)

	_, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(6), leg("a", 6), "u1")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeRMSMaxOrderSize, v.Code)
}

func TestGateDailyLotBudgetPartial(t *testing.T) {
	// Budget of 5 lots: a 3-lot leg passes, the next 3-lot leg is rejected.
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(),
		domain.RmsConfig{UserID: "u1", MaxDailyLots: i64(5)}))
	g := testGate(t, store)

	res1, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(3), leg("a", 3), "u1")
	require.NoError(t, err)
	require.NotNil(t, res1)

	_, err = g.ReserveLeg(context.Background(), account(1_000_000), intent(3), leg("b", 3), "u1")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeRMSMaxLots, v.Code)

	// A 2-lot leg still fits.
	res2, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(2), leg("c", 2), "u1")
	require.NoError(t, err)
	require.NotNil(t, res2)
}

func TestGateReleaseReturnsBudget(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(),
		domain.RmsConfig{UserID: "u1", MaxDailyLots: i64(4)}))
	g := testGate(t, store)

	res, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(4), leg("a", 4), "u1")
	require.NoError(t, err)

	// Budget exhausted.
	_, err = g.ReserveLeg(context.Background(), account(1_000_000), intent(1), leg("b", 1), "u1")
	require.Error(t, err)

	// Broker rejected the leg: reservation released, budget back to zero used.
	require.NoError(t, res.Release(context.Background()))
	require.NoError(t, res.Release(context.Background())) // idempotent

	day := g.TradingDay(time.Now())
	counters, err := store.GetCounters(context.Background(), "u1", day)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counters.LotsToday)
	assert.True(t, counters.OpenNotional.IsZero())

	_, err = g.ReserveLeg(context.Background(), account(1_000_000), intent(4), leg("c", 4), "u1")
	assert.NoError(t, err)
}

func TestGateExposureLimit(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(),
		domain.RmsConfig{UserID: "u1", ExposureLimit: dp(10_000)}))
	g := testGate(t, store)

	// 2 lots * 25 qty * 100 px = 5000 notional. Two fit, a third does not.
	_, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(2), leg("a", 2), "u1")
	require.NoError(t, err)
	_, err = g.ReserveLeg(context.Background(), account(1_000_000), intent(2), leg("b", 2), "u1")
	require.NoError(t, err)

	_, err = g.ReserveLeg(context.Background(), account(1_000_000), intent(2), leg("c", 2), "u1")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeRMSExposure, v.Code)
}

func TestGateMarginBuffer(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(),
		domain.RmsConfig{UserID: "u1", MarginBufferPct: dp(20)}))
	g := testGate(t, store)

	// Notional 5000; margin 6000 with a 20% buffer leaves 4800 usable.
	_, err := g.ReserveLeg(context.Background(), account(6_000), intent(2), leg("a", 2), "u1")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeRMSMargin, v.Code)

	// 7000 margin leaves 5600 usable, enough for the leg.
	_, err = g.ReserveLeg(context.Background(), account(7_000), intent(2), leg("a", 2), "u1")
	assert.NoError(t, err)
}

func TestGateDailyLossTripped(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(),
		domain.RmsConfig{UserID: "u1", MaxDailyLoss: dp(1_000)}))
	g := testGate(t, store)

	require.NoError(t, g.RecordPnL(context.Background(), "u1",
		decimal.NewFromInt(-1_200), decimal.Zero))

	_, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(1), leg("a", 1), "u1")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeRMSMaxLoss, v.Code)
}

func TestGateStatusAlerts(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(), domain.RmsConfig{
		UserID:               "u1",
		MaxDailyLots:         i64(10),
		MaxDailyLoss:         dp(1_000),
		AutoSquareOffEnabled: true,
	}))
	g := testGate(t, store)

	for i := 0; i < 3; i++ {
		_, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(3), leg("a", 3), "u1")
		require.NoError(t, err)
	}

	status, err := g.Status(context.Background(), "u1", decimal.NewFromInt(50_000))
	require.NoError(t, err)
	assert.Equal(t, int64(9), status.TotalLotsToday)
	require.NotNil(t, status.LotsRemaining)
	assert.Equal(t, int64(1), *status.LotsRemaining)
	assert.Contains(t, status.Alerts, "Daily lot limit is nearly exhausted")
	assert.Contains(t, status.Automations, "auto_square_off")
}

func TestGateConcurrentReservationsRespectBudget(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(),
		domain.RmsConfig{UserID: "u1", MaxDailyLots: i64(10)}))
	g := testGate(t, store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := int64(0)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.ReserveLeg(context.Background(), account(1_000_000), intent(1), leg("x", 1), "u1"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), granted)
}
