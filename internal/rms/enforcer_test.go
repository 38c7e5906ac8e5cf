package rms

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type memPositionStore struct {
	open []domain.Position
}

func (s *memPositionStore) Upsert(context.Context, domain.Position) error { return nil }
func (s *memPositionStore) Get(context.Context, string, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *memPositionStore) ListOpenByUser(context.Context, string) ([]domain.Position, error) {
	return s.open, nil
}

type capturedSquareOff struct {
	cmds []domain.SquareOffCommand
}

func (c *capturedSquareOff) SquareOff(_ context.Context, cmd domain.SquareOffCommand) error {
	c.cmds = append(c.cmds, cmd)
	return nil
}

func testEnforcer(t *testing.T, store *memRmsStore, positions *memPositionStore, exec SquareOffExecutor) *Enforcer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := NewGate(store, nopAudit{}, nil, logger)
	return NewEnforcer(store, positions, gate, exec, nil, nopAudit{}, logger)
}

func TestEnforcerAutoSquareOffWithBuffer(t *testing.T) {
	store := newMemRmsStore()
	buffer := decimal.NewFromInt(10)
	require.NoError(t, store.UpsertConfig(context.Background(), domain.RmsConfig{
		UserID:                 "u1",
		MaxDailyLoss:           dp(1_000),
		AutoSquareOffEnabled:   true,
		AutoSquareOffBufferPct: &buffer,
	}))
	exec := &capturedSquareOff{}
	positions := &memPositionStore{open: []domain.Position{{AccountID: "a", Symbol: "NIFTY", NetQty: 50}}}
	e := testEnforcer(t, store, positions, exec)

	// Loss of 850 is inside the 10% buffered threshold of 900: no action.
	require.NoError(t, e.gate.RecordPnL(context.Background(), "u1", decimal.NewFromInt(-850), decimal.Zero))
	rule, err := e.Sweep(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, rule)

	// Loss of 950 crosses 900: square off fires with the open positions.
	require.NoError(t, e.gate.RecordPnL(context.Background(), "u1", decimal.NewFromInt(-100), decimal.Zero))
	rule, err = e.Sweep(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "max_daily_loss", rule)
	require.Len(t, exec.cmds, 1)
	assert.True(t, exec.cmds[0].Automated)
	assert.Len(t, exec.cmds[0].Positions, 1)
}

func TestEnforcerProfitLock(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(), domain.RmsConfig{
		UserID:     "u1",
		ProfitLock: dp(500),
	}))
	exec := &capturedSquareOff{}
	e := testEnforcer(t, store, &memPositionStore{}, exec)

	// Peak at 800, then give back to 300: locked profit breached.
	require.NoError(t, e.gate.RecordPnL(context.Background(), "u1", decimal.NewFromInt(800), decimal.Zero))
	require.NoError(t, e.gate.RecordPnL(context.Background(), "u1", decimal.NewFromInt(-500), decimal.Zero))

	rule, err := e.Sweep(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "profit_lock", rule)
}

func TestEnforcerDrawdownLimit(t *testing.T) {
	store := newMemRmsStore()
	require.NoError(t, store.UpsertConfig(context.Background(), domain.RmsConfig{
		UserID:        "u1",
		DrawdownLimit: dp(400),
	}))
	exec := &capturedSquareOff{}
	e := testEnforcer(t, store, &memPositionStore{}, exec)

	require.NoError(t, e.gate.RecordPnL(context.Background(), "u1", decimal.NewFromInt(300), decimal.Zero))
	require.NoError(t, e.gate.RecordPnL(context.Background(), "u1", decimal.NewFromInt(-200), decimal.Zero))

	rule, err := e.Sweep(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, rule, "drawdown 200 under limit")

	require.NoError(t, e.gate.RecordPnL(context.Background(), "u1", decimal.NewFromInt(-250), decimal.Zero))
	rule, err = e.Sweep(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "drawdown_limit", rule)
}
