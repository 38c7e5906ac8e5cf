package webhook

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

type memConnectorStore struct {
	connectors map[string]domain.WebhookConnector // keyed by token
}

func (s *memConnectorStore) Create(context.Context, domain.WebhookConnector) error { return nil }
func (s *memConnectorStore) GetByToken(_ context.Context, token string) (domain.WebhookConnector, error) {
	c, ok := s.connectors[token]
	if !ok {
		return domain.WebhookConnector{}, domain.ErrNotFound
	}
	return c, nil
}
func (s *memConnectorStore) ListByUser(context.Context, string) ([]domain.WebhookConnector, error) {
	return nil, nil
}
func (s *memConnectorStore) Delete(context.Context, string, string) error { return nil }

type memStrategyReader struct {
	strat domain.Strategy
}

func (s *memStrategyReader) Create(context.Context, domain.Strategy) error { return nil }
func (s *memStrategyReader) Update(context.Context, domain.Strategy) error { return nil }
func (s *memStrategyReader) GetByID(_ context.Context, userID, id string) (domain.Strategy, error) {
	if id != s.strat.ID || userID != s.strat.UserID {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return s.strat, nil
}
func (s *memStrategyReader) ListByUser(context.Context, string) ([]domain.Strategy, error) {
	return nil, nil
}
func (s *memStrategyReader) Delete(context.Context, string, string) error { return nil }
func (s *memStrategyReader) CreateRun(context.Context, domain.StrategyRun) error { return nil }
func (s *memStrategyReader) UpdateRun(context.Context, domain.StrategyRun) error { return nil }
func (s *memStrategyReader) GetRun(context.Context, string) (domain.StrategyRun, error) {
	return domain.StrategyRun{}, domain.ErrNotFound
}
func (s *memStrategyReader) ListRuns(context.Context, string, domain.ListOpts) ([]domain.StrategyRun, error) {
	return nil, nil
}
func (s *memStrategyReader) CountRecentFailures(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}
func (s *memStrategyReader) AppendLog(context.Context, domain.StrategyLog) error { return nil }
func (s *memStrategyReader) ListLogs(context.Context, string, domain.ListOpts) ([]domain.StrategyLog, error) {
	return nil, nil
}

type memIdem struct {
	mu     sync.Mutex
	values map[string]string
}

func (s *memIdem) Claim(_ context.Context, key, value string, _ time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	if existing, ok := s.values[key]; ok {
		return existing, false, nil
	}
	s.values[key] = value
	return value, true, nil
}

type recordingLauncher struct {
	mu     sync.Mutex
	starts []domain.Strategy
	modes  []domain.StrategyMode
	ids    []string
}

func (l *recordingLauncher) StartWithID(_ context.Context, strat domain.Strategy, mode domain.StrategyMode, runID string) (domain.StrategyRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts = append(l.starts, strat)
	l.modes = append(l.modes, mode)
	l.ids = append(l.ids, runID)
	return domain.StrategyRun{ID: runID, Mode: mode, Status: domain.StrategyRunSucceeded}, nil
}

func testIngress(transform map[string]string) (*Ingress, *recordingLauncher) {
	connectors := &memConnectorStore{connectors: map[string]domain.WebhookConnector{
		"tok-1": {
			ID: "c1", UserID: "u1", StrategyID: "s1",
			Token: "tok-1", Transform: transform, Enabled: true,
		},
		"tok-off": {
			ID: "c2", UserID: "u1", StrategyID: "s1",
			Token: "tok-off", Enabled: false,
		},
	}}
	strategies := &memStrategyReader{strat: domain.Strategy{
		ID: "s1", UserID: "u1", Name: "signal", Type: domain.StrategyConnector,
		Status: domain.StrategyActive,
		Params: map[string]any{"group_id": "g1", "lot_size": float64(25)},
	}}
	launcher := &recordingLauncher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIngress(connectors, strategies, &memIdem{}, launcher, 0, logger), launcher
}

func TestHandleFiresStrategyWithMergedParams(t *testing.T) {
	ing, launcher := testIngress(nil)

	res, err := ing.Handle(context.Background(),
		"tok-1", []byte(`{"symbol":"NIFTY","side":"buy","lots":2}`))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, launcher.starts, 1)
	params := launcher.starts[0].Params
	assert.Equal(t, "NIFTY", params["symbol"])
	assert.Equal(t, "BUY", params["side"], "side is upper-cased")
	assert.Equal(t, float64(2), params["lots"])
	assert.Equal(t, "g1", params["group_id"], "strategy params survive the merge")
	assert.Equal(t, domain.ModeLive, launcher.modes[0])
}

func TestHandleAppliesFieldMapping(t *testing.T) {
	ing, launcher := testIngress(map[string]string{
		"symbol": "ticker",
		"side":   "action",
		"lots":   "contracts",
	})

	_, err := ing.Handle(context.Background(),
		"tok-1", []byte(`{"ticker":"BANKNIFTY","action":"sell","contracts":3,"noise":true}`))
	require.NoError(t, err)

	params := launcher.starts[0].Params
	assert.Equal(t, "BANKNIFTY", params["symbol"])
	assert.Equal(t, "SELL", params["side"])
	assert.Equal(t, float64(3), params["lots"])
	_, leaked := params["noise"]
	assert.False(t, leaked)
}

func TestHandleDuplicateReturnsOriginalRun(t *testing.T) {
	ing, launcher := testIngress(nil)
	payload := []byte(`{"symbol":"NIFTY","side":"buy","lots":1}`)

	first, err := ing.Handle(context.Background(), "tok-1", payload)
	require.NoError(t, err)

	dup, err := ing.Handle(context.Background(), "tok-1", payload)
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeConflict, v.Code)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, first.RunID, dup.RunID)
	assert.Len(t, launcher.starts, 1, "strategy fired once")
}

func TestHandleDistinctPayloadsBothFire(t *testing.T) {
	ing, launcher := testIngress(nil)

	_, err := ing.Handle(context.Background(), "tok-1", []byte(`{"symbol":"NIFTY","side":"buy","lots":1}`))
	require.NoError(t, err)
	_, err = ing.Handle(context.Background(), "tok-1", []byte(`{"symbol":"NIFTY","side":"buy","lots":2}`))
	require.NoError(t, err)
	assert.Len(t, launcher.starts, 2)
}

func TestHandleRejectsBadToken(t *testing.T) {
	ing, launcher := testIngress(nil)

	for _, token := range []string{"wrong", "tok-off"} {
		_, err := ing.Handle(context.Background(), token, []byte(`{"symbol":"NIFTY"}`))
		v, ok := domain.AsRiskViolation(err)
		require.True(t, ok, "token %q", token)
		assert.Equal(t, domain.CodeUnauthorized, v.Code)
	}
	assert.Empty(t, launcher.starts)
}

func TestHandleRejectsNonJSONPayload(t *testing.T) {
	ing, _ := testIngress(nil)

	_, err := ing.Handle(context.Background(), "tok-1", []byte(`not json`))
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeAllocationInvalid, v.Code)
}

func TestHandleModeOverride(t *testing.T) {
	ing, launcher := testIngress(nil)

	_, err := ing.Handle(context.Background(),
		"tok-1", []byte(`{"symbol":"NIFTY","side":"buy","lots":1,"mode":"paper"}`))
	require.NoError(t, err)
	require.Len(t, launcher.modes, 1)
	assert.Equal(t, domain.ModePaper, launcher.modes[0])

	_, hasMode := launcher.starts[0].Params["mode"]
	assert.False(t, hasMode, "mode is consumed, not merged into params")
}
