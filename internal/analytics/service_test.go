package analytics

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

type fakeRunStore struct {
	total, failed int64
}

func (s *fakeRunStore) Create(context.Context, domain.ExecutionRun) error { return nil }
func (s *fakeRunStore) Update(context.Context, domain.ExecutionRun) error { return nil }
func (s *fakeRunStore) GetByID(context.Context, string) (domain.ExecutionRun, error) {
	return domain.ExecutionRun{}, domain.ErrNotFound
}
func (s *fakeRunStore) ListByGroup(context.Context, string, domain.ListOpts) ([]domain.ExecutionRun, error) {
	return nil, nil
}
func (s *fakeRunStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.ExecutionRun, error) {
	return nil, nil
}
func (s *fakeRunStore) CountByUser(context.Context, string) (int64, int64, error) {
	return s.total, s.failed, nil
}

type fakeEventStore struct {
	latencies []float64
	counts    map[domain.EventStatus]int64
}

func (s *fakeEventStore) Append(_ context.Context, e domain.ExecutionEvent) (domain.ExecutionEvent, error) {
	return e, nil
}
func (s *fakeEventStore) ListByRun(context.Context, string) ([]domain.ExecutionEvent, error) {
	return nil, nil
}
func (s *fakeEventStore) Latencies(context.Context, string, domain.ListOpts) ([]float64, error) {
	return s.latencies, nil
}
func (s *fakeEventStore) StatusCounts(context.Context, string, domain.ListOpts) (map[domain.EventStatus]int64, error) {
	return s.counts, nil
}

type fakeTradeStore struct {
	pnl    decimal.Decimal
	points []domain.DailyPnLPoint
}

func (s *fakeTradeStore) Insert(context.Context, domain.Trade) error { return nil }
func (s *fakeTradeStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}
func (s *fakeTradeStore) DailyPnL(context.Context, string, int) ([]domain.DailyPnLPoint, error) {
	return s.points, nil
}
func (s *fakeTradeStore) SumRealized(context.Context, string, *time.Time) (decimal.Decimal, error) {
	return s.pnl, nil
}

type fakePositionStore struct {
	open []domain.Position
}

func (s *fakePositionStore) Upsert(context.Context, domain.Position) error { return nil }
func (s *fakePositionStore) Get(context.Context, string, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *fakePositionStore) ListOpenByUser(context.Context, string) ([]domain.Position, error) {
	return s.open, nil
}

func testService(runs *fakeRunStore, events *fakeEventStore, trades *fakeTradeStore, positions *fakePositionStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(runs, events, trades, positions, logger)
}

func TestDashboardAggregates(t *testing.T) {
	s := testService(
		&fakeRunStore{total: 10, failed: 2},
		&fakeEventStore{
			latencies: []float64{10, 20, 30, 40},
			counts:    map[domain.EventStatus]int64{domain.EventFilled: 7, domain.EventRejected: 3},
		},
		&fakeTradeStore{pnl: decimal.NewFromInt(1250)},
		&fakePositionStore{open: []domain.Position{{Symbol: "NIFTY", NetQty: 50}}},
	)

	d, err := s.Dashboard(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), d.TotalRuns)
	assert.Equal(t, int64(2), d.FailedRuns)
	assert.InDelta(t, 0.8, d.SuccessRate, 1e-9)
	assert.True(t, d.RealizedPnL.Equal(decimal.NewFromInt(1250)))
	assert.Equal(t, 1, d.OpenPositions)
	assert.Equal(t, 4, d.Latency.Count)
	assert.InDelta(t, 25, d.Latency.AverageMs, 1e-9)
	assert.InDelta(t, 25, d.Latency.P50Ms, 1e-9)
	assert.Equal(t, int64(7), d.StatusCounts[domain.EventFilled])
}

func TestExportDailyPnLCSV(t *testing.T) {
	trades := &fakeTradeStore{points: []domain.DailyPnLPoint{
		{Date: "2026-03-01", RealizedPnL: decimal.NewFromInt(100), UnrealizedPnL: decimal.Zero, TradeCount: 4},
		{Date: "2026-03-02", RealizedPnL: decimal.NewFromInt(-50), UnrealizedPnL: decimal.NewFromInt(25), TradeCount: 2},
	}}
	s := testService(&fakeRunStore{}, &fakeEventStore{}, trades, &fakePositionStore{})

	data, err := s.ExportDailyPnL(context.Background(), "u1", 7, FormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,realized_pnl,unrealized_pnl,trade_count", lines[0])
	assert.Equal(t, "2026-03-01,100,0,4", lines[1])
	assert.Equal(t, "2026-03-02,-50,25,2", lines[2])
}

func TestExportDailyPnLJSON(t *testing.T) {
	trades := &fakeTradeStore{points: []domain.DailyPnLPoint{
		{Date: "2026-03-01", RealizedPnL: decimal.NewFromInt(100), TradeCount: 1},
	}}
	s := testService(&fakeRunStore{}, &fakeEventStore{}, trades, &fakePositionStore{})

	data, err := s.ExportDailyPnL(context.Background(), "u1", 7, FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date":"2026-03-01"`)
	assert.Contains(t, string(data), `"realized_pnl":"100"`)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	s := testService(&fakeRunStore{}, &fakeEventStore{}, &fakeTradeStore{}, &fakePositionStore{})

	_, err := s.ExportDailyPnL(context.Background(), "u1", 7, "parquet")
	v, ok := domain.AsRiskViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeAllocationInvalid, v.Code)
}

type captureUploader struct {
	key         string
	contentType string
	body        []byte
}

func (u *captureUploader) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	u.key = path
	u.contentType = contentType
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(data)
	u.body = buf.Bytes()
	return nil
}

func TestArchiverUploadsExport(t *testing.T) {
	trades := &fakeTradeStore{points: []domain.DailyPnLPoint{
		{Date: "2026-03-01", RealizedPnL: decimal.NewFromInt(100), TradeCount: 1},
	}}
	s := testService(&fakeRunStore{}, &fakeEventStore{}, trades, &fakePositionStore{})
	up := &captureUploader{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewArchiver(s, up, logger)
	a.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	key, err := a.ArchiveDailyPnL(context.Background(), "u1", 7, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "exports/u1/pnl-2026-03-02.csv", key)
	assert.Equal(t, "text/csv", up.contentType)
	assert.Contains(t, string(up.body), "2026-03-01,100,0,1")
}

func TestPercentileInterpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40}
	assert.InDelta(t, 25, Percentile(values, 50), 1e-9)
	assert.InDelta(t, 38.5, Percentile(values, 95), 1e-9)
	assert.InDelta(t, 10, Percentile(values, 0), 1e-9)
	assert.InDelta(t, 40, Percentile(values, 100), 1e-9)
	assert.Zero(t, Percentile(nil, 50))

	// Single element is every percentile.
	assert.InDelta(t, 7, Percentile([]float64{7}, 95), 1e-9)
}
