package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// ExportFormat selects the serialisation of a PnL export.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// ExportDailyPnL serialises the trailing daily PnL series. CSV rows are
// ordered oldest first with a fixed header.
func (s *Service) ExportDailyPnL(ctx context.Context, userID string, days int, format ExportFormat) ([]byte, error) {
	points, err := s.DailyPnL(ctx, userID, days)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		data, err := json.Marshal(points)
		if err != nil {
			return nil, fmt.Errorf("analytics: encode export: %w", err)
		}
		return data, nil
	case FormatCSV, "":
		return encodeCSV(points)
	default:
		return nil, &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: fmt.Sprintf("unknown export format %q", format),
		}
	}
}

// ExportLatencySummary serialises the aggregated leg latency stats.
func (s *Service) ExportLatencySummary(ctx context.Context, userID string, opts domain.ListOpts, format ExportFormat) ([]byte, error) {
	summary, err := s.RunLatency(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		data, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("analytics: encode export: %w", err)
		}
		return data, nil
	case FormatCSV, "":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"count", "average_ms", "max_ms", "p50_ms", "p95_ms"})
		_ = w.Write([]string{
			fmt.Sprintf("%d", summary.Count),
			fmt.Sprintf("%.3f", summary.AverageMs),
			fmt.Sprintf("%.3f", summary.MaxMs),
			fmt.Sprintf("%.3f", summary.P50Ms),
			fmt.Sprintf("%.3f", summary.P95Ms),
		})
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("analytics: flush csv: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: fmt.Sprintf("unknown export format %q", format),
		}
	}
}

// legStatusOrder fixes the row order of the leg-status export.
var legStatusOrder = []domain.EventStatus{
	domain.EventRequested,
	domain.EventAccepted,
	domain.EventFilled,
	domain.EventRejected,
	domain.EventCancelled,
	domain.EventCancelledBeforeSend,
	domain.EventError,
}

// ExportLegStatus serialises the per-status leg counts.
func (s *Service) ExportLegStatus(ctx context.Context, userID string, opts domain.ListOpts, format ExportFormat) ([]byte, error) {
	counts, err := s.LegStatusCounts(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		data, err := json.Marshal(counts)
		if err != nil {
			return nil, fmt.Errorf("analytics: encode export: %w", err)
		}
		return data, nil
	case FormatCSV, "":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"status", "count"})
		for _, status := range legStatusOrder {
			if n, ok := counts[status]; ok {
				_ = w.Write([]string{string(status), fmt.Sprintf("%d", n)})
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("analytics: flush csv: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: fmt.Sprintf("unknown export format %q", format),
		}
	}
}

func encodeCSV(points []domain.DailyPnLPoint) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"date", "realized_pnl", "unrealized_pnl", "trade_count"}); err != nil {
		return nil, fmt.Errorf("analytics: write csv header: %w", err)
	}
	for _, p := range points {
		row := []string{
			p.Date,
			p.RealizedPnL.String(),
			p.UnrealizedPnL.String(),
			fmt.Sprintf("%d", p.TradeCount),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("analytics: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("analytics: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
