// Package webhook turns authenticated external signals into strategy runs.
package webhook

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// DefaultWindow is the dedupe horizon for identical deliveries.
const DefaultWindow = 60 * time.Second

// Launcher starts a strategy run under a caller-chosen id. Implemented by
// *strategy.Runner.
type Launcher interface {
	StartWithID(ctx context.Context, strat domain.Strategy, mode domain.StrategyMode, runID string) (domain.StrategyRun, error)
}

// Result is the outcome of one delivery. Duplicate deliveries carry the id of
// the run the original delivery started.
type Result struct {
	RunID     string
	Duplicate bool
}

// Ingress authenticates, deduplicates and dispatches webhook deliveries.
type Ingress struct {
	connectors domain.ConnectorStore
	strategies domain.StrategyStore
	idem       domain.IdempotencyStore
	launcher   Launcher
	window     time.Duration
	logger     *slog.Logger
}

// NewIngress wires an Ingress. window <= 0 selects DefaultWindow.
func NewIngress(connectors domain.ConnectorStore, strategies domain.StrategyStore,
	idem domain.IdempotencyStore, launcher Launcher, window time.Duration, logger *slog.Logger) *Ingress {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ingress{
		connectors: connectors,
		strategies: strategies,
		idem:       idem,
		launcher:   launcher,
		window:     window,
		logger:     logger.With(slog.String("component", "webhook_ingress")),
	}
}

// Handle processes one delivery. The token authenticates the connector; an
// identical payload inside the window returns Duplicate with the original
// run id instead of firing again.
func (i *Ingress) Handle(ctx context.Context, token string, payload []byte) (Result, error) {
	connector, err := i.authenticate(ctx, token)
	if err != nil {
		return Result{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Result{}, &domain.RiskViolation{
			Code: domain.CodeAllocationInvalid, Message: "payload is not a JSON object",
		}
	}
	overrides := applyTransform(connector.Transform, fields)

	strat, err := i.strategies.GetByID(ctx, connector.UserID, connector.StrategyID)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: load strategy %s: %w", connector.StrategyID, err)
	}

	merged := make(map[string]any, len(strat.Params)+len(overrides))
	for k, v := range strat.Params {
		merged[k] = v
	}
	mode := domain.ModeLive
	for k, v := range overrides {
		if k == "mode" {
			if m, ok := v.(string); ok && m != "" {
				mode = domain.StrategyMode(m)
			}
			continue
		}
		merged[k] = v
	}
	strat.Params = merged

	runID := uuid.New().String()
	existing, claimed, err := i.idem.Claim(ctx, deliveryKey(connector.ID, payload), runID, i.window)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: claim delivery: %w", err)
	}
	if !claimed {
		i.logger.Info("duplicate delivery",
			slog.String("connector_id", connector.ID),
			slog.String("original_run_id", existing))
		return Result{RunID: existing, Duplicate: true}, &domain.RiskViolation{
			Code:    domain.CodeConflict,
			Message: fmt.Sprintf("duplicate delivery, original run %s", existing),
		}
	}

	run, err := i.launcher.StartWithID(ctx, strat, mode, runID)
	if err != nil {
		return Result{RunID: run.ID}, err
	}
	i.logger.Info("webhook fired",
		slog.String("connector_id", connector.ID),
		slog.String("strategy_run_id", run.ID))
	return Result{RunID: run.ID}, nil
}

// authenticate resolves the connector and verifies the token in constant
// time. Unknown and disabled connectors are indistinguishable to the caller.
func (i *Ingress) authenticate(ctx context.Context, token string) (domain.WebhookConnector, error) {
	unauthorized := &domain.RiskViolation{
		Code: domain.CodeUnauthorized, Message: "invalid webhook token",
	}

	connector, err := i.connectors.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn a comparison so the miss costs the same as a mismatch.
			subtle.ConstantTimeCompare([]byte(token), []byte(token))
			return domain.WebhookConnector{}, unauthorized
		}
		return domain.WebhookConnector{}, fmt.Errorf("webhook: resolve token: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(connector.Token)) != 1 {
		return domain.WebhookConnector{}, unauthorized
	}
	if !connector.Enabled {
		return domain.WebhookConnector{}, unauthorized
	}
	return connector, nil
}

func deliveryKey(connectorID string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return connectorID + ":" + hex.EncodeToString(sum[:])
}
