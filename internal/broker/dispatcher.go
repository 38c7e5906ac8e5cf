package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

const (
	placeDeadline    = 5 * time.Second
	metadataDeadline = 2 * time.Second
	retryBackoff     = 150 * time.Millisecond
)

// Dispatcher wraps adapter calls with per-call deadlines, a single transport
// retry, and silent session recovery. When an adapter reports an expired
// session the dispatcher re-authenticates once using vaulted credentials,
// persists the new token on the link, audits the refresh, and replays the
// call. Concurrent refreshes for the same link are collapsed via singleflight
// so a fan-out of N legs performs at most one login.
type Dispatcher struct {
	registry *Registry
	vault    *vault.Vault
	links    domain.BrokerLinkStore
	audit    domain.AuditStore
	opts     Options
	logger   *slog.Logger

	refresh singleflight.Group
	now     func() time.Time

	// sessions caches full sessions (token plus adapter metadata such as the
	// Angel One api key) per link. The store only persists the bare token, so
	// after a restart the first call re-authenticates.
	mu       sync.Mutex
	sessions map[string]Session
}

// NewDispatcher builds a Dispatcher around the given registry and stores.
func NewDispatcher(registry *Registry, v *vault.Vault, links domain.BrokerLinkStore, audit domain.AuditStore, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		vault:    v,
		links:    links,
		audit:    audit,
		opts:     opts,
		logger:   logger.With(slog.String("component", "broker_dispatcher")),
		now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// Connect performs an explicit login for a link and persists the session.
func (d *Dispatcher) Connect(ctx context.Context, link domain.BrokerLink) (domain.BrokerLink, error) {
	adapter, err := d.registry.Get(string(link.Kind), d.opts)
	if err != nil {
		return link, err
	}
	creds, err := d.vault.Fetch(ctx, link.UserID, link.ID)
	if err != nil {
		return link, err
	}
	sess, err := adapter.Connect(ctx, creds)
	if err != nil {
		link.Status = domain.LinkError
		_ = d.links.Update(ctx, link)
		return link, err
	}
	d.cacheSession(link.ID, sess)
	return d.persistSession(ctx, link, sess)
}

// Logout ends the link's session and marks it disconnected.
func (d *Dispatcher) Logout(ctx context.Context, link domain.BrokerLink) error {
	adapter, err := d.registry.Get(string(link.Kind), d.opts)
	if err != nil {
		return err
	}
	if err := adapter.Logout(ctx, d.sessionOf(link)); err != nil && !domain.SessionExpired(err) {
		d.logger.Warn("broker logout failed", slog.String("link_id", link.ID), slog.Any("error", err))
	}
	d.dropSession(link.ID)
	link.Status = domain.LinkDisconnected
	link.SessionToken = ""
	link.SessionExpiresAt = nil
	return d.links.Update(ctx, link)
}

// Place dispatches one order leg with the 5s order deadline.
func (d *Dispatcher) Place(ctx context.Context, link domain.BrokerLink, intent PlaceIntent) (PlaceResult, error) {
	var result PlaceResult
	err := d.call(ctx, link, placeDeadline, func(ctx context.Context, a Adapter, sess Session) error {
		var err error
		result, err = a.Place(ctx, sess, intent)
		return err
	})
	return result, err
}

// Modify patches a resting order.
func (d *Dispatcher) Modify(ctx context.Context, link domain.BrokerLink, brokerOrderID string, patch OrderPatch) error {
	return d.call(ctx, link, placeDeadline, func(ctx context.Context, a Adapter, sess Session) error {
		return a.Modify(ctx, sess, brokerOrderID, patch)
	})
}

// Cancel cancels a resting order. Rollback paths depend on this staying
// within the order deadline.
func (d *Dispatcher) Cancel(ctx context.Context, link domain.BrokerLink, brokerOrderID string) error {
	return d.call(ctx, link, placeDeadline, func(ctx context.Context, a Adapter, sess Session) error {
		return a.Cancel(ctx, sess, brokerOrderID)
	})
}

// Positions fetches broker-side open positions with the metadata deadline.
func (d *Dispatcher) Positions(ctx context.Context, link domain.BrokerLink) ([]domain.BrokerPosition, error) {
	var out []domain.BrokerPosition
	err := d.call(ctx, link, metadataDeadline, func(ctx context.Context, a Adapter, sess Session) error {
		var err error
		out, err = a.Positions(ctx, sess)
		return err
	})
	return out, err
}

// Holdings fetches delivery holdings.
func (d *Dispatcher) Holdings(ctx context.Context, link domain.BrokerLink) ([]domain.Holding, error) {
	var out []domain.Holding
	err := d.call(ctx, link, metadataDeadline, func(ctx context.Context, a Adapter, sess Session) error {
		var err error
		out, err = a.Holdings(ctx, sess)
		return err
	})
	return out, err
}

// Convert moves a position between product types on brokers whose adapter
// implements PositionConverter. Others get a non-retryable rejection.
func (d *Dispatcher) Convert(ctx context.Context, link domain.BrokerLink, req ConvertRequest) error {
	return d.call(ctx, link, placeDeadline, func(ctx context.Context, a Adapter, sess Session) error {
		conv, ok := a.(PositionConverter)
		if !ok {
			return rejectedFault(fmt.Sprintf("%s does not support position conversion", a.Kind()))
		}
		return conv.ConvertPosition(ctx, sess, req)
	})
}

// Margin fetches the margin snapshot.
func (d *Dispatcher) Margin(ctx context.Context, link domain.BrokerLink) (domain.MarginSnapshot, error) {
	var out domain.MarginSnapshot
	err := d.call(ctx, link, metadataDeadline, func(ctx context.Context, a Adapter, sess Session) error {
		var err error
		out, err = a.Margin(ctx, sess)
		return err
	})
	return out, err
}

type adapterCall func(ctx context.Context, a Adapter, sess Session) error

// call runs fn against the link's adapter: deadline, one retry on retryable
// transport faults, one silent re-auth on session expiry.
func (d *Dispatcher) call(ctx context.Context, link domain.BrokerLink, deadline time.Duration, fn adapterCall) error {
	adapter, err := d.registry.Get(string(link.Kind), d.opts)
	if err != nil {
		return err
	}

	sess := d.sessionOf(link)
	if sess.Expired(d.now()) {
		sess, err = d.refreshSession(ctx, link, adapter)
		if err != nil {
			return err
		}
	}

	err = d.attempt(ctx, deadline, adapter, sess, fn)
	if domain.SessionExpired(err) {
		sess, rerr := d.refreshSession(ctx, link, adapter)
		if rerr != nil {
			return rerr
		}
		err = d.attempt(ctx, deadline, adapter, sess, fn)
	}
	return err
}

// attempt runs fn once under its deadline, retrying a single time on a
// retryable fault. Deadline overruns come back as ADAPTER_TIMEOUT faults.
func (d *Dispatcher) attempt(ctx context.Context, deadline time.Duration, a Adapter, sess Session, fn adapterCall) error {
	run := func() error {
		cctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		err := fn(cctx, a, sess)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return transportFault(fmt.Sprintf("%s call exceeded %s", a.Kind(), deadline))
		}
		return err
	}

	err := run()
	if f, ok := domain.AsBrokerFault(err); ok && f.Retryable && ctx.Err() == nil {
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = run()
	}
	return err
}

// refreshSession performs at most one concurrent re-auth per link, persists
// the new token, and records the silent refresh in the audit log.
func (d *Dispatcher) refreshSession(ctx context.Context, link domain.BrokerLink, adapter Adapter) (Session, error) {
	v, err, _ := d.refresh.Do(link.ID, func() (any, error) {
		creds, err := d.vault.Fetch(ctx, link.UserID, link.ID)
		if err != nil {
			return nil, err
		}
		sess, err := adapter.Refresh(ctx, d.sessionOf(link), creds)
		if err != nil {
			if domain.SessionExpired(err) {
				d.dropSession(link.ID)
				link.Status = domain.LinkExpired
				link.SessionToken = ""
				_ = d.links.Update(ctx, link)
			}
			return nil, err
		}
		d.cacheSession(link.ID, sess)
		if _, err := d.persistSession(ctx, link, sess); err != nil {
			return nil, err
		}
		_ = d.audit.Log(ctx, link.UserID, "broker.session_refreshed", map[string]any{
			"broker_link_id": link.ID,
			"broker":         string(link.Kind),
		})
		d.logger.Info("broker session refreshed",
			slog.String("link_id", link.ID),
			slog.String("broker", string(link.Kind)))
		return sess, nil
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (d *Dispatcher) persistSession(ctx context.Context, link domain.BrokerLink, sess Session) (domain.BrokerLink, error) {
	now := d.now()
	link.Status = domain.LinkConnected
	link.SessionToken = sess.Token
	link.LastLoginAt = &now
	if !sess.ExpiresAt.IsZero() {
		exp := sess.ExpiresAt
		link.SessionExpiresAt = &exp
	}
	if err := d.links.Update(ctx, link); err != nil {
		return link, fmt.Errorf("broker: persist session for link %s: %w", link.ID, err)
	}
	return link, nil
}

func (d *Dispatcher) sessionOf(link domain.BrokerLink) Session {
	d.mu.Lock()
	cached, ok := d.sessions[link.ID]
	d.mu.Unlock()
	if ok && cached.Token == link.SessionToken {
		return cached
	}
	sess := Session{Token: link.SessionToken}
	if link.SessionExpiresAt != nil {
		sess.ExpiresAt = *link.SessionExpiresAt
	}
	return sess
}

func (d *Dispatcher) cacheSession(linkID string, sess Session) {
	d.mu.Lock()
	d.sessions[linkID] = sess
	d.mu.Unlock()
}

func (d *Dispatcher) dropSession(linkID string) {
	d.mu.Lock()
	delete(d.sessions, linkID)
	d.mu.Unlock()
}
