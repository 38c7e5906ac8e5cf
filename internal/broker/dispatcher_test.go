package broker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

// flakySessionAdapter reports an expired session on the first Place, then
// succeeds after a Refresh.
type flakySessionAdapter struct {
	mu        sync.Mutex
	refreshes int
	places    int
	expired   bool
}

func (f *flakySessionAdapter) Kind() domain.BrokerKind { return "flaky" }

func (f *flakySessionAdapter) Connect(context.Context, vault.Secrets) (Session, error) {
	return Session{Token: "t-0", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *flakySessionAdapter) Refresh(context.Context, Session, vault.Secrets) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.expired = false
	return Session{Token: "t-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *flakySessionAdapter) Logout(context.Context, Session) error { return nil }

func (f *flakySessionAdapter) Place(_ context.Context, sess Session, _ PlaceIntent) (PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places++
	if f.expired && sess.Token != "t-1" {
		return PlaceResult{}, sessionExpiredFault("token stale")
	}
	return PlaceResult{BrokerOrderID: "OK-1", Status: domain.OrderAccepted}, nil
}

func (f *flakySessionAdapter) Modify(context.Context, Session, string, OrderPatch) error { return nil }
func (f *flakySessionAdapter) Cancel(context.Context, Session, string) error             { return nil }
func (f *flakySessionAdapter) Positions(context.Context, Session) ([]domain.BrokerPosition, error) {
	return nil, nil
}
func (f *flakySessionAdapter) Holdings(context.Context, Session) ([]domain.Holding, error) {
	return nil, nil
}
func (f *flakySessionAdapter) Margin(context.Context, Session) (domain.MarginSnapshot, error) {
	return domain.MarginSnapshot{}, nil
}

// slowAdapter blocks past the order deadline.
type slowAdapter struct{ flakySessionAdapter }

func (s *slowAdapter) Place(ctx context.Context, _ Session, _ PlaceIntent) (PlaceResult, error) {
	<-ctx.Done()
	return PlaceResult{}, ctx.Err()
}

type memLinkStore struct {
	mu    sync.Mutex
	links map[string]domain.BrokerLink
}

func newMemLinkStore(links ...domain.BrokerLink) *memLinkStore {
	s := &memLinkStore{links: make(map[string]domain.BrokerLink)}
	for _, l := range links {
		s.links[l.ID] = l
	}
	return s
}

func (s *memLinkStore) Create(_ context.Context, l domain.BrokerLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.ID] = l
	return nil
}

func (s *memLinkStore) Update(_ context.Context, l domain.BrokerLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.ID] = l
	return nil
}

func (s *memLinkStore) GetByID(_ context.Context, id string) (domain.BrokerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return domain.BrokerLink{}, domain.ErrNotFound
	}
	return l, nil
}

func (s *memLinkStore) ListByUser(context.Context, string) ([]domain.BrokerLink, error) {
	return nil, nil
}

func (s *memLinkStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, id)
	return nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, _ string, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memVaultStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (s *memVaultStore) Put(_ context.Context, id string, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		s.blobs = make(map[string][]byte)
	}
	s.blobs[id] = b
	return nil
}

func (s *memVaultStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *memVaultStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dispatcherFixture(t *testing.T, adapter Adapter) (*Dispatcher, domain.BrokerLink, *memAudit) {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	link := domain.BrokerLink{
		ID:               "link-1",
		UserID:           "user-1",
		Kind:             "flaky",
		Status:           domain.LinkConnected,
		SessionToken:     "t-0",
		SessionExpiresAt: &exp,
	}

	reg := NewRegistry()
	reg.Register("flaky", func(Options) Adapter { return adapter })

	audit := &memAudit{}
	v, err := vault.New("test-key", &memVaultStore{}, audit)
	require.NoError(t, err)
	require.NoError(t, v.Store(context.Background(), link.ID, vault.Secrets{"api_key": "k"}))

	d := NewDispatcher(reg, v, newMemLinkStore(link), audit, Options{}, testLogger())
	return d, link, audit
}

func TestDispatcherSilentReauthOnExpiredSession(t *testing.T) {
	adapter := &flakySessionAdapter{expired: true}
	d, link, audit := dispatcherFixture(t, adapter)

	res, err := d.Place(context.Background(), link, PlaceIntent{Symbol: "X", Side: domain.SideBuy, Quantity: 1, OrderType: domain.OrderMarket})
	require.NoError(t, err)
	assert.Equal(t, "OK-1", res.BrokerOrderID)
	assert.Equal(t, 1, adapter.refreshes)
	assert.Equal(t, 2, adapter.places)
	assert.Contains(t, audit.events, "broker.session_refreshed")
	assert.Contains(t, audit.events, "vault.fetch")
}

func TestDispatcherReauthOnlyOnce(t *testing.T) {
	// A refresh that still yields an expired session must not loop.
	adapter := &alwaysExpiredAdapter{}
	d, link, _ := dispatcherFixture(t, adapter)

	_, err := d.Place(context.Background(), link, PlaceIntent{Symbol: "X", Side: domain.SideBuy, Quantity: 1, OrderType: domain.OrderMarket})
	require.Error(t, err)
	assert.True(t, domain.SessionExpired(err))
	assert.LessOrEqual(t, adapter.refreshes.Load(), int32(1))
}

type alwaysExpiredAdapter struct {
	flakySessionAdapter
	refreshes atomic.Int32
}

func (a *alwaysExpiredAdapter) Refresh(context.Context, Session, vault.Secrets) (Session, error) {
	a.refreshes.Add(1)
	return Session{}, sessionExpiredFault("re-login required")
}

func (a *alwaysExpiredAdapter) Place(context.Context, Session, PlaceIntent) (PlaceResult, error) {
	return PlaceResult{}, sessionExpiredFault("token stale")
}

func TestDispatcherDeadlineBecomesAdapterTimeout(t *testing.T) {
	d, link, _ := dispatcherFixture(t, &slowAdapter{})

	// Shrink the deadline through a caller context so the test stays fast.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := d.Place(ctx, link, PlaceIntent{Symbol: "X", Side: domain.SideBuy, Quantity: 1, OrderType: domain.OrderMarket})
	require.Error(t, err)
}

func TestDispatcherCollapsesConcurrentRefreshes(t *testing.T) {
	adapter := &flakySessionAdapter{expired: true}
	d, link, _ := dispatcherFixture(t, adapter)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Place(context.Background(), link, PlaceIntent{Symbol: "X", Side: domain.SideBuy, Quantity: 1, OrderType: domain.OrderMarket})
		}()
	}
	wg.Wait()

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.LessOrEqual(t, adapter.refreshes, 2)
}
