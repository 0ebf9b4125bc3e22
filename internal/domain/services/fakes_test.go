package services

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/shopspring/decimal"
)

// ---------- хранилище ----------

type fakeStorage struct {
	mu       sync.Mutex
	listings map[string]*models.Listing
	order    []string
	runs     []*models.SyncRun

	statusUpdates int
	priceUpdates  int
	replacedSets  int
	touched       int
}

func newFakeStorage(listings ...*models.Listing) *fakeStorage {
	s := &fakeStorage{listings: make(map[string]*models.Listing)}
	for _, l := range listings {
		s.listings[l.SourceID] = l
		s.order = append(s.order, l.SourceID)
	}
	return s
}

func (s *fakeStorage) ListSyncable(ctx context.Context) ([]*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Listing
	for _, id := range s.order {
		l := s.listings[id]
		if !l.SkipSync && l.Status != models.StatusClosed {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStorage) GetListing(ctx context.Context, sourceID string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[sourceID]
	if !ok {
		return nil, utils.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *fakeStorage) UpdateStatus(ctx context.Context, sourceID string, status models.ListingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[sourceID]
	if !ok {
		return utils.ErrListingNotFound
	}
	l.Status = status
	s.statusUpdates++
	return nil
}

func (s *fakeStorage) UpdatePriceState(ctx context.Context, sourceID string, costBasis *decimal.Decimal, target, floor, current decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[sourceID]
	if !ok {
		return utils.ErrListingNotFound
	}
	l.CostBasis = costBasis
	l.ListPriceTarget = target
	l.ListPriceFloor = floor
	l.ListPriceCurrent = current
	l.LastPriceUpdateAt = &at
	s.priceUpdates++
	return nil
}

func (s *fakeStorage) ReplaceSiteItems(ctx context.Context, sourceID string, items []models.SiteItem, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[sourceID]
	if !ok {
		return utils.ErrListingNotFound
	}
	l.SiteItems = items
	l.LastReconciledAt = &at
	s.replacedSets++
	return nil
}

func (s *fakeStorage) TouchReconciled(ctx context.Context, sourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[sourceID]
	if !ok {
		return utils.ErrListingNotFound
	}
	l.LastReconciledAt = &at
	s.touched++
	return nil
}

func (s *fakeStorage) SaveRun(ctx context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStorage) ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, nil
}

func (s *fakeStorage) Close() error { return nil }

// ---------- маркетплейс ----------

type statusCall struct {
	globalID string
	status   models.ListingStatus
}

type priceCall struct {
	globalID string
	price    decimal.Decimal
}

type fakeMarketplace struct {
	mu          sync.Mutex
	statusCalls []statusCall
	priceCalls  []priceCall

	buybox map[string]*models.BuyboxQuote
	// search: country -> публикации продавца
	search map[string][]interfaces.SiteListing

	statusErr error
	priceErr  error
	searchErr error
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{
		buybox: make(map[string]*models.BuyboxQuote),
		search: make(map[string][]interfaces.SiteListing),
	}
}

func (m *fakeMarketplace) SearchSellerItems(ctx context.Context, country string, status models.ListingStatus, pageToken string) (*interfaces.SearchPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var items []interfaces.SiteListing
	for _, it := range m.search[country] {
		if it.Status == status {
			items = append(items, it)
		}
	}
	return &interfaces.SearchPage{Items: items}, nil
}

func (m *fakeMarketplace) UpdateStatus(ctx context.Context, globalID string, status models.ListingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	m.statusCalls = append(m.statusCalls, statusCall{globalID: globalID, status: status})
	return nil
}

func (m *fakeMarketplace) UpdatePrice(ctx context.Context, globalID string, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return m.priceErr
	}
	m.priceCalls = append(m.priceCalls, priceCall{globalID: globalID, price: price})
	return nil
}

func (m *fakeMarketplace) Buybox(ctx context.Context, globalID string) (*models.BuyboxQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buybox[globalID], nil
}

func (m *fakeMarketplace) mutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statusCalls) + len(m.priceCalls)
}

// ---------- поставщик наличия ----------

type fakeAvailability struct {
	snaps map[string]*models.AvailabilitySnapshot
	errs  map[string]error
}

func newFakeAvailability() *fakeAvailability {
	return &fakeAvailability{
		snaps: make(map[string]*models.AvailabilitySnapshot),
		errs:  make(map[string]error),
	}
}

func (a *fakeAvailability) Snapshot(ctx context.Context, sourceID string) (*models.AvailabilitySnapshot, error) {
	if err := a.errs[sourceID]; err != nil {
		return nil, err
	}
	if snap, ok := a.snaps[sourceID]; ok {
		return snap, nil
	}
	return nil, utils.ErrSnapshotUnavailable
}

// ---------- уведомления ----------

type fakeNotifier struct {
	mu     sync.Mutex
	events [][]byte
}

func (n *fakeNotifier) Publish(ctx context.Context, topic string, message []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, message)
	return nil
}

func (n *fakeNotifier) Close() error { return nil }

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// ---------- транзакции ----------

// fakeTxManager выполняет функцию без настоящей транзакции
type fakeTxManager struct{}

func (fakeTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ---------- логгер ----------

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{})                                 {}
func (nopLogger) Info(msg string, args ...interface{})                                  {}
func (nopLogger) Warn(msg string, args ...interface{})                                  {}
func (nopLogger) Error(msg string, args ...interface{})                                 {}
func (nopLogger) Fatal(msg string, args ...interface{})                                 {}
func (nopLogger) InfoWithContext(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) WarnWithContext(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) ErrorWithContext(ctx context.Context, msg string, args ...interface{}) {}
func (l nopLogger) WithFields(fields ...interfaces.LogField) interfaces.LoggerPort      { return l }
func (l nopLogger) WithField(key string, value interface{}) interfaces.LoggerPort       { return l }
func (nopLogger) Sync() error                                                           { return nil }
