package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// pagedMarketplace отдает заранее подготовленные страницы поиска,
// ключ - страна, статус и пагинационный токен
type pagedMarketplace struct {
	pages      map[string]*interfaces.SearchPage
	searchErrs map[string]error
}

func newPagedMarketplace() *pagedMarketplace {
	return &pagedMarketplace{
		pages:      make(map[string]*interfaces.SearchPage),
		searchErrs: make(map[string]error),
	}
}

func pageKey(country string, status models.ListingStatus, token string) string {
	return fmt.Sprintf("%s|%s|%s", country, status, token)
}

func (m *pagedMarketplace) SearchSellerItems(ctx context.Context, country string, status models.ListingStatus, pageToken string) (*interfaces.SearchPage, error) {
	key := pageKey(country, status, pageToken)
	if err := m.searchErrs[key]; err != nil {
		return nil, err
	}
	if page, ok := m.pages[key]; ok {
		return page, nil
	}
	return &interfaces.SearchPage{}, nil
}

func (m *pagedMarketplace) UpdateStatus(ctx context.Context, globalID string, status models.ListingStatus) error {
	return nil
}

func (m *pagedMarketplace) UpdatePrice(ctx context.Context, globalID string, price decimal.Decimal) error {
	return nil
}

func (m *pagedMarketplace) Buybox(ctx context.Context, globalID string) (*models.BuyboxQuote, error) {
	return nil, nil
}

func siteListing(country, localID, globalID string, status models.ListingStatus) interfaces.SiteListing {
	return interfaces.SiteListing{
		CountryCode:     country,
		LocalID:         localID,
		GlobalID:        globalID,
		FulfillmentType: "fbs",
		Status:          status,
	}
}

func newTestReconciler(market interfaces.MarketplacePort, store *fakeStorage, notifier *fakeNotifier, countries []string) *SiteItemReconciler {
	return NewSiteItemReconciler(
		market, store, notifier,
		rate.NewLimiter(rate.Inf, 0),
		countries,
		"marketsync.events",
		nopLogger{},
	)
}

func reconcileListing() *models.Listing {
	return &models.Listing{
		SourceID: "a1",
		GlobalID: "g-a1",
		Status:   models.StatusActive,
		SiteItems: []models.SiteItem{
			{CountryCode: "de", LocalID: "de-1", FulfillmentType: "fbs"},
			{CountryCode: "fr", LocalID: "fr-1", FulfillmentType: "fbs"},
		},
	}
}

func TestReconcile_НольСовпаденийНеСтираетПубликации(t *testing.T) {
	listing := reconcileListing()
	store := newFakeStorage(listing)
	market := newPagedMarketplace() // поиск не находит ничего ни в одной стране

	rec := newTestReconciler(market, store, &fakeNotifier{}, []string{"de", "fr"})

	changed, err := rec.Reconcile(context.Background(), listing)
	require.ErrorIs(t, err, utils.ErrDriftInconclusive)
	assert.False(t, changed)

	// Сохраненный набор остался нетронутым
	assert.Equal(t, 0, store.replacedSets)
	assert.Equal(t, 0, store.touched)
	assert.Len(t, store.listings["a1"].SiteItems, 2)
}

func TestReconcile_СовпадающийНаборТолькоОбновляетОтметкуСверки(t *testing.T) {
	listing := reconcileListing()
	store := newFakeStorage(listing)
	market := newPagedMarketplace()
	market.pages[pageKey("de", models.StatusActive, "")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{siteListing("de", "de-1", "g-a1", models.StatusActive)},
	}
	market.pages[pageKey("fr", models.StatusActive, "")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{siteListing("fr", "fr-1", "g-a1", models.StatusActive)},
	}

	rec := newTestReconciler(market, store, &fakeNotifier{}, []string{"de", "fr"})

	changed, err := rec.Reconcile(context.Background(), listing)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, store.touched)
	assert.Equal(t, 0, store.replacedSets)
	assert.NotNil(t, store.listings["a1"].LastReconciledAt)
}

func TestReconcile_ДрейфЗаменяетНаборЦеликом(t *testing.T) {
	listing := reconcileListing() // сохранены de и fr
	store := newFakeStorage(listing)
	notifier := &fakeNotifier{}
	market := newPagedMarketplace()
	// Реально маркетплейс видит fr (скрытую) и it, которой в базе нет
	market.pages[pageKey("fr", models.StatusPaused, "")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{siteListing("fr", "fr-1", "g-a1", models.StatusPaused)},
	}
	market.pages[pageKey("it", models.StatusActive, "")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{siteListing("it", "it-9", "g-a1", models.StatusActive)},
	}

	rec := newTestReconciler(market, store, notifier, []string{"de", "fr", "it"})

	changed, err := rec.Reconcile(context.Background(), listing)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, store.replacedSets)

	got := store.listings["a1"].SiteItems
	require.Len(t, got, 2)
	// Набор отсортирован по коду страны
	assert.Equal(t, "fr", got[0].CountryCode)
	assert.Equal(t, "it", got[1].CountryCode)
	assert.Equal(t, "it-9", got[1].LocalID)

	require.Equal(t, 1, notifier.count())
	var evt messaging.SyncEvent
	require.NoError(t, json.Unmarshal(notifier.events[0], &evt))
	assert.Equal(t, messaging.DriftDetectedEvent, evt.EventType)
}

func TestReconcile_ПагинацияОбходитВсеСтраницы(t *testing.T) {
	listing := reconcileListing()
	listing.SiteItems = nil
	store := newFakeStorage(listing)
	market := newPagedMarketplace()
	// Нужная публикация лежит на второй странице, первая забита чужими
	market.pages[pageKey("de", models.StatusActive, "")] = &interfaces.SearchPage{
		Items:     []interfaces.SiteListing{siteListing("de", "de-x", "g-other", models.StatusActive)},
		NextToken: "p2",
	}
	market.pages[pageKey("de", models.StatusActive, "p2")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{siteListing("de", "de-1", "g-a1", models.StatusActive)},
	}

	rec := newTestReconciler(market, store, &fakeNotifier{}, []string{"de"})

	changed, err := rec.Reconcile(context.Background(), listing)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, store.listings["a1"].SiteItems, 1)
	assert.Equal(t, "de-1", store.listings["a1"].SiteItems[0].LocalID)
}

func TestReconcile_ДубликатСтраныНеПопадаетВНабор(t *testing.T) {
	listing := reconcileListing()
	store := newFakeStorage(listing)
	market := newPagedMarketplace()
	market.pages[pageKey("de", models.StatusActive, "")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{
			siteListing("de", "de-1", "g-a1", models.StatusActive),
			siteListing("de", "de-2", "g-a1", models.StatusActive),
		},
	}

	rec := newTestReconciler(market, store, &fakeNotifier{}, []string{"de"})

	changed, err := rec.Reconcile(context.Background(), listing)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, store.listings["a1"].SiteItems, 1)
	// Первая встреченная публикация в стране выигрывает
	assert.Equal(t, "de-1", store.listings["a1"].SiteItems[0].LocalID)
}

func TestReconcile_ОшибкаПоискаПрекращаетСверку(t *testing.T) {
	listing := reconcileListing()
	store := newFakeStorage(listing)
	market := newPagedMarketplace()
	market.searchErrs[pageKey("de", models.StatusActive, "")] = fmt.Errorf("сбой API")

	rec := newTestReconciler(market, store, &fakeNotifier{}, []string{"de", "fr"})

	changed, err := rec.Reconcile(context.Background(), listing)
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, store.replacedSets)
}

func TestReconcile_ИнтеграцияСОркестраторомПоДавностиСверки(t *testing.T) {
	listing := testListing("a1")
	listing.SiteItems = []models.SiteItem{{CountryCode: "de", LocalID: "de-1", FulfillmentType: "fbs"}}
	staleAt := time.Now().Add(-100 * time.Hour)
	listing.LastReconciledAt = &staleAt

	store := newFakeStorage(listing)
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)

	market := newPagedMarketplace()
	market.pages[pageKey("de", models.StatusActive, "")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{siteListing("de", "de-1", "g-a1", models.StatusActive)},
	}
	market.pages[pageKey("fr", models.StatusActive, "")] = &interfaces.SearchPage{
		Items: []interfaces.SiteListing{siteListing("fr", "fr-7", "g-a1", models.StatusActive)},
	}

	rec := newTestReconciler(market, store, &fakeNotifier{}, []string{"de", "fr"})
	svc := NewSyncService(
		store, market, avail, nil, &fakeNotifier{},
		fakeTxManager{}, rec,
		func() (*config.Config, error) {
			cfg := testConfig()
			cfg.Sync.ReconcileStaleAfter = 72 * time.Hour
			return cfg, nil
		},
		nopLogger{},
	)

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Counters.Drift)
	assert.Len(t, store.listings["a1"].SiteItems, 2)
}
