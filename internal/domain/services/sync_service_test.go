package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int { return &v }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Policy.TaxRate = "0.07"
	cfg.Policy.TargetMarkup = "0.45"
	cfg.Policy.MarginFloor = "0.25"
	cfg.Policy.PriceStep = "1"
	cfg.Policy.PriceTolerance = "0.01"
	cfg.Policy.MaxDeliveryDays = 2
	cfg.Sync.RunAuditLimit = 200
	cfg.Sync.ReconcileStaleAfter = 0 // сверка публикаций в этих тестах отключена
	cfg.Kafka.EventTopic = "marketsync.events"
	cfg.Redis.BuyboxTTL = time.Minute
	return cfg
}

// testListing - активный товар с согласованным ценовым состоянием:
// себестоимость 50.00, целевая цена 77.58, пол 66.88
func testListing(sourceID string) *models.Listing {
	return &models.Listing{
		SourceID:         sourceID,
		GlobalID:         "g-" + sourceID,
		Status:           models.StatusActive,
		CostBasis:        decPtr("50.00"),
		ListPriceTarget:  dec("77.58"),
		ListPriceFloor:   dec("66.88"),
		ListPriceCurrent: dec("77.58"),
	}
}

func newTestService(store *fakeStorage, market *fakeMarketplace, avail *fakeAvailability, notifier *fakeNotifier) *SyncService {
	return NewSyncService(
		store, market, avail,
		nil, // кэш буйбокса в юнит-тестах не используется
		notifier,
		fakeTxManager{},
		nil, // сверщик подключается в отдельных тестах
		func() (*config.Config, error) { return testConfig(), nil },
		nopLogger{},
	)
}

func inStock(days int) *models.AvailabilitySnapshot {
	return &models.AvailabilitySnapshot{InStock: true, DeliveryDays: intPtr(days)}
}

func TestRunOnce_ИдемпотентностьПовторногоЗапуска(t *testing.T) {
	listing := testListing("a1")
	listing.ListPriceCurrent = dec("70.00")

	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run1, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run1.Status)
	assert.Equal(t, 1, run1.Counters.PriceUpdated)
	assert.Equal(t, 1, market.mutationCount())
	assert.True(t, store.listings["a1"].ListPriceCurrent.Equal(dec("77.58")))

	// Повторный запуск при неизменном окружении не производит ни одной мутации
	run2, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run2.Status)
	assert.Equal(t, 1, run2.Counters.NoChange)
	assert.Equal(t, 0, run2.Counters.PriceUpdated)
	assert.Equal(t, 1, market.mutationCount(), "второй запуск не должен трогать маркетплейс")

	// Каждый запуск оставляет свой артефакт
	assert.Len(t, store.runs, 2)
}

func TestRunOnce_ПриостановкаПриОтсутствииНаСкладе(t *testing.T) {
	listing := testListing("a1")
	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.snaps["a1"] = &models.AvailabilitySnapshot{InStock: false}
	notifier := &fakeNotifier{}

	svc := newTestService(store, market, avail, notifier)

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Counters.Paused)
	assert.Equal(t, models.StatusPaused, store.listings["a1"].Status)

	// Сначала мутация на маркетплейсе, потом персистенция
	require.Len(t, market.statusCalls, 1)
	assert.Equal(t, "g-a1", market.statusCalls[0].globalID)
	assert.Equal(t, models.StatusPaused, market.statusCalls[0].status)

	require.Equal(t, 1, notifier.count())
	var evt messaging.SyncEvent
	require.NoError(t, json.Unmarshal(notifier.events[0], &evt))
	assert.Equal(t, messaging.ListingPausedEvent, evt.EventType)
	assert.Equal(t, run.ID, evt.RunID)
}

func TestRunOnce_ПриостановкаПриДолгойДоставке(t *testing.T) {
	tests := []struct {
		name string
		snap *models.AvailabilitySnapshot
	}{
		{"срок доставки выше порога", inStock(3)},
		{"срок доставки неизвестен", &models.AvailabilitySnapshot{InStock: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStorage(testListing("a1"))
			market := newFakeMarketplace()
			avail := newFakeAvailability()
			avail.snaps["a1"] = tt.snap

			svc := newTestService(store, market, avail, &fakeNotifier{})

			run, err := svc.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, run.Counters.Paused)
			assert.Equal(t, models.StatusPaused, store.listings["a1"].Status)
		})
	}
}

func TestRunOnce_РеактивацияПослеПоявленияНаСкладе(t *testing.T) {
	listing := testListing("a1")
	listing.Status = models.StatusPaused
	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)
	notifier := &fakeNotifier{}

	svc := newTestService(store, market, avail, notifier)

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Counters.Reactivated)
	assert.Equal(t, models.StatusActive, store.listings["a1"].Status)

	var evt messaging.SyncEvent
	require.NoError(t, json.Unmarshal(notifier.events[0], &evt))
	assert.Equal(t, messaging.ListingReactivatedEvent, evt.EventType)
}

func TestRunOnce_ФатальнаяОшибкаАвторизацииПрерываетЗапуск(t *testing.T) {
	first := testListing("a1")
	second := testListing("a2")
	store := newFakeStorage(first, second)
	market := newFakeMarketplace()
	market.statusErr = utils.ErrUnauthorized
	avail := newFakeAvailability()
	avail.snaps["a1"] = &models.AvailabilitySnapshot{InStock: false}
	avail.snaps["a2"] = &models.AvailabilitySnapshot{InStock: false}

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run, err := svc.RunOnce(context.Background())
	require.ErrorIs(t, err, utils.ErrUnauthorized)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.FatalError)

	// Второй товар не обрабатывался
	assert.Equal(t, []string{"a1"}, run.ProcessedIDs)

	// Артефакт прерванного запуска все равно сохранен
	require.Len(t, store.runs, 1)
	assert.Equal(t, models.RunStatusFailed, store.runs[0].Status)
}

func TestRunOnce_ОшибкаОдногоТовараНеПрерываетОстальные(t *testing.T) {
	first := testListing("a1")
	second := testListing("a2")
	store := newFakeStorage(first, second)
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.errs["a1"] = errors.New("временный сбой поставщика")
	avail.snaps["a2"] = inStock(1)

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Counters.Errors)
	assert.Equal(t, 1, run.Counters.NoChange)
	assert.Equal(t, []string{"a1", "a2"}, run.ProcessedIDs)
}

func TestRunOnce_НеизвестнаяСебестоимостьПропускаетТоварСОшибкой(t *testing.T) {
	listing := testListing("a1")
	listing.CostBasis = nil
	listing.ListPriceTarget = decimal.Zero // восстановить себестоимость не из чего
	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Counters.Errors)
	assert.Equal(t, 0, market.mutationCount())
	assert.Equal(t, 0, store.priceUpdates)
}

func TestRunOnce_ВосстановлениеСебестоимостиИзЦелевойЦены(t *testing.T) {
	listing := testListing("a1")
	listing.CostBasis = nil // себестоимость потеряна, но целевая цена известна
	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Counters.Errors)
	assert.Equal(t, 1, run.Counters.NoChange)
}

func TestRunOnce_СвежаяЦенаПоставщикаОбновляетСебестоимость(t *testing.T) {
	listing := testListing("a1")
	listing.ListPriceCurrent = dec("77.58")
	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.snaps["a1"] = &models.AvailabilitySnapshot{
		InStock:      true,
		DeliveryDays: intPtr(1),
		SourcePrice:  decPtr("60.00"),
	}

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Counters.PriceUpdated)

	got := store.listings["a1"]
	require.NotNil(t, got.CostBasis)
	assert.True(t, got.CostBasis.Equal(dec("60.00")))
	// 60.00 * 1.07 * 1.45 = 93.09
	assert.True(t, got.ListPriceCurrent.Equal(dec("93.09")))
}

func TestRunOnce_КонкурентнаяЦенаПодБуйбоксом(t *testing.T) {
	listing := testListing("a1")
	listing.IsCatalog = true
	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	market.buybox["g-a1"] = &models.BuyboxQuote{GlobalID: "g-a1", Price: dec("70.00")}
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Counters.PriceUpdated)
	require.Len(t, market.priceCalls, 1)
	assert.True(t, market.priceCalls[0].price.Equal(dec("69.00")))
}

func TestRunOnce_ЦенаНижеПолаНеПерсистится(t *testing.T) {
	listing := testListing("a1")
	listing.IsCatalog = true
	store := newFakeStorage(listing)
	market := newFakeMarketplace()
	// Буйбокс чуть выше пола: конкурентная цена была бы ниже пола
	market.buybox["g-a1"] = &models.BuyboxQuote{GlobalID: "g-a1", Price: dec("67.00")}
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)

	svc := newTestService(store, market, avail, &fakeNotifier{})

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	got := store.listings["a1"]
	assert.True(t, got.ListPriceCurrent.GreaterThanOrEqual(got.ListPriceFloor),
		"персистированная цена никогда не опускается ниже пола")
	assert.True(t, got.ListPriceCurrent.Equal(dec("66.88")))
}

func TestRunOnce_ОтменаКонтекстаМеждуТоварами(t *testing.T) {
	store := newFakeStorage(testListing("a1"), testListing("a2"))
	market := newFakeMarketplace()
	avail := newFakeAvailability()
	avail.snaps["a1"] = inStock(1)
	avail.snaps["a2"] = inStock(1)

	svc := newTestService(store, market, avail, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, run.ProcessedIDs)
	assert.Equal(t, 0, market.mutationCount())

	// Артефакт сохранен несмотря на отмененный контекст
	require.Len(t, store.runs, 1)
}

func TestRunOnce_ЗакрытыеИИсключенныеТоварыНеСинхронизируются(t *testing.T) {
	closed := testListing("a1")
	closed.Status = models.StatusClosed
	skipped := testListing("a2")
	skipped.SkipSync = true
	store := newFakeStorage(closed, skipped)
	market := newFakeMarketplace()
	avail := newFakeAvailability()

	svc := newTestService(store, market, avail, &fakeNotifier{})

	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.InputCount)
	assert.Equal(t, 0, market.mutationCount())
}
