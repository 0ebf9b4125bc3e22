package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/lifecycle"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/domain/pricing"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"github.com/shopspring/decimal"
)

// runIDFromContext возвращает идентификатор текущего запуска, если он есть
func runIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value("run_id").(string)
	return id
}

// SyncServiceInterface определяет контракт оркестратора синхронизации
type SyncServiceInterface interface {
	// RunOnce выполняет один полный проход по всем синхронизируемым товарам
	RunOnce(ctx context.Context) (*models.SyncRun, error)
}

// ConfigLoader перечитывает конфигурацию перед запуском,
// чтобы изменение политики применялось без перезапуска процесса
type ConfigLoader func() (*config.Config, error)

// SyncService - оркестратор синхронизации цен и наличия.
// Товары обрабатываются последовательно: бюджет частоты запросов остается
// предсказуемым, а сбой одного товара изолирован от остальных.
type SyncService struct {
	storage    storage.ListingStoragePort
	market     interfaces.MarketplacePort
	avail      interfaces.AvailabilityPort
	cache      interfaces.CachePort
	notifier   interfaces.NotifierPort
	txm        tx.Manager
	reconciler *SiteItemReconciler
	loadConfig ConfigLoader
	logger     interfaces.LoggerPort
}

// NewSyncService создает оркестратор синхронизации
func NewSyncService(
	store storage.ListingStoragePort,
	market interfaces.MarketplacePort,
	avail interfaces.AvailabilityPort,
	cache interfaces.CachePort,
	notifier interfaces.NotifierPort,
	txm tx.Manager,
	reconciler *SiteItemReconciler,
	loadConfig ConfigLoader,
	logger interfaces.LoggerPort,
) *SyncService {
	return &SyncService{
		storage:    store,
		market:     market,
		avail:      avail,
		cache:      cache,
		notifier:   notifier,
		txm:        txm,
		reconciler: reconciler,
		loadConfig: loadConfig,
		logger:     logger,
	}
}

// RunOnce выполняет один запуск синхронизации и сохраняет его артефакт.
// Артефакт сохраняется всегда, даже если запуск прерван фатальной ошибкой:
// оператор не должен восстанавливать картину по сырым логам.
func (s *SyncService) RunOnce(ctx context.Context) (*models.SyncRun, error) {
	started := time.Now()

	cfg, err := s.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("ошибка перечитывания конфигурации: %w", err)
	}

	policy, err := pricing.NewPolicy(cfg.Policy.TaxRate, cfg.Policy.TargetMarkup, cfg.Policy.MarginFloor, cfg.Policy.PriceStep)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора ценовой политики: %w", err)
	}
	tolerance, err := decimal.NewFromString(cfg.Policy.PriceTolerance)
	if err != nil {
		return nil, fmt.Errorf("некорректный price_tolerance: %w", err)
	}

	listings, err := s.storage.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка товаров: %w", err)
	}

	run := models.NewSyncRun(len(listings), cfg.Sync.RunAuditLimit)
	runCtx := context.WithValue(ctx, "run_id", run.ID)

	s.logger.Info("Запуск синхронизации",
		interfaces.LogField{Key: "run_id", Value: run.ID},
		interfaces.LogField{Key: "input_count", Value: len(listings)},
	)

	var fatal error
	for i, listing := range listings {
		// Сигнал остановки проверяется между товарами: текущий товар
		// завершает свою пару мутаций (статус+цена) целиком
		if ctx.Err() != nil {
			s.logger.Warn("Запуск прерван, оставшиеся товары отложены до следующего запуска",
				interfaces.LogField{Key: "run_id", Value: run.ID},
				interfaces.LogField{Key: "processed", Value: i},
				interfaces.LogField{Key: "remaining", Value: len(listings) - i},
			)
			break
		}

		run.Track(listing.SourceID)

		if err := s.syncListing(runCtx, cfg, policy, tolerance, listing, run); err != nil {
			if errors.Is(err, utils.ErrUnauthorized) {
				// Недействительные учетные данные фатальны для всего запуска
				fatal = err
				break
			}
			run.Counters.Errors++
			itemsProcessed.WithLabelValues("error").Inc()
			s.logger.ErrorWithContext(runCtx, "Ошибка синхронизации товара",
				interfaces.LogField{Key: "source_id", Value: listing.SourceID},
				interfaces.LogField{Key: "global_id", Value: listing.GlobalID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			continue
		}
		itemsProcessed.WithLabelValues("success").Inc()

		if (i+1)%100 == 0 {
			s.logger.Info("Прогресс синхронизации",
				interfaces.LogField{Key: "run_id", Value: run.ID},
				interfaces.LogField{Key: "processed", Value: i + 1},
				interfaces.LogField{Key: "total", Value: len(listings)},
			)
		}
	}

	if fatal != nil {
		run.Fail(fatal)
		s.logger.Error("Запуск прерван фатальной ошибкой",
			interfaces.LogField{Key: "run_id", Value: run.ID},
			interfaces.LogField{Key: "error", Value: fatal.Error()},
		)
	} else {
		run.Finish()
	}

	runDuration.Observe(time.Since(started).Seconds())

	// Артефакт сохраняется даже при отмене внешнего контекста
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.storage.SaveRun(saveCtx, run); err != nil {
		s.logger.Error("Не удалось сохранить артефакт запуска",
			interfaces.LogField{Key: "run_id", Value: run.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}

	s.logger.Info("Запуск синхронизации завершен",
		interfaces.LogField{Key: "run_id", Value: run.ID},
		interfaces.LogField{Key: "status", Value: string(run.Status)},
		interfaces.LogField{Key: "paused", Value: run.Counters.Paused},
		interfaces.LogField{Key: "reactivated", Value: run.Counters.Reactivated},
		interfaces.LogField{Key: "price_updated", Value: run.Counters.PriceUpdated},
		interfaces.LogField{Key: "no_change", Value: run.Counters.NoChange},
		interfaces.LogField{Key: "drift", Value: run.Counters.Drift},
		interfaces.LogField{Key: "errors", Value: run.Counters.Errors},
	)

	if fatal != nil {
		return run, fatal
	}
	return run, nil
}

// syncListing обрабатывает один товар: жизненный цикл, цена, сверка публикаций
func (s *SyncService) syncListing(ctx context.Context, cfg *config.Config, policy pricing.Policy, tolerance decimal.Decimal, listing *models.Listing, run *models.SyncRun) error {
	snap, err := s.avail.Snapshot(ctx, listing.SourceID)
	if err != nil {
		return fmt.Errorf("снимок наличия недоступен: %w", err)
	}

	// --- Жизненный цикл ---
	nextStatus, action := lifecycle.Decide(listing.Status, *snap, cfg.Policy.MaxDeliveryDays)
	statusChanged := action != lifecycle.ActionNone
	if statusChanged {
		if err := s.market.UpdateStatus(ctx, listing.GlobalID, nextStatus); err != nil {
			return fmt.Errorf("ошибка смены статуса: %w", err)
		}
		marketplaceMutations.WithLabelValues("status").Inc()
	}

	// --- Цена ---
	cost, err := s.resolveCostBasis(policy, listing, snap)
	if err != nil {
		// Себестоимость неизвестна: товар пропускается с ошибкой,
		// но уже выполненная смена статуса фиксируется
		if statusChanged {
			s.persistStatusOnly(ctx, listing, nextStatus, action, run)
		}
		return err
	}

	var buybox *decimal.Decimal
	if listing.IsCatalog {
		buybox = s.buyboxPrice(ctx, cfg, listing.GlobalID)
	}

	decision := policy.Decide(cost, listing.IsCatalog, buybox)
	target := policy.TargetPrice(cost)
	floor := policy.FloorPrice(cost)

	// Цена ниже пола никогда не персистится
	if decision.Price.LessThan(floor) {
		if statusChanged {
			s.persistStatusOnly(ctx, listing, nextStatus, action, run)
		}
		return fmt.Errorf("ценовое решение %s ниже пола %s, товар пропущен", decision.Price, floor)
	}

	priceChanged := decision.Price.Sub(listing.ListPriceCurrent).Abs().GreaterThan(tolerance)
	if priceChanged {
		if err := s.market.UpdatePrice(ctx, listing.GlobalID, decision.Price); err != nil {
			if statusChanged {
				s.persistStatusOnly(ctx, listing, nextStatus, action, run)
			}
			return fmt.Errorf("ошибка обновления цены: %w", err)
		}
		marketplaceMutations.WithLabelValues("price").Inc()
	}

	// Пара статус+цена персистится одной транзакцией
	if statusChanged || priceChanged {
		now := time.Now().UTC()
		err := s.txm.Do(ctx, func(txCtx context.Context) error {
			if statusChanged {
				if err := s.storage.UpdateStatus(txCtx, listing.SourceID, nextStatus); err != nil {
					return err
				}
			}
			if priceChanged {
				if err := s.storage.UpdatePriceState(txCtx, listing.SourceID, &cost, target, floor, decision.Price, now); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("ошибка сохранения результата синхронизации: %w", err)
		}
	}

	switch action {
	case lifecycle.ActionPause:
		run.Counters.Paused++
		s.publishEvent(ctx, cfg, messaging.ListingPausedEvent, listing, map[string]interface{}{
			"in_stock":      snap.InStock,
			"delivery_days": snap.DeliveryDays,
		})
	case lifecycle.ActionReactivate:
		run.Counters.Reactivated++
		s.publishEvent(ctx, cfg, messaging.ListingReactivatedEvent, listing, nil)
	}

	if priceChanged {
		run.Counters.PriceUpdated++
		s.publishEvent(ctx, cfg, messaging.PriceChangedEvent, listing, map[string]interface{}{
			"old_price": listing.ListPriceCurrent.String(),
			"new_price": decision.Price.String(),
			"reason":    decision.Reason,
		})
		listing.ListPriceCurrent = decision.Price
	}

	if !statusChanged && !priceChanged {
		run.Counters.NoChange++
	}
	listing.Status = nextStatus

	// --- Периодическая сверка публикаций ---
	if s.reconciler != nil && reconcileDue(listing.LastReconciledAt, cfg.Sync.ReconcileStaleAfter) {
		changed, rerr := s.reconciler.Reconcile(ctx, listing)
		switch {
		case errors.Is(rerr, utils.ErrDriftInconclusive):
			// Предупреждение, подавляющее разрушительную запись; не ошибка товара
		case rerr != nil:
			return fmt.Errorf("ошибка сверки публикаций: %w", rerr)
		case changed:
			run.Counters.Drift++
			driftRepaired.Inc()
		}
	}

	return nil
}

// resolveCostBasis определяет себестоимость: свежая цена из снимка,
// сохраненный cost_basis, либо восстановление из целевой цены.
// Нулевое значение не подставляется никогда.
func (s *SyncService) resolveCostBasis(policy pricing.Policy, listing *models.Listing, snap *models.AvailabilitySnapshot) (decimal.Decimal, error) {
	if snap.SourcePrice != nil && snap.SourcePrice.IsPositive() {
		return *snap.SourcePrice, nil
	}
	if listing.CostBasis != nil && listing.CostBasis.IsPositive() {
		return *listing.CostBasis, nil
	}
	cost, err := policy.ReconstructCost(listing.ListPriceTarget)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: source_id=%s", utils.ErrCostBasisUnknown, listing.SourceID)
	}
	return cost, nil
}

// persistStatusOnly фиксирует уже выполненную на маркетплейсе смену статуса,
// когда дальнейшая обработка товара сорвалась
func (s *SyncService) persistStatusOnly(ctx context.Context, listing *models.Listing, nextStatus models.ListingStatus, action lifecycle.Action, run *models.SyncRun) {
	if err := s.storage.UpdateStatus(ctx, listing.SourceID, nextStatus); err != nil {
		s.logger.ErrorWithContext(ctx, "Не удалось сохранить смену статуса",
			interfaces.LogField{Key: "source_id", Value: listing.SourceID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return
	}
	listing.Status = nextStatus
	switch action {
	case lifecycle.ActionPause:
		run.Counters.Paused++
	case lifecycle.ActionReactivate:
		run.Counters.Reactivated++
	}
}

// buyboxPrice возвращает цену буйбокса из кэша или API.
// Отсутствие буйбокса (или временный сбой его чтения) не ошибка:
// ценовой движок в этом случае вернет целевую цену.
func (s *SyncService) buyboxPrice(ctx context.Context, cfg *config.Config, globalID string) *decimal.Decimal {
	cacheKey := "buybox:" + globalID

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil {
			var quote models.BuyboxQuote
			if json.Unmarshal(raw, &quote) == nil {
				return &quote.Price
			}
		}
	}

	quote, err := s.market.Buybox(ctx, globalID)
	if err != nil {
		if errors.Is(err, utils.ErrUnauthorized) {
			// Фатальную ошибку глушить нельзя, но и цену менять вслепую тоже;
			// она всплывет на ближайшей мутации
			return nil
		}
		s.logger.WarnWithContext(ctx, "Цена буйбокса недоступна, используется целевая цена",
			interfaces.LogField{Key: "global_id", Value: globalID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return nil
	}
	if quote == nil {
		return nil
	}

	if s.cache != nil {
		if raw, err := json.Marshal(quote); err == nil {
			_ = s.cache.Set(ctx, cacheKey, raw, cfg.Redis.BuyboxTTL)
		}
	}

	return &quote.Price
}

// publishEvent отправляет событие синхронизации; сбой отправки не валит товар
func (s *SyncService) publishEvent(ctx context.Context, cfg *config.Config, eventType string, listing *models.Listing, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}

	evt := messaging.NewSyncEvent(eventType, listing.SourceID, listing.GlobalID, runIDFromContext(ctx), payload)
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.notifier.Publish(ctx, cfg.Kafka.EventTopic, raw); err != nil {
		s.logger.WarnWithContext(ctx, "Не удалось отправить событие синхронизации",
			interfaces.LogField{Key: "event_type", Value: eventType},
			interfaces.LogField{Key: "source_id", Value: listing.SourceID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// reconcileDue сообщает, пора ли сверять публикации товара
func reconcileDue(lastReconciledAt *time.Time, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		return false
	}
	if lastReconciledAt == nil {
		return true
	}
	return time.Since(*lastReconciledAt) > staleAfter
}
