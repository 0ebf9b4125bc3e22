package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"golang.org/x/time/rate"
)

// maxSearchPages ограничивает постраничный обход одной страны,
// чтобы сбойный пагинационный токен не зациклил сверку
const maxSearchPages = 50

// SiteItemReconciler сверяет сохраненные публикации по странам с тем,
// что маркетплейс реально отдает, и чинит расхождения.
// Публикацию, которую нельзя независимо подтвердить, он никогда не удаляет.
type SiteItemReconciler struct {
	market     interfaces.MarketplacePort
	storage    storage.ListingStorageInterface
	notifier   interfaces.NotifierPort
	limiter    *rate.Limiter
	countries  []string
	eventTopic string
	logger     interfaces.LoggerPort
}

// NewSiteItemReconciler создает сверщика публикаций
func NewSiteItemReconciler(
	market interfaces.MarketplacePort,
	store storage.ListingStorageInterface,
	notifier interfaces.NotifierPort,
	limiter *rate.Limiter,
	countries []string,
	eventTopic string,
	logger interfaces.LoggerPort,
) *SiteItemReconciler {
	return &SiteItemReconciler{
		market:     market,
		storage:    store,
		notifier:   notifier,
		limiter:    limiter,
		countries:  countries,
		eventTopic: eventTopic,
		logger:     logger,
	}
}

// Reconcile сверяет публикации товара по всем странам.
// Возвращает true, если сохраненный набор был заменен.
//
// Ноль совпадений во всех странах трактуется как неубедительный результат
// (вероятный сбой API или предел пагинации), а не как "публикаций больше нет":
// сохраненный набор остается нетронутым, возвращается ErrDriftInconclusive.
func (r *SiteItemReconciler) Reconcile(ctx context.Context, listing *models.Listing) (bool, error) {
	found := make([]models.SiteItem, 0, len(r.countries))
	seen := make(map[string]bool, len(r.countries))

	for _, country := range r.countries {
		// Пауза между странами идет через общий ограничитель частоты
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}

		// Запрашиваем и видимые, и скрытые публикации: пропуск любого из
		// состояний молча занижает реальное число публикаций
		for _, status := range []models.ListingStatus{models.StatusActive, models.StatusPaused} {
			items, err := r.searchCountry(ctx, country, status, listing.GlobalID)
			if err != nil {
				return false, fmt.Errorf("ошибка поиска публикаций в %s: %w", country, err)
			}
			for _, it := range items {
				// В каждой стране не больше одной публикации
				if seen[it.CountryCode] {
					r.logger.Warn("Маркетплейс вернул дубликат публикации в стране",
						interfaces.LogField{Key: "global_id", Value: listing.GlobalID},
						interfaces.LogField{Key: "country", Value: it.CountryCode},
					)
					continue
				}
				seen[it.CountryCode] = true
				found = append(found, it)
			}
		}
	}

	now := time.Now().UTC()

	if len(found) == 0 {
		r.logger.Warn("Сверка неубедительна: ни одной публикации ни в одной стране, site_items не тронут",
			interfaces.LogField{Key: "source_id", Value: listing.SourceID},
			interfaces.LogField{Key: "global_id", Value: listing.GlobalID},
			interfaces.LogField{Key: "stored_count", Value: len(listing.SiteItems)},
		)
		return false, utils.ErrDriftInconclusive
	}

	sort.Slice(found, func(i, j int) bool { return found[i].CountryCode < found[j].CountryCode })

	if siteItemsEqual(listing.SiteItems, found) {
		if err := r.storage.TouchReconciled(ctx, listing.SourceID, now); err != nil {
			return false, err
		}
		return false, nil
	}

	// Расхождение: заменяем набор целиком, одним значением
	if err := r.storage.ReplaceSiteItems(ctx, listing.SourceID, found, now); err != nil {
		return false, err
	}

	r.logger.InfoWithContext(ctx, "Обнаружен и исправлен дрейф публикаций",
		interfaces.LogField{Key: "source_id", Value: listing.SourceID},
		interfaces.LogField{Key: "before", Value: len(listing.SiteItems)},
		interfaces.LogField{Key: "after", Value: len(found)},
	)
	r.publishDrift(ctx, listing, found)

	listing.SiteItems = found
	listing.LastReconciledAt = &now
	return true, nil
}

// searchCountry обходит все страницы поиска публикаций продавца в одной стране
// и возвращает записи, привязанные к нужной трансграничной карточке.
// Данные берутся только из ответа маркетплейса, ничего не домысливается.
func (r *SiteItemReconciler) searchCountry(ctx context.Context, country string, status models.ListingStatus, globalID string) ([]models.SiteItem, error) {
	var matches []models.SiteItem
	pageToken := ""

	for page := 0; page < maxSearchPages; page++ {
		res, err := r.market.SearchSellerItems(ctx, country, status, pageToken)
		if err != nil {
			return nil, err
		}

		for _, it := range res.Items {
			if it.GlobalID != globalID {
				continue
			}
			matches = append(matches, models.SiteItem{
				CountryCode:     it.CountryCode,
				LocalID:         it.LocalID,
				FulfillmentType: it.FulfillmentType,
			})
		}

		if res.NextToken == "" {
			return matches, nil
		}
		pageToken = res.NextToken
	}

	return nil, fmt.Errorf("превышен предел страниц поиска для страны %s", country)
}

// siteItemsEqual сравнивает отсортированные наборы публикаций
func siteItemsEqual(a, b []models.SiteItem) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]models.SiteItem(nil), a...)
	sort.Slice(as, func(i, j int) bool { return as[i].CountryCode < as[j].CountryCode })
	for i := range as {
		if as[i] != b[i] {
			return false
		}
	}
	return true
}

// publishDrift отправляет событие об исправленном дрейфе
func (r *SiteItemReconciler) publishDrift(ctx context.Context, listing *models.Listing, after []models.SiteItem) {
	if r.notifier == nil {
		return
	}

	evt := messaging.NewSyncEvent(messaging.DriftDetectedEvent, listing.SourceID, listing.GlobalID, runIDFromContext(ctx), map[string]interface{}{
		"stored_count": len(listing.SiteItems),
		"actual_count": len(after),
	})
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := r.notifier.Publish(ctx, r.eventTopic, raw); err != nil {
		r.logger.Warn("Не удалось отправить событие о дрейфе",
			interfaces.LogField{Key: "source_id", Value: listing.SourceID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}
