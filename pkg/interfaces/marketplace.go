package interfaces

import (
	"context"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/shopspring/decimal"
)

// SiteListing - публикация продавца в одной стране, как ее видит маркетплейс.
// GlobalID связывает локальную публикацию с трансграничной карточкой.
type SiteListing struct {
	LocalID         string               `json:"local_id"`
	CountryCode     string               `json:"country_code"`
	GlobalID        string               `json:"global_id"`
	FulfillmentType string               `json:"fulfillment_type"`
	Status          models.ListingStatus `json:"status"`
}

// SearchPage - одна страница результатов поиска публикаций продавца
type SearchPage struct {
	Items     []SiteListing `json:"items"`
	NextToken string        `json:"next_token"`
}

// MarketplacePort определяет интерфейс для работы с API маркетплейса.
// Все вызовы проходят через общий ограничитель частоты запросов,
// обход ограничителя на стороне реализации недопустим.
type MarketplacePort interface {
	// SearchSellerItems возвращает страницу публикаций продавца в стране
	// с указанным статусом. Пустой pageToken - первая страница.
	SearchSellerItems(ctx context.Context, country string, status models.ListingStatus, pageToken string) (*SearchPage, error)

	// UpdateStatus меняет видимость трансграничной карточки.
	// Повторная установка уже действующего статуса не считается ошибкой.
	UpdateStatus(ctx context.Context, globalID string, status models.ListingStatus) error

	// UpdatePrice устанавливает новую цену карточки
	UpdatePrice(ctx context.Context, globalID string, price decimal.Decimal) error

	// Buybox возвращает текущую минимальную цену конкурентов на каталожной
	// карточке. Возвращает nil, nil если буйбокса у карточки нет.
	Buybox(ctx context.Context, globalID string) (*models.BuyboxQuote, error)
}
