package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus описывает состояние публикации на маркетплейсе
type ListingStatus string

const (
	StatusActive ListingStatus = "active"
	StatusPaused ListingStatus = "paused"
	// StatusClosed выставляется только вручную, движок синхронизации его не трогает
	StatusClosed ListingStatus = "closed"
)

// SiteItem представляет локальную публикацию товара в одной стране,
// привязанную к единой трансграничной карточке
type SiteItem struct {
	CountryCode     string `json:"country_code"`
	LocalID         string `json:"local_id"`
	FulfillmentType string `json:"fulfillment_type"`
}

// Listing представляет опубликованный товар и его ценовое состояние.
// Запись создается пайплайном публикации, дальше ее мутирует только движок синхронизации.
type Listing struct {
	SourceID string        `json:"source_id"` // бизнес-ключ товара в источнике
	GlobalID string        `json:"global_id"` // идентификатор трансграничной карточки, создается один раз
	Status   ListingStatus `json:"status"`

	// CostBasis - последняя известная закупочная цена. nil, если цена еще не получена.
	CostBasis        *decimal.Decimal `json:"cost_basis,omitempty"`
	ListPriceTarget  decimal.Decimal  `json:"list_price_target"`
	ListPriceFloor   decimal.Decimal  `json:"list_price_floor"`
	ListPriceCurrent decimal.Decimal  `json:"list_price_current"`

	// IsCatalog - карточка объединена маркетплейсом в общий каталог с конкуренцией за буйбокс
	IsCatalog bool `json:"is_catalog"`

	// SiteItems - публикации по странам. Целиком заменяется только сверщиком,
	// остальные компоненты могут его лишь читать.
	SiteItems []SiteItem `json:"site_items"`

	// SkipSync исключает товар из автоматической синхронизации
	SkipSync bool `json:"skip_sync"`

	LastPriceUpdateAt *time.Time `json:"last_price_update_at,omitempty"`
	LastReconciledAt  *time.Time `json:"last_reconciled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AvailabilitySnapshot - снимок наличия товара у поставщика.
// Не персистится, живет один запуск.
type AvailabilitySnapshot struct {
	InStock      bool             `json:"in_stock"`
	SourcePrice  *decimal.Decimal `json:"source_price,omitempty"`
	DeliveryDays *int             `json:"delivery_days,omitempty"`
}

// BuyboxQuote - текущая минимальная цена конкурентов на каталожной карточке
type BuyboxQuote struct {
	GlobalID  string          `json:"global_id"`
	Price     decimal.Decimal `json:"price"`
	Sellers   int             `json:"sellers"`
	FetchedAt time.Time       `json:"fetched_at"`
}
