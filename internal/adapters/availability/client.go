package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/retry"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// Client - клиент поставщика снимков наличия, реализующий AvailabilityPort.
// Слой сбора данных (скрейпинг, сессии, антибот) живет в отдельном сервисе;
// здесь его результат потребляется как непрозрачный снимок.
type Client struct {
	baseURL string
	httpc   *http.Client
	retry   retry.Policy
	logger  interfaces.LoggerPort

	// memo снимает повторные запросы одного товара внутри запуска
	memo *gocache.Cache
}

// NewClient создает клиента поставщика снимков наличия
func NewClient(baseURL string, timeout, cacheTTL time.Duration, retryPolicy retry.Policy, logger interfaces.LoggerPort) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		retry:   retryPolicy,
		logger:  logger,
		memo:    gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// snapshotResponse - ответ поставщика. Поля необязательные:
// частичные данные трактуются как "неизвестно", а не как ноль.
type snapshotResponse struct {
	InStock      *bool   `json:"in_stock"`
	SourcePrice  *string `json:"source_price"`
	DeliveryDays *int    `json:"delivery_days"`
}

// Snapshot возвращает снимок наличия для товара источника
func (c *Client) Snapshot(ctx context.Context, sourceID string) (*models.AvailabilitySnapshot, error) {
	if cached, ok := c.memo.Get(sourceID); ok {
		snap := cached.(models.AvailabilitySnapshot)
		return &snap, nil
	}

	var resp snapshotResponse
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		u := fmt.Sprintf("%s/v1/products/%s/availability", c.baseURL, url.PathEscape(sourceID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("ошибка создания запроса: %w", err)
		}

		r, err := c.httpc.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("ошибка запроса к поставщику наличия: %w", err))
		}
		defer r.Body.Close()

		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			return retry.Transient(fmt.Errorf("поставщик наличия ответил %d", r.StatusCode))
		}
		if r.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: status %d", utils.ErrSnapshotUnavailable, r.StatusCode)
		}

		if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrSnapshotUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Без признака наличия снимок непригоден
	if resp.InStock == nil {
		return nil, utils.ErrSnapshotUnavailable
	}

	snap := models.AvailabilitySnapshot{
		InStock:      *resp.InStock,
		DeliveryDays: resp.DeliveryDays,
	}
	if resp.SourcePrice != nil {
		price, perr := decimal.NewFromString(*resp.SourcePrice)
		if perr != nil {
			c.logger.Warn("Некорректная цена в снимке наличия, поле игнорируется",
				interfaces.LogField{Key: "source_id", Value: sourceID},
				interfaces.LogField{Key: "source_price", Value: *resp.SourcePrice},
			)
		} else {
			snap.SourcePrice = &price
		}
	}

	c.memo.Set(sourceID, snap, gocache.DefaultExpiration)
	return &snap, nil
}
