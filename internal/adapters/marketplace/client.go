package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/retry"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// statusError - ответ API с неуспешным HTTP-статусом
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("marketplace responded %d: %s", e.Code, e.Body)
}

// Client - HTTP-клиент API маркетплейса, реализующий MarketplacePort.
// Каждый вызов проходит через общий ограничитель частоты запросов
// и ограниченные повторы для временных ошибок.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  *TokenManager
	limiter *rate.Limiter
	retry   retry.Policy
	logger  interfaces.LoggerPort
}

// NewClient создает клиента API маркетплейса
func NewClient(
	baseURL string,
	timeout time.Duration,
	tokens *TokenManager,
	limiter *rate.Limiter,
	retryPolicy retry.Policy,
	logger interfaces.LoggerPort,
) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		tokens:  tokens,
		limiter: limiter,
		retry:   retryPolicy,
		logger:  logger,
	}
}

// Limiter возвращает общий ограничитель частоты запросов.
// Его же использует сверщик для пауз между запросами по странам.
func (c *Client) Limiter() *rate.Limiter {
	return c.limiter
}

// do выполняет один запрос к API с авторизацией, ограничением частоты и повторами
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		var reqBody io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("ошибка сериализации тела запроса: %w", err)
			}
			reqBody = bytes.NewReader(raw)
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return fmt.Errorf("ошибка создания запроса: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			// Сетевые ошибки и таймауты - временные
			return retry.Transient(fmt.Errorf("ошибка запроса к маркетплейсу: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return fmt.Errorf("ошибка декодирования ответа: %w", err)
				}
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: status %d", utils.ErrUnauthorized, resp.StatusCode)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Transient(&statusError{Code: resp.StatusCode, Body: string(raw)})

		default:
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &statusError{Code: resp.StatusCode, Body: string(raw)}
		}
	})
}

// SearchSellerItems возвращает страницу публикаций продавца в стране.
// Запрашиваются и видимые, и скрытые публикации: пропуск любого из состояний
// молча занижает реальное число публикаций.
func (c *Client) SearchSellerItems(ctx context.Context, country string, status models.ListingStatus, pageToken string) (*interfaces.SearchPage, error) {
	query := url.Values{}
	query.Set("status", string(status))
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}

	var page interfaces.SearchPage
	path := fmt.Sprintf("/v2/seller/%s/items", url.PathEscape(country))
	if err := c.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateStatus меняет видимость трансграничной карточки.
// Ответ "карточка уже в целевом состоянии" (409) считается успехом:
// действия жизненного цикла обязаны быть идемпотентными.
func (c *Client) UpdateStatus(ctx context.Context, globalID string, status models.ListingStatus) error {
	path := fmt.Sprintf("/v2/items/%s/status", url.PathEscape(globalID))
	body := map[string]string{"status": string(status)}

	err := c.do(ctx, http.MethodPost, path, nil, body, nil)
	var serr *statusError
	if errors.As(err, &serr) && serr.Code == http.StatusConflict {
		return nil
	}
	return err
}

// UpdatePrice устанавливает новую цену карточки
func (c *Client) UpdatePrice(ctx context.Context, globalID string, price decimal.Decimal) error {
	path := fmt.Sprintf("/v2/items/%s/price", url.PathEscape(globalID))
	body := map[string]string{"price": price.StringFixed(2)}
	return c.do(ctx, http.MethodPost, path, nil, body, nil)
}

// Buybox возвращает минимальную цену конкурентов или nil, если буйбокса нет
func (c *Client) Buybox(ctx context.Context, globalID string) (*models.BuyboxQuote, error) {
	var quote models.BuyboxQuote
	path := fmt.Sprintf("/v2/catalog/%s/buybox", url.PathEscape(globalID))

	err := c.do(ctx, http.MethodGet, path, nil, nil, &quote)
	var serr *statusError
	if errors.As(err, &serr) && serr.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	quote.GlobalID = globalID
	quote.FetchedAt = time.Now().UTC()
	return &quote, nil
}
