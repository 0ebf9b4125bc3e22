package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ListingStorageInterface определяет интерфейс взаимодействия с хранилищем публикаций
type ListingStorageInterface interface {
	// ListSyncable возвращает товары, подлежащие автоматической синхронизации
	// (без skip_sync и без закрытых карточек), в стабильном порядке
	ListSyncable(ctx context.Context) ([]*models.Listing, error)

	// GetListing возвращает товар по бизнес-ключу источника
	GetListing(ctx context.Context, sourceID string) (*models.Listing, error)

	// UpdateStatus сохраняет новое состояние публикации
	UpdateStatus(ctx context.Context, sourceID string, status models.ListingStatus) error

	// UpdatePriceState сохраняет пересчитанное ценовое состояние товара
	UpdatePriceState(ctx context.Context, sourceID string, costBasis *decimal.Decimal, target, floor, current decimal.Decimal, at time.Time) error

	// ReplaceSiteItems целиком заменяет набор публикаций по странам.
	// Единственный разрешенный способ записи site_items: подмена всего значения,
	// а не поштучное редактирование полей.
	ReplaceSiteItems(ctx context.Context, sourceID string, items []models.SiteItem, at time.Time) error

	// TouchReconciled фиксирует время успешной сверки без изменения site_items
	TouchReconciled(ctx context.Context, sourceID string, at time.Time) error
}

// RunStorageInterface определяет интерфейс хранилища артефактов запусков
type RunStorageInterface interface {
	// SaveRun сохраняет артефакт запуска. Хранилище append-only:
	// сохраненные артефакты никогда не изменяются.
	SaveRun(ctx context.Context, run *models.SyncRun) error

	// ListRuns возвращает последние артефакты, новые первыми
	ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

type ListingStoragePort interface {
	ListingStorageInterface
	RunStorageInterface

	Close() error
}

// ListingStorage реализация хранилища для PostgreSQL
type ListingStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage создает новый экземпляр ListingStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*ListingStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &ListingStorage{pool: pool}, nil
}

// Pool возвращает пул соединений для менеджера транзакций
func (r *ListingStorage) Pool() *pgxpool.Pool {
	return r.pool
}

// Close закрывает соединение с БД
func (r *ListingStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию из контекста или пул)
func (r *ListingStorage) getExecutor(ctx context.Context) executor {
	if txFromCtx, ok := tx.FromContext(ctx); ok {
		return txFromCtx
	}
	return r.pool
}

const listingColumns = `
	source_id, global_id, status, cost_basis,
	list_price_target, list_price_floor, list_price_current,
	is_catalog, site_items, skip_sync,
	last_price_update_at, last_reconciled_at, created_at, updated_at
`

// scanListing читает одну строку в модель
func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var costBasis decimal.NullDecimal
	var siteItems []byte

	err := row.Scan(
		&l.SourceID, &l.GlobalID, &l.Status, &costBasis,
		&l.ListPriceTarget, &l.ListPriceFloor, &l.ListPriceCurrent,
		&l.IsCatalog, &siteItems, &l.SkipSync,
		&l.LastPriceUpdateAt, &l.LastReconciledAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if costBasis.Valid {
		l.CostBasis = &costBasis.Decimal
	}
	if len(siteItems) > 0 {
		if err := json.Unmarshal(siteItems, &l.SiteItems); err != nil {
			return nil, fmt.Errorf("failed to decode site_items: %w", err)
		}
	}

	return &l, nil
}

// ListSyncable возвращает товары, подлежащие синхронизации
func (r *ListingStorage) ListSyncable(ctx context.Context) ([]*models.Listing, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT ` + listingColumns + `
		FROM marketsync.listings
		WHERE NOT skip_sync AND status <> 'closed'
		ORDER BY source_id
	`

	rows, err := executor.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}

	return listings, nil
}

// GetListing получает товар по source_id
func (r *ListingStorage) GetListing(ctx context.Context, sourceID string) (*models.Listing, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT ` + listingColumns + `
		FROM marketsync.listings
		WHERE source_id = $1
	`

	l, err := scanListing(executor.QueryRow(ctx, query, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, utils.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return l, nil
}

// UpdateStatus сохраняет новое состояние публикации
func (r *ListingStorage) UpdateStatus(ctx context.Context, sourceID string, status models.ListingStatus) error {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE marketsync.listings
		SET status = $2, updated_at = now()
		WHERE source_id = $1
	`

	tag, err := executor.Exec(ctx, query, sourceID, status)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return utils.ErrListingNotFound
	}
	return nil
}

// UpdatePriceState сохраняет пересчитанное ценовое состояние
func (r *ListingStorage) UpdatePriceState(ctx context.Context, sourceID string, costBasis *decimal.Decimal, target, floor, current decimal.Decimal, at time.Time) error {
	executor := r.getExecutor(ctx)

	var cb decimal.NullDecimal
	if costBasis != nil {
		cb = decimal.NullDecimal{Decimal: *costBasis, Valid: true}
	}

	query := `
		UPDATE marketsync.listings
		SET cost_basis = $2,
			list_price_target = $3,
			list_price_floor = $4,
			list_price_current = $5,
			last_price_update_at = $6,
			updated_at = now()
		WHERE source_id = $1
	`

	tag, err := executor.Exec(ctx, query, sourceID, cb, target, floor, current, at)
	if err != nil {
		return fmt.Errorf("failed to update price state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return utils.ErrListingNotFound
	}
	return nil
}

// ReplaceSiteItems целиком заменяет набор публикаций по странам
func (r *ListingStorage) ReplaceSiteItems(ctx context.Context, sourceID string, items []models.SiteItem, at time.Time) error {
	executor := r.getExecutor(ctx)

	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode site_items: %w", err)
	}

	query := `
		UPDATE marketsync.listings
		SET site_items = $2, last_reconciled_at = $3, updated_at = now()
		WHERE source_id = $1
	`

	tag, err := executor.Exec(ctx, query, sourceID, raw, at)
	if err != nil {
		return fmt.Errorf("failed to replace site_items: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return utils.ErrListingNotFound
	}
	return nil
}

// TouchReconciled фиксирует время сверки, когда расхождений не найдено
func (r *ListingStorage) TouchReconciled(ctx context.Context, sourceID string, at time.Time) error {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE marketsync.listings
		SET last_reconciled_at = $2, updated_at = now()
		WHERE source_id = $1
	`

	tag, err := executor.Exec(ctx, query, sourceID, at)
	if err != nil {
		return fmt.Errorf("failed to touch reconciled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return utils.ErrListingNotFound
	}
	return nil
}
