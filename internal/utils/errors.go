package utils

import "errors"

// ----------------- storage ------------------
var (
	ErrStorageEmptyHostName       = errors.New("host name is empty")
	ErrStorageInvalidPortNumber   = errors.New("port number is empty")
	ErrStorageEmptyUsername       = errors.New("username is empty")
	ErrStorageEmptyPassword       = errors.New("password is empty")
	ErrStorageInvalidDatabaseName = errors.New("database name is empty")
	ErrStorageInvalidSslMode      = errors.New("SSL mode is invalid")
	ErrStorageInvalidPoolSize     = errors.New("pool size is invalid")
	ErrStorageInvalidTimeout      = errors.New("timeout is invalid")
)

// ----------------- sync engine ------------------
var (
	// ErrListingNotFound - товар отсутствует в хранилище
	ErrListingNotFound = errors.New("listing not found")

	// ErrCostBasisUnknown - закупочная цена неизвестна и не восстанавливается из целевой цены
	ErrCostBasisUnknown = errors.New("cost basis unknown and not reconstructable")

	// ErrSnapshotUnavailable - поставщик не вернул пригодный снимок наличия
	ErrSnapshotUnavailable = errors.New("availability snapshot unavailable")

	// ErrDriftInconclusive - маркетплейс не вернул ни одной публикации ни в одной стране.
	// Не ошибка, а предупреждение: запрещает разрушительную перезапись site_items.
	ErrDriftInconclusive = errors.New("reconciliation inconclusive: zero matches in every country")

	// ErrUnauthorized - недействительные учетные данные маркетплейса, фатально для всего запуска
	ErrUnauthorized = errors.New("marketplace credentials rejected")

	// ErrAlreadyRunning - попытка запустить второй экземпляр синхронизации
	ErrAlreadyRunning = errors.New("sync is already running")
)

// ----------------- cache ------------------
var (
	ErrCacheMiss = errors.New("cache miss")
)
