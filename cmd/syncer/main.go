package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/availability"
	"github.com/athebyme/gomarket-sync/internal/adapters/cache"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/retry"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"github.com/gofrs/flock"
	"golang.org/x/time/rate"
)

// Разовый запуск синхронизации из командной строки.
// Берет ту же блокировку PID-файла, что и планировщик:
// два прохода не могут идти одновременно ни в каком сочетании процессов.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fileLock := flock.New(cfg.Sync.PIDFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		log.Fatal("Ошибка блокировки PID-файла",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	if !locked {
		log.Fatal("Синхронизация уже выполняется другим процессом",
			interfaces.LogField{Key: "pid_file", Value: cfg.Sync.PIDFile})
	}
	defer fileLock.Unlock()

	connectionStr, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	repo, err := storage.NewPostgresStorage(ctx, connectionStr)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer repo.Close()

	cacheClient, err := cache.NewRedisCache(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()

	notifier, err := messaging.NewKafkaNotifier(cfg.Kafka.Brokers, log)
	if err != nil {
		log.Fatal("Ошибка инициализации отправителя событий",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer notifier.Close()

	tokens := marketplace.NewTokenManager(
		cfg.Marketplace.TokenURL,
		cfg.Marketplace.ClientID,
		cfg.Marketplace.ClientSecret,
		cfg.Marketplace.RefreshTokenFile,
		cfg.Marketplace.TokenLockFile,
	)
	limiter := rate.NewLimiter(rate.Limit(cfg.Marketplace.RateLimitRPS), cfg.Marketplace.RateLimitBurst)
	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Resilience.MaxRetries,
		BaseWait:    cfg.Resilience.RetryWaitTime,
		MaxWait:     cfg.Resilience.RetryMaxWait,
	}
	market := marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Marketplace.Timeout, tokens, limiter, retryPolicy, log)
	avail := availability.NewClient(cfg.Availability.BaseURL, cfg.Availability.Timeout, cfg.Availability.CacheTTL, retryPolicy, log)

	reconciler := services.NewSiteItemReconciler(
		market,
		repo,
		notifier,
		market.Limiter(),
		cfg.Marketplace.Countries,
		cfg.Kafka.EventTopic,
		log,
	)

	syncService := services.NewSyncService(
		repo,
		market,
		avail,
		cacheClient,
		notifier,
		tx.NewManager(repo.Pool()),
		reconciler,
		func() (*config.Config, error) { return config.Load("") },
		log,
	)

	// Ctrl+C дорабатывает текущий товар и завершает запуск
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("Получен сигнал завершения, запуск будет остановлен после текущего товара")
		cancel()
	}()

	run, err := syncService.RunOnce(ctx)
	if err != nil {
		log.Error("Запуск завершился с ошибкой",
			interfaces.LogField{Key: "error", Value: err.Error()})
		os.Exit(1)
	}

	fmt.Printf("Запуск %s: статус=%s, приостановлено=%d, реактивировано=%d, цен обновлено=%d, без изменений=%d, дрейф=%d, ошибок=%d\n",
		run.ID, run.Status,
		run.Counters.Paused, run.Counters.Reactivated, run.Counters.PriceUpdated,
		run.Counters.NoChange, run.Counters.Drift, run.Counters.Errors,
	)

	if run.Counters.Errors > 0 {
		os.Exit(2)
	}
}
