package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/availability"
	"github.com/athebyme/gomarket-sync/internal/adapters/cache"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/api"
	"github.com/athebyme/gomarket-sync/internal/domain/services"
	"github.com/athebyme/gomarket-sync/internal/retry"
	"github.com/athebyme/gomarket-sync/internal/scheduler"
	"github.com/athebyme/gomarket-sync/internal/security"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"golang.org/x/time/rate"
)

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

	log.Info("Инициализация сервиса синхронизации",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	// Хранилище
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
	log.Info("Хранилище инициализировано")

	txManager := tx.NewManager(repo.Pool())

	// Кэш буйбокса
	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	// События синхронизации
	notifier, err := messaging.NewKafkaNotifier(cfg.Kafka.Brokers, log)
	if err != nil {
		log.Fatal("Ошибка инициализации отправителя событий",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer notifier.Close()
	log.Info("Отправитель событий инициализирован")

	// Клиент маркетплейса: общий ограничитель частоты и обновление токена
	// через файловую блокировку, разделяемую с другими процессами
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
	market := marketplace.NewClient(
		cfg.Marketplace.BaseURL,
		cfg.Marketplace.Timeout,
		tokens,
		limiter,
		retryPolicy,
		log,
	)

	// Поставщик данных о наличии
	avail := availability.NewClient(
		cfg.Availability.BaseURL,
		cfg.Availability.Timeout,
		cfg.Availability.CacheTTL,
		retryPolicy,
		log,
	)

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
		txManager,
		reconciler,
		func() (*config.Config, error) { return config.Load("") },
		log,
	)
	log.Info("Сервис синхронизации инициализирован")

	sched, err := scheduler.New(syncService, cfg.Sync.ScheduleTimes, cfg.Sync.PIDFile, log)
	if err != nil {
		log.Fatal("Ошибка инициализации планировщика",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	// Операторский API
	jwtManager, err := security.NewJWTManager(cfg.Security.JWTSecret, 24*time.Hour, cfg.AppName)
	if err != nil {
		log.Fatal("Ошибка инициализации JWT",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	router := api.SetupRouter(sched, repo, jwtManager, log, cfg.Metrics.Enabled)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Запуск операторского API",
			interfaces.LogField{Key: "addr", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Ошибка операторского API",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	// Обработка сигналов завершения: текущий товар дорабатывается,
	// остальные откладываются до следующего запуска
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...",
			interfaces.LogField{Key: "signal", Value: sig.String()})
		cancel()
	}()

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Планировщик завершился с ошибкой",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Ошибка остановки операторского API",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	log.Info("Сервис синхронизации корректно завершил работу")
}
