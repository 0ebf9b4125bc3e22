package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса синхронизации
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host      string
		Port      int
		Password  string
		DB        int
		BuyboxTTL time.Duration // срок жизни закэшированной цены буйбокса
	}

	Kafka struct {
		Brokers    []string `mapstructure:"brokers"`
		EventTopic string   `mapstructure:"event_topic"`
	}

	// Marketplace описывает подключение к API маркетплейса
	Marketplace struct {
		BaseURL          string
		TokenURL         string
		ClientID         string
		ClientSecret     string
		RefreshTokenFile string        // файл с refresh-токеном, обновляется внешним процессом
		TokenLockFile    string        // файловая блокировка на обновление токена между процессами
		Timeout          time.Duration // таймаут одного запроса
		RateLimitRPS     float64       // бюджет запросов в секунду, общий для всех процессов
		RateLimitBurst   int
		Countries        []string // коды стран, где публикуются товары
	}

	// Availability описывает подключение к поставщику данных о наличии
	Availability struct {
		BaseURL  string
		Timeout  time.Duration
		CacheTTL time.Duration // срок жизни снимка наличия внутри одного запуска
	}

	// Policy задает ценовую политику. Перечитывается в начале каждого запуска.
	Policy struct {
		TaxRate         string // "0.07"
		TargetMarkup    string // "0.45"
		MarginFloor     string // "0.25"
		PriceStep       string // минимальный шаг цены валюты, "1" для валют без копеек
		PriceTolerance  string // порог, ниже которого изменение цены не отправляется
		MaxDeliveryDays int    // максимальный срок доставки для активного товара
	}

	Sync struct {
		ScheduleTimes       []string      `mapstructure:"schedule_times"` // времена запуска "HH:MM"
		ReconcileStaleAfter time.Duration // давность последней сверки, после которой товар сверяется заново
		PIDFile             string
		RunAuditLimit       int // сколько идентификаторов сохраняется в артефакте запуска
	}

	Security struct {
		JWTSecret string
	}

	Metrics struct {
		Enabled bool
		Port    int `mapstructure:"port"`
	}

	Resilience struct {
		MaxRetries    int           // максимальное число повторов внешнего вызова
		RetryWaitTime time.Duration // начальное время ожидания между повторами
		RetryMaxWait  time.Duration // верхняя граница ожидания
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	setDefaults()
	bindEnvVariables()

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	viper.SetDefault("appName", "sync-service")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "postgres")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.buyboxTTL", "15m")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.event_topic", "sync-events")

	viper.SetDefault("marketplace.baseURL", "https://api.marketplace.example")
	viper.SetDefault("marketplace.tokenURL", "https://auth.marketplace.example/oauth/token")
	viper.SetDefault("marketplace.refreshTokenFile", "/var/lib/gomarket-sync/refresh_token")
	viper.SetDefault("marketplace.tokenLockFile", "/var/lib/gomarket-sync/token.lock")
	viper.SetDefault("marketplace.timeout", "15s")
	viper.SetDefault("marketplace.rateLimitRPS", 5.0)
	viper.SetDefault("marketplace.rateLimitBurst", 5)
	viper.SetDefault("marketplace.countries", []string{"KZ", "UZ", "AZ"})

	viper.SetDefault("availability.baseURL", "http://localhost:9090")
	viper.SetDefault("availability.timeout", "20s")
	viper.SetDefault("availability.cacheTTL", "30m")

	viper.SetDefault("policy.taxRate", "0.07")
	viper.SetDefault("policy.targetMarkup", "0.45")
	viper.SetDefault("policy.marginFloor", "0.25")
	viper.SetDefault("policy.priceStep", "1")
	viper.SetDefault("policy.priceTolerance", "0.01")
	viper.SetDefault("policy.maxDeliveryDays", 2)

	viper.SetDefault("sync.schedule_times", []string{"06:00", "14:00", "22:00"})
	viper.SetDefault("sync.reconcileStaleAfter", "72h")
	viper.SetDefault("sync.pidFile", "/var/run/gomarket-sync.pid")
	viper.SetDefault("sync.runAuditLimit", 200)

	viper.SetDefault("security.jwtSecret", "your-secret-key")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9100)

	viper.SetDefault("resilience.maxRetries", 3)
	viper.SetDefault("resilience.retryWaitTime", "500ms")
	viper.SetDefault("resilience.retryMaxWait", "10s")
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.buyboxTTL", "REDIS_BUYBOX_TTL")

	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.event_topic", "KAFKA_EVENT_TOPIC")

	viper.BindEnv("marketplace.baseURL", "MARKETPLACE_BASE_URL")
	viper.BindEnv("marketplace.tokenURL", "MARKETPLACE_TOKEN_URL")
	viper.BindEnv("marketplace.clientID", "MARKETPLACE_CLIENT_ID")
	viper.BindEnv("marketplace.clientSecret", "MARKETPLACE_CLIENT_SECRET")
	viper.BindEnv("marketplace.refreshTokenFile", "MARKETPLACE_REFRESH_TOKEN_FILE")
	viper.BindEnv("marketplace.tokenLockFile", "MARKETPLACE_TOKEN_LOCK_FILE")
	viper.BindEnv("marketplace.timeout", "MARKETPLACE_TIMEOUT")
	viper.BindEnv("marketplace.rateLimitRPS", "MARKETPLACE_RATE_LIMIT_RPS")
	viper.BindEnv("marketplace.rateLimitBurst", "MARKETPLACE_RATE_LIMIT_BURST")
	viper.BindEnv("marketplace.countries", "MARKETPLACE_COUNTRIES")

	viper.BindEnv("availability.baseURL", "AVAILABILITY_BASE_URL")
	viper.BindEnv("availability.timeout", "AVAILABILITY_TIMEOUT")
	viper.BindEnv("availability.cacheTTL", "AVAILABILITY_CACHE_TTL")

	viper.BindEnv("policy.taxRate", "POLICY_TAX_RATE")
	viper.BindEnv("policy.targetMarkup", "POLICY_TARGET_MARKUP")
	viper.BindEnv("policy.marginFloor", "POLICY_MARGIN_FLOOR")
	viper.BindEnv("policy.priceStep", "POLICY_PRICE_STEP")
	viper.BindEnv("policy.priceTolerance", "POLICY_PRICE_TOLERANCE")
	viper.BindEnv("policy.maxDeliveryDays", "POLICY_MAX_DELIVERY_DAYS")

	viper.BindEnv("sync.schedule_times", "SYNC_SCHEDULE_TIMES")
	viper.BindEnv("sync.reconcileStaleAfter", "SYNC_RECONCILE_STALE_AFTER")
	viper.BindEnv("sync.pidFile", "SYNC_PID_FILE")
	viper.BindEnv("sync.runAuditLimit", "SYNC_RUN_AUDIT_LIMIT")

	viper.BindEnv("security.jwtSecret", "JWT_SECRET")

	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	viper.BindEnv("resilience.maxRetries", "RESILIENCE_MAX_RETRIES")
	viper.BindEnv("resilience.retryWaitTime", "RESILIENCE_RETRY_WAIT_TIME")
	viper.BindEnv("resilience.retryMaxWait", "RESILIENCE_RETRY_MAX_WAIT")
}
