package config

import (
	"os"
	"strconv"
	"time"

	"ticketing/internal/auth"
	"ticketing/internal/cache"
	"ticketing/internal/database"
	"ticketing/internal/external"
	"ticketing/internal/messaging"
	"ticketing/internal/service"
)

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	Database      database.Config
	Redis         cache.Config
	NATS          messaging.Config
	Elasticsearch ElasticsearchConfig
	Payment       external.PaymentConfig
	Mail          external.MailConfig
	Auth          auth.Config
	Checkout      service.CheckoutConfig

	// Очередь уведомлений через NATS вместо прямой отправки SMTP
	QueueNotifications bool
	SweepInterval      time.Duration
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "ticketing"),
			Password:           getEnv("DB_PASSWORD", "ticketing"),
			DBName:             getEnv("DB_NAME", "ticketing"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		Redis: cache.Config{
			Enabled:         getEnvBool("REDIS_ENABLED", true),
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvInt("REDIS_DB", 0),
			ConfirmationTTL: getEnvDuration("REDIS_CONFIRMATION_TTL", 24*time.Hour),
			LockTTL:         getEnvDuration("REDIS_LOCK_TTL", 30*time.Second),
		},

		NATS: messaging.Config{
			Enabled:   getEnvBool("NATS_ENABLED", true),
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "ticketing"),
			ClientID:  getEnv("NATS_CLIENT_ID", "ticketing-api"),
		},

		Elasticsearch: LoadElasticsearchConfig(),

		Payment: external.PaymentConfig{
			BaseURL:         getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
			TeamSlug:        getEnv("PAYMENT_TEAM_SLUG", ""),
			Password:        getEnv("PAYMENT_PASSWORD", ""),
			SuccessURL:      getEnv("PAYMENT_SUCCESS_URL", "http://localhost:3000/user/payment-success"),
			CancelURL:       getEnv("PAYMENT_CANCEL_URL", "http://localhost:3000/user/payment-cancel"),
			NotificationURL: getEnv("PAYMENT_NOTIFICATION_URL", ""),
			Timeout:         time.Duration(getEnvInt("PAYMENT_TIMEOUT_SEC", 30)) * time.Second,
		},

		Mail: external.MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@ticketing.local"),
			FromName: getEnv("SMTP_FROM_NAME", "Event Team"),
		},

		Auth: auth.Config{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},

		Checkout: service.CheckoutConfig{
			ReservationTTL:        getEnvDuration("CHECKOUT_RESERVATION_TTL", 15*time.Minute),
			Currency:              getEnv("CHECKOUT_CURRENCY", "usd"),
			MaxTicketsPerCheckout: getEnvInt("CHECKOUT_MAX_TICKETS", 10),
			SweepBatchSize:        getEnvInt("CHECKOUT_SWEEP_BATCH", 100),
		},

		QueueNotifications: getEnvBool("NOTIFICATIONS_QUEUED", true),
		SweepInterval:      getEnvDuration("CHECKOUT_SWEEP_INTERVAL", 30*time.Second),
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленное значение переменной окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration понимает как "90s", так и число секунд
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
