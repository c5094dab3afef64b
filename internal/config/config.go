package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetDurationEnv parses a Go duration ("10s", "15m") or returns the default.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// GetDecimalEnv parses a money amount or returns the default.
func GetDecimalEnv(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}

type DatabaseConfig struct {
	Driver          string // postgres or memory
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	TTL      time.Duration
}

type GatewayConfig struct {
	Provider      string // flutterwave, stripe or none
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	RedirectURL   string
	Timeout       time.Duration
}

type LimitsConfig struct {
	Daily    decimal.Decimal
	Monthly  decimal.Decimal
	Single   decimal.Decimal
	Location *time.Location
}

type FeeConfig struct {
	Transfer    decimal.Decimal
	Withdrawal  decimal.Decimal
	Payment     decimal.Decimal
	BillPayment decimal.Decimal
}

type ReconcileConfig struct {
	SweepInterval   time.Duration
	PendingTTL      time.Duration
	EventMemoryTTL  time.Duration
	PayoutStaleness time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Config is the whole runtime configuration, read once at startup.
type Config struct {
	Env             string
	Port            string
	JWTSecret       string
	DefaultCurrency string
	Database        DatabaseConfig
	Redis           RedisConfig
	Gateway         GatewayConfig
	Limits          LimitsConfig
	Fees            FeeConfig
	Reconcile       ReconcileConfig
	Kafka           KafkaConfig
}

// Load assembles Config from the environment.
func Load() *Config {
	loc, err := time.LoadLocation(GetEnv("LIMITS_TIMEZONE", "UTC"))
	if err != nil {
		log.Printf("unknown LIMITS_TIMEZONE, falling back to UTC: %v", err)
		loc = time.UTC
	}

	var brokers []string
	if raw := GetEnv("KAFKA_BROKERS", ""); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return &Config{
		Env:             GetEnv("ENV", "development"),
		Port:            GetEnv("PORT", "3000"),
		JWTSecret:       GetEnv("JWT_SECRET", ""),
		DefaultCurrency: GetEnv("DEFAULT_CURRENCY", "XOF"),
		Database: DatabaseConfig{
			Driver:          GetEnv("STORE_DRIVER", "postgres"),
			Host:            GetEnv("DB_HOST", "localhost"),
			Port:            GetEnv("DB_PORT", "5432"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "caredit"),
			SSLMode:         GetEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  GetEnv("REDIS_ENABLED", "true") == "true",
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
			TTL:      GetDurationEnv("REDIS_TTL", 5*time.Minute),
		},
		Gateway: GatewayConfig{
			Provider:      GetEnv("GATEWAY_PROVIDER", "flutterwave"),
			BaseURL:       GetEnv("GATEWAY_BASE_URL", "https://api.flutterwave.com/v3"),
			SecretKey:     GetEnv("GATEWAY_SECRET_KEY", ""),
			WebhookSecret: GetEnv("GATEWAY_WEBHOOK_SECRET", ""),
			RedirectURL:   GetEnv("GATEWAY_REDIRECT_URL", "http://localhost:3000/payment/callback"),
			Timeout:       GetDurationEnv("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Limits: LimitsConfig{
			Daily:    GetDecimalEnv("DEFAULT_DAILY_LIMIT", decimal.NewFromInt(1000000)),
			Monthly:  GetDecimalEnv("DEFAULT_MONTHLY_LIMIT", decimal.NewFromInt(5000000)),
			Single:   GetDecimalEnv("DEFAULT_SINGLE_LIMIT", decimal.NewFromInt(500000)),
			Location: loc,
		},
		Fees: FeeConfig{
			Transfer:    GetDecimalEnv("TRANSFER_FEE", decimal.NewFromInt(50)),
			Withdrawal:  GetDecimalEnv("WITHDRAWAL_FEE", decimal.NewFromInt(100)),
			Payment:     GetDecimalEnv("PAYMENT_FEE", decimal.Zero),
			BillPayment: GetDecimalEnv("BILL_PAYMENT_FEE", decimal.Zero),
		},
		Reconcile: ReconcileConfig{
			SweepInterval:   GetDurationEnv("RECONCILE_SWEEP_INTERVAL", 5*time.Minute),
			PendingTTL:      GetDurationEnv("PENDING_DEPOSIT_TTL", 24*time.Hour),
			EventMemoryTTL:  GetDurationEnv("WEBHOOK_EVENT_TTL", 24*time.Hour),
			PayoutStaleness: GetDurationEnv("PENDING_PAYOUT_ALERT_AFTER", 6*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   GetEnv("KAFKA_TOPIC", "wallet.transactions"),
		},
	}
}
