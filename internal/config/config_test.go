package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "XOF", cfg.DefaultCurrency)
	assert.True(t, cfg.Fees.Transfer.Equal(decimal.NewFromInt(50)))
	assert.True(t, cfg.Fees.Withdrawal.Equal(decimal.NewFromInt(100)))
	assert.True(t, cfg.Limits.Daily.Equal(decimal.NewFromInt(1000000)))
	assert.True(t, cfg.Limits.Monthly.Equal(decimal.NewFromInt(5000000)))
	assert.True(t, cfg.Limits.Single.Equal(decimal.NewFromInt(500000)))
	assert.Equal(t, time.UTC, cfg.Limits.Location)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRANSFER_FEE", "75.50")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("LIMITS_TIMEZONE", "Africa/Abidjan")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("STORE_DRIVER", "memory")

	cfg := Load()

	assert.Equal(t, "75.5", cfg.Fees.Transfer.String())
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "Africa/Abidjan", cfg.Limits.Location.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestGetters_FallBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	t.Setenv("SOME_DURATION", "soon")
	t.Setenv("SOME_AMOUNT", "lots")

	assert.Equal(t, 4, GetIntEnv("SOME_INT", 4))
	assert.Equal(t, time.Minute, GetDurationEnv("SOME_DURATION", time.Minute))
	assert.True(t, GetDecimalEnv("SOME_AMOUNT", decimal.NewFromInt(9)).Equal(decimal.NewFromInt(9)))
}
