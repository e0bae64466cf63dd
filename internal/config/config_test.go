package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "PHP", cfg.BaseCurrency)
	assert.InDelta(t, 0.12, cfg.DefaultTaxRate, 1e-9)
	assert.InDelta(t, 0.10, cfg.DefaultServiceRate, 1e-9)
	assert.Equal(t, 6*time.Second, cfg.ReceiptAckTimeout)
	assert.Equal(t, 8, cfg.InventoryWorkers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("BASE_CURRENCY", "usd")
	t.Setenv("RECEIPT_ACK_TIMEOUT", "250ms")
	t.Setenv("INVENTORY_WORKERS", "0")
	t.Setenv("API_BASE_URL", "http://pos:8081/")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.ReceiptAckTimeout)
	assert.Equal(t, 1, cfg.InventoryWorkers)
	assert.Equal(t, "http://pos:8081", cfg.APIBaseURL)
}
