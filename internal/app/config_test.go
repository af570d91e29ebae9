package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.AppAddr)
	require.Equal(t, StorageMemory, cfg.StorageDriver)
	require.Equal(t, 500.0, cfg.LowStockGrams)
	require.Equal(t, 50.0, cfg.CriticalStockGrams)
	require.Equal(t, 50, cfg.LogDefaultLimit)
	require.Equal(t, 1000, cfg.LogMaxLimit)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.False(t, cfg.RequireEmptyStockOnDelete)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInconsistentValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":     {"STORAGE_DRIVER": "sqlite"},
		"inverted bands":     {"STORAGE_DRIVER": "memory", "LOW_STOCK_GRAMS": "10", "CRITICAL_STOCK_GRAMS": "20"},
		"limit above max":    {"STORAGE_DRIVER": "memory", "LOG_DEFAULT_LIMIT": "2000"},
		"unknown format":     {"STORAGE_DRIVER": "memory", "LOG_FORMAT": "xml"},
		"missing dsn":        {"STORAGE_DRIVER": "postgres", "PG_DSN": ""},
		"negative ratelimit": {"STORAGE_DRIVER": "memory", "RATE_LIMIT_PER_MINUTE": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel(&Config{LogLevel: "debug"}).String())
	require.Equal(t, "WARN", parseLevel(&Config{LogLevel: "WARNING"}).String())
	require.Equal(t, "INFO", parseLevel(nil).String())
}
