package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

func TestNewConfig(t *testing.T) {
	t.Run("postgres backend", func(t *testing.T) {
		cfg, err := NewConfig(
			"localhost:8000",
			StorePostgres,
			"host=localhost user=postgres",
			"file://migrations",
			testSecret,
			"localhost:6379",
			[]string{"http://localhost:3000"},
		)
		require.NoError(t, err)

		assert.Equal(t, "localhost:8000", cfg.ServerAddr)
		assert.Equal(t, StorePostgres, cfg.StoreBackend)
		assert.Equal(t, "host=localhost user=postgres", cfg.DatabaseDSN)
		assert.Equal(t, "file://migrations", cfg.MigrationsURL)
		assert.NotEmpty(t, cfg.SigningKey, "expected the signing secret to be decoded")
		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	})

	t.Run("memory backend needs no DSN", func(t *testing.T) {
		cfg, err := NewConfig("localhost:8000", StoreMemory, "", "", testSecret, "", nil)
		require.NoError(t, err)
		assert.Equal(t, StoreMemory, cfg.StoreBackend)
	})

	t.Run("empty server address", func(t *testing.T) {
		_, err := NewConfig("", StoreMemory, "", "", testSecret, "", nil)
		assert.Error(t, err)
	})

	t.Run("empty signing secret", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", StoreMemory, "", "", "", "", nil)
		assert.Error(t, err)
	})

	t.Run("invalid signing secret", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", StoreMemory, "", "", "not base64!!!", "", nil)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", "mongo", "", "", testSecret, "", nil)
		assert.Error(t, err)
	})

	t.Run("postgres requires DSN", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", StorePostgres, "", "", testSecret, "", nil)
		assert.Error(t, err)
	})
}
