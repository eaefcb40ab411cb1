package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("SPRING_BOOT_URL", "")
	t.Setenv("CONTENT_STORE", "")
	t.Setenv("SAVE_DEBOUNCE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.BackendURL)
	assert.Equal(t, StoreBackend, cfg.ContentStore)
	assert.Equal(t, 2*time.Second, cfg.SaveDebounce)
	assert.Equal(t, 30*time.Second, cfg.AwarenessTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SPRING_BOOT_URL", "http://backend:9000")
	t.Setenv("BACKEND_URL", "")
	t.Setenv("SAVE_DEBOUNCE", "500ms")
	t.Setenv("SEND_BUFFER", "32")
	t.Setenv("CONTENT_STORE", StorePostgres)
	t.Setenv("SERVER_PORT", "4000")
	t.Setenv("SERVER_HOST", "127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.BackendURL)
	assert.Equal(t, 500*time.Millisecond, cfg.SaveDebounce)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, StorePostgres, cfg.ContentStore)
	assert.Equal(t, "127.0.0.1:4000", cfg.Addr())
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SEND_BUFFER", "lots")
	t.Setenv("SAVE_DEBOUNCE", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, 2*time.Second, cfg.SaveDebounce)
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	t.Setenv("CONTENT_STORE", "s3")

	_, err := Load()
	assert.ErrorContains(t, err, "CONTENT_STORE")
}

func TestValidateRejectsNonPositiveValues(t *testing.T) {
	base := Config{
		BackendURL:       "http://x",
		ContentStore:     StoreBackend,
		SaveDebounce:     time.Second,
		BackendTimeout:   time.Second,
		AwarenessTimeout: time.Second,
		SendBuffer:       1,
	}
	require.NoError(t, base.Validate())

	c := base
	c.SaveDebounce = 0
	assert.Error(t, c.Validate())

	c = base
	c.SendBuffer = 0
	assert.Error(t, c.Validate())

	c = base
	c.BackendURL = ""
	assert.Error(t, c.Validate())
}

func TestDatabaseURL(t *testing.T) {
	c := Config{DBHost: "db", DBPort: "5433", DBUser: "u", DBPassword: "p", DBName: "n", DBSSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=require", c.DatabaseURL())
}
