package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, errs := Load("")
	require.Empty(t, errs)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultDriver, cfg.DatabaseDriver)
	assert.Equal(t, DefaultRateLimitRPS, cfg.RateLimitRPS)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, errs := Load("")
	require.Len(t, errs, 2)
	assert.True(t, errors.Is(errs[0], ErrMissingDatabaseURL))
	assert.True(t, errors.Is(errs[1], ErrMissingJWTSecret))
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_PORT", "9999")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 1234\nenv: production\n"), 0o600))

	cfg, errs := Load(path)
	require.Empty(t, errs)
	assert.Equal(t, 9999, cfg.Port)       // env wins
	assert.Equal(t, "production", cfg.Env) // file value survives
	assert.True(t, cfg.IsProduction())
}

func TestLoad_BadValues(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_PORT", "not-a-port")
	t.Setenv("LEDGER_DB_DRIVER", "oracle")

	_, errs := Load("")
	require.Len(t, errs, 2)
	assert.True(t, errors.Is(errs[0], ErrInvalidInteger))
	assert.True(t, errors.Is(errs[1], ErrUnknownDriver))
}

func TestLoad_MissingFile(t *testing.T) {
	setRequired(t)
	_, errs := Load("/nonexistent/config.yaml")
	require.Len(t, errs, 1)
}
