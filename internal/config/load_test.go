package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://app:secret@db:5432/spimex")
	t.Setenv("REDIS_URL", "redis://redis:6379")
	t.Setenv("BACKEND_CORS_ORIGINS", `["http://localhost","http://127.0.0.1"]`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://app:secret@db:5432/spimex", cfg.Database.DSN)
	assert.Equal(t, "redis://redis:6379", cfg.Redis.URL)
	assert.Equal(t, []string{"http://localhost", "http://127.0.0.1"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Redis.CacheTTL)
	assert.Equal(t, "ingest", cfg.Worker.Queue)
}

func TestLoadCORSOriginsCommaList(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://app:secret@db:5432/spimex")
	t.Setenv("BACKEND_CORS_ORIGINS", "http://localhost, http://127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost", "http://127.0.0.1"}, cfg.Server.CORSOrigins)
}

// A broker-only environment is the scheduler's whole world: Load must
// succeed without a database, and Require is where its absence bites.
func TestLoadWithoutDatabase(t *testing.T) {
	t.Setenv("SPIMEX_REDIS_URL", "redis://redis:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, "redis://redis:6379", cfg.Redis.URL)

	err = cfg.Database.Require()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DSN")
}

func TestLoadAssemblesDSNFromDiscreteVars(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "spimex")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db:5432/spimex", cfg.Database.DSN)
}

func TestLoadRejectsConflictingDatabaseShapes(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://app:secret@db:5432/spimex")
	t.Setenv("DB_HOST", "other-host")
	t.Setenv("DB_NAME", "spimex")
	t.Setenv("DB_USER", "app")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting database configuration")
}

func TestLoadAcceptsAgreeingDatabaseShapes(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://app:secret@db:5432/spimex")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "spimex")
	t.Setenv("DB_USER", "app")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db:5432/spimex", cfg.Database.DSN)
}

func TestParseOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "json array",
			raw:  `["http://localhost","http://127.0.0.1"]`,
			want: []string{"http://localhost", "http://127.0.0.1"},
		},
		{
			name: "comma list with spaces",
			raw:  "http://localhost, http://127.0.0.1",
			want: []string{"http://localhost", "http://127.0.0.1"},
		},
		{
			name: "single origin",
			raw:  "http://localhost",
			want: []string{"http://localhost"},
		},
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
		{
			name:    "malformed json",
			raw:     `["http://localhost"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseOrigins(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcileDatabase(t *testing.T) {
	t.Parallel()

	t.Run("dsn alone passes through", func(t *testing.T) {
		t.Parallel()

		db := DatabaseConfig{DSN: "postgres://app:x@db:5432/spimex"}
		require.NoError(t, reconcileDatabase(&db))
		assert.Equal(t, "postgres://app:x@db:5432/spimex", db.DSN)
	})

	t.Run("neither shape set passes through", func(t *testing.T) {
		t.Parallel()

		db := DatabaseConfig{}
		require.NoError(t, reconcileDatabase(&db))
		assert.Empty(t, db.DSN)
	})

	t.Run("incomplete quadruple rejected", func(t *testing.T) {
		t.Parallel()

		db := DatabaseConfig{Host: "db"}
		assert.Error(t, reconcileDatabase(&db))
	})

	t.Run("conflicting database name rejected", func(t *testing.T) {
		t.Parallel()

		db := DatabaseConfig{
			DSN:  "postgres://app:x@db:5432/spimex",
			Host: "db",
			Name: "another",
			User: "app",
		}
		err := reconcileDatabase(&db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DB_NAME")
	})
}
