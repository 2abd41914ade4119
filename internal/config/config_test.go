package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_MatchesServiceDefaults(t *testing.T) {
	c := Default()
	require.Equal(t, int64(1), c.Credits.FreeDefault)
	require.Equal(t, 2, c.Jobs.Workers)
	require.Equal(t, 120*time.Second, c.Jobs.Timeout)
	require.Equal(t, 30*24*time.Hour, c.Guests.Retention)
	require.Equal(t, "raw-uploads", c.Objects.RawBucket)
	require.Equal(t, "generated", c.Objects.GeneratedBucket)
	require.Len(t, c.Catalog(), 3)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picpaygo.toml")
	body := `
store = "sqlite"
sqlite_path = "/tmp/x.db"
jwt_key = "from-file"
frontend_url = "https://picpaygo.example/"

[jobs]
workers = 4
timeout = "30s"

[objects]
kind = "memory"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("JOB_WORKERS", "6")
	t.Setenv("STRIPE_PRICE_ID_3_10", "price_abc")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreSQLite, c.Store)
	require.Equal(t, "from-file", c.JWTKey)
	require.Equal(t, 6, c.Jobs.Workers)
	require.Equal(t, 30*time.Second, c.Jobs.Timeout)
	require.Equal(t, ObjectsMemory, c.Objects.Kind)
	require.Equal(t, "https://picpaygo.example", c.FrontendURL)
	require.Equal(t, "price_abc", c.Packs[1].PriceID)
	require.NoError(t, c.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.applyEnv(env(map[string]string{
		"JOB_TIMEOUT_SECONDS":  "15",
		"FREE_CREDITS":         "3",
		"GUEST_RETENTION_DAYS": "7",
		"MINIO_USE_HTTPS":      "yes",
		"DATABASE_URL":         "postgres://x",
	}))
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, c.Jobs.Timeout)
	require.Equal(t, int64(3), c.Credits.FreeDefault)
	require.Equal(t, 7*24*time.Hour, c.Guests.Retention)
	require.True(t, c.Objects.UseSSL)
	require.Equal(t, "postgres://x", c.DatabaseURL)

	err = c.applyEnv(env(map[string]string{"JOB_WORKERS": "many"}))
	require.ErrorContains(t, err, "JOB_WORKERS")
}

func TestValidate(t *testing.T) {
	ok := Default()
	ok.JWTKey = "k"
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Config){
		"no jwt":         func(c *Config) { c.JWTKey = "" },
		"zero workers":   func(c *Config) { c.Jobs.Workers = 0 },
		"unknown store":  func(c *Config) { c.Store = "mongo" },
		"unknown object": func(c *Config) { c.Objects.Kind = "s4" },
		"negative free":  func(c *Config) { c.Credits.FreeDefault = -1 },
		"dup pack":       func(c *Config) { c.Packs = append(c.Packs, c.Packs[0]) },
		"empty pack":     func(c *Config) { c.Packs = append(c.Packs, PackConfig{ID: "x"}) },
		"sqlite no path": func(c *Config) { c.Store = StoreSQLite; c.SQLitePath = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			c.JWTKey = "k"
			c.Packs = append([]PackConfig(nil), c.Packs...)
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}
