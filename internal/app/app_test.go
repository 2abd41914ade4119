package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/picpaygo/internal/config"
	"github.com/and161185/picpaygo/internal/limiter"
	"github.com/and161185/picpaygo/internal/model"
)

func TestOpenStore_SQLiteWiresServices(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "app.db")
	cfg.JWTKey = "test-key"
	cfg.Objects.Kind = config.ObjectsMemory

	st, err := OpenStore(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Ping(ctx))

	objects, err := OpenObjects(ctx, cfg.Objects, log)
	require.NoError(t, err)

	svc := NewServices(cfg, st, objects, Provider(cfg.Stripe, log), nil, log)
	acct, err := svc.Auth.Register(ctx, "wired@example.com", "Passw0rdOK")
	require.NoError(t, err)

	owner, err := model.AccountOwner(acct.ID)
	require.NoError(t, err)
	bal, err := svc.Ledger.Balance(ctx, model.Identity{Owner: owner, IP: "203.0.113.5"})
	require.NoError(t, err)
	require.Equal(t, cfg.Credits.FreeDefault, bal.Free)
	require.Len(t, svc.Payments.Packs(), len(cfg.Packs))
}

func TestOpenStore_SQLiteLimiterUsesDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "limit.db")

	st, err := OpenStore(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	p := limiter.DefaultPolicy()
	ip := limiter.HashIP("203.0.113.9")
	for i := 1; i < p.MaxFails; i++ {
		blocked, _, err := st.Limiter.Failure(ctx, "locked@example.com", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, retry, err := st.Limiter.Failure(ctx, "locked@example.com", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, p.BlockFor, retry)

	ok, _, err := st.Limiter.Allow(ctx, "locked@example.com", ip)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenStore_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Store = "mongo"
	_, err := OpenStore(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = OpenObjects(context.Background(), config.ObjectsConfig{Kind: "s3"}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestProvider_DisabledWithoutKeys(t *testing.T) {
	log := zaptest.NewLogger(t)
	require.Nil(t, Provider(config.StripeConfig{}, log))
	require.NotNil(t, Provider(config.StripeConfig{WebhookSecret: "whsec_x"}, log))
}
