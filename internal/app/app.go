// Package app assembles repositories, object storage and services from a
// Config. Both binaries build their dependency graph through it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/picpaygo/internal/config"
	"github.com/and161185/picpaygo/internal/generator"
	"github.com/and161185/picpaygo/internal/limiter"
	"github.com/and161185/picpaygo/internal/migrate"
	"github.com/and161185/picpaygo/internal/payment"
	"github.com/and161185/picpaygo/internal/repository"
	"github.com/and161185/picpaygo/internal/repository/postgres"
	"github.com/and161185/picpaygo/internal/repository/sqlite"
	"github.com/and161185/picpaygo/internal/service"
	"github.com/and161185/picpaygo/internal/storage"
)

// Store is one backend's set of repositories.
type Store struct {
	Accounts repository.AccountRepository
	Credits  repository.CreditRepository
	Guests   repository.GuestRepository
	Jobs     repository.JobRepository
	Payments repository.PaymentRepository
	Limiter  limiter.Limiter

	ping  func(ctx context.Context) error
	close func()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.ping(ctx) }

// Close releases the database handle.
func (s *Store) Close() { s.close() }

// OpenStore migrates and opens the configured store.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		log.Info("store opened", zap.String("kind", cfg.Store))
		return &Store{
			Accounts: postgres.NewAccountRepo(db),
			Credits:  postgres.NewCreditRepo(db),
			Guests:   postgres.NewGuestRepo(db),
			Jobs:     postgres.NewJobRepo(db),
			Payments: postgres.NewPaymentRepo(db),
			Limiter:  limiter.NewPG(db.Pool, limiter.DefaultPolicy()),
			ping:     db.Ping,
			close:    db.Close,
		}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Info("store opened", zap.String("kind", cfg.Store), zap.String("path", cfg.SQLitePath))
		return &Store{
			Accounts: sqlite.NewAccountRepo(db),
			Credits:  sqlite.NewCreditRepo(db),
			Guests:   sqlite.NewGuestRepo(db),
			Jobs:     sqlite.NewJobRepo(db),
			Payments: sqlite.NewPaymentRepo(db),
			Limiter:  limiter.NewMemory(limiter.DefaultPolicy()),
			ping:     db.Ping,
			close:    db.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// OpenObjects returns the configured object store, creating MinIO buckets when missing.
func OpenObjects(ctx context.Context, cfg config.ObjectsConfig, log *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Kind {
	case config.ObjectsMemory:
		log.Warn("using in-memory object store; images are lost on restart")
		return storage.NewMemory(), nil
	case config.ObjectsMinIO:
		m, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBuckets(ctx, cfg.RawBucket, cfg.GeneratedBucket); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown object store %q", cfg.Kind)
}

// Provider returns the Stripe provider, or nil when no credentials are configured.
func Provider(cfg config.StripeConfig, log *zap.Logger) payment.Provider {
	if cfg.SecretKey == "" && cfg.WebhookSecret == "" {
		log.Warn("stripe is not configured; checkout and webhooks are disabled")
		return nil
	}
	return payment.NewStripe(cfg.SecretKey, cfg.WebhookSecret)
}

// Services is the service layer over one store.
type Services struct {
	Auth       *service.AuthService
	Ledger     *service.Ledger
	Jobs       *service.JobManager
	Generation *service.Generation
	Identity   *service.IdentityResolver
	Payments   *service.Payments
}

// NewServices wires the services. notify may be nil when no pool runs in-process.
func NewServices(cfg config.Config, st *Store, objects storage.ObjectStore, provider payment.Provider, notify service.Notifier, log *zap.Logger) *Services {
	auth := service.NewAuthService(st.Accounts, []byte(cfg.JWTKey), cfg.AccessTTL, st.Limiter, log)
	ledger := service.NewLedger(st.Credits, cfg.Credits.FreeDefault, log)
	jobs := service.NewJobManager(st.Jobs, generator.Categories(), log)
	return &Services{
		Auth:       auth,
		Ledger:     ledger,
		Jobs:       jobs,
		Generation: service.NewGeneration(ledger, jobs, objects, cfg.Objects.RawBucket, notify, log),
		Identity:   service.NewIdentityResolver(auth, st.Accounts, st.Guests, objects, log),
		Payments:   service.NewPayments(provider, st.Payments, st.Accounts, cfg.Catalog(), cfg.FrontendURL, log),
	}
}
