package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/picpaygo/internal/generator"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/repository/sqlite"
	"github.com/and161185/picpaygo/internal/storage"
)

type testEnv struct {
	db       *sqlite.DB
	accounts *sqlite.AccountRepo
	credits  *sqlite.CreditRepo
	guests   *sqlite.GuestRepo
	jobs     *sqlite.JobRepo
	payments *sqlite.PaymentRepo
	objects  *storage.Memory
	log      *zap.Logger
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return &testEnv{
		db:       db,
		accounts: sqlite.NewAccountRepo(db),
		credits:  sqlite.NewCreditRepo(db),
		guests:   sqlite.NewGuestRepo(db),
		jobs:     sqlite.NewJobRepo(db),
		payments: sqlite.NewPaymentRepo(db),
		objects:  storage.NewMemory(),
		log:      zaptest.NewLogger(t),
	}
}

func (e *testEnv) ledger(freeDefault int64) *Ledger {
	return NewLedger(e.credits, freeDefault, e.log)
}

func (e *testEnv) jobManager() *JobManager {
	return NewJobManager(e.jobs, generator.Categories(), e.log)
}

func (e *testEnv) account(t *testing.T) model.Owner {
	t.Helper()
	a := &model.Account{
		ID:       uuid.Must(uuid.NewV4()),
		Email:    uuid.Must(uuid.NewV4()).String() + "@example.com",
		PwdHash:  []byte("h"),
		SaltAuth: []byte("s"),
	}
	require.NoError(t, e.accounts.Create(context.Background(), a))
	o, err := model.AccountOwner(a.ID)
	require.NoError(t, err)
	return o
}

func (e *testEnv) guest(t *testing.T) model.Owner {
	t.Helper()
	s, _, err := e.guests.Resolve(context.Background(), uuid.Must(uuid.NewV4()).String())
	require.NoError(t, err)
	o, err := model.GuestOwner(s.ID)
	require.NoError(t, err)
	return o
}

func (e *testEnv) grant(t *testing.T, owner model.Owner, n int64) {
	t.Helper()
	id, ok := owner.AccountID()
	require.True(t, ok)
	_, err := e.ledger(0).Credit(context.Background(), id, n, model.ReasonBonus, "")
	require.NoError(t, err)
}

func inputAsset() model.Asset {
	return model.Asset{
		Bucket:      "raw-uploads",
		ObjectKey:   "raw/x/input.png",
		ContentType: "image/png",
		ByteSize:    3,
		SHA256:      storage.Checksum([]byte("png")),
	}
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

// brokenStore fails writes; reads and deletes go to the embedded store.
type brokenStore struct {
	*storage.Memory
	putErr error
}

func (b *brokenStore) Put(context.Context, string, string, []byte, string) (storage.Locator, error) {
	return storage.Locator{}, b.putErr
}

var errStoreDown = errors.New("object store down")

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func (e *testEnv) mustAccountID(t *testing.T) uuid.UUID {
	t.Helper()
	id, _ := e.account(t).AccountID()
	return id
}
