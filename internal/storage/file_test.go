package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examshield/internal/license"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecord(key, email string) *license.Record {
	expires := testNow.Add(license.Validity)
	return &license.Record{
		Key:           key,
		Email:         email,
		Name:          "Ann",
		DeviceType:    license.DeviceTypeIndividual,
		DeviceLimit:   license.IndividualDeviceLimit,
		Devices:       []string{"fp1"},
		Active:        true,
		PaymentStatus: license.PaymentCompleted,
		Created:       testNow,
		Activated:     &testNow,
		Expires:       &expires,
		TransactionID: "txn_1",
		PaymentAmount: decimal.RequireFromString("99.99"),
	}
}

func newTestFileBackend(t *testing.T, retention int) (*FileBackend, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(testNow)

	b, err := NewFileBackend(filepath.Join(t.TempDir(), "license_db.json"),
		WithFileClock(clock),
		WithFileLogger(discardLogger()),
		WithBackupRetention(retention),
		WithLockTimeout(200*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, clock
}

func TestFileBackend_LoadMissingFile(t *testing.T) {
	b, _ := newTestFileBackend(t, 5)

	db, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, db)
	assert.NoError(t, b.Ping(context.Background()))
}

func TestFileBackend_SaveAndLoad(t *testing.T) {
	b, _ := newTestFileBackend(t, 5)
	ctx := context.Background()

	rec := sampleRecord("ES-0123456789ABCDEF0123456789ABCDEF", "a@x.com")
	require.NoError(t, b.Save(ctx, map[string]*license.Record{rec.Key: rec}))

	raw, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \""+rec.Key+"\": {", "store file is indented")

	var generic map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Contains(t, generic[rec.Key], "expires")

	db, err := b.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, db, rec.Key)
	got := db[rec.Key]
	assert.Equal(t, rec.Email, got.Email)
	assert.Equal(t, []string{"fp1"}, got.Devices)
	assert.True(t, rec.PaymentAmount.Equal(got.PaymentAmount))
	require.NotNil(t, got.Expires)
	assert.True(t, rec.Expires.Equal(*got.Expires))
}

func TestFileBackend_LoadFillsMissingKey(t *testing.T) {
	b, _ := newTestFileBackend(t, 5)
	require.NoError(t, os.WriteFile(b.Path(), []byte(`{"ES-AA": {"email": "a@x.com"}, "ES-BB": null}`), 0o600))

	db, err := b.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, db, 1)
	assert.Equal(t, "ES-AA", db["ES-AA"].Key)
}

func TestFileBackend_LoadCorruptFile(t *testing.T) {
	b, _ := newTestFileBackend(t, 5)
	require.NoError(t, os.WriteFile(b.Path(), []byte(`{"ES-AA": `), 0o600))

	_, err := b.Load(context.Background())
	assert.Error(t, err)
}

func TestFileBackend_BackupBeforeOverwrite(t *testing.T) {
	b, clock := newTestFileBackend(t, 5)
	ctx := context.Background()

	first := sampleRecord("ES-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "a@x.com")
	require.NoError(t, b.Save(ctx, map[string]*license.Record{first.Key: first}))

	backups, err := b.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups, "first save has nothing to back up")
	before, err := os.ReadFile(b.Path())
	require.NoError(t, err)

	clock.Advance(time.Second)
	second := sampleRecord("ES-BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", "b@x.com")
	require.NoError(t, b.Save(ctx, map[string]*license.Record{first.Key: first, second.Key: second}))

	backups, err = b.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "license_db_20260301_120001.json", filepath.Base(backups[0]))

	saved, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, before, saved, "backup holds the previous document")
}

func TestFileBackend_BackupNamesAreUniqueWithinASecond(t *testing.T) {
	b, _ := newTestFileBackend(t, 10)
	ctx := context.Background()
	rec := sampleRecord("ES-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "a@x.com")

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Save(ctx, map[string]*license.Record{rec.Key: rec}))
	}

	backups, err := b.Backups()
	require.NoError(t, err)
	names := make([]string, len(backups))
	for i, p := range backups {
		names[i] = filepath.Base(p)
	}
	assert.Equal(t, []string{
		"license_db_20260301_120000.json",
		"license_db_20260301_120000.1.json",
		"license_db_20260301_120000.2.json",
	}, names)
}

func TestFileBackend_PrunesOldestBackups(t *testing.T) {
	b, clock := newTestFileBackend(t, 3)
	ctx := context.Background()
	rec := sampleRecord("ES-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "a@x.com")

	for i := 0; i < 7; i++ {
		require.NoError(t, b.Save(ctx, map[string]*license.Record{rec.Key: rec}))
		clock.Advance(time.Minute)
	}

	backups, err := b.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "license_db_20260301_120400.json", filepath.Base(backups[0]))
	assert.Equal(t, "license_db_20260301_120600.json", filepath.Base(backups[2]))
}

func TestFileBackend_ZeroRetentionKeepsEveryBackup(t *testing.T) {
	b, clock := newTestFileBackend(t, 0)
	ctx := context.Background()
	rec := sampleRecord("ES-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "a@x.com")

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Save(ctx, map[string]*license.Record{rec.Key: rec}))
		clock.Advance(time.Minute)
	}

	backups, err := b.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 4, "every overwrite is backed up")
	assert.Equal(t, "license_db_20260301_120100.json", filepath.Base(backups[0]))
	assert.Equal(t, "license_db_20260301_120400.json", filepath.Base(backups[3]))
}

func TestFileBackend_SaveHonoursContext(t *testing.T) {
	b, _ := newTestFileBackend(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Save(ctx, map[string]*license.Record{})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(b.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileBackend_OpenFailsWhileLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license_db.json")

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = NewFileBackend(path, WithFileLogger(discardLogger()), WithLockTimeout(100*time.Millisecond))
	require.ErrorIs(t, err, ErrStoreLocked)

	require.NoError(t, other.Unlock())
	b, err := NewFileBackend(path, WithFileLogger(discardLogger()), WithLockTimeout(100*time.Millisecond))
	require.NoError(t, err)
	assert.NoError(t, b.Close())
}

func TestFileBackend_SecondStoreOnSameDirectoryIsRefused(t *testing.T) {
	b1, clock := newTestFileBackend(t, 5)
	ctx := context.Background()

	store, err := license.NewStore(ctx, b1, license.WithClock(clock), license.WithLogger(discardLogger()))
	require.NoError(t, err)
	registry := license.NewRegistry(store, "http://localhost:5000", license.WithClock(clock), license.WithLogger(discardLogger()))
	_, err = registry.Register(ctx, "first@x.com", "First", license.DeviceTypeIndividual)
	require.NoError(t, err)

	_, err = NewFileBackend(b1.Path(), WithFileLogger(discardLogger()), WithLockTimeout(0))
	require.ErrorIs(t, err, ErrStoreLocked)

	_, err = registry.Register(ctx, "second@x.com", "Second", license.DeviceTypeIndividual)
	require.NoError(t, err)

	db, err := b1.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, db, 2)

	require.NoError(t, store.Close())
	b2, err := NewFileBackend(b1.Path(), WithFileLogger(discardLogger()), WithLockTimeout(0))
	require.NoError(t, err, "lock is released by Close")
	t.Cleanup(func() { _ = b2.Close() })
}

func TestFileBackend_SaveAfterClose(t *testing.T) {
	b, _ := newTestFileBackend(t, 5)
	require.NoError(t, b.Close())

	err := b.Save(context.Background(), map[string]*license.Record{})
	require.Error(t, err)
	_, statErr := os.Stat(b.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileBackend_StoreRoundTrip(t *testing.T) {
	b, clock := newTestFileBackend(t, 5)
	ctx := context.Background()

	store, err := license.NewStore(ctx, b, license.WithClock(clock), license.WithLogger(discardLogger()))
	require.NoError(t, err)
	registry := license.NewRegistry(store, "http://localhost:5000", license.WithClock(clock), license.WithLogger(discardLogger()))

	rec, err := registry.Register(ctx, "Ann@X.com", "Ann", license.DeviceTypeIndividual)
	require.NoError(t, err)
	_, err = registry.Activate(ctx, "ann@x.com", "txn_9", decimal.Zero)
	require.NoError(t, err)

	reopened, err := license.NewStore(ctx, b, license.WithClock(clock), license.WithLogger(discardLogger()))
	require.NoError(t, err)
	got, ok := reopened.Get(rec.Key)
	require.True(t, ok)
	assert.True(t, got.Active)
	assert.Equal(t, "txn_9", got.TransactionID)
	assert.Equal(t, "99.99", got.PaymentAmount.StringFixed(2))

	found, ok := reopened.FindByEmail("ANN@x.com ")
	require.True(t, ok)
	assert.Equal(t, rec.Key, found.Key)
}

func TestFileBackend_FailedSaveLeavesStoreUntouched(t *testing.T) {
	b, clock := newTestFileBackend(t, 5)
	ctx := context.Background()

	store, err := license.NewStore(ctx, b, license.WithClock(clock), license.WithLogger(discardLogger()))
	require.NoError(t, err)
	registry := license.NewRegistry(store, "http://localhost:5000", license.WithClock(clock), license.WithLogger(discardLogger()))

	rec, err := registry.Register(ctx, "a@x.com", "Ann", license.DeviceTypeIndividual)
	require.NoError(t, err)
	before, err := os.ReadFile(b.Path())
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = registry.Revoke(cancelled, rec.Key)
	require.ErrorIs(t, err, license.ErrStorage)

	after, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, ok := store.Get(rec.Key)
	require.True(t, ok)
	assert.Nil(t, got.Revoked)
}
