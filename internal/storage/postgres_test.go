package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examshield/internal/license"
)

func TestNewPostgresBackend_RejectsUnsafeTable(t *testing.T) {
	for _, name := range []string{"", "1licenses", "licenses;drop", "lic-enses", "public.licenses"} {
		t.Run(name, func(t *testing.T) {
			_, err := NewPostgresBackend(context.Background(), nil, WithTableName(name))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid table name")
		})
	}
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("ES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ES_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	table := fmt.Sprintf("licenses_test_%d", time.Now().UnixNano())
	b, err := OpenPostgres(ctx, dsn, WithTableName(table), WithPostgresRetention(2))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = b.pool.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", table, b.backupTable()))
		_ = b.Close()
	})

	require.NoError(t, b.Ping(ctx))

	db, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, db)

	a := sampleRecord("ES-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "a@x.com")
	c := sampleRecord("ES-CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", "c@x.com")
	require.NoError(t, b.Save(ctx, map[string]*license.Record{a.Key: a, c.Key: c}))

	db, err = b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, db, 2)
	assert.Equal(t, "a@x.com", db[a.Key].Email)
	assert.True(t, a.PaymentAmount.Equal(db[a.Key].PaymentAmount))

	require.NoError(t, b.Save(ctx, map[string]*license.Record{a.Key: a}))
	db, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, db, 1, "keys missing from the snapshot are removed")

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Save(ctx, map[string]*license.Record{a.Key: a}))
	}
	count, err := b.BackupCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
