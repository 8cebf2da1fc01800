package search

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

func reindexFixture(t *testing.T) (*Reindexer, *FeatureStore, *storage.Store, *model.Registry, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// each pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	reg := model.NewRegistry()
	reg.MustRegister(&model.Descriptor{
		Name:  "product",
		Table: "products",
		Fields: []model.Field{
			{Name: "barcode", Kind: model.Attribute, SQLType: "VARCHAR(255)"},
		},
		TextFeature: func(obj *model.Object) string {
			barcode, _ := obj.Get("barcode")
			return fmt.Sprintf("product %v", barcode)
		},
	})
	reg.MustRegister(&model.Descriptor{
		Name:  "brand",
		Table: "brands",
		Fields: []model.Field{
			{Name: "name", Kind: model.Attribute, SQLType: "VARCHAR(100)"},
		},
	})
	require.NoError(t, reg.CheckIntegrity())

	ctx := context.Background()
	require.NoError(t, storage.CreateSchema(ctx, db, storage.DialectSQLite, reg))
	require.NoError(t, RunMigrations(ctx, db, storage.DialectSQLite))

	store := storage.NewStore(db, storage.DialectSQLite)
	features := NewFeatureStore(db, storage.DialectSQLite)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	r := NewReindexer(reg, store, features, logrus.NewEntry(logger), 2)
	return r, features, store, reg, db
}

func TestReindexAll(t *testing.T) {
	r, features, store, reg, _ := reindexFixture(t)
	ctx := context.Background()

	product, ok := reg.Get("product")
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		obj := model.NewObject(product)
		obj.Set("barcode", fmt.Sprintf("code-%d", i))
		require.NoError(t, store.Insert(ctx, product, obj))
	}

	// a stale row for a deleted object is removed by the rebuild
	require.NoError(t, features.Update(ctx, "product", 999, "stale entry"))

	require.NoError(t, r.ReindexAll(ctx))

	pks, err := features.Search(ctx, "product", "code-1")
	require.NoError(t, err)
	assert.Len(t, pks, 1)

	pks, err = features.Search(ctx, "product", "stale")
	require.NoError(t, err)
	assert.Empty(t, pks)

	// non-searchable models contribute nothing
	pks, err = features.Search(ctx, "brand", "product")
	require.NoError(t, err)
	assert.Empty(t, pks)
}

func TestReindexModel_Empty(t *testing.T) {
	r, _, _, reg, _ := reindexFixture(t)

	product, ok := reg.Get("product")
	require.True(t, ok)

	n, err := r.ReindexModel(context.Background(), product)
	require.NoError(t, err)
	assert.Zero(t, n)
}
