package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/fieldgate/pkg/cache"
	"github.com/fieldgate/fieldgate/pkg/contextkeys"
	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
	"github.com/fieldgate/fieldgate/pkg/search"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

// the admin user the product policy grants full access to
const adminUserID = int64(1)

func testRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()

	reg.MustRegister(&model.Descriptor{
		Name:  "brand",
		Table: "brands",
		Fields: []model.Field{
			{Name: "name", Kind: model.Attribute, SQLType: "VARCHAR(100)"},
			{Name: "products", Kind: model.ReverseForeignKey, Related: "product", RemoteColumn: "brand_id", ReverseName: "brand"},
		},
	})

	reg.MustRegister(&model.Descriptor{
		Name:             "product",
		Table:            "products",
		AccessControlled: true,
		Policy: func(ctx context.Context, obj *model.Object) []model.GrantSpec {
			return []model.GrantSpec{
				{Group: "anyone", Actions: "r"},
				{UserID: adminUserID, Actions: "rwcd"},
			}
		},
		TextFeature: func(obj *model.Object) string {
			barcode, _ := obj.Get("barcode")
			s, _ := barcode.(string)
			return s
		},
		Fields: []model.Field{
			{Name: "barcode", Kind: model.Attribute, SQLType: "VARCHAR(100)"},
			{Name: "priority", Kind: model.Attribute, SQLType: "BIGINT", Nullable: true},
			{Name: "brand", Kind: model.ForeignKey, Related: "brand", Nullable: true, ReverseName: "products"},
			{Name: "tags", Kind: model.ManyToMany, Related: "tag", ReverseName: "products",
				Through: "product_tags", ThroughLocal: "product_id", ThroughRemote: "tag_id"},
			{Name: "skus", Kind: model.ReverseForeignKey, Related: "sku", RemoteColumn: "product_id", ReverseName: "product"},
		},
	})

	reg.MustRegister(&model.Descriptor{
		Name:  "tag",
		Table: "tags",
		Fields: []model.Field{
			{Name: "label", Kind: model.Attribute, SQLType: "VARCHAR(100)"},
			{Name: "products", Kind: model.ManyToMany, Related: "product", ReverseName: "tags",
				Through: "product_tags", ThroughLocal: "tag_id", ThroughRemote: "product_id"},
		},
	})

	reg.MustRegister(&model.Descriptor{
		Name:  "sku",
		Table: "skus",
		Fields: []model.Field{
			{Name: "code", Kind: model.Attribute, SQLType: "VARCHAR(100)"},
			{Name: "product", Kind: model.ForeignKey, Related: "product", ReverseName: "skus"},
		},
	})

	require.NoError(t, reg.CheckIntegrity())
	return reg
}

type harness struct {
	Router   *mux.Router
	Server   *Server
	DB       *sql.DB
	Registry *model.Registry
	Store    *storage.Store
	Resolver *perms.Resolver
	Features *search.FeatureStore
}

func setupAPI(t *testing.T, c cache.SerializationCache) *harness {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// each pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, perms.RunMigrations(ctx, db, storage.DialectSQLite))
	require.NoError(t, search.RunMigrations(ctx, db, storage.DialectSQLite))

	reg := testRegistry(t)
	require.NoError(t, storage.CreateSchema(ctx, db, storage.DialectSQLite, reg))

	store := storage.NewStore(db, storage.DialectSQLite)
	resolver := perms.NewResolver(perms.NewStore(db), reg, perms.StandardGroups())
	features := search.NewFeatureStore(db, storage.DialectSQLite)

	srv, err := NewServer(Deps{
		Registry: reg,
		DB:       db,
		Store:    store,
		Resolver: resolver,
		Features: features,
		Cache:    c,
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	srv.Routes(router)

	return &harness{
		Router:   router,
		Server:   srv,
		DB:       db,
		Registry: reg,
		Store:    store,
		Resolver: resolver,
		Features: features,
	}
}

func setup(t *testing.T) *harness {
	return setupAPI(t, nil)
}

// do runs one request as the given subject and returns the recorder.
func (h *harness) do(t *testing.T, sub perms.Subject, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(context.WithValue(req.Context(), contextkeys.SubjectKey, sub))

	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func (h *harness) grant(t *testing.T, sub perms.Subject, target perms.Target, actions, field string) {
	t.Helper()
	require.NoError(t, h.Resolver.SetPerms(context.Background(), sub, target, actions, field))
}

func (h *harness) insertBrand(t *testing.T, name string) int64 {
	t.Helper()
	d, _ := h.Registry.Get("brand")
	obj := model.NewObject(d)
	obj.Set("name", name)
	require.NoError(t, h.Store.Insert(context.Background(), d, obj))
	return obj.PK
}

// insertProduct writes a product the way the API would: row, policy
// grants, and search feature together.
func (h *harness) insertProduct(t *testing.T, barcode string, brand *int64) int64 {
	t.Helper()
	ctx := context.Background()
	d, _ := h.Registry.Get("product")
	obj := model.NewObject(d)
	obj.Set("barcode", barcode)
	if brand != nil {
		obj.Set("brand", brand)
	}
	require.NoError(t, h.Store.Insert(ctx, d, obj))
	require.NoError(t, h.Resolver.ResetPerms(ctx, obj))
	require.NoError(t, h.Features.Update(ctx, "product", obj.PK, barcode))
	return obj.PK
}

func (h *harness) insertSKU(t *testing.T, code string, productPK int64) int64 {
	t.Helper()
	d, _ := h.Registry.Get("sku")
	obj := model.NewObject(d)
	obj.Set("code", code)
	obj.Set("product", &productPK)
	require.NoError(t, h.Store.Insert(context.Background(), d, obj))
	return obj.PK
}

func (h *harness) insertTag(t *testing.T, label string) int64 {
	t.Helper()
	d, _ := h.Registry.Get("tag")
	obj := model.NewObject(d)
	obj.Set("label", label)
	require.NoError(t, h.Store.Insert(context.Background(), d, obj))
	return obj.PK
}
