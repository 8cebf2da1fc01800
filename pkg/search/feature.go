package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/fieldgate/fieldgate/pkg/storage"
)

var searchTracer = otel.Tracer("fieldgate/search")

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// FeatureStore maintains the search_features table that backs the
// _fulltext query parameter. Each searchable object contributes one
// row of extracted text.
type FeatureStore struct {
	db      dbtx
	dialect storage.Dialect
}

// NewFeatureStore creates a feature store over the database handle.
func NewFeatureStore(db *sql.DB, dialect storage.Dialect) *FeatureStore {
	return &FeatureStore{db: db, dialect: dialect}
}

// WithTx returns a feature store bound to the transaction. Index
// updates run inside the same transaction as the object write.
func (s *FeatureStore) WithTx(tx *sql.Tx) *FeatureStore {
	return &FeatureStore{db: tx, dialect: s.dialect}
}

// Update upserts the text feature of one object.
func (s *FeatureStore) Update(ctx context.Context, modelName string, pk int64, text string) error {
	query := `
		INSERT INTO search_features (model, object_pk, text_feature)
		VALUES ($1, $2, $3)
		ON CONFLICT (model, object_pk) DO UPDATE SET text_feature = $3
	`
	if _, err := s.db.ExecContext(ctx, query, modelName, pk, text); err != nil {
		return fmt.Errorf("failed to index %s %d: %w", modelName, pk, err)
	}
	return nil
}

// Delete removes the feature row of one object.
func (s *FeatureStore) Delete(ctx context.Context, modelName string, pk int64) error {
	query := "DELETE FROM search_features WHERE model = $1 AND object_pk = $2"
	if _, err := s.db.ExecContext(ctx, query, modelName, pk); err != nil {
		return fmt.Errorf("failed to deindex %s %d: %w", modelName, pk, err)
	}
	return nil
}

// DeleteModel removes every feature row of a model. Used by the
// reindexer before a full rebuild.
func (s *FeatureStore) DeleteModel(ctx context.Context, modelName string) error {
	query := "DELETE FROM search_features WHERE model = $1"
	if _, err := s.db.ExecContext(ctx, query, modelName); err != nil {
		return fmt.Errorf("failed to clear %s index: %w", modelName, err)
	}
	return nil
}

// Search returns the primary keys of the model's objects whose text
// feature matches the query, best match first. On Postgres this uses
// the tsvector index; elsewhere it degrades to substring matching so
// development databases behave the same way.
func (s *FeatureStore) Search(ctx context.Context, modelName, query string) ([]int64, error) {
	ctx, span := searchTracer.Start(ctx, "FeatureStore.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if s.dialect == storage.DialectPostgres {
		return s.searchPostgres(ctx, modelName, query)
	}
	return s.searchLike(ctx, modelName, query)
}

func (s *FeatureStore) searchPostgres(ctx context.Context, modelName, query string) ([]int64, error) {
	stmt := `
		SELECT object_pk
		FROM search_features
		WHERE model = $1 AND feature_vector @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(feature_vector, plainto_tsquery('english', $2)) DESC, object_pk ASC
	`
	rows, err := s.db.QueryContext(ctx, stmt, modelName, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", modelName, err)
	}
	defer rows.Close()
	return scanPKs(rows, modelName)
}

func (s *FeatureStore) searchLike(ctx context.Context, modelName, query string) ([]int64, error) {
	terms := strings.Fields(strings.ToLower(query))
	conditions := []string{"model = $1"}
	args := []interface{}{modelName}
	for _, term := range terms {
		conditions = append(conditions, fmt.Sprintf("LOWER(text_feature) LIKE $%d", len(args)+1))
		args = append(args, "%"+term+"%")
	}
	stmt := fmt.Sprintf(
		"SELECT object_pk FROM search_features WHERE %s ORDER BY object_pk ASC",
		strings.Join(conditions, " AND "),
	)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", modelName, err)
	}
	defer rows.Close()
	return scanPKs(rows, modelName)
}

func scanPKs(rows *sql.Rows, modelName string) ([]int64, error) {
	var pks []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("failed to scan %s search result: %w", modelName, err)
		}
		pks = append(pks, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", modelName, err)
	}
	return pks, nil
}
