// Package storage persists registered model objects in SQL and executes
// the filtered, ordered and paginated queries the API layer builds. All
// statements use numbered placeholders, which both supported drivers
// accept.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// Dialect selects the SQL flavor for DDL and error classification.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrProtected is returned when deleting an object that other rows
	// still reference.
	ErrProtected = errors.New("object is referenced by other objects")
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store reads and writes model objects.
type Store struct {
	db      dbtx
	dialect Dialect
}

// NewStore creates a store over the given database handle.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// WithTx returns a store that runs every statement on the transaction.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx, dialect: s.dialect}
}

// Dialect reports the SQL flavor the store was created with.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// columnsFor lists the persisted columns of a descriptor, id first.
func columnsFor(d *model.Descriptor) []string {
	cols := []string{"id"}
	for _, f := range d.Fields {
		if f.IsToMany() {
			continue
		}
		cols = append(cols, f.ColumnName())
	}
	return cols
}

// fieldForColumn maps a persisted column back to its field name.
func fieldForColumn(d *model.Descriptor, col string) string {
	for _, f := range d.Fields {
		if !f.IsToMany() && f.ColumnName() == col {
			return f.Name
		}
	}
	return col
}

func scanObject(d *model.Descriptor, cols []string, scan func(...interface{}) error) (*model.Object, error) {
	targets := make([]interface{}, len(cols))
	for i := range targets {
		targets[i] = new(interface{})
	}
	if err := scan(targets...); err != nil {
		return nil, err
	}

	obj := model.NewObject(d)
	for i, col := range cols {
		val := normalizeValue(*(targets[i].(*interface{})))
		if col == "id" {
			pk, ok := val.(int64)
			if !ok {
				return nil, fmt.Errorf("unexpected id type %T", val)
			}
			obj.PK = pk
			continue
		}
		obj.Set(fieldForColumn(d, col), val)
	}
	return obj, nil
}

// normalizeValue converts driver-specific scan results into the small
// set of types the rest of the system works with.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}

// isProtectedErr reports whether err is a foreign key violation raised
// by a delete.
func (s *Store) isProtectedErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
