package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// Get retrieves a single object by primary key.
func (s *Store) Get(ctx context.Context, d *model.Descriptor, pk int64) (*model.Object, error) {
	cols := columnsFor(d)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", strings.Join(cols, ", "), d.Table)

	row := s.db.QueryRowContext(ctx, query, pk)
	obj, err := scanObject(d, cols, row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", d.Name, pk, err)
	}
	return obj, nil
}

// Exists reports whether an object with the primary key is present.
func (s *Store) Exists(ctx context.Context, d *model.Descriptor, pk int64) (bool, error) {
	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE id = $1", d.Table)
	err := s.db.QueryRowContext(ctx, query, pk).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s %d: %w", d.Name, pk, err)
	}
	return true, nil
}

// Insert persists a new object and fills in its primary key.
func (s *Store) Insert(ctx context.Context, d *model.Descriptor, obj *model.Object) error {
	var cols []string
	var placeholders []string
	var args []interface{}
	for _, f := range d.Fields {
		if f.IsToMany() {
			continue
		}
		val, ok := obj.Get(f.Name)
		if !ok {
			continue
		}
		cols = append(cols, f.ColumnName())
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, val)
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", d.Table)
	} else {
		query = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			d.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		)
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&obj.PK); err != nil {
		return fmt.Errorf("failed to insert %s: %w", d.Name, err)
	}
	return nil
}

// Update writes the given field values to an existing object. The map
// is keyed by field name.
func (s *Store) Update(ctx context.Context, d *model.Descriptor, pk int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	var sets []string
	var args []interface{}
	for _, f := range d.Fields {
		val, ok := fields[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", f.ColumnName(), len(args)+1))
		args = append(args, val)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, pk)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", d.Table, strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", d.Name, pk, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", d.Name, pk, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an object. Deleting an object that protected foreign
// keys still point at returns ErrProtected.
func (s *Store) Delete(ctx context.Context, d *model.Descriptor, pk int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", d.Table)
	res, err := s.db.ExecContext(ctx, query, pk)
	if err != nil {
		if s.isProtectedErr(err) {
			return ErrProtected
		}
		return fmt.Errorf("failed to delete %s %d: %w", d.Name, pk, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", d.Name, pk, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
