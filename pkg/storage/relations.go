package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// ScopeFor builds the relation scope that restricts a listing of the
// related model to the objects linked to parentPK through the field.
func ScopeFor(f model.Field, parentPK int64) *RelationScope {
	if f.Kind == model.ManyToMany {
		return &RelationScope{
			Through:       f.Through,
			ThroughLocal:  f.ThroughLocal,
			ThroughRemote: f.ThroughRemote,
			ParentPK:      parentPK,
		}
	}
	return &RelationScope{Column: f.RemoteColumn, ParentPK: parentPK}
}

// RelatedPKs returns the primary keys of the objects linked to
// parentPK through a to-many field.
func (s *Store) RelatedPKs(ctx context.Context, related *model.Descriptor, f model.Field, parentPK int64) ([]int64, error) {
	return s.ListPKs(ctx, related, ListOptions{Scope: ScopeFor(f, parentPK)})
}

// AddLinks inserts many-to-many rows linking parentPK to each of the
// given keys. Existing links are left alone.
func (s *Store) AddLinks(ctx context.Context, f model.Field, parentPK int64, pks []int64) error {
	for _, pk := range pks {
		query := fmt.Sprintf(
			"INSERT INTO %s (%s, %s) SELECT $1, $2 WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2)",
			f.Through, f.ThroughLocal, f.ThroughRemote, f.Through, f.ThroughLocal, f.ThroughRemote,
		)
		if _, err := s.db.ExecContext(ctx, query, parentPK, pk); err != nil {
			return fmt.Errorf("failed to link %s: %w", f.Name, err)
		}
	}
	return nil
}

// RemoveLinks deletes the many-to-many rows linking parentPK to the
// given keys. Keys that are not linked are ignored.
func (s *Store) RemoveLinks(ctx context.Context, f model.Field, parentPK int64, pks []int64) error {
	if len(pks) == 0 {
		return nil
	}
	placeholders := make([]string, len(pks))
	args := []interface{}{parentPK}
	for i, pk := range pks {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, pk)
	}
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s = $1 AND %s IN (%s)",
		f.Through, f.ThroughLocal, f.ThroughRemote, strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to unlink %s: %w", f.Name, err)
	}
	return nil
}

// ClaimChildren points the foreign key of each child row at parentPK.
func (s *Store) ClaimChildren(ctx context.Context, related *model.Descriptor, fkColumn string, parentPK int64, pks []int64) error {
	if len(pks) == 0 {
		return nil
	}
	placeholders := make([]string, len(pks))
	args := []interface{}{parentPK}
	for i, pk := range pks {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, pk)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s = $1 WHERE id IN (%s)",
		related.Table, fkColumn, strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to claim %s rows: %w", related.Name, err)
	}
	return nil
}

// ReleaseChildren nulls the foreign key of each child row currently
// pointing at parentPK. The caller verifies the column is nullable.
func (s *Store) ReleaseChildren(ctx context.Context, related *model.Descriptor, fkColumn string, parentPK int64, pks []int64) error {
	if len(pks) == 0 {
		return nil
	}
	placeholders := make([]string, len(pks))
	args := []interface{}{parentPK}
	for i, pk := range pks {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, pk)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s = NULL WHERE %s = $1 AND id IN (%s)",
		related.Table, fkColumn, fkColumn, strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to release %s rows: %w", related.Name, err)
	}
	return nil
}
