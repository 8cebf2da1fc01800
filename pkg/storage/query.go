package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// FilterOp is a comparison applied to a single column.
type FilterOp int

const (
	OpEq FilterOp = iota
	OpIn
	OpIsNull
)

// Filter narrows a listing to rows matching one column condition.
type Filter struct {
	Column string
	Op     FilterOp
	Values []interface{}
}

// Order sorts a listing by one column.
type Order struct {
	Column string
	Desc   bool
}

// Restriction limits a listing to an explicit primary key set. When
// Universe is true the restriction is a no-op.
type Restriction struct {
	Universe bool
	PKs      []int64
}

// RelationScope limits a listing to the objects related to one parent.
// Column is set for foreign key traversal; the Through fields are set
// for many-to-many traversal.
type RelationScope struct {
	Column        string
	Through       string
	ThroughLocal  string
	ThroughRemote string
	ParentPK      int64
}

// ListOptions describes one listing query.
type ListOptions struct {
	Filters  []Filter
	OrderBy  []Order
	Limit    int
	Offset   int
	Restrict *Restriction
	Scope    *RelationScope
}

// qb accumulates WHERE conditions and their numbered arguments.
type qb struct {
	where []string
	args  []interface{}
}

func (q *qb) next() string {
	return fmt.Sprintf("$%d", len(q.args)+1)
}

func (q *qb) addFilter(f Filter) error {
	switch f.Op {
	case OpEq:
		if len(f.Values) != 1 {
			return fmt.Errorf("equality filter on %s requires one value", f.Column)
		}
		if f.Values[0] == nil {
			q.where = append(q.where, fmt.Sprintf("%s IS NULL", f.Column))
			return nil
		}
		q.where = append(q.where, fmt.Sprintf("%s = %s", f.Column, q.next()))
		q.args = append(q.args, f.Values[0])
	case OpIn:
		if len(f.Values) == 0 {
			q.where = append(q.where, "1 = 0")
			return nil
		}
		placeholders := make([]string, len(f.Values))
		for i, v := range f.Values {
			placeholders[i] = q.next()
			q.args = append(q.args, v)
		}
		q.where = append(q.where, fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(placeholders, ", ")))
	case OpIsNull:
		q.where = append(q.where, fmt.Sprintf("%s IS NULL", f.Column))
	default:
		return fmt.Errorf("unknown filter op %d", f.Op)
	}
	return nil
}

func (q *qb) addRestriction(r *Restriction) {
	if r == nil || r.Universe {
		return
	}
	if len(r.PKs) == 0 {
		q.where = append(q.where, "1 = 0")
		return
	}
	placeholders := make([]string, len(r.PKs))
	for i, pk := range r.PKs {
		placeholders[i] = q.next()
		q.args = append(q.args, pk)
	}
	q.where = append(q.where, fmt.Sprintf("id IN (%s)", strings.Join(placeholders, ", ")))
}

func (q *qb) addScope(scope *RelationScope) {
	if scope == nil {
		return
	}
	if scope.Through != "" {
		q.where = append(q.where, fmt.Sprintf(
			"id IN (SELECT %s FROM %s WHERE %s = %s)",
			scope.ThroughRemote, scope.Through, scope.ThroughLocal, q.next(),
		))
		q.args = append(q.args, scope.ParentPK)
		return
	}
	q.where = append(q.where, fmt.Sprintf("%s = %s", scope.Column, q.next()))
	q.args = append(q.args, scope.ParentPK)
}

func (q *qb) whereClause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func buildConditions(opts ListOptions) (*qb, error) {
	q := &qb{}
	for _, f := range opts.Filters {
		if err := q.addFilter(f); err != nil {
			return nil, err
		}
	}
	q.addScope(opts.Scope)
	q.addRestriction(opts.Restrict)
	return q, nil
}

// Count returns the number of rows matching the options, ignoring
// pagination.
func (s *Store) Count(ctx context.Context, d *model.Descriptor, opts ListOptions) (int, error) {
	q, err := buildConditions(opts)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", d.Table, q.whereClause())

	var total int
	if err := s.db.QueryRowContext(ctx, query, q.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", d.Name, err)
	}
	return total, nil
}

// List returns the objects matching the options, ordered and paginated.
func (s *Store) List(ctx context.Context, d *model.Descriptor, opts ListOptions) ([]*model.Object, error) {
	q, err := buildConditions(opts)
	if err != nil {
		return nil, err
	}

	cols := columnsFor(d)
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), d.Table, q.whereClause())

	orderTerms := make([]string, 0, len(opts.OrderBy)+1)
	for _, o := range opts.OrderBy {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		orderTerms = append(orderTerms, fmt.Sprintf("%s %s", o.Column, dir))
	}
	// stable pagination regardless of caller ordering
	orderTerms = append(orderTerms, "id ASC")
	query += " ORDER BY " + strings.Join(orderTerms, ", ")

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %s", q.next())
		q.args = append(q.args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %s", q.next())
		q.args = append(q.args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.Name, err)
	}
	defer rows.Close()

	var objects []*model.Object
	for rows.Next() {
		obj, err := scanObject(d, cols, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", d.Name, err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.Name, err)
	}
	return objects, nil
}

// ListPKs returns only the primary keys matching the options.
func (s *Store) ListPKs(ctx context.Context, d *model.Descriptor, opts ListOptions) ([]int64, error) {
	q, err := buildConditions(opts)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id FROM %s%s ORDER BY id ASC", d.Table, q.whereClause())

	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", d.Name, err)
	}
	defer rows.Close()

	var pks []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", d.Name, err)
		}
		pks = append(pks, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", d.Name, err)
	}
	return pks, nil
}
