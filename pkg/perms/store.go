package perms

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists permission grants
type Store struct {
	db dbtx
}

// NewStore creates a grant store over a database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to a transaction
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx}
}

// subjectColumns returns the subject identity as nullable column values
func subjectColumns(sub Subject) (user *int64, group *string) {
	if sub.Kind == KindGroup {
		g := sub.Group
		return nil, &g
	}
	u := sub.UserID
	return &u, nil
}

// subjectClause appends the subject match condition and its arguments
func subjectClause(sub Subject, args []interface{}) (string, []interface{}) {
	if sub.Kind == KindGroup {
		args = append(args, string(KindGroup), sub.Group)
		return fmt.Sprintf("subject_kind = $%d AND subject_group = $%d", len(args)-1, len(args)), args
	}
	args = append(args, string(KindUser), sub.UserID)
	return fmt.Sprintf("subject_kind = $%d AND subject_user = $%d", len(args)-1, len(args)), args
}

// EnsureGrant records a grant if it does not already exist. Creating an
// existing grant is a no-op.
func (s *Store) EnsureGrant(ctx context.Context, g Grant) error {
	user, group := subjectColumns(g.Subject)
	query := `
		INSERT INTO permission_grants (subject_kind, subject_user, subject_group, model, action, object_pk, field)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM permission_grants
			WHERE subject_kind = $1
			  AND (subject_user = $2 OR (subject_user IS NULL AND $2 IS NULL))
			  AND (subject_group = $3 OR (subject_group IS NULL AND $3 IS NULL))
			  AND model = $4
			  AND action = $5
			  AND (object_pk = $6 OR (object_pk IS NULL AND $6 IS NULL))
			  AND (field = $7 OR (field IS NULL AND $7 IS NULL))
		)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(g.Subject.Kind), user, group, g.Model, string(g.Action), g.ObjectPK, g.Field)
	if err != nil {
		return fmt.Errorf("failed to record grant: %w", err)
	}
	return nil
}

// HasAction reports whether the subject holds the action on the target under
// any acceptable scope: a model-scope grant, a field-qualified model-scope
// grant, and (when objectPK is given) the object-scope equivalents. Field and
// non-field grants are alternatives, either satisfies.
func (s *Store) HasAction(ctx context.Context, sub Subject, modelName string, action Action, objectPK *int64, field string) (bool, error) {
	var args []interface{}
	subjectCond, args := subjectClause(sub, args)

	args = append(args, modelName)
	modelCond := fmt.Sprintf("model = $%d", len(args))
	args = append(args, string(action))
	actionCond := fmt.Sprintf("action = $%d", len(args))

	scopeCond := "object_pk IS NULL"
	if objectPK != nil {
		args = append(args, *objectPK)
		scopeCond = fmt.Sprintf("(object_pk IS NULL OR object_pk = $%d)", len(args))
	}

	fieldCond := "field IS NULL"
	if field != "" {
		args = append(args, field)
		fieldCond = fmt.Sprintf("(field IS NULL OR field = $%d)", len(args))
	}

	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM permission_grants
			WHERE %s AND %s AND %s AND %s AND %s
		)
	`, subjectCond, modelCond, actionCond, scopeCond, fieldCond)

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return exists, nil
}

// ModelWideActions returns the subset of actions the subject holds model-wide
// under the exact field qualifier (empty means unqualified).
func (s *Store) ModelWideActions(ctx context.Context, sub Subject, modelName string, actions []Action, field string) ([]Action, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	var args []interface{}
	subjectCond, args := subjectClause(sub, args)
	args = append(args, modelName)
	modelCond := fmt.Sprintf("model = $%d", len(args))

	fieldCond := "field IS NULL"
	if field != "" {
		args = append(args, field)
		fieldCond = fmt.Sprintf("field = $%d", len(args))
	}

	actionCond, args := actionInClause(actions, args)

	query := fmt.Sprintf(`
		SELECT DISTINCT action FROM permission_grants
		WHERE %s AND %s AND object_pk IS NULL AND %s AND %s
	`, subjectCond, modelCond, fieldCond, actionCond)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query model grants: %w", err)
	}
	defer rows.Close()

	var held []Action
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		held = append(held, Action(a))
	}
	return held, rows.Err()
}

// ObjectPKsWithAll returns the primary keys of objects for which the subject
// holds every listed action at object scope, under the exact field qualifier.
func (s *Store) ObjectPKsWithAll(ctx context.Context, sub Subject, modelName string, actions []Action, field string) ([]int64, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	var args []interface{}
	subjectCond, args := subjectClause(sub, args)
	args = append(args, modelName)
	modelCond := fmt.Sprintf("model = $%d", len(args))

	fieldCond := "field IS NULL"
	if field != "" {
		args = append(args, field)
		fieldCond = fmt.Sprintf("field = $%d", len(args))
	}

	actionCond, args := actionInClause(actions, args)
	args = append(args, len(actions))

	query := fmt.Sprintf(`
		SELECT object_pk FROM permission_grants
		WHERE %s AND %s AND object_pk IS NOT NULL AND %s AND %s
		GROUP BY object_pk
		HAVING COUNT(DISTINCT action) = $%d
	`, subjectCond, modelCond, fieldCond, actionCond, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query object grants: %w", err)
	}
	defer rows.Close()

	var pks []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("failed to scan object pk: %w", err)
		}
		pks = append(pks, pk)
	}
	return pks, rows.Err()
}

// DeleteObjectGrants removes every object-scope grant for one object. The
// model's permission policy owns these rows and replaces them wholesale on
// every save.
func (s *Store) DeleteObjectGrants(ctx context.Context, modelName string, pk int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_grants WHERE model = $1 AND object_pk = $2`, modelName, pk)
	if err != nil {
		return fmt.Errorf("failed to delete object grants: %w", err)
	}
	return nil
}

// DeleteAllGrants removes every grant
func (s *Store) DeleteAllGrants(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM permission_grants`); err != nil {
		return fmt.Errorf("failed to clear grants: %w", err)
	}
	return nil
}

// GrantsForObject lists the grants scoped to one object, for debugging and
// tests
func (s *Store) GrantsForObject(ctx context.Context, modelName string, pk int64) ([]Grant, error) {
	query := `
		SELECT id, subject_kind, subject_user, subject_group, model, action, object_pk, field, created_at
		FROM permission_grants
		WHERE model = $1 AND object_pk = $2
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, modelName, pk)
	if err != nil {
		return nil, fmt.Errorf("failed to list object grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

func scanGrant(scanner interface {
	Scan(dest ...interface{}) error
}) (*Grant, error) {
	var g Grant
	var kind, action string
	var user, objectPK sql.NullInt64
	var group, field sql.NullString

	err := scanner.Scan(&g.ID, &kind, &user, &group, &g.Model, &action, &objectPK, &field, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan grant: %w", err)
	}

	g.Action = Action(action)
	g.Subject.Kind = SubjectKind(kind)
	if user.Valid {
		g.Subject.UserID = user.Int64
	}
	if group.Valid {
		g.Subject.Group = group.String
	}
	if objectPK.Valid {
		pk := objectPK.Int64
		g.ObjectPK = &pk
	}
	if field.Valid {
		f := field.String
		g.Field = &f
	}
	return &g, nil
}

// actionInClause appends an IN condition over action letters
func actionInClause(actions []Action, args []interface{}) (string, []interface{}) {
	placeholders := make([]string, len(actions))
	for i, a := range actions {
		args = append(args, string(a))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	return "action IN (" + strings.Join(placeholders, ", ") + ")", args
}
