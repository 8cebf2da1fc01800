package perms

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// ResetDeps are the collaborators a full permission rebuild needs. They are
// plain functions so the grant layer stays decoupled from the user directory
// and the record store; the assembly code binds them to transaction-scoped
// stores.
type ResetDeps struct {
	Registry *model.Registry

	// SeedDefaults re-creates the protected default groups and users
	SeedDefaults func(ctx context.Context, tx *sql.Tx) error

	// DeleteGroupsExcept removes every group other than the named ones
	DeleteGroupsExcept func(ctx context.Context, tx *sql.Tx, names ...string) error

	// ListObjects returns every object of a model for policy re-application
	ListObjects func(ctx context.Context, tx *sql.Tx, d *model.Descriptor) ([]*model.Object, error)
}

// ResetPermissions rebuilds the entire grant store: it clears all grants,
// removes non-default groups, re-seeds the defaults, and re-applies every
// access-controlled model's policy to every existing object. The whole
// sequence runs in one transaction; a reader must never observe the cleared
// intermediate state, which would deny all access.
func ResetPermissions(ctx context.Context, db *sql.DB, resolver *Resolver, deps ResetDeps) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin permission reset: %w", err)
	}
	defer tx.Rollback()

	txResolver := resolver.WithTx(tx)

	if err := txResolver.ClearPermissions(ctx); err != nil {
		return err
	}
	if err := deps.DeleteGroupsExcept(ctx, tx, AnyoneGroupName, LoggedInGroupName); err != nil {
		return fmt.Errorf("failed to remove groups: %w", err)
	}
	if err := deps.SeedDefaults(ctx, tx); err != nil {
		return fmt.Errorf("failed to seed defaults: %w", err)
	}

	for _, d := range deps.Registry.All() {
		if !d.AccessControlled {
			continue
		}
		objects, err := deps.ListObjects(ctx, tx, d)
		if err != nil {
			return fmt.Errorf("failed to list %s objects: %w", d.Name, err)
		}
		for _, obj := range objects {
			if err := txResolver.ResetPerms(ctx, obj); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permission reset: %w", err)
	}
	return nil
}
