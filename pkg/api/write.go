package api

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
	"github.com/fieldgate/fieldgate/pkg/search"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

// writeTx bundles the transaction-bound collaborators of one write.
// Grant resets and search feature updates commit or roll back together
// with the row change; only cache invalidation happens after commit.
type writeTx struct {
	Store    *storage.Store
	Resolver *perms.Resolver
	Features *search.FeatureStore
}

// saved runs the permission and search side effects required after
// every successful save of obj.
func (tx writeTx) saved(ctx context.Context, obj *model.Object) error {
	if err := tx.Resolver.ResetPerms(ctx, obj); err != nil {
		return fmt.Errorf("failed to reset permissions for %s: %w", obj, err)
	}
	if obj.Model.Searchable() {
		if err := tx.Features.Update(ctx, obj.Model.Name, obj.PK, obj.Model.TextFeature(obj)); err != nil {
			return fmt.Errorf("failed to index %s: %w", obj, err)
		}
	}
	return nil
}

// deleted runs the cleanup side effects after obj's row is gone.
func (tx writeTx) deleted(ctx context.Context, obj *model.Object) error {
	if err := tx.Resolver.DropPerms(ctx, obj.Model.Name, obj.PK); err != nil {
		return fmt.Errorf("failed to drop permissions for %s: %w", obj, err)
	}
	if obj.Model.Searchable() {
		if err := tx.Features.Delete(ctx, obj.Model.Name, obj.PK); err != nil {
			return fmt.Errorf("failed to unindex %s: %w", obj, err)
		}
	}
	return nil
}

// runWrite executes fn inside one transaction and records its duration.
func (s *Server) runWrite(ctx context.Context, d *model.Descriptor, fn func(tx writeTx) error) error {
	return s.runWriteOp(ctx, d, "write", fn)
}

func (s *Server) runWriteOp(ctx context.Context, d *model.Descriptor, operation string, fn func(tx writeTx) error) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	bound := writeTx{
		Store:    s.store.WithTx(tx),
		Resolver: s.resolver.WithTx(tx),
		Features: s.features.WithTx(tx),
	}
	if err := fn(bound); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write: %w", err)
	}

	if s.metrics != nil {
		s.metrics.WriteTxDuration.WithLabelValues(d.Name, operation).Observe(time.Since(start).Seconds())
	}
	return nil
}
