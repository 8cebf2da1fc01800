package search

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

const reindexBatchSize = 500

// Reindexer rebuilds the search_features table from the live objects.
// The API keeps the index current on every write; a full rebuild is
// needed after changing a model's text feature hook or repairing data
// out of band.
type Reindexer struct {
	registry *model.Registry
	store    *storage.Store
	features *FeatureStore
	log      *logrus.Entry
	workers  int
}

// NewReindexer creates a reindexer with the given worker parallelism.
func NewReindexer(registry *model.Registry, store *storage.Store, features *FeatureStore, log *logrus.Entry, workers int) *Reindexer {
	if workers <= 0 {
		workers = 4
	}
	return &Reindexer{
		registry: registry,
		store:    store,
		features: features,
		log:      log,
		workers:  workers,
	}
}

// ReindexAll rebuilds the index for every searchable model.
func (r *Reindexer) ReindexAll(ctx context.Context) error {
	ctx, span := searchTracer.Start(ctx, "Reindexer.ReindexAll")
	defer span.End()

	total := 0
	for _, d := range r.registry.All() {
		if !d.Searchable() {
			continue
		}
		n, err := r.ReindexModel(ctx, d)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reindex failed")
			return err
		}
		total += n
	}

	span.SetStatus(codes.Ok, fmt.Sprintf("reindexed %d objects", total))
	r.log.WithField("objects", total).Info("full reindex complete")
	return nil
}

// ReindexModel rebuilds the index rows of one model and returns the
// number of objects indexed.
func (r *Reindexer) ReindexModel(ctx context.Context, d *model.Descriptor) (int, error) {
	ctx, span := searchTracer.Start(ctx, "Reindexer.ReindexModel",
		trace.WithAttributes(attribute.String("model", d.Name)),
	)
	defer span.End()

	if err := r.features.DeleteModel(ctx, d.Name); err != nil {
		span.RecordError(err)
		return 0, err
	}

	indexed := 0
	for offset := 0; ; offset += reindexBatchSize {
		objects, err := r.store.List(ctx, d, storage.ListOptions{Limit: reindexBatchSize, Offset: offset})
		if err != nil {
			span.RecordError(err)
			return indexed, fmt.Errorf("failed to list %s for reindex: %w", d.Name, err)
		}
		if len(objects) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for _, obj := range objects {
			obj := obj
			g.Go(func() error {
				return r.features.Update(gctx, d.Name, obj.PK, d.TextFeature(obj))
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			return indexed, fmt.Errorf("failed to reindex %s: %w", d.Name, err)
		}
		indexed += len(objects)

		if len(objects) < reindexBatchSize {
			break
		}
	}

	r.log.WithFields(logrus.Fields{"model": d.Name, "objects": indexed}).Info("model reindexed")
	return indexed, nil
}
