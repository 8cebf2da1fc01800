package api

import (
	"context"
	"net/http"
	"time"

	"github.com/fieldgate/fieldgate/pkg/httputil"
	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

// page is the collection list response envelope.
type page struct {
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Total    int              `json:"total"`
	Previous *int             `json:"previous"`
	Next     *int             `json:"next"`
	Objects  []map[string]any `json:"objects"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	d, err := s.descriptor(r)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	envelope, err := s.listPage(r, d, nil)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	httputil.WriteSuccess(w, envelope)
}

// listPage runs the permission-filtered, user-filtered, paginated
// listing shared by collection GET and to-many relation GET. The
// permission restriction is applied innermost so caller filters only
// ever narrow an already-permitted set.
func (s *Server) listPage(r *http.Request, d *model.Descriptor, scope *storage.RelationScope) (*page, error) {
	ctx := r.Context()
	params, err := parseListParams(r, d)
	if err != nil {
		return nil, err
	}

	universe, permitted, err := s.resolver.PermittedSet(ctx, "r", s.subject(r), d.Name, "")
	if err != nil {
		return nil, permCheckErr(d.Name, "", err)
	}

	opts := storage.ListOptions{
		Filters:  params.Filters,
		OrderBy:  params.OrderBy,
		Restrict: &storage.Restriction{Universe: universe, PKs: permitted},
		Scope:    scope,
	}

	if params.Fulltext != "" {
		start := time.Now()
		matched, err := s.features.Search(ctx, d.Name, params.Fulltext)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.SearchQueriesTotal.WithLabelValues(d.Name).Inc()
			s.metrics.SearchQueryDuration.WithLabelValues(d.Name).Observe(time.Since(start).Seconds())
		}
		in := make([]interface{}, len(matched))
		for i, pk := range matched {
			in[i] = pk
		}
		opts.Filters = append(opts.Filters, storage.Filter{Column: "id", Op: storage.OpIn, Values: in})
	}

	total, err := s.store.Count(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	if params.offset() >= total && params.Page != 1 {
		return nil, errInvalidPage()
	}

	opts.Limit = params.Limit
	opts.Offset = params.offset()
	objects, err := s.store.List(ctx, d, opts)
	if err != nil {
		return nil, err
	}

	serialized := make([]map[string]any, 0, len(objects))
	for _, obj := range objects {
		serialized = append(serialized, s.serialize(ctx, d, obj))
	}

	envelope := &page{
		Page:    params.Page,
		Limit:   params.Limit,
		Total:   total,
		Objects: serialized,
	}
	if params.Page > 1 {
		prev := params.Page - 1
		envelope.Previous = &prev
	}
	if params.offset()+len(objects) < total {
		next := params.Page + 1
		envelope.Next = &next
	}
	return envelope, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	d, err := s.descriptor(r)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	ctx := r.Context()
	sub := s.subject(r)

	if err := s.check(ctx, sub, perms.OnModel(d.Name), d.Name, "c", ""); err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	body, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	obj := model.NewObject(d)
	if err := s.applyBody(ctx, sub, d, obj, body); err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	err = s.runWrite(ctx, d, func(tx writeTx) error {
		if err := tx.Store.Insert(ctx, d, obj); err != nil {
			return err
		}
		return tx.saved(ctx, obj)
	})
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	s.cache.Invalidate(ctx, d.Name, obj.PK)

	canRead, err := s.resolver.HasPerms(ctx, sub, perms.OnObject(obj), "r", "")
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	if !canRead {
		httputil.WriteCreated(w, map[string]any{
			"success": true,
			"info":    "The object has been created but you have no permission to view it.",
		})
		return
	}
	httputil.WriteCreated(w, s.serialize(ctx, d, obj))
}

// serialize returns the cached serialization of an object, filling the
// cache on a miss.
func (s *Server) serialize(ctx context.Context, d *model.Descriptor, obj *model.Object) map[string]any {
	if cached, err := s.cache.Get(ctx, d.Name, obj.PK); err == nil && cached != nil {
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.WithLabelValues(d.Name).Inc()
		}
		return cached
	}
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues(d.Name).Inc()
	}
	data := d.Serialize(obj)
	s.cache.Set(ctx, d.Name, obj.PK, data)
	return data
}
