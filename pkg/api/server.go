package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fieldgate/fieldgate/pkg/cache"
	"github.com/fieldgate/fieldgate/pkg/httputil"
	"github.com/fieldgate/fieldgate/pkg/middleware"
	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/observability"
	"github.com/fieldgate/fieldgate/pkg/perms"
	"github.com/fieldgate/fieldgate/pkg/search"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

// Server dispatches the model-templated REST endpoints. One instance
// serves every registered model.
type Server struct {
	registry *model.Registry
	db       *sql.DB
	store    *storage.Store
	resolver *perms.Resolver
	features *search.FeatureStore
	cache    cache.SerializationCache
	metrics  *observability.Metrics
}

// Deps carries the collaborators a Server needs. Cache and Metrics are
// optional; a nil cache disables serialization caching.
type Deps struct {
	Registry *model.Registry
	DB       *sql.DB
	Store    *storage.Store
	Resolver *perms.Resolver
	Features *search.FeatureStore
	Cache    cache.SerializationCache
	Metrics  *observability.Metrics
}

// NewServer creates the dispatch server. The registry must be frozen.
func NewServer(deps Deps) (*Server, error) {
	if deps.Registry == nil || !deps.Registry.Frozen() {
		return nil, fmt.Errorf("registry must be integrity-checked before serving")
	}
	c := deps.Cache
	if c == nil {
		c = cache.NoopCache{}
	}
	return &Server{
		registry: deps.Registry,
		db:       deps.DB,
		store:    deps.Store,
		resolver: deps.Resolver,
		features: deps.Features,
		cache:    c,
		metrics:  deps.Metrics,
	}, nil
}

// Routes registers the three resource kinds on the router.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/{model}", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/{model}", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/{model}/{pk:[0-9]+}", s.handleGetObject).Methods(http.MethodGet)
	r.HandleFunc("/{model}/{pk:[0-9]+}", s.handlePatchObject).Methods(http.MethodPatch)
	r.HandleFunc("/{model}/{pk:[0-9]+}", s.handleDeleteObject).Methods(http.MethodDelete)
	r.HandleFunc("/{model}/{pk:[0-9]+}/{field}", s.handleRelation).
		Methods(http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMethodNotAllowed(w, fmt.Sprintf("Method %q is not allowed.", r.Method))
	})
}

// descriptor resolves the model path parameter. Unknown names are a
// validation error listing the valid models.
func (s *Server) descriptor(r *http.Request) (*model.Descriptor, error) {
	name := mux.Vars(r)["model"]
	d, ok := s.registry.Get(name)
	if !ok {
		v := NewValidationError()
		v.Addf("model", "%q is not one of the valid models: %s", name, strings.Join(s.registry.Names(), ", "))
		return nil, v
	}
	return d, nil
}

// loadObject fetches the target object, translating absence to the
// generic not-found answer.
func (s *Server) loadObject(ctx context.Context, d *model.Descriptor, r *http.Request) (*model.Object, error) {
	pk, err := httputil.ParsePathInt64(r, "pk")
	if err != nil {
		return nil, errNotFound()
	}
	obj, err := s.store.Get(ctx, d, pk)
	if err == storage.ErrNotFound {
		return nil, errNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %d: %w", d.Name, pk, err)
	}
	return obj, nil
}

// check applies the reveal rule at a single check site: allow when the
// subject holds every action, answer 403 when it at least holds read on
// the same target, and 404 otherwise.
func (s *Server) check(ctx context.Context, sub perms.Subject, target perms.Target, modelName, actions, field string) error {
	ok, err := s.resolver.HasPerms(ctx, sub, target, actions, field)
	if err != nil {
		return permCheckErr(modelName, field, err)
	}
	if ok {
		return nil
	}
	canRead, err := s.resolver.HasPerms(ctx, sub, target, "r", field)
	if err != nil {
		return permCheckErr(modelName, field, err)
	}
	if canRead {
		return &PermissionDenied{Model: modelName, Action: actions, Field: field}
	}
	return errNotFound()
}

// permCheckErr converts resolver field validation failures into 400s
// and leaves real errors alone.
func permCheckErr(modelName, field string, err error) error {
	var unknownField *perms.UnknownFieldError
	if errors.As(err, &unknownField) {
		v := NewValidationError()
		v.Addf(unknownField.Field, "field %q does not exist on model %q", unknownField.Field, modelName)
		return v
	}
	return err
}

// subject pulls the permission subject the auth middleware resolved.
func (s *Server) subject(r *http.Request) perms.Subject {
	return middleware.SubjectFrom(r.Context())
}
