package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldgate/fieldgate/pkg/httputil"
	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

func (s *Server) handleRelation(w http.ResponseWriter, r *http.Request) {
	d, err := s.descriptor(r)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	ctx := r.Context()
	sub := s.subject(r)

	fieldName := mux.Vars(r)["field"]
	f, ok := d.Field(fieldName)
	if !ok || !f.IsRelation() {
		v := NewValidationError()
		v.Addf(fieldName, "%q is not a relation on model %s", fieldName, d.Name)
		s.writeError(w, r, d.Name, v)
		return
	}
	related, ok := s.registry.Get(f.Related)
	if !ok {
		s.writeError(w, r, d.Name, errNotFound())
		return
	}

	obj, err := s.loadObject(ctx, d, r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	action := "w"
	if r.Method == http.MethodGet {
		action = "r"
	}
	if err := s.check(ctx, sub, perms.OnObject(obj), d.Name, action, f.Name); err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	if f.Kind == model.ForeignKey {
		s.relationToOne(w, r, d, related, f, obj)
		return
	}
	s.relationToMany(w, r, d, related, f, obj)
}

// relationToOne serves GET and PATCH on a foreign key relation.
func (s *Server) relationToOne(w http.ResponseWriter, r *http.Request, d, related *model.Descriptor, f model.Field, obj *model.Object) {
	ctx := r.Context()
	sub := s.subject(r)

	switch r.Method {
	case http.MethodGet:
		data, err := s.relatedObject(ctx, sub, related, f, obj)
		if err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
		httputil.WriteSuccess(w, data)

	case http.MethodPatch:
		// the body of a to-one PATCH is a bare id or null, not an object
		raw, err := parseScalarBody(r)
		if err == nil {
			err = s.patchToOne(ctx, sub, d, f, obj, raw)
		}
		if err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
		s.echoToOne(w, r, d, related, f, obj)

	default:
		httputil.WriteMethodNotAllowed(w, "To-one relations support GET and PATCH only.")
	}
}

// relatedObject resolves and serializes the object behind a foreign
// key, applying the reveal rule with the reverse qualifier.
func (s *Server) relatedObject(ctx context.Context, sub perms.Subject, related *model.Descriptor, f model.Field, obj *model.Object) (map[string]any, error) {
	pk := obj.FK(f.Name)
	if pk == nil {
		return nil, nil
	}
	rel, err := s.store.Get(ctx, related, *pk)
	if err == storage.ErrNotFound {
		return nil, errNotFound()
	}
	if err != nil {
		return nil, err
	}
	if err := s.check(ctx, sub, perms.OnObject(rel), related.Name, "r", f.ReverseName); err != nil {
		return nil, err
	}
	return s.serialize(ctx, related, rel), nil
}

func (s *Server) patchToOne(ctx context.Context, sub perms.Subject, d *model.Descriptor, f model.Field, obj *model.Object, raw any) error {
	next, ok := fkValue(raw)
	if !ok {
		v := NewValidationError()
		v.Addf(f.Name, "expected an object id or null")
		return v
	}
	if next == nil && !f.Nullable {
		v := NewValidationError()
		v.Addf(f.Name, "field is not nullable")
		return v
	}

	old := obj.FK(f.Name)
	if samePK(old, next) {
		return nil
	}
	if old != nil {
		if err := s.checkRefWrite(ctx, sub, f, *old); err != nil {
			return err
		}
	}
	if next != nil {
		if err := s.checkRefWrite(ctx, sub, f, *next); err != nil {
			return err
		}
	}

	err := s.runWriteOp(ctx, d, "update", func(tx writeTx) error {
		if err := tx.Store.Update(ctx, d, obj.PK, map[string]interface{}{f.Name: next}); err != nil {
			return err
		}
		obj.Set(f.Name, next)
		return tx.saved(ctx, obj)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, d.Name, obj.PK)
	return nil
}

// echoToOne answers a to-one mutation with a fresh read when the
// caller retains read permission on the parent field, or a bare
// acknowledgement otherwise.
func (s *Server) echoToOne(w http.ResponseWriter, r *http.Request, d, related *model.Descriptor, f model.Field, obj *model.Object) {
	ctx := r.Context()
	sub := s.subject(r)

	canRead, err := s.resolver.HasPerms(ctx, sub, perms.OnObject(obj), "r", f.Name)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	if !canRead {
		httputil.WriteSuccess(w, map[string]any{"success": true})
		return
	}
	data, err := s.relatedObject(ctx, sub, related, f, obj)
	if err != nil {
		// the relation was written; the new endpoint just is not visible
		httputil.WriteSuccess(w, map[string]any{"success": true})
		return
	}
	httputil.WriteSuccess(w, data)
}

// relationToMany serves GET/POST/PUT/PATCH/DELETE on many-to-many and
// reverse foreign key relations.
func (s *Server) relationToMany(w http.ResponseWriter, r *http.Request, d, related *model.Descriptor, f model.Field, obj *model.Object) {
	ctx := r.Context()
	sub := s.subject(r)

	if r.Method == http.MethodGet {
		envelope, err := s.listPage(r, related, storage.ScopeFor(f, obj.PK))
		if err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
		httputil.WriteSuccess(w, envelope)
		return
	}

	pks, err := parsePKList(r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	current, err := s.store.RelatedPKs(ctx, related, f, obj.PK)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	var toAdd, toRemove, toCheck []int64
	switch r.Method {
	case http.MethodPost:
		// every listed id must exist and be writable, even ids that
		// are already members
		toAdd = pkDiff(pks, current)
		toCheck = pks
	case http.MethodPut, http.MethodPatch:
		// full replace: only the symmetric difference needs permission
		toAdd = pkDiff(pks, current)
		toRemove = pkDiff(current, pks)
		toCheck = append(append([]int64{}, toAdd...), toRemove...)
	case http.MethodDelete:
		// ids that are not members are silently ignored
		toRemove = pkIntersect(pks, current)
		toCheck = toRemove
	}

	if len(toRemove) > 0 {
		if err := s.removableFrom(related, f); err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
	}
	for _, pk := range toCheck {
		if err := s.checkRefWrite(ctx, sub, f, pk); err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		err = s.runWriteOp(ctx, d, "relation", func(tx writeTx) error {
			return s.mutateMembers(ctx, tx, related, f, obj, toAdd, toRemove)
		})
		if err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
		s.cache.Invalidate(ctx, d.Name, obj.PK)
		if f.Kind == model.ReverseForeignKey {
			for _, pk := range append(append([]int64{}, toAdd...), toRemove...) {
				s.cache.Invalidate(ctx, related.Name, pk)
			}
		}
	}

	canRead, err := s.resolver.HasPerms(ctx, sub, perms.OnObject(obj), "r", f.Name)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	if !canRead {
		httputil.WriteSuccess(w, map[string]any{"success": true})
		return
	}
	envelope, err := s.listPage(r, related, storage.ScopeFor(f, obj.PK))
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	httputil.WriteSuccess(w, envelope)
}

// mutateMembers applies a membership change inside the write
// transaction. Reverse foreign key changes save the child rows, so
// each touched child gets the full post-save side effects.
func (s *Server) mutateMembers(ctx context.Context, tx writeTx, related *model.Descriptor, f model.Field, obj *model.Object, toAdd, toRemove []int64) error {
	if f.Kind == model.ManyToMany {
		if len(toAdd) > 0 {
			if err := tx.Store.AddLinks(ctx, f, obj.PK, toAdd); err != nil {
				return err
			}
		}
		if len(toRemove) > 0 {
			if err := tx.Store.RemoveLinks(ctx, f, obj.PK, toRemove); err != nil {
				return err
			}
		}
		return nil
	}

	if len(toAdd) > 0 {
		if err := tx.Store.ClaimChildren(ctx, related, f.RemoteColumn, obj.PK, toAdd); err != nil {
			return err
		}
	}
	if len(toRemove) > 0 {
		if err := tx.Store.ReleaseChildren(ctx, related, f.RemoteColumn, obj.PK, toRemove); err != nil {
			return err
		}
	}
	for _, pk := range append(append([]int64{}, toAdd...), toRemove...) {
		child, err := tx.Store.Get(ctx, related, pk)
		if err != nil {
			return err
		}
		if err := tx.saved(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// removableFrom rejects removal from a reverse foreign key whose
// remote column cannot hold null.
func (s *Server) removableFrom(related *model.Descriptor, f model.Field) error {
	if f.Kind != model.ReverseForeignKey {
		return nil
	}
	for _, rf := range related.Fields {
		if rf.Kind == model.ForeignKey && rf.ColumnName() == f.RemoteColumn {
			if rf.Nullable {
				return nil
			}
			v := NewValidationError()
			v.Addf(f.Name, "cannot remove objects from %s because %s.%s does not allow null",
				f.Name, f.Related, rf.Name)
			return v
		}
	}
	return nil
}

func pkDiff(a, b []int64) []int64 {
	in := make(map[int64]bool, len(b))
	for _, pk := range b {
		in[pk] = true
	}
	var out []int64
	for _, pk := range a {
		if !in[pk] {
			out = append(out, pk)
			in[pk] = true // dedupe repeated ids in the request
		}
	}
	return out
}

func pkIntersect(a, b []int64) []int64 {
	in := make(map[int64]bool, len(b))
	for _, pk := range b {
		in[pk] = true
	}
	var out []int64
	for _, pk := range a {
		if in[pk] {
			out = append(out, pk)
			in[pk] = false
		}
	}
	return out
}
