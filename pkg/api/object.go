package api

import (
	"net/http"

	"github.com/fieldgate/fieldgate/pkg/httputil"
	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
)

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	d, err := s.descriptor(r)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	ctx := r.Context()

	obj, err := s.loadObject(ctx, d, r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	if err := s.check(ctx, s.subject(r), perms.OnObject(obj), d.Name, "r", ""); err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	httputil.WriteSuccess(w, s.serialize(ctx, d, obj))
}

func (s *Server) handlePatchObject(w http.ResponseWriter, r *http.Request) {
	d, err := s.descriptor(r)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	ctx := r.Context()
	sub := s.subject(r)

	obj, err := s.loadObject(ctx, d, r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	body, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	writes, err := validateBody(d, body)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	changed := changedWrites(obj, writes)
	for _, wr := range changed {
		if err := s.check(ctx, sub, perms.OnObject(obj), d.Name, "w", wr.Field.Name); err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
		if wr.Field.Kind != model.ForeignKey {
			continue
		}
		// reassigning a foreign key touches both endpoints
		if old := obj.FK(wr.Field.Name); old != nil {
			if err := s.checkRefWrite(ctx, sub, wr.Field, *old); err != nil {
				s.writeError(w, r, d.Name, err)
				return
			}
		}
		if next := wr.Value.(*int64); next != nil {
			if err := s.checkRefWrite(ctx, sub, wr.Field, *next); err != nil {
				s.writeError(w, r, d.Name, err)
				return
			}
		}
	}

	if len(changed) > 0 {
		fields := make(map[string]interface{}, len(changed))
		for _, wr := range changed {
			fields[wr.Field.Name] = wr.Value
			obj.Set(wr.Field.Name, wr.Value)
		}
		err = s.runWriteOp(ctx, d, "update", func(tx writeTx) error {
			if err := tx.Store.Update(ctx, d, obj.PK, fields); err != nil {
				return err
			}
			return tx.saved(ctx, obj)
		})
		if err != nil {
			s.writeError(w, r, d.Name, err)
			return
		}
		s.cache.Invalidate(ctx, d.Name, obj.PK)
	}

	canRead, err := s.resolver.HasPerms(ctx, sub, perms.OnObject(obj), "r", "")
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	if !canRead {
		httputil.WriteSuccess(w, map[string]any{
			"success": true,
			"info":    "The object has been updated but you have no permission to view it.",
		})
		return
	}
	httputil.WriteSuccess(w, s.serialize(ctx, d, obj))
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	d, err := s.descriptor(r)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	ctx := r.Context()

	obj, err := s.loadObject(ctx, d, r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	if err := s.check(ctx, s.subject(r), perms.OnObject(obj), d.Name, "d", ""); err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	body, err := parseBody(r)
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}

	err = s.runWriteOp(ctx, d, "delete", func(tx writeTx) error {
		if d.OnDelete != nil {
			if err := d.OnDelete(ctx, obj, body); err != nil {
				return protectedErr(d, err)
			}
		} else if err := tx.Store.Delete(ctx, d, obj.PK); err != nil {
			return protectedErr(d, err)
		}
		return tx.deleted(ctx, obj)
	})
	if err != nil {
		s.writeError(w, r, d.Name, err)
		return
	}
	s.cache.Invalidate(ctx, d.Name, obj.PK)

	httputil.WriteSuccess(w, map[string]any{"success": true})
}

// changedWrites drops the writes whose value equals what is already
// stored, so unchanged fields need no write permission.
func changedWrites(obj *model.Object, writes []fieldWrite) []fieldWrite {
	var changed []fieldWrite
	for _, wr := range writes {
		if wr.Field.Kind == model.ForeignKey {
			if !samePK(obj.FK(wr.Field.Name), wr.Value.(*int64)) {
				changed = append(changed, wr)
			}
			continue
		}
		current, _ := obj.Get(wr.Field.Name)
		if !sameValue(current, wr.Value) {
			changed = append(changed, wr)
		}
	}
	return changed
}

func samePK(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
