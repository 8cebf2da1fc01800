package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
	"github.com/fieldgate/fieldgate/pkg/storage"
)

// parseBody decodes the JSON request body into a map, dropping the
// reserved underscore-prefixed keys. An empty body is an empty map.
func parseBody(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		v := NewValidationError()
		v.Add("body", "request body is not a JSON object")
		return nil, v
	}
	for key := range body {
		if strings.HasPrefix(key, "_") {
			delete(body, key)
		}
	}
	return body, nil
}

// parseScalarBody decodes a bare JSON value, the body shape of a
// to-one relation PATCH.
func parseScalarBody(r *http.Request) (any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var val any
	if err := json.Unmarshal(raw, &val); err != nil {
		v := NewValidationError()
		v.Add("body", "expected an object id or null")
		return nil, v
	}
	return val, nil
}

// parsePKList decodes the body of a to-many relation mutation: a JSON
// array of object ids.
func parsePKList(r *http.Request) ([]int64, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	v := NewValidationError()
	if len(raw) == 0 {
		v.Add("body", "expected a list of object ids")
		return nil, v
	}

	var ids []json.Number
	if err := json.Unmarshal(raw, &ids); err != nil {
		v.Add("body", "expected a list of object ids")
		return nil, v
	}
	pks := make([]int64, 0, len(ids))
	for _, id := range ids {
		pk, err := id.Int64()
		if err != nil {
			v.Addf("body", "%q is not a valid object id", id.String())
			return nil, v
		}
		pks = append(pks, pk)
	}
	return pks, nil
}

// fieldWrite is one validated body entry resolved to its declared field.
type fieldWrite struct {
	Field model.Field
	Value any
}

// validateBody resolves body keys against the model's writable fields.
// Attributes go by field name; foreign keys go by their column name
// (e.g. "brand_id") or field name, valued with an id or null. Every
// offending key is reported in one error.
func validateBody(d *model.Descriptor, body map[string]any) ([]fieldWrite, error) {
	v := NewValidationError()
	var writes []fieldWrite

	for key, raw := range body {
		if key == "id" {
			v.Add("id", "field is read-only")
			continue
		}
		f, ok := bodyField(d, key)
		if !ok {
			v.Addf(key, "field does not exist on model %s", d.Name)
			continue
		}
		if f.ReadOnly {
			v.Addf(key, "field is read-only")
			continue
		}
		if f.IsToMany() {
			v.Addf(key, "to-many relation %s is modified through /%s/{pk}/%s", f.Name, d.Name, f.Name)
			continue
		}

		if f.Kind == model.ForeignKey {
			pk, ok := fkValue(raw)
			if !ok {
				v.Addf(key, "expected an object id or null")
				continue
			}
			if pk == nil && !f.Nullable {
				v.Addf(key, "field is not nullable")
				continue
			}
			writes = append(writes, fieldWrite{Field: f, Value: pk})
			continue
		}
		writes = append(writes, fieldWrite{Field: f, Value: raw})
	}

	if !v.Empty() {
		return nil, v
	}
	return writes, nil
}

func bodyField(d *model.Descriptor, key string) (model.Field, bool) {
	if f, ok := d.Field(key); ok {
		return f, true
	}
	for _, f := range d.Fields {
		if f.Kind == model.ForeignKey && f.ColumnName() == key {
			return f, true
		}
	}
	return model.Field{}, false
}

// fkValue normalizes a JSON foreign key value to *int64.
func fkValue(raw any) (*int64, bool) {
	switch val := raw.(type) {
	case nil:
		return nil, true
	case float64:
		pk := int64(val)
		return &pk, true
	case json.Number:
		pk, err := val.Int64()
		if err != nil {
			return nil, false
		}
		return &pk, true
	}
	return nil, false
}

// checkRefWrite enforces write permission on a referenced object using
// the relation's reverse name as the field qualifier. Unknown ids and
// hidden objects both answer not-found.
func (s *Server) checkRefWrite(ctx context.Context, sub perms.Subject, f model.Field, pk int64) error {
	related, ok := s.registry.Get(f.Related)
	if !ok {
		return fmt.Errorf("relation %s points at unregistered model %s", f.Name, f.Related)
	}
	exists, err := s.store.Exists(ctx, related, pk)
	if err != nil {
		return err
	}
	if !exists {
		return errNotFound()
	}
	return s.check(ctx, sub, perms.OnObjects(related.Name, pk), related.Name, "w", f.ReverseName)
}

// applyBody validates a create payload, enforces the referenced-object
// write checks, and sets the resulting values on obj.
func (s *Server) applyBody(ctx context.Context, sub perms.Subject, d *model.Descriptor, obj *model.Object, body map[string]any) error {
	writes, err := validateBody(d, body)
	if err != nil {
		return err
	}
	for _, wr := range writes {
		if wr.Field.Kind == model.ForeignKey {
			if pk := wr.Value.(*int64); pk != nil {
				if err := s.checkRefWrite(ctx, sub, wr.Field, *pk); err != nil {
					return err
				}
			}
		}
		obj.Set(wr.Field.Name, wr.Value)
	}
	return nil
}

// protectedErr converts a protected-delete failure into the validation
// error the API promises instead of a raw storage failure.
func protectedErr(d *model.Descriptor, err error) error {
	if errors.Is(err, storage.ErrProtected) {
		v := NewValidationError()
		v.Addf(d.Name, "cannot delete this %s object because other objects still reference it", d.Name)
		return v
	}
	return err
}
