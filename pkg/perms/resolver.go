package perms

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// Resolver answers permission questions against the grant store. It is pure
// decision logic: all state lives in the store, and every operation except
// SetPerms and ResetPerms is read-only.
type Resolver struct {
	store    *Store
	registry *model.Registry
	defaults DefaultGroups
}

// NewResolver creates a resolver. The default-group configuration is an
// explicit startup value; the resolver never materializes groups itself.
func NewResolver(store *Store, registry *model.Registry, defaults DefaultGroups) *Resolver {
	return &Resolver{store: store, registry: registry, defaults: defaults}
}

// WithTx returns a resolver whose store is bound to a transaction
func (r *Resolver) WithTx(tx *sql.Tx) *Resolver {
	return &Resolver{store: r.store.WithTx(tx), registry: r.registry, defaults: r.defaults}
}

// Defaults returns the default-group configuration
func (r *Resolver) Defaults() DefaultGroups {
	return r.defaults
}

// checkField validates a field qualifier against the target model
func (r *Resolver) checkField(modelName, field string) error {
	if field == "" {
		return nil
	}
	d, ok := r.registry.Get(modelName)
	if !ok {
		return fmt.Errorf("unknown model %q", modelName)
	}
	if !d.HasField(field) {
		return &UnknownFieldError{Model: modelName, Field: field}
	}
	return nil
}

// HasPerms reports whether the subject holds every action in the action
// string on the target, optionally narrowed to one field. For each action any
// one of these suffices: a model-scope grant, a field-qualified model-scope
// grant, or (for object targets) their object-scope equivalents.
//
// Only the given subject's own grants are consulted. The "anyone" group is
// deliberately not unioned in here; see the package comment before changing
// this.
func (r *Resolver) HasPerms(ctx context.Context, sub Subject, target Target, actions string, field string) (bool, error) {
	if target.model == "" {
		return false, ErrInvalidTarget
	}
	if target.object && len(target.pks) != 1 {
		return false, fmt.Errorf("%w: single object required", ErrInvalidTarget)
	}
	acts, err := ParseActions(actions)
	if err != nil {
		return false, err
	}
	if err := r.checkField(target.model, field); err != nil {
		return false, err
	}

	if sub.Kind == KindUser && sub.Superuser {
		return true, nil
	}

	var objectPK *int64
	if target.object {
		objectPK = &target.pks[0]
	}

	for _, a := range acts {
		ok, err := r.store.HasAction(ctx, sub, target.model, a, objectPK, field)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// PermittedSet computes which objects of a model the subject may act on with
// every listed action. It returns either the whole model (universe true) or
// an explicit primary key set.
//
// Unlike HasPerms this unions the "anyone" group in as an implicit
// co-subject, and unions the unqualified and field-qualified grant variants:
// four sub-queries against the store's grant index. A model-wide grant held
// for part of the actions is completed by object-scope grants for the rest.
func (r *Resolver) PermittedSet(ctx context.Context, actions string, sub Subject, modelName string, field string) (universe bool, pks []int64, err error) {
	acts, err := ParseActions(actions)
	if err != nil {
		return false, nil, err
	}
	if err := r.checkField(modelName, field); err != nil {
		return false, nil, err
	}

	if sub.Kind == KindUser && sub.Superuser {
		return true, nil, nil
	}

	subjects := []Subject{sub}
	if !sub.Equal(r.defaults.Anyone) {
		subjects = append(subjects, r.defaults.Anyone)
	}
	fields := []string{""}
	if field != "" {
		fields = append(fields, field)
	}

	seen := make(map[int64]bool)
	for _, s := range subjects {
		for _, f := range fields {
			held, err := r.store.ModelWideActions(ctx, s, modelName, acts, f)
			if err != nil {
				return false, nil, err
			}
			remaining := subtractActions(acts, held)
			if len(remaining) == 0 {
				return true, nil, nil
			}
			objPKs, err := r.store.ObjectPKsWithAll(ctx, s, modelName, remaining, f)
			if err != nil {
				return false, nil, err
			}
			for _, pk := range objPKs {
				if !seen[pk] {
					seen[pk] = true
					pks = append(pks, pk)
				}
			}
		}
	}
	return false, pks, nil
}

// FilterPKs returns the subset of candidates the subject may act on with
// every listed action. An empty candidate set returns empty without touching
// the store.
func (r *Resolver) FilterPKs(ctx context.Context, actions string, sub Subject, modelName string, candidates []int64, field string) ([]int64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	universe, permitted, err := r.PermittedSet(ctx, actions, sub, modelName, field)
	if err != nil {
		return nil, err
	}
	if universe {
		return candidates, nil
	}
	allowed := make(map[int64]bool, len(permitted))
	for _, pk := range permitted {
		allowed[pk] = true
	}
	var out []int64
	for _, pk := range candidates {
		if allowed[pk] {
			out = append(out, pk)
		}
	}
	return out, nil
}

// SetPerms grants each action to the subject for the target: a model target
// yields model-scope grants, an object target one object-scope grant per
// object. Optionally field-qualified. Idempotent.
func (r *Resolver) SetPerms(ctx context.Context, sub Subject, target Target, actions string, field string) error {
	if target.model == "" {
		return ErrInvalidTarget
	}
	acts, err := ParseActions(actions)
	if err != nil {
		return err
	}
	if err := r.checkField(target.model, field); err != nil {
		return err
	}

	var fieldPtr *string
	if field != "" {
		fieldPtr = &field
	}

	for _, a := range acts {
		if !target.object {
			err := r.store.EnsureGrant(ctx, Grant{
				Subject: sub, Model: target.model, Action: a, Field: fieldPtr,
			})
			if err != nil {
				return err
			}
			continue
		}
		for i := range target.pks {
			pk := target.pks[i]
			err := r.store.EnsureGrant(ctx, Grant{
				Subject: sub, Model: target.model, Action: a, ObjectPK: &pk, Field: fieldPtr,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ResetPerms replaces an object's object-scope grants with the set its
// model's policy wants. It is invoked after every successful save; the policy
// owns exclusive write authority over those grants, so the replacement is
// delete-all-then-recreate.
func (r *Resolver) ResetPerms(ctx context.Context, obj *model.Object) error {
	if err := r.store.DeleteObjectGrants(ctx, obj.Model.Name, obj.PK); err != nil {
		return err
	}
	if obj.Model.Policy == nil {
		return nil
	}
	for _, spec := range obj.Model.Policy(ctx, obj) {
		sub := User(spec.UserID)
		if spec.Group != "" {
			sub = Group(spec.Group)
		}
		if err := r.SetPerms(ctx, sub, OnObject(obj), spec.Actions, spec.Field); err != nil {
			return fmt.Errorf("failed to apply policy grant for %s: %w", obj, err)
		}
	}
	return nil
}

// DropPerms removes an object's object-scope grants after the object itself
// is deleted.
func (r *Resolver) DropPerms(ctx context.Context, modelName string, pk int64) error {
	return r.store.DeleteObjectGrants(ctx, modelName, pk)
}

// ClearPermissions deletes every grant. The protected default groups
// themselves are left to the subject directory; only grant rows live here.
func (r *Resolver) ClearPermissions(ctx context.Context) error {
	return r.store.DeleteAllGrants(ctx)
}

// subtractActions returns the actions in want that are not in held
func subtractActions(want, held []Action) []Action {
	if len(held) == 0 {
		return want
	}
	have := make(map[Action]bool, len(held))
	for _, a := range held {
		have[a] = true
	}
	var out []Action
	for _, a := range want {
		if !have[a] {
			out = append(out, a)
		}
	}
	return out
}
