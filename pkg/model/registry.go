package model

import (
	"fmt"
	"sort"
)

// Registry is the immutable model-name to descriptor map consulted by the
// dispatch layer. Models are registered explicitly during system assembly and
// the registry is frozen before serving; integrity checks run once at startup
// rather than per request.
type Registry struct {
	byName map[string]*Descriptor
	frozen bool
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds a descriptor. It fails on duplicate names, missing basics, or
// a frozen registry.
func (r *Registry) Register(d *Descriptor) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("descriptor has no name")
	}
	if d.Table == "" {
		return fmt.Errorf("model %q has no table", d.Name)
	}
	if _, dup := r.byName[d.Name]; dup {
		return fmt.Errorf("model %q registered twice", d.Name)
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("model %q has an unnamed field", d.Name)
		}
		if f.Name == "id" {
			return fmt.Errorf("model %q declares reserved field \"id\"", d.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("model %q declares field %q twice", d.Name, f.Name)
		}
		seen[f.Name] = true
	}
	r.byName[d.Name] = d
	return nil
}

// MustRegister registers a descriptor and panics on error. Intended for
// static assembly code where a bad descriptor is a programming error.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get looks up a descriptor by model name
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered model names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered descriptors in name order
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name])
	}
	return out
}

// CheckIntegrity validates cross-model constraints and freezes the registry.
// It must be called once after all models are registered and before serving;
// any error is fatal to startup.
func (r *Registry) CheckIntegrity() error {
	for _, name := range r.Names() {
		d := r.byName[name]
		if d.AccessControlled && d.Policy == nil {
			return fmt.Errorf("model %q is access controlled but has no permission policy", name)
		}
		for _, f := range d.Fields {
			if !f.IsRelation() {
				continue
			}
			if f.Related == "" {
				return fmt.Errorf("model %q relation %q names no related model", name, f.Name)
			}
			related, ok := r.byName[f.Related]
			if !ok {
				return fmt.Errorf("model %q relation %q points at unregistered model %q", name, f.Name, f.Related)
			}
			if f.ReverseName == "" {
				return fmt.Errorf("model %q relation %q has no reverse name", name, f.Name)
			}
			switch f.Kind {
			case ReverseForeignKey:
				if f.RemoteColumn == "" {
					return fmt.Errorf("model %q relation %q has no remote column", name, f.Name)
				}
				// the remote column must belong to a foreign key on the related model
				found := false
				for _, rf := range related.Fields {
					if rf.Kind == ForeignKey && rf.ColumnName() == f.RemoteColumn && rf.Related == name {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("model %q relation %q: model %q has no foreign key column %q back to %q",
						name, f.Name, f.Related, f.RemoteColumn, name)
				}
			case ManyToMany:
				if f.Through == "" || f.ThroughLocal == "" || f.ThroughRemote == "" {
					return fmt.Errorf("model %q relation %q has incomplete join table configuration", name, f.Name)
				}
			}
		}
	}
	r.frozen = true
	return nil
}

// Frozen reports whether CheckIntegrity has completed
func (r *Registry) Frozen() bool {
	return r.frozen
}
