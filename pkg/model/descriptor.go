package model

import (
	"context"
)

// FieldKind classifies a field on a model
type FieldKind int

const (
	// Attribute is a plain column value
	Attribute FieldKind = iota
	// ForeignKey is a to-one relation stored as a local column
	ForeignKey
	// ManyToMany is a to-many relation through a join table
	ManyToMany
	// ReverseForeignKey is the to-many reverse side of another model's foreign key
	ReverseForeignKey
)

// String returns a human-readable kind name
func (k FieldKind) String() string {
	switch k {
	case Attribute:
		return "attribute"
	case ForeignKey:
		return "foreign_key"
	case ManyToMany:
		return "many_to_many"
	case ReverseForeignKey:
		return "reverse_foreign_key"
	default:
		return "unknown"
	}
}

// Field describes one field or relation on a model
type Field struct {
	Name string
	Kind FieldKind

	// Column is the database column backing an attribute or foreign key.
	// Defaults to Name for attributes and Name+"_id" for foreign keys.
	Column string

	// SQLType is the column type used when generating schema for attributes,
	// e.g. "VARCHAR(255)" or "BIGINT"
	SQLType string

	Nullable bool
	ReadOnly bool

	// Related names the target model for relation kinds
	Related string

	// ReverseName is the relation's name as seen from the related model. It is
	// used as the field qualifier when permissions are checked on the other
	// side of the relation.
	ReverseName string

	// RemoteColumn is the foreign key column on the related model's table for
	// ReverseForeignKey fields
	RemoteColumn string

	// Join table configuration for ManyToMany fields
	Through       string
	ThroughLocal  string
	ThroughRemote string
}

// ColumnName returns the backing column, applying defaults
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	if f.Kind == ForeignKey {
		return f.Name + "_id"
	}
	return f.Name
}

// IsRelation reports whether the field points at another model
func (f Field) IsRelation() bool {
	return f.Kind != Attribute
}

// IsToMany reports whether the field holds a set of related objects
func (f Field) IsToMany() bool {
	return f.Kind == ManyToMany || f.Kind == ReverseForeignKey
}

// GrantSpec is one grant an access policy wants to exist for an object.
// Exactly one of Group or UserID identifies the subject.
type GrantSpec struct {
	Group   string
	UserID  int64
	Actions string
	Field   string
}

// AccessPolicy computes the object-level grants a model wants after every
// save. Policies are declarative: they return the desired grant set and the
// permission layer applies it, which keeps recomputation idempotent.
type AccessPolicy func(ctx context.Context, obj *Object) []GrantSpec

// DeleteHook replaces the default delete behavior for a model. It runs inside
// the write transaction and receives the raw request body.
type DeleteHook func(ctx context.Context, obj *Object, body map[string]any) error

// Descriptor describes a registered model
type Descriptor struct {
	// Name is the lowercase singular model name used in URLs
	Name   string
	Table  string
	Fields []Field

	// AccessControlled marks the model as permission-managed. Such models
	// must supply a Policy; this is verified by Registry.CheckIntegrity.
	AccessControlled bool
	Policy           AccessPolicy

	// TextFeature extracts the raw text indexed for full-text search.
	// A nil hook means the model is not searchable.
	TextFeature func(obj *Object) string

	// Serializer overrides the default serialization. A nil hook uses the
	// generic field-driven serializer.
	Serializer func(obj *Object) map[string]any

	// OnDelete, when set, replaces the direct delete
	OnDelete DeleteHook
}

// Field looks up a field by name
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether name is a declared field
func (d *Descriptor) HasField(name string) bool {
	_, ok := d.Field(name)
	return ok
}

// Attributes returns the plain attribute fields
func (d *Descriptor) Attributes() []Field {
	var out []Field
	for _, f := range d.Fields {
		if f.Kind == Attribute {
			out = append(out, f)
		}
	}
	return out
}

// ForeignKeys returns the to-one relation fields
func (d *Descriptor) ForeignKeys() []Field {
	var out []Field
	for _, f := range d.Fields {
		if f.Kind == ForeignKey {
			out = append(out, f)
		}
	}
	return out
}

// Searchable reports whether the model supplies a text feature
func (d *Descriptor) Searchable() bool {
	return d.TextFeature != nil
}
