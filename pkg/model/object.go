package model

import "fmt"

// Object is one row of a registered model. Attribute fields hold their column
// value; foreign key fields hold the related primary key as *int64 (nil when
// unset). To-many relations are never materialized on the object.
type Object struct {
	Model  *Descriptor
	PK     int64
	Fields map[string]any
}

// NewObject returns an empty object for a descriptor
func NewObject(d *Descriptor) *Object {
	return &Object{Model: d, Fields: make(map[string]any)}
}

// Get returns a field value and whether it is set
func (o *Object) Get(name string) (any, bool) {
	v, ok := o.Fields[name]
	return v, ok
}

// Set assigns a field value
func (o *Object) Set(name string, value any) {
	if o.Fields == nil {
		o.Fields = make(map[string]any)
	}
	o.Fields[name] = value
}

// FK returns the related primary key stored under a foreign key field, or nil
func (o *Object) FK(name string) *int64 {
	v, ok := o.Fields[name]
	if !ok || v == nil {
		return nil
	}
	switch pk := v.(type) {
	case *int64:
		return pk
	case int64:
		return &pk
	case int:
		p := int64(pk)
		return &p
	case float64:
		p := int64(pk)
		return &p
	}
	return nil
}

// String identifies the object for logs and error messages
func (o *Object) String() string {
	if o.Model == nil {
		return fmt.Sprintf("object %d", o.PK)
	}
	return fmt.Sprintf("%s object %d", o.Model.Name, o.PK)
}
