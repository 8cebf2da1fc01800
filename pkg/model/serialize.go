package model

// Serialize produces the JSON-shaped representation of an object using the
// model's serializer hook, or the default field-driven serializer when no
// hook is set.
func (d *Descriptor) Serialize(obj *Object) map[string]any {
	if d.Serializer != nil {
		return d.Serializer(obj)
	}
	return defaultSerialize(d, obj)
}

// defaultSerialize emits the primary key, every attribute, and foreign keys
// under their column name (e.g. "brand_id"). To-many relations are addressed
// through their own endpoints and are not embedded.
func defaultSerialize(d *Descriptor, obj *Object) map[string]any {
	out := make(map[string]any, len(d.Fields)+1)
	out["id"] = obj.PK
	for _, f := range d.Fields {
		switch f.Kind {
		case Attribute:
			v, ok := obj.Fields[f.Name]
			if !ok {
				v = nil
			}
			out[f.Name] = v
		case ForeignKey:
			if pk := obj.FK(f.Name); pk != nil {
				out[f.ColumnName()] = *pk
			} else {
				out[f.ColumnName()] = nil
			}
		}
	}
	return out
}
