// Package api is the REST dispatch layer. Three resource kinds are
// templated over every registered model: the collection (/model), the
// object (/model/pk), and the relation (/model/pk/field).
//
// Every permission check site applies the same reveal rule: a denied
// action answers 403 only when the caller can already read the target,
// and 404 otherwise, so existence is never leaked. Writes run their
// row change, permission reset, and search index update in one
// transaction; the serialization cache is invalidated after commit.
package api
