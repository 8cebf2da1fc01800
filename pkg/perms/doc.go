// Package perms implements fine-grained permission storage and resolution.
//
// A grant is a durable (subject, action, scope) fact. Subjects are users or
// groups; actions are read/write/create/delete; a scope is either a whole
// model or one object, optionally narrowed to a single field or relation.
// Grants are additive and absence means deny.
//
// Two resolution paths exist and they treat the reserved "anyone" group
// differently on purpose. HasPerms answers a single-target question and
// consults only the given subject's own grants. PermittedSet and FilterPKs
// compute the objects a subject may act on and additionally union in the
// "anyone" group's grants, because a model-wide grant to "anyone" must make
// objects visible to every caller. Do not make these symmetric.
package perms
