// Package model defines the descriptor types that drive the generic data API.
//
// A Descriptor describes one registered model: its table, its fields and
// relations, and the optional capabilities a model may implement (custom
// serialization, full-text features, access-control policy, custom delete).
// Descriptors are collected into an immutable Registry at startup; the
// dispatch and permission layers branch on capabilities instead of type
// hierarchies.
package model
