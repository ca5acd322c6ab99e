// Package model gives remote records a uniform lifecycle: a declared schema
// (Type), typed instances (Model) that reset, serialize and deserialize
// against that schema, and a cache-first Fetch that coalesces concurrent
// loads of the same record and expands relations.
//
// Collaborators (object cache, request queue, date codec) are injected
// through an Env. Any of them may be absent; the matching behaviour is then
// skipped.
package model
