// Package vectorindex maintains the searchable nearest-neighbor structure
// over all embedded chunks.
//
// The index is flat: exact cosine similarity over unit-normalized vectors,
// which is correct by construction and fast enough for tens of thousands of
// chunks. Rebuilds are wholesale and atomic: a new snapshot is constructed
// off to the side and swapped in with an atomic pointer store, so concurrent
// searches always run against a complete generation. Rebuilds serialize
// against each other but never block readers.
//
// Snapshots persist to disk together with the model identifier and
// dimensionality they were built under; Load refuses a snapshot whose
// provenance does not match the configured model, forcing a rebuild rather
// than comparing incompatible vectors.
package vectorindex
