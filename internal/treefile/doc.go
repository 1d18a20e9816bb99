// Package treefile persists decomposition trees.
//
// Ownership boundary:
// - the on-disk header (magic, compression tag, payload size)
// - deterministic CBOR encoding of trees
// - zstd and lz4 payload compression
// - BLAKE3 digests of the source buffer
package treefile
