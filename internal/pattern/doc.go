// Package pattern owns the registry of reusable binary pattern kinds.
//
// Ownership boundary:
// - kind tags and capability interfaces
// - typed params and decoded values
// - built-in kinds (magic, uint, bitpacked, palette, checksum, ...)
// - sentinel errors shared by the decomposer and reconstructor
package pattern
