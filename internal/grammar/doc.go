// Package grammar owns immutable container-format descriptions.
//
// Ownership boundary:
// - description documents (TOML and YAML) and their loader
// - validation of names, kinds, params, and static references
// - built-in grammars embedded in the binary
//
// Pattern names must be unique among siblings. Nested specs may reuse a name
// from an outer level; dotted paths from the root stay unique, and references
// resolve to the innermost visible name.
package grammar
