// Package protocol owns the wire contract and parsing primitives.
//
// Ownership boundary:
// - closed tagged-union vocabularies (one per direction)
// - message encode/decode over portable field primitives
// - incremental completeness checks used by the framed channel
//
// A message on the wire is `tag:u8` followed by the payload of the variant
// the tag names. There is no length envelope: the tag and, for bounded
// sequences, the u16 element count fully determine the encoded size.
package protocol
