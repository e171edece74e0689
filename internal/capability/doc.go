// Package capability turns the heterogeneous, overlapping flag
// encodings a device reports into a normalized feature set.
//
// Vacuum hardware advertises what it can do through four unrelated
// mechanisms that accumulated across firmware generations: a 64-bit
// bitfield (split into low and high halves with different meanings), a
// variable-length hex string, an integer feature-id list, and static
// knowledge keyed by model string or hardware product tags. Each
// declared Feature binds to one declarative Rule over these sources;
// Compute is a single generic interpreter over the rule table.
//
// Compute is pure and total. It never fails: unknown models fall back
// to a conservative generic set where only encoding-derived features
// can be true, and malformed flag strings read as all-zero.
package capability
