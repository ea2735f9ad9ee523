// Package resolve implements the reference resolution rules shared by the
// consistency validator and the runtime binder.
//
// A request is tried against an ordered list of strategies:
//
//  1. alias: an exact, case-sensitive alias table match rewrites the path
//  2. exact: exact traversal of the snapshot
//  3. case-insensitive: traversal comparing each segment case-folded
//  4. fallback: the built-in table of well-known constants
//
// The first strategy that yields a value wins. Every attempt is recorded on
// the Outcome, so a miss explains itself without re-running resolution.
package resolve
