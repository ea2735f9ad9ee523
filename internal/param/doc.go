// Package param provides the shared parameter model for paramgraph.
//
// This package contains type definitions and their canonical encoding only.
// All other internal packages import param; param imports nothing internal.
//
// Key design constraints:
//   - Values are sealed: Number (float64) or Text (string), nothing else
//   - A parameter is addressed by (category, key); the dotted form is
//     "<category>.<key>" where the key may itself contain dots
//   - Canonical JSON (sorted keys, NFC strings, fixed float rendering) is the
//     ONLY encoding used for exported snapshots and their digests
//   - Wire field names are camelCase (version, generatedAt, provenanceGraph)
package param
