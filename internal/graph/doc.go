// Package graph implements the derivation graph executor.
//
// Derived parameters are declared as Entries: an output path, an explicit
// list of dependency paths (canonical values or other entries' outputs) and a
// pure function from dependency values to an output value plus metadata.
//
// EvaluateAll runs in four steps:
//  1. Reject dependencies that are neither canonical nor another entry's output
//  2. Build the entry → entry dependency graph and find strongly connected
//     components (Tarjan); any cycle is fatal and named in full
//  3. Order entries topologically (Kahn, ties broken by entry ID)
//  4. Evaluate strictly in that order; a failing entry marks itself and its
//     transitive dependents unavailable without stopping independent branches
//
// Cross-checks declared with CrossCheck run after evaluation and produce
// non-fatal ConsistencyWarnings unless strict mode is enabled.
//
// Evaluation is single-threaded and deterministic: the same canonical store
// and entries always yield the same Result.
package graph
