// Package harness runs conformance scenarios against the parameter pipeline.
//
// A scenario names CUE parameter sources, an optional document corpus and
// optional binding references, then asserts on the evaluated snapshot, the
// validation report and the rendered bindings.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	sources:
//	  - params.cue
//	strict: false
//	aliases:
//	  hubble: cosmology.H0
//	documents:
//	  - name: article.md
//	    body: "H0 = {{param path=hubble format=fixed:1}}"
//	bindings:
//	  - ref: cosmology.h
//	    format: fixed:3
//	expect:
//	  error: cycle
//	assertions:
//	  - type: value
//	    path: cosmology.h
//	    value: 0.674
//	  - type: unresolved
//	    count: 0
//
// Source paths are relative to the scenario file.
//
// # Assertion Types
//
//   - value: the snapshot holds path with the given value (numbers compare within tolerance)
//   - unavailable: path is listed as unavailable; cause names the root failing entry
//   - provenance: the derived path consumed exactly deps
//   - order: entries were evaluated in the listed relative order
//   - warning_count: the number of cross-check warnings
//   - unresolved: the number of unresolved references; document and line narrow the match
//   - strategy_count: references resolved by one strategy
//   - binding: the rendered text of one binding
//
// # Deterministic Testing
//
// Every run stamps its snapshot with a fixed clock and version 1, so the
// summary compared by RunWithGolden is identical across runs.
package harness
