package param

// Version constants for the snapshot format and tooling.
const (
	// FormatVersion is the snapshot wire-format version.
	FormatVersion = "1"

	// ToolVersion is the paramgraph toolchain version.
	ToolVersion = "0.1.0"
)
