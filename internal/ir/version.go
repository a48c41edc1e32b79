package ir

// Version constants for the plan format and compiler.
const (
	// PlanVersion is folded into every query shape hash; bump it when the
	// translation of an existing shape changes.
	PlanVersion = "1"

	// CompilerVersion is the navq compiler version.
	CompilerVersion = "0.1.0"
)
