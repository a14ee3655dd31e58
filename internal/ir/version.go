package ir

// Version constants for the data model and engine.
const (
	// IRVersion is the compiled configuration schema version.
	IRVersion = "1"

	// EngineVersion is the itemsync engine version.
	EngineVersion = "0.1.0"
)
