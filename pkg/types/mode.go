package types

// SchemaMode governs how a session reconciles its target schema against the
// schema already persisted in a file.
type SchemaMode uint8

const (
	// SchemaModeAutomatic applies any change; non-additive changes require a
	// migration callback and a strictly increased schema version.
	SchemaModeAutomatic SchemaMode = iota

	// SchemaModeReadOnly never mutates the file; any difference between the
	// target and the live schema is a mismatch.
	SchemaModeReadOnly

	// SchemaModeResetFile deletes and recreates the file whenever the target
	// schema differs from the live schema.
	SchemaModeResetFile

	// SchemaModeAdditive applies only additive changes (new tables, new
	// properties, index flips) and tolerates version moves in both
	// directions.
	SchemaModeAdditive

	// SchemaModeManual runs the migration callback and then requires the
	// resulting live schema to match the target exactly.
	SchemaModeManual
)

// String returns the mode name used in diagnostics.
func (m SchemaMode) String() string {
	switch m {
	case SchemaModeAutomatic:
		return "automatic"
	case SchemaModeReadOnly:
		return "readonly"
	case SchemaModeResetFile:
		return "resetfile"
	case SchemaModeAdditive:
		return "additive"
	case SchemaModeManual:
		return "manual"
	default:
		return "schemamode(?)"
	}
}
