// Package models provides data model definitions for the sync core.
package models

import (
	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
)

// EntitySchema describes the known field layout of one entity table.
// Entity payloads are a tagged union keyed by table name: only tables
// with a registered schema can be compared field-by-field.
type EntitySchema struct {
	// Table is the entity/table name this schema applies to.
	Table string

	// Fields lists the substantive top-level fields.
	Fields []string

	// TimestampField is the designated version/timestamp field. A
	// divergence confined to this field is a timestamp_mismatch, not a
	// data_mismatch.
	TimestampField string

	// Volatile fields are internal sync bookkeeping and are ignored
	// entirely when comparing snapshots.
	Volatile map[string]bool

	// Security fields escalate any conflict touching them to critical
	// priority, which suppresses automatic resolution.
	Security map[string]bool
}

// IsVolatile reports whether a field is ignored during comparison.
func (s EntitySchema) IsVolatile(field string) bool {
	return s.Volatile[field]
}

// IsSecuritySensitive reports whether a field forces critical priority.
func (s EntitySchema) IsSecuritySensitive(field string) bool {
	return s.Security[field]
}

// SchemaRegistry maps table names to their schemas. Unknown tables fail
// validation rather than being compared blindly.
type SchemaRegistry struct {
	schemas map[string]EntitySchema
}

// NewSchemaRegistry creates a registry with the given schemas.
func NewSchemaRegistry(schemas ...EntitySchema) *SchemaRegistry {
	r := &SchemaRegistry{schemas: make(map[string]EntitySchema, len(schemas))}
	for _, s := range schemas {
		r.schemas[s.Table] = s
	}
	return r
}

// Register adds or replaces a schema.
func (r *SchemaRegistry) Register(s EntitySchema) {
	r.schemas[s.Table] = s
}

// Lookup returns the schema for a table, or an UNKNOWN_ENTITY_TYPE error.
func (r *SchemaRegistry) Lookup(table string) (EntitySchema, error) {
	s, ok := r.schemas[table]
	if !ok {
		return EntitySchema{}, apperrors.Newf(apperrors.ErrUnknownEntityType,
			"no schema registered for table %q", table)
	}
	return s, nil
}

// Tables returns the registered table names.
func (r *SchemaRegistry) Tables() []string {
	tables := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		tables = append(tables, t)
	}
	return tables
}

// DefaultSchemaRegistry returns schemas for the synced CRM record types:
// user settings, profile fields and free-text notes.
func DefaultSchemaRegistry() *SchemaRegistry {
	return NewSchemaRegistry(
		EntitySchema{
			Table: "user_settings",
			Fields: []string{
				"theme", "notifications_enabled", "default_page",
				"session_timeout_minutes", "api_credentials", "mfa_enrolled",
			},
			TimestampField: "updated_at",
			Volatile:       map[string]bool{"last_synced": true, "sync_source": true},
			Security:       map[string]bool{"api_credentials": true, "mfa_enrolled": true},
		},
		EntitySchema{
			Table: "user_profiles",
			Fields: []string{
				"display_name", "full_name", "department",
				"phone", "bio", "avatar_url", "role",
			},
			TimestampField: "updated_at",
			Volatile:       map[string]bool{"last_synced": true, "last_login": true},
			Security:       map[string]bool{"role": true},
		},
		EntitySchema{
			Table:          "notes",
			Fields:         []string{"title", "content", "tags", "pinned"},
			TimestampField: "updated_at",
			Volatile:       map[string]bool{"last_synced": true},
			Security:       map[string]bool{},
		},
	)
}
