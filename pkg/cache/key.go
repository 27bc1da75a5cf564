package cache

import (
	"strings"
)

// Key identifies a cached schema object.
type Key struct {
	// Kind is the schema object kind, e.g. "custom_fields", "statuses",
	// "users", "activity_types".
	Kind string

	// ObjectType is the Close object the schema belongs to, e.g. "lead",
	// "opportunity", "activity/actitype_xxx". Empty for org-wide objects.
	ObjectType string
}

// String generates a deterministic cache key string.
//
// Example:
//
//	closeops:schema:custom_fields:opportunity
func (k Key) String() string {
	parts := []string{"closeops", "schema", k.Kind}
	if k.ObjectType != "" {
		// Path-style object types keep their slashes readable in Redis.
		parts = append(parts, strings.Trim(k.ObjectType, "/"))
	}
	return strings.Join(parts, ":")
}
