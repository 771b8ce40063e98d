package cache

import (
	"strings"
)

// keyPrefix namespaces every cache key in Redis.
const keyPrefix = "activity:listing"

// Key identifies a cached listing.
type Key struct {
	// Endpoint is the API path, e.g. "/reports/v2/categories".
	Endpoint string

	// Scope separates tenants sharing one Redis, e.g. the credential profile.
	Scope string
}

// String returns the Redis key: "activity:listing:<scope>:<endpoint>", with
// slashes in the endpoint turned into colons and an empty scope as "default".
//
// Example:
//
//	activity:listing:prod:reports:v2:categories
func (k Key) String() string {
	scope := k.Scope
	if scope == "" {
		scope = "default"
	}

	parts := []string{keyPrefix, scope}
	for _, segment := range strings.Split(k.Endpoint, "/") {
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, ":")
}
