package cache

import (
	"encoding/json"
	"fmt"
)

// TenantKey namespaces a logical key under a tenant:
// tenant:{tenantID}:{logicalKey}. Every cached value derived from tenant
// data must go through this so entries can never collide across tenants.
func TenantKey(tenantID, logicalKey string) string {
	return fmt.Sprintf("tenant:%s:%s", tenantID, logicalKey)
}

// UserKey namespaces a logical key under a user
func UserKey(userID, logicalKey string) string {
	return fmt.Sprintf("user:%s:%s", userID, logicalKey)
}

// CanonicalKey builds a cache key from a prefix plus a deterministic
// serialization of the filter value, so logically identical filters always
// map to the same key regardless of how they were constructed.
// encoding/json emits struct fields in declaration order and sorts map
// keys, which makes the serialization canonical for the filter types used
// here; two different filters never share a key because their serialized
// forms differ.
func CanonicalKey(prefix string, filter interface{}) (string, error) {
	data, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("failed to serialize filter: %w", err)
	}
	return prefix + ":" + string(data), nil
}
