package store

import (
	"encoding/json"
	"time"
)

// Valid implements the token-validity predicate: a token is valid iff its
// metadata carries no "valid": false sentinel, its "exp" (if present) has
// not passed, and its "nbf" (if present) has not yet arrived. The "active"
// field from introspection is not independently checked — its effect is
// expected to already be reflected in "exp".
func Valid(metadata Metadata) bool {
	if metadata == nil {
		return true
	}
	if v, ok := metadata["valid"].(bool); ok && !v {
		return false
	}
	now := time.Now().Unix()
	if exp, ok := numeric(metadata["exp"]); ok && exp < float64(now) {
		return false
	}
	if nbf, ok := numeric(metadata["nbf"]); ok && nbf > float64(now) {
		return false
	}
	return true
}

// ValidRecord reports whether an access or refresh token record is valid.
func ValidRecord(metadata Metadata) bool { return Valid(metadata) }

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
