package utils

import (
	"encoding/json"
)

// CanonicalJSON serializes v with deterministic, sorted object keys.
// Webhook signatures are computed over this form, so the signing and the
// verifying side must both use it.
func CanonicalJSON(v interface{}) ([]byte, error) {
	// Round-trip through an untyped value: encoding/json sorts map keys
	// at every nesting level when marshaling map[string]interface{}.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var untyped interface{}
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return nil, err
	}
	return json.Marshal(untyped)
}
