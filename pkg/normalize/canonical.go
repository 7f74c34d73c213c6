package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes decoded-JSON values (maps, slices, scalars) in one
// stable form: object keys sorted, no HTML escaping, no trailing newline.
// encoding/json already sorts map keys, so two argument maps that hold the
// same values always encode to the same bytes.
func CanonicalJSON(v any) ([]byte, error) {
	if m, ok := v.(map[string]any); ok && m == nil {
		v = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("normalize.CanonicalJSON: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Digest returns the hex SHA-256 of v's canonical JSON. Logs carry the
// digest of invocation arguments instead of the arguments themselves, so a
// call without arguments and one with an empty map log the same digest.
func Digest(v any) string {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(canon)
	return hex.EncodeToString(h[:])
}
