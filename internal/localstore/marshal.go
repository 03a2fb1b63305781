package localstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalValue converts v to JSON TEXT for storage.
// HTML escaping is disabled so response text round-trips unchanged and the
// output is stable for golden comparison.
func marshalValue(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}
