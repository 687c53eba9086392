package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSettings is returned when settings are neither a mapping nor a
// sequence of mappings.
var ErrInvalidSettings = errors.New("settings must be an object or an array of objects")

// NormalizeSettings flattens settings values into one name → string mapping.
//
// The panel host sends settings either as an ordered sequence of single-key
// mappings ([{"a":"1"},{"b":"2"}]) or as one flat mapping ({"a":"1","b":"2"}).
// Both forms normalize identically. In the sequence form later keys win.
// Empty or null input yields an empty map.
func NormalizeSettings(raw json.RawMessage) (map[string]string, error) {
	out := map[string]string{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	switch trimmed[0] {
	case '{':
		var flat map[string]any
		if err := dec.Decode(&flat); err != nil {
			return nil, fmt.Errorf("decode settings object: %w", err)
		}
		for k, v := range flat {
			out[k] = StringValue(v)
		}
	case '[':
		var seq []map[string]any
		if err := dec.Decode(&seq); err != nil {
			return nil, fmt.Errorf("decode settings array: %w", err)
		}
		for _, entry := range seq {
			for k, v := range entry {
				out[k] = StringValue(v)
			}
		}
	default:
		return nil, ErrInvalidSettings
	}
	return out, nil
}
