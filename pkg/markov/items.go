package markov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeItems reads a JSON array of corpus items. The array holds either bare
// strings or objects of the form {"string": "...", "custom": ...}; mixing the
// two forms, or an object without "string", is an InvalidInputError.
func DecodeItems(r io.Reader) ([]Item, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode json items: %w", err)
	}

	items := make([]Item, 0, len(raw))
	var structured, bare bool
	for i, msg := range raw {
		msg = bytes.TrimSpace(msg)
		if len(msg) == 0 {
			return nil, &InvalidInputError{Index: i, Reason: "empty item"}
		}

		switch msg[0] {
		case '"':
			bare = true
			var s string
			if err := json.Unmarshal(msg, &s); err != nil {
				return nil, &InvalidInputError{Index: i, Reason: err.Error()}
			}
			items = append(items, Item{String: s})
		case '{':
			structured = true
			var obj struct {
				String *string         `json:"string"`
				Custom json.RawMessage `json:"custom"`
			}
			if err := json.Unmarshal(msg, &obj); err != nil {
				return nil, &InvalidInputError{Index: i, Reason: err.Error()}
			}
			if obj.String == nil {
				return nil, &InvalidInputError{Index: i, Reason: `missing "string" field`}
			}
			items = append(items, Item{String: *obj.String, Custom: obj.Custom})
		default:
			return nil, &InvalidInputError{Index: i, Reason: "item must be a string or an object"}
		}

		if bare && structured {
			return nil, &InvalidInputError{Index: i, Reason: "bare strings and structured items cannot be mixed"}
		}
	}
	return items, nil
}
