package adapter

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// decodeArguments parses a raw tool argument string into a map. An empty
// string decodes to an empty map.
func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, goerr.Wrap(err, "failed to decode tool arguments", goerr.V("raw", raw))
	}

	return args, nil
}

// encodeArguments serializes structured tool arguments back to the raw
// JSON string form used across the conversation model.
func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}

	return string(raw)
}
