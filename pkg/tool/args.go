package tool

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/atlas/pkg/model"
)

// UnmarshalArgs decodes a call's raw JSON arguments into a typed input
// struct. An empty argument string decodes as an empty object.
func UnmarshalArgs(call model.ToolCall, v any) error {
	raw := call.Arguments
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return goerr.Wrap(err, "failed to parse input parameters", goerr.V("name", call.Name))
	}
	return nil
}
