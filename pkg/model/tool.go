package model

import "encoding/json"

// JSON schema types accepted for tool parameters.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Property describes one parameter of a tool.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Parameters is the parameter schema of a tool. It always marshals as a
// JSON schema object.
type Parameters struct {
	Properties map[string]*Property
	Required   []string
}

func (x Parameters) MarshalJSON() ([]byte, error) {
	props := x.Properties
	if props == nil {
		props = map[string]*Property{}
	}
	return json.Marshal(struct {
		Type       string               `json:"type"`
		Properties map[string]*Property `json:"properties"`
		Required   []string             `json:"required,omitempty"`
	}{
		Type:       TypeObject,
		Properties: props,
		Required:   x.Required,
	})
}

// ToolSpec declares a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  Parameters
}

func (x ToolSpec) MarshalJSON() ([]byte, error) {
	type function struct {
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Parameters  Parameters `json:"parameters"`
	}
	return json.Marshal(struct {
		Type     string   `json:"type"`
		Function function `json:"function"`
	}{
		Type: "function",
		Function: function{
			Name:        x.Name,
			Description: x.Description,
			Parameters:  x.Parameters,
		},
	})
}
