package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/atlas/pkg/model"
)

// convertProperty converts a JSON Schema node into our tool property form.
func convertProperty(schema *jsonschema.Schema) (*model.Property, error) {
	if schema == nil {
		return nil, nil
	}

	prop := &model.Property{Description: schema.Description}

	switch schema.Type {
	case "string":
		prop.Type = model.TypeString
	case "integer":
		prop.Type = model.TypeInteger
	case "number":
		prop.Type = model.TypeNumber
	case "boolean":
		prop.Type = model.TypeBoolean
	case "array":
		prop.Type = model.TypeArray
	case "object", "":
		prop.Type = model.TypeObject
	default:
		return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
	}

	for _, v := range schema.Enum {
		if s, ok := v.(string); ok {
			prop.Enum = append(prop.Enum, s)
		}
	}

	if schema.Items != nil {
		items, err := convertProperty(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		prop.Items = items
	}

	return prop, nil
}

// convertParameters converts a JSON Schema object into a tool parameter set.
func convertParameters(schema *jsonschema.Schema) (model.Parameters, error) {
	params := model.Parameters{Properties: map[string]*model.Property{}}
	if schema == nil {
		return params, nil
	}

	for name, propSchema := range schema.Properties {
		prop, err := convertProperty(propSchema)
		if err != nil {
			return params, goerr.Wrap(err, "failed to convert property schema",
				goerr.V("property", name))
		}
		params.Properties[name] = prop
	}
	params.Required = schema.Required

	return params, nil
}
