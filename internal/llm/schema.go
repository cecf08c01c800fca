package llm

import (
	"github.com/akio-matsumoto/print-etl/internal/config"
)

// BuildSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map
// for a profile's declared fields. We pass this to the model as a structured
// output constraint and also use it locally to validate the response.
// Every declared field is required. The schema stays deliberately loose
// beyond that: extra keys are allowed (the validator drops them) and
// numeric/boolean fields also accept strings, which the validator coerces.
// Rejecting those here would send coercible output to retry instead.
func BuildSchema(fields config.Fields) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.Name] = fieldProp(f)
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func fieldProp(f config.FieldSpec) map[string]any {
	switch f.Type {
	case config.FieldInteger:
		return map[string]any{"type": []string{"integer", "string"}, "description": f.Description}
	case config.FieldNumber:
		return map[string]any{"type": []string{"number", "string"}, "description": f.Description}
	case config.FieldBoolean:
		return map[string]any{"type": []string{"boolean", "string"}, "description": f.Description}
	case config.FieldStringList:
		return map[string]any{
			"type":        "array",
			"description": f.Description,
			"items":       map[string]any{"type": []string{"string", "number", "boolean"}},
		}
	default:
		return map[string]any{"type": "string", "description": f.Description}
	}
}
