package trigger

import (
	"fmt"
	"math"
	"sort"
)

// validatePayload checks payload against a schema of the form
// {"required": [...], "properties": {"field": {"type": "string"}}}.
func validatePayload(schema map[string]any, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	if required, ok := schema["required"].([]any); ok {
		var missing []string
		for _, r := range required {
			field, ok := r.(string)
			if !ok {
				continue
			}
			if v, present := payload[field]; !present || v == nil {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return ValidationError{Message: fmt.Sprintf("missing required fields: %v", missing)}
		}
	}
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, present := payload[name]
		if !present || v == nil {
			continue
		}
		prop, _ := props[name].(map[string]any)
		want, _ := prop["type"].(string)
		if want == "" {
			continue
		}
		if !hasType(v, want) {
			return ValidationError{Message: fmt.Sprintf("field %s must be of type %s", name, want)}
		}
	}
	return nil
}

func hasType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return true
}
