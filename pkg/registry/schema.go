package registry

import (
	"fmt"
	"math"

	"github.com/invopop/jsonschema"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/protocol"
)

// SchemaFor derives an argument schema from a Go struct type by JSON
// Schema reflection. Field names follow json tags; jsonschema tags
// supply descriptions and enums. Non-struct types yield an open object
// schema.
func SchemaFor[T any]() *protocol.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))
	if s == nil || s.Type != "object" {
		return &protocol.Schema{Type: "object"}
	}
	return convertSchema(s)
}

func convertSchema(s *jsonschema.Schema) *protocol.Schema {
	if s == nil {
		return nil
	}
	out := &protocol.Schema{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		out.Enum = append(out.Enum, s.Enum...)
	}
	if s.Default != nil {
		out.Default = s.Default
	}
	if s.Items != nil {
		out.Items = convertSchema(s.Items)
	}
	if s.Properties != nil {
		out.Properties = make(map[string]*protocol.Schema, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = convertSchema(el.Value)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append(out.Required, s.Required...)
	}
	return out
}

// ValidateArgs checks decoded arguments against a schema: required
// properties must be present and every known property must carry a
// value of the declared JSON type. Unknown properties pass through,
// matching the lenient decoding used by handlers. A nil schema accepts
// anything.
func ValidateArgs(schema *protocol.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return cwerrors.MissingParameter(name)
		}
	}

	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok || prop == nil {
			continue
		}
		if err := validateValue(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, prop *protocol.Schema, value interface{}) error {
	if value == nil {
		return nil
	}

	switch prop.Type {
	case "", "object":
		// Nested objects are validated shallowly; handlers own deep
		// structure.
		if prop.Type == "object" {
			if _, ok := value.(map[string]interface{}); !ok {
				return typeMismatch(name, "object", value)
			}
		}
	case "string":
		if _, ok := value.(string); !ok {
			return typeMismatch(name, "string", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeMismatch(name, "boolean", value)
		}
	case "number":
		if !isJSONNumber(value) {
			return typeMismatch(name, "number", value)
		}
	case "integer":
		f, ok := asFloat(value)
		if !ok || f != math.Trunc(f) {
			return typeMismatch(name, "integer", value)
		}
	case "array":
		items, ok := value.([]interface{})
		if !ok {
			return typeMismatch(name, "array", value)
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", name, i), prop.Items, item); err != nil {
					return err
				}
			}
		}
	}

	if len(prop.Enum) > 0 {
		for _, allowed := range prop.Enum {
			if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", value) {
				return nil
			}
		}
		return cwerrors.InvalidParams(name, fmt.Sprintf("value %v is not one of the allowed values", value))
	}
	return nil
}

func typeMismatch(name, want string, got interface{}) error {
	return cwerrors.InvalidParams(name, fmt.Sprintf("expected %s, got %T", want, got))
}

func isJSONNumber(v interface{}) bool {
	_, ok := asFloat(v)
	return ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
