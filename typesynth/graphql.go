package typesynth

import (
	"fmt"
	"strings"
)

// inputObjectDepthCap and inputObjectFieldCap bound the INPUT_OBJECT
// expansion: depth 3, 16 fields per level.
const (
	inputObjectDepthCap = 3
	inputObjectFieldCap = 16
	enumValueCap        = 8
)

// TypeRef mirrors a GraphQL introspection __Type reference: kind, name,
// and (for wrapping types) the type it wraps.
type TypeRef struct {
	Kind   string
	Name   string
	OfType *TypeRef
}

// FieldArg is a single argument on a GraphQL field.
type FieldArg struct {
	Name string
	Type *TypeRef
}

// Field is a GraphQL field as returned by introspection.
type Field struct {
	Name string
	Args []FieldArg
	Type *TypeRef
}

// InputField is a field of an INPUT_OBJECT type.
type InputField struct {
	Name string
	Type *TypeRef
}

// FullType is a named GraphQL type from the introspection result.
type FullType struct {
	Kind        string
	Name        string
	Fields      []Field
	InputFields []InputField
	EnumValues  []string
}

// GraphQLSchema indexes every named type by name for TypeString lookups.
type GraphQLSchema map[string]FullType

// ArgsType synthesizes the merged object-literal type string for a
// field's arguments.
func (s GraphQLSchema) ArgsType(args []FieldArg) string {
	if len(args) == 0 {
		return "{}"
	}
	props := make([]string, 0, len(args))
	for _, a := range args {
		opt := ""
		if !isNonNull(a.Type) {
			opt = "?"
		}
		props = append(props, fmt.Sprintf("%s%s: %s", a.Name, opt, s.TypeString(a.Type, 0)))
	}
	return "{ " + strings.Join(props, "; ") + " }"
}

// ReturnsType synthesizes the type string for a field's result type.
func (s GraphQLSchema) ReturnsType(t *TypeRef) string {
	return s.TypeString(t, 0)
}

func isNonNull(t *TypeRef) bool {
	return t != nil && t.Kind == "NON_NULL"
}

// TypeString maps a GraphQL TypeRef to its TypeScript-like type string:
// named scalars map to string/number/boolean/free-form object,
// INPUT_OBJECT expands up to inputObjectDepthCap with at most
// inputObjectFieldCap fields per level, and ENUM becomes a string union
// capped at enumValueCap values.
func (s GraphQLSchema) TypeString(t *TypeRef, depth int) string {
	if t == nil {
		return "unknown"
	}
	switch t.Kind {
	case "NON_NULL", "LIST":
		inner := s.TypeString(t.OfType, depth)
		if t.Kind == "LIST" {
			return inner + "[]"
		}
		return inner
	}

	switch strings.ToUpper(t.Name) {
	case "STRING", "ID", "DATETIME", "DATE", "UUID":
		return "string"
	case "INT", "FLOAT":
		return "number"
	case "BOOLEAN":
		return "boolean"
	case "JSON", "JSONOBJECT":
		return "Record<string, unknown>"
	}

	full, ok := s[t.Name]
	if !ok {
		if t.Name == "" {
			return "unknown"
		}
		return t.Name
	}

	switch full.Kind {
	case "ENUM":
		return s.enumUnion(full)
	case "INPUT_OBJECT":
		return s.inputObjectLiteral(full, depth)
	case "SCALAR":
		return "unknown"
	default:
		return full.Name
	}
}

func (s GraphQLSchema) enumUnion(full FullType) string {
	values := full.EnumValues
	truncated := false
	if len(values) > enumValueCap {
		values = values[:enumValueCap]
		truncated = true
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%q", v))
	}
	out := strings.Join(parts, " | ")
	if truncated {
		out += " | ..."
	}
	return out
}

func (s GraphQLSchema) inputObjectLiteral(full FullType, depth int) string {
	if depth >= inputObjectDepthCap {
		return "Record<string, unknown>"
	}
	fields := full.InputFields
	truncated := false
	if len(fields) > inputObjectFieldCap {
		fields = fields[:inputObjectFieldCap]
		truncated = true
	}
	props := make([]string, 0, len(fields))
	for _, f := range fields {
		opt := ""
		if !isNonNull(f.Type) {
			opt = "?"
		}
		props = append(props, fmt.Sprintf("%s%s: %s", f.Name, opt, s.TypeString(f.Type, depth+1)))
	}
	if truncated {
		props = append(props, "...")
	}
	return "{ " + strings.Join(props, "; ") + " }"
}
