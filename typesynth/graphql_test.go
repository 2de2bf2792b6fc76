package typesynth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeString_Scalars(t *testing.T) {
	t.Parallel()
	s := GraphQLSchema{}

	require.Equal(t, "string", s.TypeString(&TypeRef{Kind: "SCALAR", Name: "String"}, 0))
	require.Equal(t, "number", s.TypeString(&TypeRef{Kind: "SCALAR", Name: "Int"}, 0))
	require.Equal(t, "boolean", s.TypeString(&TypeRef{Kind: "SCALAR", Name: "Boolean"}, 0))
	require.Equal(t, "Record<string, unknown>", s.TypeString(&TypeRef{Kind: "SCALAR", Name: "JSON"}, 0))
}

func TestTypeString_ListAndNonNull(t *testing.T) {
	t.Parallel()
	s := GraphQLSchema{}

	ref := &TypeRef{Kind: "LIST", OfType: &TypeRef{Kind: "NON_NULL", OfType: &TypeRef{Kind: "SCALAR", Name: "ID"}}}
	require.Equal(t, "string[]", s.TypeString(ref, 0))
}

func TestTypeString_EnumCappedAtEight(t *testing.T) {
	t.Parallel()
	s := GraphQLSchema{
		"Color": {Kind: "ENUM", Name: "Color", EnumValues: []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}},
	}
	out := s.TypeString(&TypeRef{Kind: "ENUM", Name: "Color"}, 0)
	require.Contains(t, out, "\"A\"")
	require.Contains(t, out, "\"H\"")
	require.NotContains(t, out, "\"I\"")
	require.Contains(t, out, "| ...")
}

func TestTypeString_InputObjectDepthCap(t *testing.T) {
	t.Parallel()
	s := GraphQLSchema{
		"Level0": {Kind: "INPUT_OBJECT", Name: "Level0", InputFields: []InputField{
			{Name: "next", Type: &TypeRef{Kind: "INPUT_OBJECT", Name: "Level1"}},
		}},
		"Level1": {Kind: "INPUT_OBJECT", Name: "Level1", InputFields: []InputField{
			{Name: "next", Type: &TypeRef{Kind: "INPUT_OBJECT", Name: "Level2"}},
		}},
		"Level2": {Kind: "INPUT_OBJECT", Name: "Level2", InputFields: []InputField{
			{Name: "next", Type: &TypeRef{Kind: "INPUT_OBJECT", Name: "Level3"}},
		}},
		"Level3": {Kind: "INPUT_OBJECT", Name: "Level3", InputFields: []InputField{
			{Name: "leaf", Type: &TypeRef{Kind: "SCALAR", Name: "String"}},
		}},
	}
	out := s.TypeString(&TypeRef{Kind: "INPUT_OBJECT", Name: "Level0"}, 0)
	require.Contains(t, out, "Record<string, unknown>")
}

func TestTypeString_InputObjectFieldCap(t *testing.T) {
	t.Parallel()
	fields := make([]InputField, 20)
	for i := range fields {
		fields[i] = InputField{Name: "f", Type: &TypeRef{Kind: "SCALAR", Name: "String"}}
	}
	s := GraphQLSchema{"Big": {Kind: "INPUT_OBJECT", Name: "Big", InputFields: fields}}

	out := s.TypeString(&TypeRef{Kind: "INPUT_OBJECT", Name: "Big"}, 0)
	require.Contains(t, out, "...")
}

func TestArgsType_OptionalWhenNullable(t *testing.T) {
	t.Parallel()
	s := GraphQLSchema{}
	args := []FieldArg{
		{Name: "id", Type: &TypeRef{Kind: "NON_NULL", OfType: &TypeRef{Kind: "SCALAR", Name: "ID"}}},
		{Name: "limit", Type: &TypeRef{Kind: "SCALAR", Name: "Int"}},
	}
	out := s.ArgsType(args)
	require.Contains(t, out, "id: string")
	require.Contains(t, out, "limit?: number")
}
