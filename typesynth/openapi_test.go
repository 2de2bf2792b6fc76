package typesynth

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSynthesizeOpenAPI_ArgsAndReturns(t *testing.T) {
	t.Parallel()

	userSchema := &openapi3.SchemaRef{
		Ref: "#/components/schemas/User",
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: openapi3.Schemas{"id": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}},
		},
	}

	op := &openapi3.Operation{
		OperationID: "getUser",
		Parameters: openapi3.Parameters{
			{Value: &openapi3.Parameter{Name: "id", In: "path", Required: true, Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}}},
		},
		Responses: openapi3.NewResponses(openapi3.WithStatus(200, &openapi3.ResponseRef{Value: &openapi3.Response{
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{Schema: userSchema},
			},
		}})),
	}

	item := &openapi3.PathItem{Get: op}
	doc := &openapi3.T{Paths: openapi3.NewPaths(openapi3.WithPath("/users/{id}", item))}

	result := SynthesizeOpenAPI(doc)

	types, ok := result.ByOperation["getUser"]
	require.True(t, ok)
	require.Contains(t, types.ArgsType, "id: string")
	require.Equal(t, "User", types.ReturnsType)
	require.NotContains(t, types.ArgsType, "components[")
	require.NotContains(t, types.ReturnsType, "components[")

	require.Contains(t, result.SchemaTypes, "User")
	require.Contains(t, result.SchemaTypes["User"], "id")
}

func TestSynthesizeOpenAPI_DefaultsToUnknownReturns(t *testing.T) {
	t.Parallel()

	op := &openapi3.Operation{
		OperationID: "ping",
		Responses:   openapi3.NewResponses(),
	}
	item := &openapi3.PathItem{Get: op}
	doc := &openapi3.T{Paths: openapi3.NewPaths(openapi3.WithPath("/ping", item))}

	result := SynthesizeOpenAPI(doc)
	require.Equal(t, "unknown", result.ByOperation["ping"].ReturnsType)
	require.Equal(t, "{}", result.ByOperation["ping"].ArgsType)
}
