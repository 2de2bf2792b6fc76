package toolsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/broker/tool"
)

const petstoreSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "petstore", "version": "1"},
  "servers": [{"url": "https://api.petstore.example"}],
  "paths": {
    "/pets/{id}": {
      "get": {
        "operationId": "getPet",
        "summary": "Fetch a pet",
        "parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/pets": {
      "post": {
        "operationId": "createPet",
        "summary": "Create a pet",
        "requestBody": {"content": {"application/json": {"schema": {"type": "object"}}}},
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

func TestLoad_OpenAPISourceProducesDescriptorsPerOperation(t *testing.T) {
	t.Parallel()

	result, err := Load(context.Background(), []tool.SourceConfig{{
		Type:    tool.SourceOpenAPI,
		Name:    "petstore",
		OpenAPI: &tool.OpenAPIConfig{SpecBody: []byte(petstoreSpec)},
	}})
	require.NoError(t, err)
	require.Empty(t, result.Warnings)
	require.Len(t, result.Descriptors, 2)

	byOp := map[string]*tool.Descriptor{}
	for _, d := range result.Descriptors {
		byOp[d.OperationID] = d
	}
	require.Equal(t, tool.ApprovalAuto, byOp["getPet"].Approval)
	require.Equal(t, tool.ApprovalRequired, byOp["createPet"].Approval)
	require.Contains(t, byOp["getPet"].Path, "petstore")
}

func TestLoad_ApprovalOverrideWinsOverMethodDefault(t *testing.T) {
	t.Parallel()

	result, err := Load(context.Background(), []tool.SourceConfig{{
		Type:    tool.SourceOpenAPI,
		Name:    "petstore",
		OpenAPI: &tool.OpenAPIConfig{SpecBody: []byte(petstoreSpec)},
		ApprovalOverrides: map[string]tool.Approval{
			"getPet": tool.ApprovalRequired,
		},
	}})
	require.NoError(t, err)

	for _, d := range result.Descriptors {
		if d.OperationID == "getPet" {
			require.Equal(t, tool.ApprovalRequired, d.Approval)
		}
	}
}

func TestLoad_OneBadSourceIsWarningNotFatal(t *testing.T) {
	t.Parallel()

	result, err := Load(context.Background(), []tool.SourceConfig{
		{
			Type:    tool.SourceOpenAPI,
			Name:    "broken",
			OpenAPI: &tool.OpenAPIConfig{SpecBody: []byte("not json")},
		},
		{
			Type:    tool.SourceOpenAPI,
			Name:    "petstore",
			OpenAPI: &tool.OpenAPIConfig{SpecBody: []byte(petstoreSpec)},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, "broken", result.Warnings[0].Source)
	require.Len(t, result.Descriptors, 2)
}

func TestLoad_OpenAPIInvokerRoundTripsOverHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pets/42", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42","name":"fido"}`))
	}))
	defer srv.Close()

	spec := `{
		"openapi": "3.0.0",
		"info": {"title": "petstore", "version": "1"},
		"servers": [{"url": "` + srv.URL + `"}],
		"paths": {
			"/pets/{id}": {
				"get": {
					"operationId": "getPet",
					"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
					"responses": {"200": {"description": "ok"}}
				}
			}
		}
	}`

	result, err := Load(context.Background(), []tool.SourceConfig{{
		Type: tool.SourceOpenAPI,
		Name: "petstore",
		OpenAPI: &tool.OpenAPIConfig{
			SpecBody:    []byte(spec),
			AuthHeaders: map[string]string{"Authorization": "secret"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, result.Descriptors, 1)

	out, err := result.Descriptors[0].Run(context.Background(), map[string]any{"id": "42"}, tool.CredentialContext{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": "42", "name": "fido"}, out)
}
