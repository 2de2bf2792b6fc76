package toolsource

import (
	"context"
	"fmt"

	"github.com/machinebox/graphql"

	"github.com/agentbroker/broker/tool"
	"github.com/agentbroker/broker/typesynth"
)

const introspectionQuery = `
query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    types {
      kind
      name
      fields(includeDeprecated: true) {
        name
        description
        args { name type { ...TypeRef } }
        type { ...TypeRef }
      }
      inputFields { name type { ...TypeRef } }
      enumValues(includeDeprecated: true) { name }
    }
  }
}
fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
          }
        }
      }
    }
  }
}
`

type wireTypeRef struct {
	Kind   string       `json:"kind"`
	Name   string       `json:"name"`
	OfType *wireTypeRef `json:"ofType"`
}

type wireField struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Args        []struct {
		Name string       `json:"name"`
		Type *wireTypeRef `json:"type"`
	} `json:"args"`
	Type *wireTypeRef `json:"type"`
}

type wireFullType struct {
	Kind        string      `json:"kind"`
	Name        string      `json:"name"`
	Fields      []wireField `json:"fields"`
	InputFields []struct {
		Name string       `json:"name"`
		Type *wireTypeRef `json:"type"`
	} `json:"inputFields"`
	EnumValues []struct {
		Name string `json:"name"`
	} `json:"enumValues"`
}

type introspectionResult struct {
	Schema struct {
		QueryType    *struct{ Name string } `json:"queryType"`
		MutationType *struct{ Name string } `json:"mutationType"`
		Types        []wireFullType          `json:"types"`
	} `json:"__schema"`
}

// loadGraphQL introspects a GraphQL endpoint and synthesizes the
// source's single executable "{source}.graphql" tool plus one
// "{source}.query.{field}"/"{source}.mutation.{field}" pseudo-tool per
// root field, each delegating to the executable tool.
func loadGraphQL(ctx context.Context, sourceName string, cfg *tool.GraphQLConfig) ([]*tool.Descriptor, error) {
	client := graphql.NewClient(cfg.Endpoint)
	req := graphql.NewRequest(introspectionQuery)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	var result introspectionResult
	if err := client.Run(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("graphql source %q: introspection: %w", sourceName, err)
	}

	schema := convertSchema(result.Schema.Types)
	mainRun := graphQLDocumentInvoker(cfg)

	descriptors := []*tool.Descriptor{{
		Path:        tool.SanitizePath(sourceName, "graphql"),
		Description: fmt.Sprintf("Execute a GraphQL query or mutation against %s", sourceName),
		Approval:    tool.ApprovalAuto,
		ArgsType:    "{ query: string; variables?: object }",
		ReturnsType: "unknown",
		Run:         mainRun,
	}}
	if result.Schema.QueryType != nil {
		descriptors = append(descriptors, rootFieldTools(sourceName, "query", schema, result.Schema.QueryType.Name, mainRun)...)
	}
	if result.Schema.MutationType != nil {
		descriptors = append(descriptors, rootFieldTools(sourceName, "mutation", schema, result.Schema.MutationType.Name, mainRun)...)
	}
	return descriptors, nil
}

func convertSchema(types []wireFullType) typesynth.GraphQLSchema {
	schema := make(typesynth.GraphQLSchema, len(types))
	for _, t := range types {
		full := typesynth.FullType{Kind: t.Kind, Name: t.Name}
		for _, f := range t.Fields {
			field := typesynth.Field{Name: f.Name, Type: convertTypeRef(f.Type)}
			for _, a := range f.Args {
				field.Args = append(field.Args, typesynth.FieldArg{Name: a.Name, Type: convertTypeRef(a.Type)})
			}
			full.Fields = append(full.Fields, field)
		}
		for _, f := range t.InputFields {
			full.InputFields = append(full.InputFields, typesynth.InputField{Name: f.Name, Type: convertTypeRef(f.Type)})
		}
		for _, v := range t.EnumValues {
			full.EnumValues = append(full.EnumValues, v.Name)
		}
		schema[t.Name] = full
	}
	return schema
}

func convertTypeRef(t *wireTypeRef) *typesynth.TypeRef {
	if t == nil {
		return nil
	}
	return &typesynth.TypeRef{Kind: t.Kind, Name: t.Name, OfType: convertTypeRef(t.OfType)}
}

// rootFieldTools builds one "{source}.{op}.{field}" pseudo-tool per root
// field. Each pseudo-tool's Run delegates to mainRun, the source's single
// executable "{source}.graphql" tool, rather than issuing its own
// request.
func rootFieldTools(sourceName, op string, schema typesynth.GraphQLSchema, rootTypeName string, mainRun tool.RunFunc) []*tool.Descriptor {
	root, ok := schema[rootTypeName]
	if !ok {
		return nil
	}
	out := make([]*tool.Descriptor, 0, len(root.Fields))
	for _, f := range root.Fields {
		f := f
		approval := tool.ApprovalAuto
		if op == "mutation" {
			approval = tool.ApprovalRequired
		}
		out = append(out, &tool.Descriptor{
			Path:        tool.SanitizePath(sourceName, op, f.Name),
			Approval:    approval,
			IsPseudo:    true,
			ArgsType:    schema.ArgsType(f.Args),
			ReturnsType: schema.ReturnsType(f.Type),
			Run:         pseudoFieldInvoker(op, f, mainRun),
		})
	}
	return out
}

// pseudoFieldInvoker delegates to mainRun: when the caller supplies its
// own "query", it passes the call straight through; otherwise it
// auto-builds the document from the field definition and the call's
// arguments and extracts the field's own result from the response.
func pseudoFieldInvoker(op string, field typesynth.Field, mainRun tool.RunFunc) tool.RunFunc {
	return func(ctx context.Context, input map[string]any, cred tool.CredentialContext) (any, error) {
		if q, ok := input["query"].(string); ok && q != "" {
			variables, _ := input["variables"].(map[string]any)
			return mainRun(ctx, map[string]any{"query": q, "variables": variables}, cred)
		}

		doc, variables := buildFieldDocument(op, field, input)
		result, err := mainRun(ctx, map[string]any{"query": doc, "variables": variables}, cred)
		if err != nil {
			return nil, err
		}
		if m, ok := result.(map[string]any); ok {
			if v, ok := m[field.Name]; ok {
				return v, nil
			}
		}
		return result, nil
	}
}

// buildFieldDocument renders a single-field query/mutation document for
// field, binding each declared argument present in input to a GraphQL
// variable.
func buildFieldDocument(op string, field typesynth.Field, input map[string]any) (string, map[string]any) {
	var argsDecl, argsCall string
	variables := map[string]any{}
	for _, a := range field.Args {
		v, ok := input[a.Name]
		if !ok {
			continue
		}
		varName := "$" + a.Name
		argsDecl += fmt.Sprintf("%s: %s, ", varName, gqlWireTypeString(a.Type))
		argsCall += fmt.Sprintf("%s: %s, ", a.Name, varName)
		variables[a.Name] = v
	}
	doc := fmt.Sprintf("%s Q(%s) { %s(%s) }", op, argsDecl, field.Name, argsCall)
	return doc, variables
}

// graphQLDocumentInvoker executes an arbitrary caller-supplied query or
// mutation document. It backs the source's single executable
// "{source}.graphql" tool and is also what every pseudo-tool delegates
// to.
func graphQLDocumentInvoker(cfg *tool.GraphQLConfig) tool.RunFunc {
	return func(ctx context.Context, input map[string]any, cred tool.CredentialContext) (any, error) {
		query, _ := input["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("graphql: query is required")
		}
		variables, _ := input["variables"].(map[string]any)

		client := graphql.NewClient(cfg.Endpoint)
		req := graphql.NewRequest(query)
		for k, v := range variables {
			req.Var(k, v)
		}
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}
		for k, v := range cred.Headers {
			req.Header.Set(k, v)
		}

		var result map[string]any
		if err := client.Run(ctx, req, &result); err != nil {
			return nil, err
		}
		return result, nil
	}
}

// gqlWireTypeString renders the GraphQL wire type syntax (e.g. "[ID!]!")
// for a variable declaration, distinct from typesynth's TypeScript-like
// TypeString used for tool descriptors.
func gqlWireTypeString(t *typesynth.TypeRef) string {
	if t == nil {
		return "String"
	}
	switch t.Kind {
	case "NON_NULL":
		return gqlWireTypeString(t.OfType) + "!"
	case "LIST":
		return "[" + gqlWireTypeString(t.OfType) + "]"
	default:
		return t.Name
	}
}
