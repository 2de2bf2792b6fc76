package toolsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/agentbroker/broker/tool"
	"github.com/agentbroker/broker/typesynth"
)

var httpMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodDelete, http.MethodPatch, http.MethodHead, http.MethodOptions,
}

// loadOpenAPI fetches and bundles an OpenAPI document and walks every
// operation into a tool descriptor. When bundling ($ref dereferencing)
// fails, it falls back to a parse-only document so that operations with
// no cross-document refs still load; this fallback is unconditional, not
// config-gated.
func loadOpenAPI(ctx context.Context, sourceName string, cfg *tool.OpenAPIConfig) ([]*tool.Descriptor, error) {
	raw, err := fetchOpenAPIDoc(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("openapi source %q: %w", sourceName, err)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("openapi source %q: parse: %w", sourceName, err)
	}

	bundled := true
	if err := loader.ResolveRefsIn(doc, nil); err != nil {
		bundled = false
	}

	host := sourceName
	if doc.Servers != nil && len(doc.Servers) > 0 && doc.Servers[0].URL != "" {
		if u, err := url.Parse(doc.Servers[0].URL); err == nil && u.Host != "" {
			host = u.Host
		}
	}

	var types *typesynth.OpenAPIResult
	if bundled {
		types = typesynth.SynthesizeOpenAPI(doc)
	}

	var descriptors []*tool.Descriptor
	for path, item := range doc.Paths.Map() {
		ops := map[string]*openapi3.Operation{
			http.MethodGet:     item.Get,
			http.MethodPost:    item.Post,
			http.MethodPut:     item.Put,
			http.MethodDelete:  item.Delete,
			http.MethodPatch:   item.Patch,
			http.MethodHead:    item.Head,
			http.MethodOptions: item.Options,
		}
		for _, method := range httpMethods {
			op := ops[method]
			if op == nil {
				continue
			}
			opID := op.OperationID
			if opID == "" {
				opID = strings.ToLower(method) + "_" + path
			}

			desc := &tool.Descriptor{
				Path:        tool.SanitizePath(sourceName, host, opID),
				Description: operationDescription(op),
				Approval:    defaultApprovalForMethod(method),
				OperationID: op.OperationID,
				Run:         openAPIInvoker(cfg, baseURLFor(doc), method, path, op),
			}
			if types != nil {
				if t, ok := types.ByOperation[opID]; ok {
					desc.ArgsType = t.ArgsType
					desc.ReturnsType = t.ReturnsType
				}
			}
			descriptors = append(descriptors, desc)
		}
	}

	// Attach the complete schema alias map to the first tool only; the
	// typechecker merges schemas across every tool from a source, so
	// one copy suffices.
	if types != nil && len(descriptors) > 0 {
		descriptors[0].SchemaTypes = types.SchemaTypes
	}
	return descriptors, nil
}

func operationDescription(op *openapi3.Operation) string {
	if op.Summary != "" {
		return op.Summary
	}
	return op.Description
}

// defaultApprovalForMethod gates any method other than GET/HEAD/OPTIONS
// behind approval by default, since those verbs change state.
func defaultApprovalForMethod(method string) tool.Approval {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return tool.ApprovalAuto
	default:
		return tool.ApprovalRequired
	}
}

func baseURLFor(doc *openapi3.T) string {
	if len(doc.Servers) > 0 {
		return strings.TrimRight(doc.Servers[0].URL, "/")
	}
	return ""
}

func fetchOpenAPIDoc(ctx context.Context, cfg *tool.OpenAPIConfig) ([]byte, error) {
	if cfg.SpecBody != nil {
		return cfg.SpecBody, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SpecURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range cfg.AuthHeaders {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch spec: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// requestBodyIsWrapped reports whether argsType would have wrapped this
// operation's request body under a literal "body" key (a $ref or
// non-object schema) rather than flattening its fields into the
// top-level args (an inline object schema) — it must mirror
// typesynth.argsType's own selectContent/isObjectSchema decision so the
// invoker consumes input the same way the declaration bundle described
// it.
func requestBodyIsWrapped(op *openapi3.Operation) bool {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return false
	}
	mt := selectContent(op.RequestBody.Value.Content)
	if mt == nil || mt.Schema == nil {
		return false
	}
	if mt.Schema.Ref != "" {
		return true
	}
	if mt.Schema.Value != nil && isObjectSchema(mt.Schema.Value) {
		return false
	}
	return true
}

// openAPIInvoker builds a closure that substitutes path parameters,
// merges static auth headers with per-call credential headers (call
// wins on conflict), and issues the HTTP request at call time.
func openAPIInvoker(cfg *tool.OpenAPIConfig, baseURL, method, path string, op *openapi3.Operation) tool.RunFunc {
	wrapped := requestBodyIsWrapped(op)
	return func(ctx context.Context, input map[string]any, cred tool.CredentialContext) (any, error) {
		resolvedPath := path
		query := url.Values{}
		consumed := map[string]bool{}

		for _, p := range op.Parameters {
			if p.Value == nil {
				continue
			}
			v, ok := input[p.Value.Name]
			if !ok {
				continue
			}
			switch p.Value.In {
			case "path":
				resolvedPath = strings.ReplaceAll(resolvedPath, "{"+p.Value.Name+"}", url.PathEscape(fmt.Sprint(v)))
				consumed[p.Value.Name] = true
			case "query":
				query.Set(p.Value.Name, fmt.Sprint(v))
				consumed[p.Value.Name] = true
			case "header":
				consumed[p.Value.Name] = true
			}
		}

		var body io.Reader
		if op.RequestBody != nil {
			var payload any
			if wrapped {
				if raw, ok := input["body"]; ok {
					payload = raw
				}
			} else {
				residual := map[string]any{}
				for k, v := range input {
					if !consumed[k] {
						residual[k] = v
					}
				}
				if len(residual) > 0 {
					payload = residual
				}
			}
			if payload != nil {
				encoded, err := json.Marshal(payload)
				if err != nil {
					return nil, fmt.Errorf("encode body: %w", err)
				}
				body = bytes.NewReader(encoded)
			}
		}

		full := baseURL + resolvedPath
		if len(query) > 0 {
			full += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, method, full, body)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range cfg.AuthHeaders {
			req.Header.Set(k, v)
		}
		for k, v := range cred.Headers {
			req.Header.Set(k, v)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
		}
		if len(raw) == 0 {
			return nil, nil
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return string(raw), nil
		}
		return decoded, nil
	}
}
