// Package typesynth synthesizes TypeScript-like argument and return
// type-strings for tools loaded from OpenAPI documents and GraphQL
// schemas. The strings exist only to brief the typechecker and the
// calling agent; no compilable Go type is produced.
package typesynth

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"
)

// schemaCap bounds the breadth-first schema alias walk.
const schemaCap = 200

// OperationTypes holds the synthesized args/returns strings for one
// operation.
type OperationTypes struct {
	ArgsType    string
	ReturnsType string
}

// OpenAPIResult is the output of synthesizing an entire document:
// per-operation type strings plus the complete schema alias map.
type OpenAPIResult struct {
	ByOperation map[string]OperationTypes
	SchemaTypes map[string]string
}

type openAPIWalker struct {
	nameByRef map[string]string
	order     []string
	queue     []*openapi3.SchemaRef
	collected map[string]string
}

func newOpenAPIWalker() *openAPIWalker {
	return &openAPIWalker{
		nameByRef: make(map[string]string),
		collected: make(map[string]string),
	}
}

// SynthesizeOpenAPI walks every operation in doc and returns the
// per-operation args/returns type strings plus the alias map for every
// schema reachable within the breadth cap. There is no fallback
// synthesizer for documents whose bundling fails: the loader skips
// synthesis for them, and their descriptors carry no type strings.
func SynthesizeOpenAPI(doc *openapi3.T) *OpenAPIResult {
	w := newOpenAPIWalker()
	byOp := make(map[string]OperationTypes)

	for path, item := range doc.Paths.Map() {
		ops := map[string]*openapi3.Operation{
			"get": item.Get, "post": item.Post, "put": item.Put,
			"delete": item.Delete, "patch": item.Patch,
			"head": item.Head, "options": item.Options,
		}
		for method, op := range ops {
			if op == nil {
				continue
			}
			key := op.OperationID
			if key == "" {
				key = method + "_" + path
			}
			byOp[key] = OperationTypes{
				ArgsType:    w.argsType(op),
				ReturnsType: w.returnsType(op),
			}
		}
	}

	w.drain()

	// Invariant: no produced string may retain a components[ reference.
	for k, v := range byOp {
		v.ArgsType = stripComponentsLeak(v.ArgsType)
		v.ReturnsType = stripComponentsLeak(v.ReturnsType)
		byOp[k] = v
	}
	for k, v := range w.collected {
		w.collected[k] = stripComponentsLeak(v)
	}

	return &OpenAPIResult{ByOperation: byOp, SchemaTypes: w.collected}
}

func stripComponentsLeak(s string) string {
	if strings.Contains(s, "components[") {
		return "unknown"
	}
	return s
}

// drain processes the alias queue breadth-first until exhausted,
// expanding each queued schema's body (which may enqueue further
// refs, subject to the same schemaCap check in resolveRef).
func (w *openAPIWalker) drain() {
	for i := 0; i < len(w.queue); i++ {
		ref := w.queue[i]
		name := w.nameByRef[ref.Ref]
		w.collected[name] = w.inline(ref.Value)
	}
}

func (w *openAPIWalker) argsType(op *openapi3.Operation) string {
	var props []string
	seen := map[string]bool{}

	for _, p := range op.Parameters {
		if p.Value == nil {
			continue
		}
		switch p.Value.In {
		case "query", "path", "header":
		default:
			continue
		}
		opt := ""
		if !p.Value.Required {
			opt = "?"
		}
		t := w.resolveRef(p.Value.Schema)
		props = append(props, fmt.Sprintf("%s%s: %s", p.Value.Name, opt, t))
		seen[p.Value.Name] = true
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		mt := selectContent(op.RequestBody.Value.Content)
		if mt != nil {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				props = append(props, "body: "+w.resolveRef(mt.Schema))
			} else if mt.Schema != nil && mt.Schema.Value != nil && isObjectSchema(mt.Schema.Value) {
				props = append(props, w.objectProps(mt.Schema.Value)...)
			} else if mt.Schema != nil {
				props = append(props, "body: "+w.resolveRef(mt.Schema))
			}
		}
	}

	if len(props) == 0 {
		return "{}"
	}
	sort.Strings(props)
	return "{ " + strings.Join(props, "; ") + " }"
}

func (w *openAPIWalker) returnsType(op *openapi3.Operation) string {
	responses := op.Responses.Map()
	codes := make([]string, 0, len(responses))
	for code := range responses {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		if len(code) != 3 || code[0] != '2' {
			continue
		}
		resp := responses[code]
		if resp == nil || resp.Value == nil {
			continue
		}
		mt := selectContent(resp.Value.Content)
		if mt == nil || mt.Schema == nil {
			return "unknown"
		}
		return w.resolveRef(mt.Schema)
	}
	return "unknown"
}

// selectContent picks a response body's media type by preference:
// application/json, else */*, else first json-ish, else first non-empty.
func selectContent(content openapi3.Content) *openapi3.MediaType {
	if mt, ok := content["application/json"]; ok {
		return mt
	}
	if mt, ok := content["*/*"]; ok {
		return mt
	}
	var keys []string
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(k, "json") {
			return content[k]
		}
	}
	for _, k := range keys {
		return content[k]
	}
	return nil
}

func isObjectSchema(s *openapi3.Schema) bool {
	return s.Type != nil && s.Type.Is("object") && len(s.Properties) > 0
}

func (w *openAPIWalker) objectProps(s *openapi3.Schema) []string {
	required := map[string]bool{}
	for _, r := range s.Required {
		required[r] = true
	}
	var names []string
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make([]string, 0, len(names))
	for _, name := range names {
		opt := ""
		if !required[name] {
			opt = "?"
		}
		props = append(props, fmt.Sprintf("%s%s: %s", name, opt, w.resolveRef(s.Properties[name])))
	}
	return props
}

// resolveRef returns the type string for a schema reference: a bare
// alias name if it's a $ref (enqueuing it for expansion, subject to
// schemaCap), or an inline type string otherwise.
func (w *openAPIWalker) resolveRef(ref *openapi3.SchemaRef) string {
	if ref == nil {
		return "unknown"
	}
	if ref.Ref == "" {
		if ref.Value == nil {
			return "unknown"
		}
		return w.inline(ref.Value)
	}
	if name, ok := w.nameByRef[ref.Ref]; ok {
		return name
	}
	if len(w.order) >= schemaCap {
		return "unknown"
	}
	name := aliasName(ref.Ref)
	w.nameByRef[ref.Ref] = name
	w.order = append(w.order, name)
	w.queue = append(w.queue, ref)
	return name
}

func (w *openAPIWalker) inline(s *openapi3.Schema) string {
	if s == nil {
		return "unknown"
	}

	if len(s.Enum) > 0 {
		return enumUnion(s.Enum)
	}
	if len(s.OneOf) > 0 {
		return w.unionOf(s.OneOf)
	}
	if len(s.AnyOf) > 0 {
		return w.unionOf(s.AnyOf)
	}

	switch {
	case s.Type == nil:
		return "unknown"
	case s.Type.Is("array"):
		if s.Items == nil {
			return "unknown[]"
		}
		return w.resolveRef(s.Items) + "[]"
	case s.Type.Is("object"):
		if len(s.Properties) == 0 {
			return "Record<string, unknown>"
		}
		return "{ " + strings.Join(w.objectProps(s), "; ") + " }"
	case s.Type.Is("string"):
		return "string"
	case s.Type.Is("integer"), s.Type.Is("number"):
		return "number"
	case s.Type.Is("boolean"):
		return "boolean"
	default:
		return "unknown"
	}
}

func (w *openAPIWalker) unionOf(refs openapi3.SchemaRefs) string {
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		parts = append(parts, w.resolveRef(r))
	}
	return strings.Join(parts, " | ")
}

func enumUnion(values []any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return strings.Join(parts, " | ")
}

// aliasName turns a "#/components/schemas/Foo.bar-baz" style ref into a
// bare PascalCase TypeScript identifier.
func aliasName(ref string) string {
	last := ref
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		last = ref[i+1:]
	}
	segments := strings.FieldsFunc(last, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(pascalCase(seg))
	}
	if b.Len() == 0 {
		return "Unknown"
	}
	return b.String()
}

func pascalCase(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
