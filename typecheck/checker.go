package typecheck

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/agentbroker/broker/tool"
)

// Result is the outcome of typechecking a code fragment.
type Result struct {
	OK     bool
	Errors []string
}

// Checker validates a task's code fragment against a declaration
// bundle, matching the typecheckCode(code, declarationBundle) contract.
type Checker interface {
	Typecheck(ctx context.Context, code string, bundle *Bundle) (*Result, error)
}

var (
	toolCallRe   = regexp.MustCompile(`\btools((?:\.[A-Za-z_$][\w$]*)+)\s*\(([^()]*)\)`)
	identRe      = regexp.MustCompile(`[A-Za-z_$][\w$]*`)
	declRe       = regexp.MustCompile(`\b(?:const|let|var|function|class)\s+([A-Za-z_$][\w$]*)`)
	paramListRe  = regexp.MustCompile(`(?:function\s*[A-Za-z_$\w]*\s*\(([^)]*)\)|\(([^()]*)\)\s*=>)`)
	objLiteralRe = regexp.MustCompile(`^\s*\{(.*)\}\s*$`)
	propNameRe   = regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*:`)
)

// knownGlobals are identifiers the structural checker never flags as an
// undeclared global: JS/TS keywords, universally present builtins, and
// the three names the sandbox prelude declares.
var knownGlobals = map[string]bool{}

func init() {
	for _, kw := range []string{
		"async", "await", "function", "return", "if", "else", "for", "while",
		"do", "try", "catch", "finally", "throw", "new", "typeof", "true",
		"false", "null", "undefined", "this", "in", "of", "class", "switch",
		"case", "break", "continue", "export", "import", "default", "extends",
		"super", "yield", "static", "get", "set", "instanceof", "delete",
		"void", "const", "let", "var",
		"Promise", "JSON", "Object", "Array", "Math", "Error", "Map", "Set",
		"String", "Number", "Boolean", "Symbol", "RegExp", "Date", "Infinity",
		"NaN",
		"console", "setTimeout", "clearTimeout", "tools",
	} {
		knownGlobals[kw] = true
	}
}

// Structural is a minimal hand-rolled scanner that validates a code
// fragment against the synthesized namespace declaration — not a full
// TypeScript compiler. It catches unknown tool path segments,
// property-shape mismatches between an object-literal argument and a
// tool's argsType (the number of arguments is not checked), and bare
// calls to undeclared globals: a standalone, embeddable checker with no runtime
// dependency on a full TypeScript compiler.
type Structural struct{}

// NewStructural constructs the structural checker.
func NewStructural() *Structural { return &Structural{} }

func (c *Structural) Typecheck(_ context.Context, code string, bundle *Bundle) (*Result, error) {
	var errs []string
	lines := strings.Split(code, "\n")
	offset := bundle.HeaderLines()

	locallyDeclared := collectLocalNames(code)

	for i, line := range lines {
		bundleLine := offset + i + 1

		for _, m := range toolCallRe.FindAllStringSubmatch(line, -1) {
			path := strings.TrimPrefix(m[1], ".")
			d, ok := bundle.ToolsByPath[path]
			if !ok {
				errs = append(errs, bundle.FormatDiagnostic("unknown tool path \""+path+"\"", bundleLine))
				continue
			}
			errs = append(errs, checkArgShape(bundle, d, m[2], bundleLine)...)
		}

		for _, ident := range identRe.FindAllString(line, -1) {
			if knownGlobals[ident] || locallyDeclared[ident] {
				continue
			}
			if isPropertyAccess(line, ident) || isObjectKey(line, ident) {
				continue
			}
			if isBareCall(line, ident) {
				errs = append(errs, bundle.FormatDiagnostic("use of undeclared global \""+ident+"\"", bundleLine))
			}
		}
	}

	sort.Strings(errs)
	return &Result{OK: len(errs) == 0, Errors: errs}, nil
}

// checkArgShape compares a call's argument object literal (when one is
// syntactically present) against the tool's declared argsType, flagging
// properties the declaration doesn't know about and required properties
// the call omits.
func checkArgShape(bundle *Bundle, d *tool.Descriptor, argExpr string, bundleLine int) []string {
	if d.ArgsType == "" {
		return nil
	}
	m := objLiteralRe.FindStringSubmatch(strings.TrimSpace(argExpr))
	if m == nil {
		return nil
	}

	given := map[string]bool{}
	for _, pm := range propNameRe.FindAllStringSubmatch(m[1], -1) {
		given[pm[1]] = true
	}

	expected, required := parseObjectLiteralProps(d.ArgsType)

	var errs []string
	for name := range given {
		if _, ok := expected[name]; !ok {
			errs = append(errs, bundle.FormatDiagnostic("unknown property \""+name+"\" for tool \""+d.Path+"\"", bundleLine))
		}
	}
	for name := range required {
		if !given[name] {
			errs = append(errs, bundle.FormatDiagnostic("missing required property \""+name+"\" for tool \""+d.Path+"\"", bundleLine))
		}
	}
	return errs
}

// parseObjectLiteralProps extracts property names from a synthesized
// "{ a?: T; b: T }" style type string, distinguishing optional
// ("name?:") from required ("name:") properties.
func parseObjectLiteralProps(typeStr string) (all map[string]bool, required map[string]bool) {
	all = map[string]bool{}
	required = map[string]bool{}

	inner := strings.TrimSpace(typeStr)
	inner = strings.TrimPrefix(inner, "{")
	inner = strings.TrimSuffix(inner, "}")

	for _, part := range strings.Split(inner, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		colon := strings.Index(part, ":")
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(part[:colon])
		optional := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")
		if name == "" || !identRe.MatchString(name) {
			continue
		}
		all[name] = true
		if !optional {
			required[name] = true
		}
	}
	return all, required
}

func collectLocalNames(code string) map[string]bool {
	names := map[string]bool{}
	for _, m := range declRe.FindAllStringSubmatch(code, -1) {
		names[m[1]] = true
	}
	for _, m := range paramListRe.FindAllStringSubmatch(code, -1) {
		params := m[1]
		if params == "" {
			params = m[2]
		}
		for _, p := range strings.Split(params, ",") {
			p = strings.TrimSpace(strings.SplitN(p, "=", 2)[0])
			p = strings.TrimPrefix(p, "...")
			if p != "" {
				names[p] = true
			}
		}
	}
	return names
}

func isPropertyAccess(line, ident string) bool {
	idx := strings.Index(line, ident)
	return idx > 0 && line[idx-1] == '.'
}

func isObjectKey(line, ident string) bool {
	idx := strings.Index(line, ident)
	if idx < 0 {
		return false
	}
	rest := strings.TrimLeft(line[idx+len(ident):], " ")
	return strings.HasPrefix(rest, ":") && !strings.HasPrefix(rest, "::")
}

func isBareCall(line, ident string) bool {
	idx := strings.Index(line, ident+"(")
	if idx < 0 {
		return false
	}
	return idx == 0 || line[idx-1] != '.'
}
