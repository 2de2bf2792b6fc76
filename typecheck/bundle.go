// Package typecheck builds the declaration bundle a code fragment is
// validated against (alias block + tools namespace + sandbox prelude +
// wrapped user code) and exposes a Checker interface for that
// validation.
package typecheck

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentbroker/broker/tool"
)

// preludeLineCount is the fixed number of physical lines the sandbox
// prelude occupies, used verbatim in the error line-remap formula:
// alias block lines + 4 prelude lines + 1 function header.
const preludeLineCount = 4

const funcHeaderLineCount = 1

// Bundle is the fully assembled declaration unit a Checker validates
// user code against.
type Bundle struct {
	AliasLines  []string
	ToolsDecl   string
	Tools       []*tool.Descriptor
	ToolsByPath map[string]*tool.Descriptor
}

// Build assembles a declaration bundle from a workspace's currently
// loaded tools: a deduplicated alias block, and a nested `tools`
// namespace declaration built by splitting each path on ".".
func Build(tools []*tool.Descriptor) *Bundle {
	aliasLines := buildAliasBlock(tools)
	toolsDecl, byPath := buildToolsDecl(tools)
	return &Bundle{AliasLines: aliasLines, ToolsDecl: toolsDecl, Tools: tools, ToolsByPath: byPath}
}

func buildAliasBlock(tools []*tool.Descriptor) []string {
	seen := map[string]bool{}
	var names []string
	for _, d := range tools {
		for name := range d.SchemaTypes {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		var body string
		for _, d := range tools {
			if b, ok := d.SchemaTypes[name]; ok {
				body = b
				break
			}
		}
		lines = append(lines, fmt.Sprintf("type %s = %s;", name, body))
	}
	return lines
}

type toolNode struct {
	children map[string]*toolNode
	leaf     *tool.Descriptor
}

func newToolNode() *toolNode { return &toolNode{children: map[string]*toolNode{}} }

// buildToolsDecl nests each dot-separated tool path into a TS-literal
// "declare const tools: {...};" namespace, with leaf form
// "name(input: argsType): Promise<returnsType>;".
func buildToolsDecl(tools []*tool.Descriptor) (string, map[string]*tool.Descriptor) {
	root := newToolNode()
	byPath := make(map[string]*tool.Descriptor, len(tools))

	for _, d := range tools {
		byPath[d.Path] = d
		segments := strings.Split(d.Path, ".")
		node := root
		for _, seg := range segments {
			next, ok := node.children[seg]
			if !ok {
				next = newToolNode()
				node.children[seg] = next
			}
			node = next
		}
		node.leaf = d
	}

	var b strings.Builder
	b.WriteString("declare const tools: ")
	renderNode(&b, root)
	b.WriteString(";")
	return b.String(), byPath
}

func renderNode(b *strings.Builder, n *toolNode) {
	if n.leaf != nil && len(n.children) == 0 {
		args := n.leaf.ArgsType
		if args == "" {
			args = "{ [key: string]: unknown }"
		}
		returns := n.leaf.ReturnsType
		if returns == "" {
			returns = "unknown"
		}
		fmt.Fprintf(b, "(input: %s) => Promise<%s>", args, returns)
		return
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("{ ")
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(b, "%s: ", name)
		renderNode(b, n.children[name])
	}
	b.WriteString(" }")
}

// Source renders the full bundle source text the checker (or a real TS
// compiler) would parse: alias lines, the tools declaration, the fixed
// prelude, and the wrapped user function body.
func (b *Bundle) Source(userCode string) string {
	var out strings.Builder
	for _, line := range b.AliasLines {
		out.WriteString(line)
		out.WriteByte('\n')
	}
	out.WriteString(b.ToolsDecl)
	out.WriteByte('\n')
	out.WriteString(preludeSource())
	out.WriteString("async function __run() {\n")
	out.WriteString(userCode)
	out.WriteString("\n}\n")
	return out.String()
}

// preludeSource is the fixed sandbox prelude: exactly preludeLineCount
// physical lines, declaring console.{log,info,warn,error}, setTimeout,
// and clearTimeout. No other globals are declared.
func preludeSource() string {
	return strings.Join([]string{
		"declare const console: { log(...a: unknown[]): void; info(...a: unknown[]): void; warn(...a: unknown[]): void; error(...a: unknown[]): void };",
		"declare function setTimeout(fn: () => void, ms?: number): number;",
		"declare function clearTimeout(id: number): void;",
		"",
	}, "\n") + "\n"
}

// HeaderLines is the total number of physical lines the bundle emits
// before the user's own code begins: the alias block, the single
// "declare const tools: ...;" line, the fixed sandbox prelude, and the
// "async function __run() {" header (alias block lines + 4 prelude
// lines + 1 function header, with the tools declaration line folded
// into the alias-block count).
func (b *Bundle) HeaderLines() int {
	return len(b.AliasLines) + 1 + preludeLineCount + funcHeaderLineCount
}

// remapLine converts a 1-based line number within the full bundle
// source into a 1-based line number relative to the user's own code.
// ok is false when the offending line falls within the generated
// preamble (non-positive result).
func remapLine(bundleLine, headerLines int) (userLine int, ok bool) {
	userLine = bundleLine - headerLines
	return userLine, userLine > 0
}

// FormatDiagnostic prefixes msg with "Line N:" when bundleLine maps to
// a positive user-code line, or returns msg unprefixed otherwise.
func (b *Bundle) FormatDiagnostic(msg string, bundleLine int) string {
	if userLine, ok := remapLine(bundleLine, b.HeaderLines()); ok {
		return fmt.Sprintf("Line %d: %s", userLine, msg)
	}
	return msg
}
