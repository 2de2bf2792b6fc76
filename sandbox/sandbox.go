// Package sandbox is the broker's Sandbox implementation: it evaluates a
// task's code fragment with github.com/dop251/goja, a pure-Go ECMAScript
// interpreter, rather than shelling out to a real V8 isolate. Process or
// VM-level isolation is explicitly out of scope for the broker (the
// sandbox seam exists precisely so a host can swap this for one); this
// implementation gives an embedder a working default.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"github.com/agentbroker/broker/task"
)

// toolCallRe mirrors typecheck.toolCallRe: it finds every
// "tools.a.b.c(<args>)" call site so it can be rewritten into a flat
// native call before the fragment is handed to goja. goja has no
// built-in way to back an arbitrarily deep, statically-unknown object
// chain (the sandbox never sees the tool descriptor list, only the
// ToolInvoker seam), so the rewrite is the simplest route to the same
// observable behavior the declaration bundle promises.
var toolCallRe = regexp.MustCompile(`\btools((?:\.[A-Za-z_$][\w$]*)+)\s*\(([^()]*)\)`)

// awaitRe strips the `await` keyword. The calls it precedes are already
// synchronous Go round trips by the time goja sees them, so awaiting
// their (non-Promise) result is a no-op; removing the keyword avoids
// depending on goja's top-level-await support, which the broker does
// not need for anything else.
var awaitRe = regexp.MustCompile(`\bawait\b`)

// Goja evaluates task code fragments with a fresh goja.Runtime per run.
// It implements task.Sandbox.
type Goja struct {
	// CallIDs mints a unique id for each tools.*() invocation. Defaults
	// to a run-local counter when nil.
	CallIDs func() string
}

// New constructs a Goja sandbox.
func New() *Goja {
	return &Goja{}
}

// Run evaluates req.Code against req.Tools, honoring ctx's deadline.
func (g *Goja) Run(ctx context.Context, req task.SandboxRequest) (*task.SandboxResult, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var stdout, stderr bytes.Buffer
	emitter, _ := req.Tools.(task.OutputEmitter)
	installConsole(ctx, vm, &stdout, &stderr, req.RunID, emitter)
	installTimers(vm)

	callSeq := 0
	nextCallID := g.CallIDs
	if nextCallID == nil {
		nextCallID = func() string {
			callSeq++
			return fmt.Sprintf("%s-%d", req.RunID, callSeq)
		}
	}

	var callErr error
	vm.Set("__invokeTool", func(path string, input map[string]any) goja.Value {
		if callErr != nil {
			return goja.Undefined()
		}
		res, err := req.Tools.Invoke(ctx, task.ToolCall{
			RunID:    req.RunID,
			CallID:   nextCallID(),
			ToolPath: path,
			Input:    input,
		})
		if err != nil {
			callErr = err
			vm.Interrupt(err.Error())
			return goja.Undefined()
		}
		if !res.OK {
			msg := res.Error
			if res.Denied && !strings.HasPrefix(msg, task.ApprovalDeniedPrefix) {
				msg = task.ApprovalDeniedPrefix + msg
			}
			callErr = fmt.Errorf("%s", msg)
			vm.Interrupt(msg)
			return goja.Undefined()
		}
		return vm.ToValue(res.Value)
	})

	src, err := wrapSource(req.Code)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	prg, err := goja.Compile("task.js", src, false)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile: %w", err)
	}

	type outcome struct {
		val goja.Value
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: recoverErr(r)}
			}
		}()
		v, err := vm.RunProgram(prg)
		done <- outcome{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("execution timed out")
		<-done
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			if callErr != nil {
				return nil, callErr
			}
			return nil, fmt.Errorf("sandbox: %w", o.err)
		}
		return buildResult(&stdout, &stderr, o.val), nil
	}
}

// recoverErr converts a goja panic value (the interpreter unwinds thrown
// exceptions as Go panics carrying the thrown value, or a
// *goja.InterruptedError on Interrupt) into a plain error.
func recoverErr(r any) error {
	if iv, ok := r.(*goja.InterruptedError); ok {
		return iv
	}
	if v, ok := r.(goja.Value); ok {
		return fmt.Errorf("%s", v.String())
	}
	return fmt.Errorf("panic: %v", r)
}

// wrapSource rewrites every tools.*(...) call into __invokeTool, strips
// await, and wraps the fragment in a plain IIFE whose completion value
// becomes the program's result.
func wrapSource(code string) (string, error) {
	rewritten := toolCallRe.ReplaceAllStringFunc(code, func(m string) string {
		sub := toolCallRe.FindStringSubmatch(m)
		path := strings.TrimPrefix(sub[1], ".")
		args := strings.TrimSpace(sub[2])
		if args == "" {
			args = "{}"
		}
		return fmt.Sprintf("__invokeTool(%q, (%s))", path, args)
	})
	rewritten = awaitRe.ReplaceAllString(rewritten, "")

	var b strings.Builder
	b.WriteString("var __result = (function() {\n")
	b.WriteString(rewritten)
	b.WriteString("\n})();\n__result;\n")
	return b.String(), nil
}

// buildResult formats the sandbox outcome, writing "result: <json>" to
// stdout when the fragment completed with a defined value, matching the
// broker's run_code stdout contract.
func buildResult(stdout, stderr *bytes.Buffer, v goja.Value) *task.SandboxResult {
	var value any
	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		value = v.Export()
		if b, err := json.Marshal(value); err == nil {
			fmt.Fprintf(stdout, "result: %s\n", b)
		}
	}
	return &task.SandboxResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Value:    value,
	}
}

// installConsole declares console.{log,info,warn,error}, buffering every
// line into stdout/stderr and, when emitter is non-nil, also forwarding
// it live through EmitOutputLine. A live-emit failure is ignored: the
// buffered copy returned at the end of Run is always the source of
// truth.
func installConsole(ctx context.Context, vm *goja.Runtime, stdout, stderr *bytes.Buffer, runID string, emitter task.OutputEmitter) {
	logTo := func(buf *bytes.Buffer, stream string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = fmt.Sprint(a.Export())
			}
			line := strings.Join(parts, " ")
			fmt.Fprintln(buf, line)
			if emitter != nil {
				_ = emitter.EmitOutputLine(ctx, runID, stream, line)
			}
			return goja.Undefined()
		}
	}
	console := vm.NewObject()
	_ = console.Set("log", logTo(stdout, "stdout"))
	_ = console.Set("info", logTo(stdout, "stdout"))
	_ = console.Set("warn", logTo(stderr, "stderr"))
	_ = console.Set("error", logTo(stderr, "stderr"))
	vm.Set("console", console)
}

// installTimers declares setTimeout/clearTimeout to match the
// declaration bundle's prelude. The sandbox has no event loop to defer
// into, so a scheduled callback runs synchronously, immediately, at the
// point setTimeout is called; ctx's deadline (enforced around the whole
// Run call) is what actually bounds a fragment's wall-clock time.
func installTimers(vm *goja.Runtime) {
	var nextID int
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			_, _ = fn(goja.Undefined())
		}
		nextID++
		return vm.ToValue(nextID)
	})
	vm.Set("clearTimeout", func(goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
}
