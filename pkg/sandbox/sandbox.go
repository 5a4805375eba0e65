// Package sandbox implements the Sandbox Supervisor from spec.md §4.5: it
// runs untrusted code snippets to completion (or timeout) inside an
// isolated goja.Runtime, with no filesystem or network access beyond the
// restricted tool-call surface explicitly injected as the global mcp
// object (alongside the globals deps and args).
//
// Grounded on the goja embedding patterns in
// joeycumines-go-utilpkg/goja-eventloop and goja-grpc (a fresh
// goja.Runtime per invocation is the isolation unit; native Go closures
// are the only bridge back out), generalized here to dagrunner's
// dependency/tool-call context shape (spec.md §4.5).
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/kadirpekel/dagrunner/pkg/logger"
)

// ErrorType classifies a sandbox failure, per spec.md §4.5.
type ErrorType string

const (
	RuntimeError    ErrorType = "RuntimeError"
	SyntaxError     ErrorType = "SyntaxError"
	TimeoutError    ErrorType = "TimeoutError"
	PermissionError ErrorType = "PermissionError"
)

// timeoutInterruptValue is passed to goja's Interrupt so the post-mortem
// error can be recognized as a timeout rather than a generic abort.
const timeoutInterruptValue = "dagrunner: sandbox execution timed out"

// permissionDeniedMarker tags Go errors raised by the denied-capability
// shim so Execute can classify them as PermissionError.
const permissionDeniedMarker = "permission denied"

// Error is the structured failure reported by Execute.
type Error struct {
	Type    ErrorType
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Trace records one start/end span, for the outer code execution or for a
// single tool call it performed (spec.md §4.5).
type Trace struct {
	Name  string
	Start time.Time
	End   time.Time
}

// ToolDef declares one callable surface exposed to the sandboxed code as
// mcp.<Server>.<Name>(args), or — for a previously-registered
// capability — as mcp["$cap:<uuid>"](args) when Server is empty
// and Name is the full capability token (spec.md §4.5, Glossary
// "Capability").
type ToolDef struct {
	Server string
	Name   string
	Invoke func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (t ToolDef) traceName() string {
	if t.Server == "" {
		return t.Name
	}
	return t.Server + ":" + t.Name
}

// Result is the structured outcome of Execute, per spec.md §4.5.
type Result struct {
	Success         bool
	Result          any
	Err             *Error
	ExecutionTimeMs int64
	Traces          []Trace
	ToolsCalled     []string
}

// Supervisor runs code snippets in isolated goja workers.
type Supervisor struct{}

// NewSupervisor creates a Sandbox Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Execute runs code in a fresh, isolated goja.Runtime with the given
// dependency/argument context and tool surface, subject to timeout.
//
// The outer ctx additionally bounds the call for caller-side cancellation
// (a workflow abort, spec.md §5); goja's own Interrupt mechanism is what
// enforces the per-task timeout, since goja.Runtime is not itself
// context-aware.
func (s *Supervisor) Execute(ctx context.Context, code string, deps, args map[string]any, toolDefs []ToolDef, timeout time.Duration) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		done <- s.run(code, deps, args, toolDefs, timeout)
	}()

	select {
	case <-ctx.Done():
		return Result{
			Success:         false,
			Err:             &Error{Type: RuntimeError, Message: ctx.Err().Error()},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	case r := <-done:
		return r
	}
}

func (s *Supervisor) run(code string, deps, args map[string]any, toolDefs []ToolDef, timeout time.Duration) Result {
	start := time.Now()
	rt := goja.New()

	var mu sync.Mutex
	var traces []Trace
	var toolsCalled []string

	rt.Set("deps", deps)
	rt.Set("args", args)
	rt.Set("mcp", buildMCP(rt, toolDefs, &mu, &traces, &toolsCalled))

	prog, err := goja.Compile("task", wrapAsIIFE(code), false)
	if err != nil {
		return Result{
			Success:         false,
			Err:             &Error{Type: SyntaxError, Message: err.Error()},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	timer := time.AfterFunc(timeout, func() { rt.Interrupt(timeoutInterruptValue) })
	defer timer.Stop()

	outerStart := time.Now()
	value, runErr := rt.RunProgram(prog)
	outerEnd := time.Now()

	mu.Lock()
	allTraces := append([]Trace{{Name: "task", Start: outerStart, End: outerEnd}}, traces...)
	calledCopy := append([]string(nil), toolsCalled...)
	mu.Unlock()

	elapsed := time.Since(start).Milliseconds()

	if runErr != nil {
		return Result{
			Success:         false,
			Err:             classifyError(runErr),
			ExecutionTimeMs: elapsed,
			Traces:          allTraces,
			ToolsCalled:     calledCopy,
		}
	}

	return Result{
		Success:         true,
		Result:          value.Export(),
		ExecutionTimeMs: elapsed,
		Traces:          allTraces,
		ToolsCalled:     calledCopy,
	}
}

// wrapAsIIFE wraps a snippet so a bare top-level "return expr" (the
// convention used throughout spec.md's examples) becomes the value of the
// evaluated program.
func wrapAsIIFE(code string) string {
	return "(function(){\n" + code + "\n})()"
}

func classifyError(err error) *Error {
	msg := err.Error()

	var classified *Error
	switch {
	case strings.Contains(msg, timeoutInterruptValue):
		classified = &Error{Type: TimeoutError, Message: msg}
	case strings.Contains(msg, permissionDeniedMarker):
		classified = &Error{Type: PermissionError, Message: msg}
	default:
		classified = &Error{Type: RuntimeError, Message: msg}
	}

	logger.Get().Debug("sandbox execution failed", "error_type", classified.Type, "message", msg)
	return classified
}

// buildMCP constructs the mcp object. Every declared ToolDef gets a real
// callable; accessing any other capability, server or tool name — via the
// DynamicObject fallbacks below — ends in a callable that raises a
// permission-denied error when invoked, rather than silently returning
// undefined, so denied-capability access is always observable as a
// structured PermissionError instead of a generic "undefined is not a
// function" runtime error (spec.md §4.5).
func buildMCP(rt *goja.Runtime, toolDefs []ToolDef, mu *sync.Mutex, traces *[]Trace, toolsCalled *[]string) *goja.Object {
	servers := map[string]map[string]ToolDef{}
	capabilities := map[string]ToolDef{}

	for _, td := range toolDefs {
		if td.Server == "" {
			capabilities[td.Name] = td
			continue
		}
		if servers[td.Server] == nil {
			servers[td.Server] = map[string]ToolDef{}
		}
		servers[td.Server][td.Name] = td
	}

	record := func(td ToolDef) goja.Value {
		return rt.ToValue(func(call goja.FunctionCall) goja.Value {
			var callArgs map[string]any
			if len(call.Arguments) > 0 {
				if m, ok := call.Arguments[0].Export().(map[string]any); ok {
					callArgs = m
				}
			}

			callStart := time.Now()
			out, err := td.Invoke(context.Background(), callArgs)
			callEnd := time.Now()

			mu.Lock()
			*traces = append(*traces, Trace{Name: td.traceName(), Start: callStart, End: callEnd})
			*toolsCalled = append(*toolsCalled, td.traceName())
			mu.Unlock()

			if err != nil {
				panic(rt.NewGoError(err))
			}
			return rt.ToValue(out)
		})
	}

	denied := func(name string) goja.Value {
		return rt.ToValue(func(call goja.FunctionCall) goja.Value {
			panic(rt.NewGoError(fmt.Errorf("%s: tool %q is not registered", permissionDeniedMarker, name)))
		})
	}

	serverObjects := make(map[string]*goja.Object, len(servers))
	for serverName, tools := range servers {
		toolValues := make(map[string]goja.Value, len(tools))
		for toolName, td := range tools {
			toolValues[toolName] = record(td)
		}
		serverObjects[serverName] = rt.NewDynamicObject(&toolNamespace{
			rt: rt, server: serverName, tools: toolValues, denied: denied,
		})
	}

	capValues := make(map[string]goja.Value, len(capabilities))
	for capName, td := range capabilities {
		capValues[capName] = record(td)
	}

	return rt.NewDynamicObject(&mcpRoot{
		rt: rt, servers: serverObjects, capabilities: capValues, denied: denied,
	})
}

// mcpRoot backs the top-level mcp object. A lookup that matches a
// registered capability or server returns it; any other "$cap:" key
// returns a callable that raises PermissionError when invoked, and any
// other key returns an empty server namespace whose every tool does.
type mcpRoot struct {
	rt           *goja.Runtime
	servers      map[string]*goja.Object
	capabilities map[string]goja.Value
	denied       func(name string) goja.Value
}

func (m *mcpRoot) Get(key string) goja.Value {
	if v, ok := m.capabilities[key]; ok {
		return v
	}
	if obj, ok := m.servers[key]; ok {
		return m.rt.ToValue(obj)
	}
	if strings.HasPrefix(key, "$cap:") {
		return m.denied(key)
	}
	// An unregistered server still resolves to a namespace, so that
	// mcp.<server>.<tool>(...) reaches the permission-denied shim instead
	// of failing on an undefined member.
	return m.rt.NewDynamicObject(&toolNamespace{rt: m.rt, server: key, denied: m.denied})
}

func (m *mcpRoot) Set(key string, val goja.Value) bool { return false }
func (m *mcpRoot) Has(key string) bool {
	_, capOK := m.capabilities[key]
	_, srvOK := m.servers[key]
	return capOK || srvOK
}
func (m *mcpRoot) Delete(key string) bool { return false }
func (m *mcpRoot) Keys() []string {
	keys := make([]string, 0, len(m.capabilities)+len(m.servers))
	for k := range m.capabilities {
		keys = append(keys, k)
	}
	for k := range m.servers {
		keys = append(keys, k)
	}
	return keys
}

// toolNamespace backs a single server's object (context.mcp.<server>). A
// lookup that matches a registered tool name returns it; any other tool
// name on a known server is still a denied capability, not a different
// failure mode, so it shares the same permission-denied shim.
type toolNamespace struct {
	rt     *goja.Runtime
	server string
	tools  map[string]goja.Value
	denied func(name string) goja.Value
}

func (n *toolNamespace) Get(key string) goja.Value {
	if v, ok := n.tools[key]; ok {
		return v
	}
	return n.denied(n.server + ":" + key)
}

func (n *toolNamespace) Set(key string, val goja.Value) bool { return false }
func (n *toolNamespace) Has(key string) bool {
	_, ok := n.tools[key]
	return ok
}
func (n *toolNamespace) Delete(key string) bool { return false }
func (n *toolNamespace) Keys() []string {
	keys := make([]string, 0, len(n.tools))
	for k := range n.tools {
		keys = append(keys, k)
	}
	return keys
}
