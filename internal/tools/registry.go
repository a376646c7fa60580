// Package tools implements the agent's tool suite: shell execution,
// file inspection, grep, patch application, and the optional web
// tools. The registry validates model-supplied arguments against each
// tool's JSON schema before dispatch, and all failures flow back to
// the model as {"error": ...} tool results rather than aborting the
// run.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ExecutionContext is the per-run environment shared by every tool.
type ExecutionContext struct {
	// Cwd anchors relative paths passed by the model.
	Cwd string
	// MaxOutputChars caps each output stream per tool result.
	MaxOutputChars int
}

// Tool bundles a tool's definition with its implementation.
type Tool struct {
	Name        string
	Description string
	// SchemaJSON is the JSON schema for the arguments. Every property
	// is listed in required because some providers enforce that;
	// optional properties allow null instead.
	SchemaJSON string
	// Fn executes the tool. A nil Fn marks a definition-only tool that
	// the engine intercepts itself (submit).
	Fn func(ctx context.Context, args json.RawMessage, ec ExecutionContext) (string, error)
}

// ValidateArgs checks raw arguments against the tool's schema.
func (t Tool) ValidateArgs(arguments string) error {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	docLoader := gojsonschema.NewStringLoader(arguments)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", t.Name, err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("invalid arguments for %s: %s", t.Name, strings.Join(details, "; "))
	}
	return nil
}

// Registry holds the run's tools in a stable order.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
}

// Options selects which optional tools are registered.
type Options struct {
	// SubmitEnabled adds the submit definition the engine intercepts.
	SubmitEnabled bool
	// Web enables web_search/web_open/web_find. Nil disables them.
	Web *WebConfig
}

// NewRegistry builds the tool set for a run.
func NewRegistry(opts Options) *Registry {
	r := &Registry{byName: make(map[string]Tool)}
	r.register(shellCommandTool())
	r.register(readFileTool())
	r.register(listDirTool())
	r.register(grepFilesTool())
	r.register(applyPatchTool())
	if opts.Web != nil {
		web := newWebTools(opts.Web)
		r.register(web.searchTool())
		r.register(web.openTool())
		r.register(web.findTool())
	}
	if opts.SubmitEnabled {
		r.register(submitTool())
	}
	return r
}

func (r *Registry) register(t Tool) {
	r.tools = append(r.tools, t)
	r.byName[t.Name] = t
}

// HasWebTools reports whether the web suite is registered.
func (r *Registry) HasWebTools() bool {
	_, ok := r.byName["web_search"]
	return ok
}

// Definitions returns the tool definitions in registration order,
// shaped for the chat-completions tools array.
func (r *Registry) Definitions() []json.RawMessage {
	defs := make([]json.RawMessage, 0, len(r.tools))
	for _, t := range r.tools {
		def := map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  json.RawMessage(t.SchemaJSON),
			},
		}
		raw, err := json.Marshal(def)
		if err != nil {
			continue
		}
		defs = append(defs, raw)
	}
	return defs
}

// Execute validates and runs a tool, returning the JSON result the
// model will see. Unknown tools, schema violations, and tool failures
// all come back as {"error": ...} results.
func (r *Registry) Execute(ctx context.Context, name, arguments string, ec ExecutionContext) string {
	tool, ok := r.byName[name]
	if !ok || tool.Fn == nil {
		return ErrorResult(fmt.Sprintf("Unknown tool: %s", name))
	}
	if err := tool.ValidateArgs(arguments); err != nil {
		return ErrorResult(err.Error())
	}
	out, err := tool.Fn(ctx, json.RawMessage(arguments), ec)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return out
}

// ErrorResult wraps a failure message in the tool-error envelope.
func ErrorResult(message string) string {
	raw, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(raw)
}

func submitTool() Tool {
	return Tool{
		Name:        "submit",
		Description: "Submit the final answer and finish the task.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"answer": { "type": "string", "description": "Concise final answer for the task." }
			},
			"required": ["answer"],
			"additionalProperties": false
		}`,
	}
}

// resolvePath anchors p at cwd unless it is already absolute.
func resolvePath(cwd, p string) string {
	if p == "" {
		return filepath.Clean(cwd)
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(cwd, p))
}

func marshalResult(v map[string]any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(raw), nil
}
