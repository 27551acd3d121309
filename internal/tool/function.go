package tool

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// Func is the body of a function tool.
type Func func(ctx *Context, args map[string]any) (map[string]any, error)

const longRunningNote = "NOTE: This is a long-running operation. Do not call this tool again if it has already returned some intermediate or pending status."

type function struct {
	name        string
	description string
	params      *genai.Schema
	longRunning bool
	fn          Func
}

// NewFunction returns a tool that calls fn with the model's arguments.
func NewFunction(name, description string, params *genai.Schema, fn Func) Tool {
	return &function{name: name, description: description, params: params, fn: fn}
}

// NewLongRunning returns a function tool whose result is an intermediate
// status. The final result arrives later as a new function response.
func NewLongRunning(name, description string, params *genai.Schema, fn Func) Tool {
	if description != "" {
		description += "\n\n"
	}
	return &function{name: name, description: description + longRunningNote, params: params, longRunning: true, fn: fn}
}

// NewTyped adapts a typed function. Arguments are decoded into In through
// JSON and Out is encoded back into a map; non-object outputs are returned
// under "result".
func NewTyped[In, Out any](name, description string, params *genai.Schema, fn func(ctx *Context, in In) (Out, error)) Tool {
	return NewFunction(name, description, params, func(ctx *Context, args map[string]any) (map[string]any, error) {
		var in In
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode %s arguments: %w", name, err)
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", name, err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return toMap(out)
	})
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil && m != nil {
		return m, nil
	}
	var scalar any
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return map[string]any{"result": scalar}, nil
}

func (f *function) Name() string        { return f.name }
func (f *function) Description() string { return f.description }
func (f *function) IsLongRunning() bool { return f.longRunning }

func (f *function) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: f.name, Description: f.description, Parameters: f.params}
}

func (f *function) Run(ctx *Context, args map[string]any) (map[string]any, error) {
	return f.fn(ctx, args)
}
