package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// TransferToAgentName is the function the model calls to hand the
// conversation to another agent.
const TransferToAgentName = "transfer_to_agent"

// ExitLoop returns a tool that stops the enclosing loop agent.
func ExitLoop() Tool {
	return NewFunction("exit_loop",
		"Exits the loop.\n\nCall this function only when you are instructed to do so.",
		nil,
		func(ctx *Context, _ map[string]any) (map[string]any, error) {
			ctx.Actions.Escalate = true
			ctx.Actions.SkipSummarization = true
			return map[string]any{}, nil
		})
}

// TransferToAgent returns the tool an LLM agent gets when it can delegate.
func TransferToAgent() Tool {
	params := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"agent_name": {Type: genai.TypeString, Description: "the agent name to transfer to"},
		},
		Required: []string{"agent_name"},
	}
	return NewFunction(TransferToAgentName,
		"Transfer the question to another agent. This tool hands off control to another agent when it's more suitable to answer the user's question according to the agent's description.",
		params,
		func(ctx *Context, args map[string]any) (map[string]any, error) {
			name, _ := args["agent_name"].(string)
			if name == "" {
				return nil, fmt.Errorf("transfer_to_agent: agent_name is required")
			}
			ctx.Actions.TransferToAgent = name
			return map[string]any{}, nil
		})
}

type loadArtifacts struct{}

// LoadArtifacts returns a tool that lets the model read session artifacts.
// It lists the available artifacts in the instructions and attaches the
// requested ones after the model calls it.
func LoadArtifacts() Tool {
	return loadArtifacts{}
}

func (loadArtifacts) Name() string        { return "load_artifacts" }
func (loadArtifacts) IsLongRunning() bool { return false }
func (loadArtifacts) Description() string {
	return "Loads the artifacts and adds them to the session."
}

func (l loadArtifacts) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        l.Name(),
		Description: l.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"artifact_names": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			},
		},
	}
}

func (loadArtifacts) Run(_ *Context, args map[string]any) (map[string]any, error) {
	names := stringList(args["artifact_names"])
	return map[string]any{
		"artifact_names": names,
		"status":         "artifact contents temporarily inserted and removed. to access these artifacts, call load_artifacts tool again.",
	}, nil
}

func (l loadArtifacts) ProcessRequest(ctx *Context, req Request) error {
	names, err := ctx.ListArtifacts()
	if err != nil || len(names) == 0 {
		return nil
	}
	quoted, _ := json.Marshal(names)
	req.AppendInstructions(fmt.Sprintf("You have a list of artifacts:\n  %s\n\nWhen the user asks questions about any of the artifacts, you should call the `load_artifacts` function to load the artifact. Do not generate any text other than the function call.", quoted))

	last := req.LastContent()
	if last == nil {
		return nil
	}
	for _, p := range last.Parts {
		if p.FunctionResponse == nil || p.FunctionResponse.Name != l.Name() {
			continue
		}
		for _, name := range stringList(p.FunctionResponse.Response["artifact_names"]) {
			part, err := ctx.LoadArtifact(name)
			if err != nil {
				return fmt.Errorf("load artifact %s: %w", name, err)
			}
			req.AppendContents(&genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{
				genai.NewPartFromText("Artifact " + name + " is:"),
				part,
			}})
		}
	}
	return nil
}

func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
