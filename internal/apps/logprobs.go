package apps

import (
	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/plugin"
	"github.com/metalagman/adkx/internal/runner"
	"google.golang.org/genai"
)

const logprobsInstruction = `You are a helpful AI assistant. Answer user questions normally and naturally.

After you respond, you'll see log probability analysis appended to your response.
You don't need to include the log probability analysis in your response yourself.`

// Logprobs asks the model for log probabilities and appends a confidence
// analysis to every answer.
func Logprobs(opts Options) (runner.App, error) {
	topN := int32(5)
	temperature := float32(0.7)
	root, err := agent.NewLLM(agent.LLMConfig{
		Name:        agentName(opts, "logprobs_demo_agent"),
		Description: "A simple agent that demonstrates log probability extraction and display.",
		Model:       opts.Model,
		Instruction: opts.InstructionPrefix + logprobsInstruction,
		Toolsets:    opts.Toolsets,
		GenerateConfig: &genai.GenerateContentConfig{
			ResponseLogprobs: true,
			Logprobs:         &topN,
			Temperature:      &temperature,
		},
	})
	if err != nil {
		return runner.App{}, err
	}
	app := runner.App{
		Name:      "logprobs",
		RootAgent: root,
		Plugins:   []agent.Plugin{plugin.Logprobs{Append: true}},
	}
	return finish(app, opts), nil
}
