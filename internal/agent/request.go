package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/metalagman/adkx/internal/instruction"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"google.golang.org/genai"
)

// buildRequest assembles the model request for one step: generation
// config, instructions, conversation contents, cache state and tools.
func (a *LLMAgent) buildRequest(ictx *InvocationContext, model llm.Model) (*llm.Request, error) {
	req := llm.NewRequest(model.Name())
	if a.cfg.GenerateConfig != nil {
		cp := *a.cfg.GenerateConfig
		req.Config = &cp
	}
	if a.cfg.OutputSchema != nil {
		req.SetOutputSchema(a.cfg.OutputSchema)
	}

	refs, dynamic, err := a.instructions(ictx, req)
	if err != nil {
		return nil, err
	}
	req.Contents = append(refs, a.contents(ictx)...)
	if dynamic != "" {
		req.Contents = insertBeforeUserBatch(req.Contents, genai.NewContentFromText(dynamic, genai.RoleUser))
	}

	applyCacheConfig(ictx, req)

	if err := a.addTools(ictx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// instructions adds the global, static and dynamic instructions. With a
// static instruction the dynamic one is returned for placement in the
// conversation; otherwise it joins the system instruction and dynamic is
// empty. refs are the user contents referenced by the static instruction.
func (a *LLMAgent) instructions(ictx *InvocationContext, req *llm.Request) (refs []*genai.Content, dynamic string, err error) {
	if root, ok := Root(a).(*LLMAgent); ok && root.cfg.GlobalInstruction != "" {
		text, err := instruction.Inject(ictx, root.cfg.GlobalInstruction, injectSource(ictx))
		if err != nil {
			return nil, "", fmt.Errorf("global instruction: %w", err)
		}
		req.AppendInstructions(text)
	}

	if a.cfg.StaticInstruction != nil {
		refs = req.AppendInstructionContent(a.cfg.StaticInstruction)
	}

	switch {
	case a.cfg.InstructionProvider != nil:
		dynamic, err = a.cfg.InstructionProvider(newCallbackContext(ictx))
	case a.cfg.Instruction != "":
		dynamic, err = instruction.Inject(ictx, a.cfg.Instruction, injectSource(ictx))
	}
	if err != nil {
		return nil, "", fmt.Errorf("instruction: %w", err)
	}
	if a.cfg.StaticInstruction == nil {
		req.AppendInstructions(dynamic)
		dynamic = ""
	}
	return refs, dynamic, nil
}

func injectSource(ictx *InvocationContext) instruction.Source {
	src := instruction.Source{Artifacts: ictx.Artifacts}
	if s := ictx.Session; s != nil {
		src.State = s.State()
		src.AppName, src.UserID, src.SessionID = s.AppName, s.UserID, s.ID
	}
	return src
}

// insertBeforeUserBatch puts c before the trailing run of user contents.
func insertBeforeUserBatch(contents []*genai.Content, c *genai.Content) []*genai.Content {
	i := len(contents)
	for i > 0 && contents[i-1] != nil && contents[i-1].Role == string(genai.RoleUser) {
		i--
	}
	return slices.Insert(contents, i, c)
}

// addTools declares the agent tools, the transfer tool when the agent can
// delegate, and lets request-processing tools amend the request.
func (a *LLMAgent) addTools(ictx *InvocationContext, req *llm.Request) error {
	tools := slices.Clone(a.cfg.Tools)
	for _, ts := range a.cfg.Toolsets {
		more, err := ts.Tools(ictx)
		if err != nil {
			return fmt.Errorf("resolve toolset: %w", err)
		}
		tools = append(tools, more...)
	}

	if targets := a.transferTargets(); len(targets) > 0 {
		req.AppendInstructions(transferInstruction(a, targets))
		tools = append(tools, tool.TransferToAgent())
	}
	req.AppendTools(tools...)

	tctx := tool.NewContext(ictx, ictx.InvocationID, a.name, ictx.Session, ictx.Artifacts, &session.Actions{})
	for _, t := range tools {
		p, ok := t.(tool.RequestProcessor)
		if !ok {
			continue
		}
		if err := p.ProcessRequest(tctx, req); err != nil {
			return fmt.Errorf("tool %s: process request: %w", t.Name(), err)
		}
	}
	return nil
}

func transferInstruction(a *LLMAgent, targets []Agent) string {
	var b strings.Builder
	b.WriteString("\nYou have a list of other agents to transfer to:\n\n")
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		fmt.Fprintf(&b, "\nAgent name: %s\nAgent description: %s\n\n", t.Name(), t.Description())
		names = append(names, "`"+t.Name()+"`")
	}
	slices.Sort(names)
	b.WriteString(`
If you are the best to answer the question according to your description, you
can answer it.

If another agent is better for answering the question according to its
description, call ` + "`" + tool.TransferToAgentName + "`" + ` function to transfer the
question to that agent. When transferring, do not generate any text other than
the function call.
`)
	fmt.Fprintf(&b, "\n**NOTE**: the only available agents for `%s` function are %s.\n", tool.TransferToAgentName, strings.Join(names, ", "))
	if p := a.Parent(); p != nil && !a.cfg.DisallowTransferToParent {
		if _, ok := p.(*LLMAgent); ok {
			fmt.Fprintf(&b, "\nIf neither you nor the other agents are best for the question, transfer to your parent agent %s.", p.Name())
		}
	}
	return b.String()
}
