package apps

import (
	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/tool"
	"google.golang.org/genai"
)

const approvalInstruction = `You are an agent whose job is to handle the reimbursement process for
the employees. If the amount is less than $100, you will automatically
approve the reimbursement.

If the amount is greater than $100, you will ask for approval from the
manager. If the manager approves, you will call reimburse() to reimburse
the amount to the employee. If the manager rejects, you will inform the
employee of the rejection.`

type reimburseArgs struct {
	Purpose string  `json:"purpose"`
	Amount  float64 `json:"amount"`
}

type ticket struct {
	Status   string  `json:"status"`
	Amount   float64 `json:"amount,omitempty"`
	TicketID string  `json:"ticketId,omitempty"`
}

var reimburseParams = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"purpose": stringProp("What the money was spent on."),
		"amount":  {Type: genai.TypeNumber, Description: "The amount to reimburse."},
	},
	Required: []string{"purpose", "amount"},
}

// Reimburse pays out an approved amount.
func Reimburse() tool.Tool {
	return tool.NewTyped("reimburse", "Reimburse the amount of money to the employee.", reimburseParams,
		func(_ *tool.Context, _ reimburseArgs) (ticket, error) {
			return ticket{Status: "ok"}, nil
		})
}

// AskForApproval opens an approval ticket. The manager's decision arrives
// later as the function response.
func AskForApproval() tool.Tool {
	return tool.NewLongRunning("ask_for_approval", "Ask for approval for the reimbursement.", reimburseParams,
		func(ctx *tool.Context, args map[string]any) (map[string]any, error) {
			amount, _ := args["amount"].(float64)
			return map[string]any{
				"status":   "pending",
				"amount":   amount,
				"ticketId": "reimbursement-ticket-" + ctx.FunctionCallID,
			}, nil
		})
}

// HumanInTheLoop handles reimbursements, pausing for manager approval on
// large amounts.
func HumanInTheLoop(opts Options) (runner.App, error) {
	root, err := agent.NewLLM(agent.LLMConfig{
		Name:        agentName(opts, "reimbursement_agent"),
		Description: "Handles employee reimbursements with manager approval.",
		Model:       opts.Model,
		Instruction: opts.InstructionPrefix + approvalInstruction,
		Tools:       []tool.Tool{Reimburse(), AskForApproval()},
		Toolsets:    opts.Toolsets,
	})
	if err != nil {
		return runner.App{}, err
	}
	return finish(runner.App{Name: "human_in_the_loop", RootAgent: root, Resumability: true}, opts), nil
}
