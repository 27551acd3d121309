package apps

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/tool"
	"google.golang.org/genai"
)

const helloInstruction = `You roll dice and answer questions about the outcome of the dice rolls.
You can roll dice of different sizes.
When you are asked to roll a die, you must call the roll_die tool with the number of sides. Pass an integer.
You should never roll a die on your own.
When checking prime numbers, call the check_prime tool with a list of integers.
You should not check prime numbers before calling the tool.
When you are asked to roll a die and check prime numbers, first call roll_die, wait for its
response, then call check_prime with the result. Include the roll in your answer.`

type rollArgs struct {
	Sides int `json:"sides"`
}

type primeArgs struct {
	Nums []int `json:"nums"`
}

// RollDie rolls a die and records the roll in the "rolls" state key.
func RollDie() tool.Tool {
	params := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"sides": {Type: genai.TypeInteger, Description: "The number of sides the die has."}},
		Required:   []string{"sides"},
	}
	return tool.NewTyped("roll_die", "Roll a die and return the rolled result.", params,
		func(ctx *tool.Context, in rollArgs) (int, error) {
			if in.Sides < 1 {
				return 0, fmt.Errorf("sides must be positive, got %d", in.Sides)
			}
			result := rand.IntN(in.Sides) + 1
			var rolls []any
			if v, ok := ctx.State.Get("rolls"); ok {
				rolls, _ = v.([]any)
			}
			ctx.State.Set("rolls", append(append([]any(nil), rolls...), result))
			return result, nil
		})
}

// CheckPrime reports which of the given numbers are prime.
func CheckPrime() tool.Tool {
	params := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"nums": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeInteger}, Description: "The numbers to check."},
		},
		Required: []string{"nums"},
	}
	return tool.NewTyped("check_prime", "Check if the given numbers are prime.", params,
		func(_ *tool.Context, in primeArgs) (string, error) {
			var primes []string
			seen := map[int]bool{}
			for _, n := range in.Nums {
				if isPrime(n) && !seen[n] {
					seen[n] = true
					primes = append(primes, fmt.Sprint(n))
				}
			}
			if len(primes) == 0 {
				return "No prime numbers found.", nil
			}
			return strings.Join(primes, ", ") + " are prime numbers.", nil
		})
}

func isPrime(n int) bool {
	if n <= 1 {
		return false
	}
	for i := 2; i <= int(math.Sqrt(float64(n))); i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// HelloWorld is a dice rolling agent with artifact loading.
func HelloWorld(opts Options) (runner.App, error) {
	root, err := agent.NewLLM(agent.LLMConfig{
		Name:        agentName(opts, "hello_world_agent"),
		Description: "hello world agent that can roll a dice of 8 sides and check prime numbers.",
		Model:       opts.Model,
		Instruction: opts.InstructionPrefix + helloInstruction,
		Tools:       []tool.Tool{RollDie(), CheckPrime(), tool.LoadArtifacts()},
		Toolsets:    opts.Toolsets,
		GenerateConfig: &genai.GenerateContentConfig{
			SafetySettings: []*genai.SafetySetting{{
				Category:  genai.HarmCategoryDangerousContent,
				Threshold: genai.HarmBlockThresholdOff,
			}},
		},
	})
	if err != nil {
		return runner.App{}, err
	}
	return finish(runner.App{Name: "hello_world", RootAgent: root}, opts), nil
}
