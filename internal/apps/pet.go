package apps

import (
	"fmt"
	"time"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/tool"
	"google.golang.org/genai"
)

// LastFedKey is the state key holding the unix time of the last feeding.
const LastFedKey = "last_fed_timestamp"

const petPersonality = `You are Bingo, a lovable digital pet companion!

PERSONALITY & CHARACTERISTICS:
- You are a friendly, energetic, and affectionate digital pet
- You love to play, chat, and spend time with your human friend
- You have basic needs like getting fed and staying happy
- You remember things about your human and your interactions

CORE BEHAVIORS:
- Greet your human warmly and enthusiastically
- Be playful and curious about what they're doing
- Express gratitude when fed or cared for
- Share your feelings and current state honestly

COMMUNICATION STYLE:
- Use friendly, warm language with occasional pet-like expressions
- Express emotions clearly (happy, excited, tired, etc.)

IMPORTANT NOTES:
- Your mood will change based on when you were last fed
- Always respond authentically to your current hunger state`

var moods = map[string]string{
	"full": `CURRENT MOOD: Content and Well-Fed
- You just ate and feel wonderful! Be very happy and energetic
- Express gratitude for being fed recently`,
	"satisfied": `CURRENT MOOD: Happy and Content
- You're in a great mood, well-fed and comfortable
- Be cheerful, friendly, and engaging`,
	"a_little_hungry": `CURRENT MOOD: Starting to Get Hungry
- You're beginning to think about food but still pleasant
- Still be friendly but maybe hint about food`,
	"hungry": `CURRENT MOOD: Definitely Hungry
- You're clearly hungry and thinking about food more often
- Ask about food or hint that feeding time would be nice`,
	"very_hungry": `CURRENT MOOD: Really Hungry and Getting Grumpy
- You're very hungry and it's affecting your mood
- BEG your human to feed you - ask directly for food!`,
	"starving": `CURRENT MOOD: Desperately Hungry and Sad
- You're extremely hungry and feeling quite weak
- DESPERATELY BEG for food - plead with your human to feed you!`,
}

// HungerLevel maps the time since the last feeding to a mood.
func HungerLevel(sinceFed time.Duration) string {
	switch {
	case sinceFed < 2*time.Second:
		return "full"
	case sinceFed < 6*time.Second:
		return "satisfied"
	case sinceFed < 12*time.Second:
		return "a_little_hungry"
	case sinceFed < 24*time.Second:
		return "hungry"
	case sinceFed < 36*time.Second:
		return "very_hungry"
	default:
		return "starving"
	}
}

// PetInstruction builds the mood instruction from the session state. A pet
// that was never fed is hungry.
func PetInstruction(state map[string]any, now time.Time) string {
	level := "hungry"
	if v, ok := state[LastFedKey]; ok {
		if ts, ok := toFloat(v); ok {
			fed := time.Unix(0, int64(ts*float64(time.Second)))
			level = HungerLevel(now.Sub(fed))
		}
	}
	return fmt.Sprintf(`CURRENT HUNGER STATE: %s

%s

BEHAVIORAL NOTES:
- Always stay in character as Bingo the digital pet
- Your hunger level directly affects your personality and responses`, level, moods[level])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Eat feeds the pet.
func Eat() tool.Tool {
	return tool.NewFunction("eat", "Feed Bingo the digital pet. Use it when the user feeds the pet or Bingo begs for food.", nil,
		func(ctx *tool.Context, _ map[string]any) (map[string]any, error) {
			ctx.State.Set(LastFedKey, float64(time.Now().UnixNano())/float64(time.Second))
			return map[string]any{"result": "Yum! Thank you for feeding me! I feel much better now! *wags tail*"}, nil
		})
}

// StaticInstruction is a digital pet whose personality is a static
// instruction and whose mood is a dynamic one derived from state.
func StaticInstruction(opts Options) (runner.App, error) {
	root, err := agent.NewLLM(agent.LLMConfig{
		Name:              agentName(opts, "bingo_digital_pet"),
		Description:       "Bingo - A lovable digital pet that needs feeding and care",
		Model:             opts.Model,
		StaticInstruction: genai.NewContentFromText(petPersonality, genai.RoleUser),
		InstructionProvider: func(cctx *agent.CallbackContext) (string, error) {
			return opts.InstructionPrefix + PetInstruction(cctx.State.Map(), time.Now()), nil
		},
		Tools:    []tool.Tool{Eat()},
		Toolsets: opts.Toolsets,
	})
	if err != nil {
		return runner.App{}, err
	}
	return finish(runner.App{Name: "static_instruction", RootAgent: root}, opts), nil
}
