package adkbridge

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/llm/llmtest"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"
	adksession "google.golang.org/adk/session"
	"google.golang.org/genai"
)

type fakeLLM struct {
	reply string
	err   error
	reqs  []*model.LLMRequest
}

func (f *fakeLLM) Name() string { return "fake-adk" }

func (f *fakeLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		f.reqs = append(f.reqs, req)
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		yield(&model.LLMResponse{
			Content:       genai.NewContentFromText(f.reply, genai.RoleModel),
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 12},
			TurnComplete:  true,
		}, nil)
	}
}

func runOnce(t *testing.T, r *runner.Runner, text string) ([]*session.Event, error) {
	t.Helper()
	ctx := context.Background()
	_, err := r.Sessions().Create(ctx, &session.CreateRequest{AppName: r.AppName(), UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	var out []*session.Event
	for ev, err := range r.Run(ctx, "u", "s", genai.NewContentFromText(text, genai.RoleUser), agent.RunConfig{}) {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func TestFromADKServesAgent(t *testing.T) {
	fake := &fakeLLM{reply: "from adk"}
	root, err := agent.NewLLM(agent.LLMConfig{Name: "assistant", Model: FromADK(fake)})
	require.NoError(t, err)
	cfg := cache.DefaultConfig()
	r, err := runner.InMemory(runner.App{Name: "bridge", RootAgent: root, CacheConfig: &cfg})
	require.NoError(t, err)

	events, err := runOnce(t, r, "ping")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "from adk", events[0].Text())
	assert.Equal(t, int32(12), events[0].UsageMetadata.PromptTokenCount)
	assert.Nil(t, events[0].CacheMetadata)

	require.Len(t, fake.reqs, 1)
	assert.Equal(t, "fake-adk", fake.reqs[0].Model)
	require.NotEmpty(t, fake.reqs[0].Contents)
	last := fake.reqs[0].Contents[len(fake.reqs[0].Contents)-1]
	assert.Equal(t, "ping", last.Parts[0].Text)
	assert.NotNil(t, fake.reqs[0].Config)
}

func TestFromADKPropagatesErrors(t *testing.T) {
	root, err := agent.NewLLM(agent.LLMConfig{Name: "assistant", Model: FromADK(&fakeLLM{err: errors.New("quota exceeded")})})
	require.NoError(t, err)
	r, err := runner.InMemory(runner.App{Name: "bridge", RootAgent: root})
	require.NoError(t, err)

	_, err = runOnce(t, r, "ping")
	require.ErrorContains(t, err, "quota exceeded")
}

func TestToADKRunsThroughADKRunner(t *testing.T) {
	root, err := agent.NewLLM(agent.LLMConfig{
		Name:        "assistant",
		Description: "says hello",
		Model:       llmtest.New(llmtest.Text("hello")),
		OutputKey:   "reply",
	})
	require.NoError(t, err)
	r, err := runner.InMemory(runner.App{Name: "bridge", RootAgent: root})
	require.NoError(t, err)

	adkAgent, err := ToADK(r)
	require.NoError(t, err)
	assert.Equal(t, "assistant", adkAgent.Name())
	assert.Equal(t, "says hello", adkAgent.Description())

	var texts []string
	final, err := Run(context.Background(), RunInput{
		AppName:   "bridge",
		UserID:    "u",
		SessionID: "s",
		Agent:     adkAgent,
		Message:   genai.NewContentFromText("hi", genai.RoleUser),
		OnEvent: func(ev *adksession.Event) {
			if ev.Content != nil && len(ev.Content.Parts) > 0 {
				texts = append(texts, ev.Content.Parts[0].Text)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, texts)
	assert.Equal(t, "s", final.ID())

	reply, err := final.State().Get("reply")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)

	sess, err := r.Sessions().Get(context.Background(), &session.GetRequest{AppName: "bridge", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	require.Len(t, sess.Events(), 2)
	assert.Equal(t, "hi", sess.Events()[0].Text())
}

func TestToADKRequiresRunner(t *testing.T) {
	_, err := ToADK(nil)
	require.Error(t, err)
}

func TestRunRequiresAgent(t *testing.T) {
	_, err := Run(context.Background(), RunInput{})
	require.Error(t, err)
}
