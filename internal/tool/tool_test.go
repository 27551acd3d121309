package tool

import (
	"context"
	"testing"

	"github.com/metalagman/adkx/internal/artifact"
	"github.com/metalagman/adkx/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeRequest struct {
	instructions []string
	contents     []*genai.Content
}

func (f *fakeRequest) AppendInstructions(texts ...string) {
	f.instructions = append(f.instructions, texts...)
}
func (f *fakeRequest) AppendContents(c ...*genai.Content) { f.contents = append(f.contents, c...) }
func (f *fakeRequest) LastContent() *genai.Content {
	if len(f.contents) == 0 {
		return nil
	}
	return f.contents[len(f.contents)-1]
}

func newContext(t *testing.T) *Context {
	t.Helper()
	sess := session.New("app", "u", "s", map[string]any{"existing": "v"})
	return NewContext(context.Background(), "inv", "agent", sess, artifact.NewInMemoryService(), &session.Actions{})
}

func TestFunctionToolWritesState(t *testing.T) {
	fn := NewFunction("remember", "stores a value", nil, func(ctx *Context, args map[string]any) (map[string]any, error) {
		ctx.State.Set("note", args["text"])
		v, _ := ctx.State.Get("existing")
		return map[string]any{"existing": v}, nil
	})
	ctx := newContext(t)
	out, err := fn.Run(ctx, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "v", out["existing"])
	assert.Equal(t, "hi", ctx.Actions.StateDelta["note"])
	assert.False(t, fn.IsLongRunning())
	assert.Equal(t, "remember", fn.Declaration().Name)
}

func TestLongRunningDescription(t *testing.T) {
	fn := NewLongRunning("approve", "asks for approval", nil, func(*Context, map[string]any) (map[string]any, error) {
		return map[string]any{"status": "pending"}, nil
	})
	assert.True(t, fn.IsLongRunning())
	assert.Contains(t, fn.Description(), "asks for approval\n\nNOTE: This is a long-running operation.")
}

func TestTypedTool(t *testing.T) {
	type in struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	sum := NewTyped("sum", "adds", nil, func(_ *Context, v in) (int, error) { return v.A + v.B, nil })
	out, err := sum.Run(newContext(t), map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, 5.0, out["result"])
}

func TestExitLoopEscalates(t *testing.T) {
	ctx := newContext(t)
	_, err := ExitLoop().Run(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ctx.Actions.Escalate)
	assert.True(t, ctx.Actions.SkipSummarization)
}

func TestTransferToAgent(t *testing.T) {
	ctx := newContext(t)
	_, err := TransferToAgent().Run(ctx, map[string]any{"agent_name": "billing"})
	require.NoError(t, err)
	assert.Equal(t, "billing", ctx.Actions.TransferToAgent)

	_, err = TransferToAgent().Run(newContext(t), map[string]any{})
	require.Error(t, err)
}

func TestLoadArtifactsProcessRequest(t *testing.T) {
	ctx := newContext(t)
	_, err := ctx.SaveArtifact("report.txt", genai.NewPartFromText("quarterly numbers"))
	require.NoError(t, err)
	assert.Equal(t, 0, ctx.Actions.ArtifactDelta["report.txt"])

	req := &fakeRequest{contents: []*genai.Content{{
		Role: string(genai.RoleUser),
		Parts: []*genai.Part{genai.NewPartFromFunctionResponse("load_artifacts", map[string]any{
			"artifact_names": []any{"report.txt"},
		})},
	}}}
	lt := LoadArtifacts()
	require.NoError(t, lt.(RequestProcessor).ProcessRequest(ctx, req))
	require.Len(t, req.instructions, 1)
	assert.Contains(t, req.instructions[0], `["report.txt"]`)
	require.Len(t, req.contents, 2)
	assert.Equal(t, "Artifact report.txt is:", req.contents[1].Parts[0].Text)
	assert.Equal(t, "quarterly numbers", req.contents[1].Parts[1].Text)
}

func TestContextWithoutArtifactService(t *testing.T) {
	ctx := NewContext(context.Background(), "inv", "agent", session.New("a", "u", "s", nil), nil, &session.Actions{})
	_, err := ctx.LoadArtifact("x")
	require.Error(t, err)
}
