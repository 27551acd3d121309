package plugin

import (
	"context"
	"testing"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/artifact"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/llm/llmtest"
	"github.com/metalagman/adkx/internal/logprobs"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func invocation(t *testing.T) *agent.InvocationContext {
	t.Helper()
	a, err := agent.NewLLM(agent.LLMConfig{Name: "assistant", Model: llmtest.New()})
	require.NoError(t, err)
	sess := session.New("app", "u", "s1", nil)
	return agent.NewInvocationContext(context.Background(), sess, a)
}

func callbackContext(t *testing.T) *agent.CallbackContext {
	t.Helper()
	return &agent.CallbackContext{InvocationContext: invocation(t)}
}

func TestSaveFilesAsArtifacts(t *testing.T) {
	ictx := invocation(t)
	store := artifact.NewInMemoryService()
	ictx.Artifacts = store

	msg := &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{
		genai.NewPartFromText("summarize"),
		{InlineData: &genai.Blob{Data: []byte("a,b"), MIMEType: "text/csv", DisplayName: "data.csv"}},
		{InlineData: &genai.Blob{Data: []byte("png"), MIMEType: "image/png"}},
	}}
	out, err := SaveFilesAsArtifacts{}.OnUserMessage(ictx, msg)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "summarize", out.Parts[0].Text)
	assert.Equal(t, `[Uploaded Artifact: "data.csv"]`, out.Parts[1].Text)
	generated := "artifact_" + ictx.InvocationID + "_2"
	assert.Equal(t, `[Uploaded Artifact: "`+generated+`"]`, out.Parts[2].Text)
	assert.NotNil(t, msg.Parts[1].InlineData)

	keys, err := store.ListKeys(context.Background(), "app", "u", "s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data.csv", generated}, keys)
}

func TestSaveFilesAsArtifactsWithoutService(t *testing.T) {
	msg := &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{Data: []byte("x")}}}}
	out, err := SaveFilesAsArtifacts{}.OnUserMessage(invocation(t), msg)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestContextFilterKeepsLastTurns(t *testing.T) {
	user := func(text string) *genai.Content { return genai.NewContentFromText(text, genai.RoleUser) }
	model := func(text string) *genai.Content { return genai.NewContentFromText(text, genai.RoleModel) }
	toolResult := &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{
		genai.NewPartFromFunctionResponse("lookup", map[string]any{"ok": true}),
	}}

	req := llm.NewRequest("m")
	req.Contents = []*genai.Content{user("1"), model("a"), user("2"), model("call"), toolResult, model("b"), user("3")}
	_, err := ContextFilter{InvocationsToKeep: 2}.BeforeModel(callbackContext(t), req)
	require.NoError(t, err)
	require.Len(t, req.Contents, 5)
	assert.Equal(t, "2", req.Contents[0].Parts[0].Text)

	dropModel := func(in []*genai.Content) []*genai.Content {
		var out []*genai.Content
		for _, c := range in {
			if c.Role == string(genai.RoleUser) {
				out = append(out, c)
			}
		}
		return out
	}
	_, err = ContextFilter{Filter: dropModel}.BeforeModel(callbackContext(t), req)
	require.NoError(t, err)
	assert.Len(t, req.Contents, 3)
}

func TestLogprobsAnnotatesResponse(t *testing.T) {
	avg := -0.2
	resp := llmtest.Text("answer")
	resp.AvgLogprobs = &avg

	out, err := Logprobs{Append: true}.AfterModel(callbackContext(t), resp)
	require.NoError(t, err)
	require.NotNil(t, out)
	analysis, ok := out.CustomMetadata[LogprobsMetadataKey].(logprobs.Analysis)
	require.True(t, ok)
	assert.Equal(t, logprobs.LevelHigh, analysis.Level)
	require.Len(t, out.Content.Parts, 2)
	assert.Contains(t, out.Content.Parts[1].Text, logprobs.Header)
	assert.Len(t, resp.Content.Parts, 1)

	partial := llmtest.Text("par")
	partial.Partial = true
	out, err = Logprobs{}.AfterModel(callbackContext(t), partial)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestMetricsRecordsUsage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	cctx := callbackContext(t)

	_, err = m.BeforeModel(cctx, llm.NewRequest("m"))
	require.NoError(t, err)
	resp := llmtest.Text("ok")
	resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 100, CachedContentTokenCount: 80}
	_, err = m.AfterModel(cctx, resp)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("assistant")), 0)
	assert.InDelta(t, 100.0, testutil.ToFloat64(m.promptTokens.WithLabelValues("assistant")), 0)
	assert.InDelta(t, 80.0, testutil.ToFloat64(m.cachedTokens.WithLabelValues("assistant")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("assistant")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))

	failing := tool.NewFunction("f", "", nil, nil)
	_, err = m.AfterTool(nil, failing, nil, map[string]any{"error": "boom"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("f", "error")), 0)

	_, err = NewMetrics(reg)
	require.Error(t, err)
}

func TestLoggingPassesThrough(t *testing.T) {
	ictx := invocation(t)
	cctx := &agent.CallbackContext{InvocationContext: ictx}
	l := Logging{}

	msg, err := l.OnUserMessage(ictx, genai.NewContentFromText("hi", genai.RoleUser))
	require.NoError(t, err)
	assert.Nil(t, msg)
	resp, err := l.AfterModel(cctx, llmtest.Text("x"))
	require.NoError(t, err)
	assert.Nil(t, resp)

	pm := agent.NewPluginManager(l, Logprobs{}, ContextFilter{})
	require.NoError(t, pm.Validate())
}
