package agent

import (
	"context"
	"testing"
	"time"

	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/llm/llmtest"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/genai"
)

type harness struct {
	svc  *session.InMemoryService
	sess *session.Session
}

func newHarness(t *testing.T, state map[string]any) *harness {
	t.Helper()
	svc := session.NewInMemoryService()
	sess, err := svc.Create(context.Background(), &session.CreateRequest{AppName: "app", UserID: "u", State: state})
	require.NoError(t, err)
	return &harness{svc: svc, sess: sess}
}

func (h *harness) run(t *testing.T, root Agent, text string, opts ...func(*InvocationContext)) ([]*session.Event, error) {
	t.Helper()
	ctx := context.Background()
	ictx := NewInvocationContext(ctx, h.sess, root)
	ictx.SessionService = h.svc
	for _, opt := range opts {
		opt(ictx)
	}
	user := session.NewEvent(ictx.InvocationID)
	user.Author = session.AuthorUser
	user.Content = genai.NewContentFromText(text, genai.RoleUser)
	ictx.UserContent = user.Content
	require.NoError(t, h.svc.AppendEvent(ctx, h.sess, user))

	var events []*session.Event
	for ev, err := range root.Run(ictx) {
		if err != nil {
			return events, err
		}
		require.NoError(t, h.svc.AppendEvent(ctx, h.sess, ev))
		events = append(events, ev)
	}
	return events, nil
}

func mustLLM(t *testing.T, cfg LLMConfig) *LLMAgent {
	t.Helper()
	a, err := NewLLM(cfg)
	require.NoError(t, err)
	return a
}

func TestLLMAgentStoresOutput(t *testing.T) {
	model := llmtest.New(llmtest.Text("Paris"))
	a := mustLLM(t, LLMConfig{Name: "geo", Model: model, Instruction: "Answer briefly.", OutputKey: "answer"})
	h := newHarness(t, nil)

	events, err := h.run(t, a, "capital of France?")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "geo", events[0].Author)
	assert.Equal(t, "Paris", h.sess.State()["answer"])

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Answer briefly.", reqs[0].SystemInstructionText())
	require.Len(t, reqs[0].Contents, 1)
	assert.Equal(t, "capital of France?", reqs[0].Contents[0].Parts[0].Text)
}

func TestLLMAgentOutputSchemaDecodesJSON(t *testing.T) {
	model := llmtest.New(llmtest.Text(`{"city":"Paris"}`))
	a := mustLLM(t, LLMConfig{
		Name:         "geo",
		Model:        model,
		OutputKey:    "answer",
		OutputSchema: &genai.Schema{Type: genai.TypeObject},
	})
	h := newHarness(t, nil)

	_, err := h.run(t, a, "capital?")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Paris"}, h.sess.State()["answer"])
	assert.Equal(t, "application/json", model.Requests()[0].Config.ResponseMIMEType)
}

func TestLLMAgentRunsTools(t *testing.T) {
	model := llmtest.New(
		llmtest.Call("", "count", map[string]any{"by": 2.0}),
		llmtest.Text("counted"),
	)
	counter := tool.NewFunction("count", "Counts.", nil, func(ctx *tool.Context, args map[string]any) (map[string]any, error) {
		ctx.State.Set("counted_by", args["by"])
		return map[string]any{"n": args["by"]}, nil
	})
	a := mustLLM(t, LLMConfig{Name: "counter", Model: model, Tools: []tool.Tool{counter}})
	h := newHarness(t, nil)

	events, err := h.run(t, a, "count please")
	require.NoError(t, err)
	require.Len(t, events, 3)

	calls := events[0].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].ID, functionCallIDPrefix)

	responses := events[1].FunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, calls[0].ID, responses[0].ID)
	assert.Equal(t, map[string]any{"n": 2.0}, responses[0].Response)
	assert.Equal(t, 2.0, h.sess.State()["counted_by"])
	assert.Equal(t, "counted", events[2].Text())

	reqs := model.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].LastContent()
	require.NotNil(t, last.Parts[0].FunctionResponse)
	assert.Equal(t, "count", last.Parts[0].FunctionResponse.Name)
}

func TestLLMAgentToolErrorReachesModel(t *testing.T) {
	model := llmtest.New(llmtest.Call("c1", "missing", nil), llmtest.Text("sorry"))
	a := mustLLM(t, LLMConfig{Name: "a", Model: model})
	h := newHarness(t, nil)

	events, err := h.run(t, a, "go")
	require.NoError(t, err)
	require.Len(t, events, 3)
	resp := events[1].FunctionResponses()[0].Response
	assert.Equal(t, "tool missing not found", resp["error"])
}

func TestLLMAgentTransfer(t *testing.T) {
	rootModel := llmtest.New(llmtest.Call("t1", tool.TransferToAgentName, map[string]any{"agent_name": "helper"}))
	helperModel := llmtest.New(llmtest.Text("helper here"))
	helper := mustLLM(t, LLMConfig{Name: "helper", Description: "Helps.", Model: helperModel})
	root := mustLLM(t, LLMConfig{Name: "root", Model: rootModel, SubAgents: []Agent{helper}})
	h := newHarness(t, nil)

	events, err := h.run(t, root, "help")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "helper", events[1].Actions.TransferToAgent)
	assert.Equal(t, "helper", events[2].Author)
	assert.Same(t, root, helper.Parent())

	sys := rootModel.Requests()[0].SystemInstructionText()
	assert.Contains(t, sys, "Agent name: helper\nAgent description: Helps.")
	assert.Contains(t, sys, "are `helper`.")

	helperReq := helperModel.Requests()[0]
	require.Len(t, helperReq.Contents, 3)
	assert.Equal(t, "For context:", helperReq.Contents[1].Parts[0].Text)
	assert.Contains(t, helperReq.Contents[1].Parts[1].Text, "[root] called tool `transfer_to_agent`")
	assert.Contains(t, helperReq.SystemInstructionText(), "transfer to your parent agent root")
}

func TestLLMAgentTransferUnknownAgent(t *testing.T) {
	model := llmtest.New(llmtest.Call("t1", tool.TransferToAgentName, map[string]any{"agent_name": "ghost"}))
	sub := mustLLM(t, LLMConfig{Name: "sub", Model: llmtest.New()})
	root := mustLLM(t, LLMConfig{Name: "root", Model: model, SubAgents: []Agent{sub}})
	h := newHarness(t, nil)

	_, err := h.run(t, root, "help")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestStaticInstructionKeepsDynamicInConversation(t *testing.T) {
	model := llmtest.New(llmtest.Text("ok"))
	a := mustLLM(t, LLMConfig{
		Name:              "a",
		Model:             model,
		StaticInstruction: genai.NewContentFromText("You are static.", genai.RoleUser),
		Instruction:       "Greet {name}.",
	})
	h := newHarness(t, map[string]any{"name": "Ada"})

	_, err := h.run(t, a, "hello")
	require.NoError(t, err)
	req := model.Requests()[0]
	assert.Equal(t, "You are static.", req.SystemInstructionText())
	require.Len(t, req.Contents, 2)
	assert.Equal(t, "Greet Ada.", req.Contents[0].Parts[0].Text)
	assert.Equal(t, "hello", req.Contents[1].Parts[0].Text)
}

func TestStaticInstructionReferencesLeadContents(t *testing.T) {
	model := llmtest.New(llmtest.Text("ok"))
	static := &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{
		{Text: "Describe the image."},
		{InlineData: &genai.Blob{Data: []byte("png"), MIMEType: "image/png"}},
	}}
	a := mustLLM(t, LLMConfig{Name: "a", Model: model, StaticInstruction: static})
	h := newHarness(t, nil)

	_, err := h.run(t, a, "go")
	require.NoError(t, err)
	req := model.Requests()[0]
	assert.Equal(t, "Describe the image.\n\n[Reference to inline binary data: inline_data_0 (type: image/png)]", req.SystemInstructionText())
	require.Len(t, req.Contents, 2)
	assert.Equal(t, "Referenced inline data: inline_data_0", req.Contents[0].Parts[0].Text)
}

func TestGlobalInstructionFromRoot(t *testing.T) {
	model := llmtest.New(llmtest.Text("ok"))
	sub := mustLLM(t, LLMConfig{Name: "sub", Model: model, Instruction: "Be the sub."})
	root, err := NewSequential(WorkflowConfig{Name: "seq", SubAgents: []Agent{sub}})
	require.NoError(t, err)
	top := mustLLM(t, LLMConfig{Name: "top", Model: llmtest.New(), GlobalInstruction: "Be kind.", SubAgents: []Agent{root}})
	require.NotNil(t, top)

	h := newHarness(t, nil)
	ictx := NewInvocationContext(context.Background(), h.sess, sub)
	req, err := sub.buildRequest(ictx, model)
	require.NoError(t, err)
	assert.Equal(t, "Be kind.\n\nBe the sub.", req.SystemInstructionText())
}

func TestMissingInstructionVariableFails(t *testing.T) {
	a := mustLLM(t, LLMConfig{Name: "a", Model: llmtest.New(), Instruction: "Hi {missing}"})
	h := newHarness(t, nil)
	_, err := h.run(t, a, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Context variable not found")
}

func TestBeforeModelCallbackShortCircuits(t *testing.T) {
	model := llmtest.New()
	a := mustLLM(t, LLMConfig{
		Name:  "a",
		Model: model,
		BeforeModel: []BeforeModelCallback{func(cctx *CallbackContext, _ *llm.Request) (*llm.Response, error) {
			cctx.State.Set("short", true)
			return llmtest.Text("from callback"), nil
		}},
	})
	h := newHarness(t, nil)

	events, err := h.run(t, a, "x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "from callback", events[0].Text())
	assert.Equal(t, true, h.sess.State()["short"])
	assert.Empty(t, model.Requests())
}

func TestAfterModelCallbackReplaces(t *testing.T) {
	a := mustLLM(t, LLMConfig{
		Name:  "a",
		Model: llmtest.New(llmtest.Text("raw")),
		AfterModel: []AfterModelCallback{func(_ *CallbackContext, _ *llm.Response) (*llm.Response, error) {
			return llmtest.Text("edited"), nil
		}},
	})
	h := newHarness(t, nil)
	events, err := h.run(t, a, "x")
	require.NoError(t, err)
	assert.Equal(t, "edited", events[0].Text())
}

func TestBeforeAgentCallbackEndsInvocation(t *testing.T) {
	model := llmtest.New()
	a := mustLLM(t, LLMConfig{
		Name:  "a",
		Model: model,
		BeforeAgent: []AgentCallback{func(*CallbackContext) (*genai.Content, error) {
			return genai.NewContentFromText("skipped", genai.RoleModel), nil
		}},
	})
	h := newHarness(t, nil)
	events, err := h.run(t, a, "x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "skipped", events[0].Text())
	assert.Empty(t, model.Requests())
}

func TestResumableInvocationPausesOnLongRunningCall(t *testing.T) {
	model := llmtest.New(llmtest.Call("lr-1", "approve", nil))
	approve := tool.NewLongRunning("approve", "Asks for approval.", nil, func(*tool.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	})
	a := mustLLM(t, LLMConfig{Name: "a", Model: model, Tools: []tool.Tool{approve}})
	h := newHarness(t, nil)

	events, err := h.run(t, a, "x", func(ictx *InvocationContext) { ictx.Resumable = true })
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"lr-1"}, events[0].LongRunningToolIDs)
}

func TestMaxLLMCalls(t *testing.T) {
	model := llmtest.New(llmtest.Call("c", "noop", nil), llmtest.Text("done"))
	noop := tool.NewFunction("noop", "Does nothing.", nil, func(*tool.Context, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	a := mustLLM(t, LLMConfig{Name: "a", Model: model, Tools: []tool.Tool{noop}})
	h := newHarness(t, nil)

	_, err := h.run(t, a, "x", func(ictx *InvocationContext) { ictx.RunConfig.MaxLLMCalls = 1 })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max number of llm calls limit of 1 exceeded")
}

func TestModelInheritedFromParent(t *testing.T) {
	model := llmtest.New()
	child := mustLLM(t, LLMConfig{Name: "child"})
	_ = mustLLM(t, LLMConfig{Name: "parent", Model: model, SubAgents: []Agent{child}})
	got, err := child.Model()
	require.NoError(t, err)
	assert.Same(t, model, got)

	orphan := mustLLM(t, LLMConfig{Name: "orphan"})
	_, err = orphan.Model()
	require.Error(t, err)
}

func TestNewLLMValidation(t *testing.T) {
	_, err := NewLLM(LLMConfig{Name: session.AuthorUser})
	require.Error(t, err)

	_, err = NewLLM(LLMConfig{Name: "a", IncludeContents: "some"})
	require.Error(t, err)

	sub := mustLLM(t, LLMConfig{Name: "dup"})
	_, err = NewLLM(LLMConfig{Name: "a", SubAgents: []Agent{sub, sub}})
	require.Error(t, err)

	child := mustLLM(t, LLMConfig{Name: "child"})
	_ = mustLLM(t, LLMConfig{Name: "p1", SubAgents: []Agent{child}})
	_, err = NewLLM(LLMConfig{Name: "p2", SubAgents: []Agent{child}})
	require.Error(t, err)
}

func TestFindLatestCache(t *testing.T) {
	md := &cache.Metadata{CacheName: "cachedContents/1", Fingerprint: "fp", InvocationsUsed: 2, ContentsCount: 3}
	older := session.NewEvent("inv-1")
	older.Author = "a"
	older.CacheMetadata = md
	foreign := session.NewEvent("inv-1")
	foreign.Author = "b"
	foreign.CacheMetadata = &cache.Metadata{CacheName: "cachedContents/other"}
	events := []*session.Event{older, foreign}

	got := FindLatestCache(events, "a", "inv-2")
	require.NotNil(t, got)
	assert.Equal(t, 3, got.InvocationsUsed)
	assert.Equal(t, 2, md.InvocationsUsed)

	got = FindLatestCache(events, "a", "inv-1")
	require.NotNil(t, got)
	assert.Equal(t, 2, got.InvocationsUsed)

	assert.Nil(t, FindLatestCache(events, "c", "inv-1"))
}

func TestCacheConfigReachesRequest(t *testing.T) {
	model := llmtest.New(llmtest.Text("ok"))
	a := mustLLM(t, LLMConfig{Name: "a", Model: model})
	h := newHarness(t, nil)
	prior := session.NewEvent("old")
	prior.Author = "a"
	prior.CacheMetadata = &cache.Metadata{CacheName: "cachedContents/1", Fingerprint: "fp", InvocationsUsed: 1}
	require.NoError(t, h.svc.AppendEvent(context.Background(), h.sess, prior))

	cfg := cache.DefaultConfig()
	_, err := h.run(t, a, "x", func(ictx *InvocationContext) { ictx.CacheConfig = &cfg })
	require.NoError(t, err)
	req := model.Requests()[0]
	require.NotNil(t, req.CacheConfig)
	require.NotNil(t, req.CacheMetadata)
	assert.Equal(t, 2, req.CacheMetadata.InvocationsUsed)
}

func TestContentsBranchesOtherAgentsAndCompaction(t *testing.T) {
	a := mustLLM(t, LLMConfig{Name: "me", Model: llmtest.New()})
	h := newHarness(t, nil)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	add := func(author, branch, text string, at time.Duration) *session.Event {
		ev := session.NewEvent("inv")
		ev.Author = author
		ev.Branch = branch
		ev.Timestamp = base.Add(at)
		var role genai.Role = genai.RoleModel
		if author == session.AuthorUser {
			role = genai.RoleUser
		}
		ev.Content = genai.NewContentFromText(text, role)
		require.NoError(t, h.svc.AppendEvent(ctx, h.sess, ev))
		return ev
	}
	add(session.AuthorUser, "", "old question", 0)
	add("me", "", "old answer", time.Second)
	compaction := session.NewEvent("inv")
	compaction.Timestamp = base.Add(2 * time.Second)
	compaction.Actions.Compaction = &session.Compaction{
		StartTimestamp: base,
		EndTimestamp:   base.Add(time.Second),
		Content:        genai.NewContentFromText("summary of earlier turns", genai.RoleModel),
	}
	require.NoError(t, h.svc.AppendEvent(ctx, h.sess, compaction))
	add(session.AuthorUser, "", "new question", 3*time.Second)
	add("sibling", "par.b", "hidden", 4*time.Second)
	add("peer", "par", "visible", 5*time.Second)

	ictx := NewInvocationContext(ctx, h.sess, a).withBranch("par.a")
	contents := a.contents(ictx)
	require.Len(t, contents, 3)
	assert.Equal(t, "summary of earlier turns", contents[0].Parts[0].Text)
	assert.Equal(t, "new question", contents[1].Parts[0].Text)
	assert.Equal(t, string(genai.RoleUser), contents[2].Role)
	assert.Equal(t, "[peer] said: visible", contents[2].Parts[1].Text)
}

func TestIncludeContentsNone(t *testing.T) {
	model := llmtest.New(llmtest.Text("first"), llmtest.Text("second"))
	a := mustLLM(t, LLMConfig{Name: "a", Model: model, IncludeContents: IncludeNone})
	h := newHarness(t, nil)
	_, err := h.run(t, a, "one")
	require.NoError(t, err)
	_, err = h.run(t, a, "two")
	require.NoError(t, err)

	req := model.Requests()[1]
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "two", req.Contents[0].Parts[0].Text)
}

func TestOtherAgentContentSkipsThoughts(t *testing.T) {
	ev := session.NewEvent("inv")
	ev.Author = "other"
	ev.Content = &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{
		{Text: "private", Thought: true},
	}}
	assert.Nil(t, otherAgentContent(ev))

	ev.Content.Parts = append(ev.Content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: "f", Response: map[string]any{"ok": true}}})
	c := otherAgentContent(ev)
	require.NotNil(t, c)
	assert.Equal(t, "[other] `f` tool returned result: {\"ok\":true}", c.Parts[1].Text)
}

func TestSequentialPassesState(t *testing.T) {
	writer := mustLLM(t, LLMConfig{Name: "writer", Model: llmtest.New(llmtest.Text("first draft")), OutputKey: "draft"})
	reviewModel := llmtest.New(llmtest.Text("looks good"))
	reviewer := mustLLM(t, LLMConfig{Name: "reviewer", Model: reviewModel, Instruction: "Review: {draft}"})
	seq, err := NewSequential(WorkflowConfig{Name: "pipeline", SubAgents: []Agent{writer, reviewer}})
	require.NoError(t, err)
	h := newHarness(t, nil)

	events, err := h.run(t, seq, "write")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "writer", events[0].Author)
	assert.Equal(t, "reviewer", events[1].Author)
	assert.Contains(t, reviewModel.Requests()[0].SystemInstructionText(), "Review: first draft")
}

func TestLoopStopsOnEscalation(t *testing.T) {
	model := llmtest.New(llmtest.Text("try again"), llmtest.Call("x", "exit_loop", nil))
	worker := mustLLM(t, LLMConfig{Name: "worker", Model: model, Tools: []tool.Tool{tool.ExitLoop()}})
	loop, err := NewLoop(LoopConfig{WorkflowConfig: WorkflowConfig{Name: "loop", SubAgents: []Agent{worker}}, MaxIterations: 5})
	require.NoError(t, err)
	h := newHarness(t, nil)

	events, err := h.run(t, loop, "go")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[2].Actions.Escalate)
	assert.Len(t, model.Requests(), 2)
}

func TestLoopMaxIterations(t *testing.T) {
	model := llmtest.New(llmtest.Text("1"), llmtest.Text("2"))
	worker := mustLLM(t, LLMConfig{Name: "worker", Model: model})
	loop, err := NewLoop(LoopConfig{WorkflowConfig: WorkflowConfig{Name: "loop", SubAgents: []Agent{worker}}, MaxIterations: 2})
	require.NoError(t, err)
	h := newHarness(t, nil)

	events, err := h.run(t, loop, "go")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestParallelBranches(t *testing.T) {
	defer goleak.VerifyNone(t)

	left := mustLLM(t, LLMConfig{Name: "left", Model: llmtest.New(llmtest.Call("l", "noop", nil), llmtest.Text("left done")),
		Tools: []tool.Tool{tool.NewFunction("noop", "Does nothing.", nil, func(*tool.Context, map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		})}})
	right := mustLLM(t, LLMConfig{Name: "right", Model: llmtest.New(llmtest.Text("right done"))})
	par, err := NewParallel(WorkflowConfig{Name: "par", SubAgents: []Agent{left, right}})
	require.NoError(t, err)
	h := newHarness(t, nil)

	events, err := h.run(t, par, "go")
	require.NoError(t, err)
	require.Len(t, events, 4)

	var leftEvents []*session.Event
	for _, ev := range events {
		switch ev.Author {
		case "left":
			assert.Equal(t, "par.left", ev.Branch)
			leftEvents = append(leftEvents, ev)
		case "right":
			assert.Equal(t, "par.right", ev.Branch)
		}
	}
	require.Len(t, leftEvents, 3)
	assert.NotEmpty(t, leftEvents[0].FunctionCalls())
	assert.NotEmpty(t, leftEvents[1].FunctionResponses())
	assert.Equal(t, "left done", leftEvents[2].Text())
}

func TestParallelPropagatesErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	ok := mustLLM(t, LLMConfig{Name: "ok", Model: llmtest.New(llmtest.Text("fine"))})
	broken := mustLLM(t, LLMConfig{Name: "broken", Model: llmtest.New()})
	par, err := NewParallel(WorkflowConfig{Name: "par", SubAgents: []Agent{ok, broken}})
	require.NoError(t, err)
	h := newHarness(t, nil)

	_, err = h.run(t, par, "go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scripted response")
}

func TestParallelStopsWhenConsumerStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := mustLLM(t, LLMConfig{Name: "a", Model: llmtest.New(llmtest.Text("a"))})
	b := mustLLM(t, LLMConfig{Name: "b", Model: llmtest.New(llmtest.Text("b"))})
	par, err := NewParallel(WorkflowConfig{Name: "par", SubAgents: []Agent{a, b}})
	require.NoError(t, err)
	h := newHarness(t, nil)

	ictx := NewInvocationContext(context.Background(), h.sess, par)
	for range par.Run(ictx) {
		break
	}
}

func TestPluginManager(t *testing.T) {
	first := &recordingPlugin{name: "first"}
	second := &recordingPlugin{name: "second", answer: llmtest.Text("from plugin")}
	third := &recordingPlugin{name: "third"}
	pm := NewPluginManager(first, second, third)
	require.NoError(t, pm.Validate())

	model := llmtest.New()
	a := mustLLM(t, LLMConfig{Name: "a", Model: model})
	h := newHarness(t, nil)
	events, err := h.run(t, a, "x", func(ictx *InvocationContext) { ictx.Plugins = pm })
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "from plugin", events[0].Text())
	assert.Equal(t, 1, first.beforeModel)
	assert.Equal(t, 1, second.beforeModel)
	assert.Zero(t, third.beforeModel)
	assert.Empty(t, model.Requests())

	require.Error(t, NewPluginManager(first, first).Validate())
}

type recordingPlugin struct {
	name        string
	answer      *llm.Response
	beforeModel int
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) BeforeModel(*CallbackContext, *llm.Request) (*llm.Response, error) {
	p.beforeModel++
	return p.answer, nil
}
