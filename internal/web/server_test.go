package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/cacheperf"
	"github.com/metalagman/adkx/internal/llm/llmtest"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newTestServer(t *testing.T, model *llmtest.Model) *httptest.Server {
	t.Helper()
	root, err := agent.NewLLM(agent.LLMConfig{Name: "assistant", Model: model, Instruction: "Be brief."})
	require.NoError(t, err)
	r, err := runner.InMemory(runner.App{Name: "demo", RootAgent: root})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "adkx_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s, err := NewServer([]*runner.Runner{r}, reg)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, llmtest.New())
	base := srv.URL + "/apps/demo/users/u1/sessions"

	resp := do(t, http.MethodPost, base+"/s1", `{"state":{"topic":"go"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decode[SessionView](t, resp)
	assert.Equal(t, "s1", created.ID)
	assert.Equal(t, "go", created.State["topic"])

	resp = do(t, http.MethodPost, base+"/s1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[SessionView](t, resp).ID)

	resp = do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]SessionView](t, resp), 2)

	resp = do(t, http.MethodGet, base+"/s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[SessionView](t, resp).Events)

	resp = do(t, http.MethodDelete, base+"/s1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, base+"/s1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/apps/missing/users/u1/sessions", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRun(t *testing.T) {
	srv := newTestServer(t, llmtest.New(llmtest.Text("hello there")))
	do(t, http.MethodPost, srv.URL+"/apps/demo/users/u1/sessions/s1", "")

	body := `{"appName":"demo","userId":"u1","sessionId":"s1","newMessage":{"role":"user","parts":[{"text":"hi"}]},"stateDelta":{"mood":"curious"}}`
	resp := do(t, http.MethodPost, srv.URL+"/run", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]*session.Event](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, "assistant", events[0].Author)
	assert.Equal(t, "hello there", events[0].Text())

	resp = do(t, http.MethodGet, srv.URL+"/apps/demo/users/u1/sessions/s1", "")
	view := decode[SessionView](t, resp)
	assert.Len(t, view.Events, 2)
	assert.Equal(t, "curious", view.State["mood"])
}

func TestRunRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, llmtest.New())

	resp := do(t, http.MethodPost, srv.URL+"/run", `{"appName":"demo","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/run", `{"appName":"demo","userId":"u1","sessionId":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/run", `{"appName":"demo","userId":"u1","sessionId":"nope","newMessage":{"parts":[{"text":"hi"}]}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunSSE(t *testing.T) {
	srv := newTestServer(t, llmtest.New(llmtest.Text("streamed")))
	do(t, http.MethodPost, srv.URL+"/apps/demo/users/u1/sessions/s1", "")

	body := `{"appName":"demo","userId":"u1","sessionId":"s1","newMessage":{"parts":[{"text":"hi"}]},"streaming":true}`
	resp := do(t, http.MethodPost, srv.URL+"/run_sse", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var payloads []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			payloads = append(payloads, line)
		}
	}
	require.NoError(t, scanner.Err())
	require.Len(t, payloads, 1)
	var ev session.Event
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &ev))
	assert.Equal(t, "streamed", ev.Text())
}

func TestRunSSEReportsErrors(t *testing.T) {
	srv := newTestServer(t, llmtest.New())
	do(t, http.MethodPost, srv.URL+"/apps/demo/users/u1/sessions/s1", "")

	body := `{"appName":"demo","userId":"u1","sessionId":"s1","newMessage":{"parts":[{"text":"hi"}]}}`
	resp := do(t, http.MethodPost, srv.URL+"/run_sse", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), `"error"`)
}

func TestCacheReport(t *testing.T) {
	resp := llmtest.Text("cached answer")
	resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 100, CachedContentTokenCount: 60}
	resp.CacheMetadata = &cache.Metadata{CacheName: "projects/p/cachedContents/7", InvocationsUsed: 1}
	srv := newTestServer(t, llmtest.New(resp))
	do(t, http.MethodPost, srv.URL+"/apps/demo/users/u1/sessions/s1", "")
	do(t, http.MethodPost, srv.URL+"/run", `{"appName":"demo","userId":"u1","sessionId":"s1","newMessage":{"parts":[{"text":"hi"}]}}`)

	r := do(t, http.MethodGet, srv.URL+"/apps/demo/users/u1/sessions/s1/cache?agent=assistant", "")
	require.Equal(t, http.StatusOK, r.StatusCode)
	report := decode[cacheperf.Report](t, r)
	assert.Equal(t, cacheperf.StatusActive, report.Status)
	assert.InDelta(t, 60.0, report.CacheHitRatioPercent, 1e-9)

	r = do(t, http.MethodGet, srv.URL+"/apps/demo/users/u1/sessions/s1/cache?agent=other", "")
	assert.Equal(t, cacheperf.StatusNoCacheData, decode[cacheperf.Report](t, r).Status)
}

func TestIndexAppsAndMetrics(t *testing.T) {
	srv := newTestServer(t, llmtest.New())

	resp := do(t, http.MethodGet, srv.URL+"/list-apps", "")
	assert.Equal(t, []string{"demo"}, decode[[]string](t, resp))

	resp = do(t, http.MethodGet, srv.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page strings.Builder
	_, err := bufio.NewReader(resp.Body).WriteTo(&page)
	require.NoError(t, err)
	assert.Contains(t, page.String(), "<code>demo</code>")

	resp = do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page.Reset()
	_, err = bufio.NewReader(resp.Body).WriteTo(&page)
	require.NoError(t, err)
	assert.Contains(t, page.String(), "adkx_test_total 1")
}

func TestNewServerRejectsDuplicates(t *testing.T) {
	root, err := agent.NewLLM(agent.LLMConfig{Name: "a", Model: llmtest.New()})
	require.NoError(t, err)
	r, err := runner.InMemory(runner.App{Name: "demo", RootAgent: root})
	require.NoError(t, err)
	_, err = NewServer([]*runner.Runner{r, r}, nil)
	require.Error(t, err)
}
