package plugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/tool"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports model and tool activity as prometheus metrics.
type Metrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	promptTokens *prometheus.CounterVec
	cachedTokens *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]time.Time
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adkx", Name: "model_requests_total", Help: "Model calls by agent.",
		}, []string{"agent"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adkx", Name: "model_errors_total", Help: "Model responses carrying an error code.",
		}, []string{"agent", "code"}),
		promptTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adkx", Name: "prompt_tokens_total", Help: "Prompt tokens reported by the model.",
		}, []string{"agent"}),
		cachedTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adkx", Name: "cached_tokens_total", Help: "Prompt tokens served from a context cache.",
		}, []string{"agent"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adkx", Name: "cache_hits_total", Help: "Model responses with cached tokens.",
		}, []string{"agent"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adkx", Name: "model_call_seconds", Help: "Time from request to final response.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adkx", Name: "tool_calls_total", Help: "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		started: map[string]time.Time{},
	}
	for _, c := range []prometheus.Collector{m.requests, m.errors, m.promptTokens, m.cachedTokens, m.cacheHits, m.latency, m.toolCalls} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (*Metrics) Name() string { return "metrics" }

func callKey(cctx *agent.CallbackContext) string {
	return cctx.InvocationID + "/" + cctx.AgentName()
}

func (m *Metrics) BeforeModel(cctx *agent.CallbackContext, _ *llm.Request) (*llm.Response, error) {
	m.requests.WithLabelValues(cctx.AgentName()).Inc()
	m.mu.Lock()
	m.started[callKey(cctx)] = time.Now()
	m.mu.Unlock()
	return nil, nil
}

func (m *Metrics) AfterModel(cctx *agent.CallbackContext, resp *llm.Response) (*llm.Response, error) {
	if resp.Partial {
		return nil, nil
	}
	name := cctx.AgentName()
	m.mu.Lock()
	start, ok := m.started[callKey(cctx)]
	delete(m.started, callKey(cctx))
	m.mu.Unlock()
	if ok {
		m.latency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if resp.ErrorCode != "" {
		m.errors.WithLabelValues(name, resp.ErrorCode).Inc()
	}
	if u := resp.UsageMetadata; u != nil {
		m.promptTokens.WithLabelValues(name).Add(float64(u.PromptTokenCount))
		if u.CachedContentTokenCount > 0 {
			m.cachedTokens.WithLabelValues(name).Add(float64(u.CachedContentTokenCount))
			m.cacheHits.WithLabelValues(name).Inc()
		}
	}
	return nil, nil
}

func (m *Metrics) AfterTool(_ *tool.Context, t tool.Tool, _, result map[string]any) (map[string]any, error) {
	outcome := "ok"
	if _, failed := result["error"]; failed {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(t.Name(), outcome).Inc()
	return nil, nil
}
