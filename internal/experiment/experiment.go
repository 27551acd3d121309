// Package experiment compares an app with and without context caching by
// replaying a prompt set against both variants and analyzing cache usage.
package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/apps"
	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/cacheperf"
	"github.com/metalagman/adkx/internal/db"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Variant names.
const (
	VariantCached   = "cached"
	VariantUncached = "uncached"
)

// Run statuses recorded in the store.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const defaultUserID = "cache_researcher"

// Config configures an experiment.
type Config struct {
	// App is the built-in app to compare. Defaults to cache_analysis.
	App   string
	Model llm.Model
	// Cache is the cache config of the cached variant. Nil keeps the app's
	// own config.
	Cache   *cache.Config
	Prompts PromptSet
	// Iterations is the number of cached/uncached run pairs.
	Iterations   int
	RequestDelay time.Duration
	// VariantPause separates the two variants of an iteration, RunPause
	// separates iterations.
	VariantPause time.Duration
	RunPause     time.Duration
	CachedFirst  bool
	UserID       string
	// Store records the run and every variant report when set.
	Store *db.Store
	Now   func() time.Time
}

// TokenUsage is the token usage of one prompt.
type TokenUsage struct {
	PromptTokens     int32 `json:"prompt_token_count"`
	CandidatesTokens int32 `json:"candidates_token_count"`
	CachedTokens     int32 `json:"cached_content_token_count"`
	TotalTokens      int32 `json:"total_token_count"`
}

// PromptResult is the outcome of one prompt.
type PromptResult struct {
	Number         int        `json:"prompt_number"`
	Prompt         string     `json:"prompt"`
	ResponseLength int        `json:"response_length"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
	Usage          TokenUsage `json:"token_usage"`
}

// Batch is one variant's pass over the prompt set.
type Batch struct {
	Variant            string           `json:"variant"`
	AppName            string           `json:"app_name"`
	AgentName          string           `json:"agent_name"`
	SessionID          string           `json:"session_id"`
	Results            []PromptResult   `json:"results"`
	SuccessfulRequests int              `json:"successful_requests"`
	TotalPromptTokens  int64            `json:"total_prompt_tokens"`
	TotalCachedTokens  int64            `json:"total_cached_tokens"`
	Report             cacheperf.Report `json:"cache_analysis"`
}

// Iteration holds both variants of one run.
type Iteration struct {
	Number   int   `json:"iteration"`
	Cached   Batch `json:"cached"`
	Uncached Batch `json:"uncached"`
}

// Averages are report metrics averaged over iterations.
type Averages struct {
	CacheHitRatioPercent         float64 `json:"cache_hit_ratio_percent"`
	CacheUtilizationRatioPercent float64 `json:"cache_utilization_ratio_percent"`
	TotalPromptTokens            float64 `json:"total_prompt_tokens"`
	TotalCachedTokens            float64 `json:"total_cached_tokens"`
	AvgCachedTokensPerRequest    float64 `json:"avg_cached_tokens_per_request"`
	RequestsWithCacheHits        float64 `json:"requests_with_cache_hits"`
}

// Statistics is the spread of the cached variant over iterations.
type Statistics struct {
	RunsCompleted             int     `json:"runs_completed"`
	CacheHitRatioStd          float64 `json:"cache_hit_ratio_std"`
	CacheUtilizationStd       float64 `json:"cache_utilization_std"`
	CachedTokensPerRequestStd float64 `json:"cached_tokens_per_request_std"`
}

// Summary is the result of an experiment.
type Summary struct {
	RunID       string        `json:"run_id"`
	App         string        `json:"app"`
	Model       string        `json:"model"`
	Description string        `json:"description,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"total_duration"`
	Iterations  []Iteration   `json:"individual_runs"`
	Cached      Averages      `json:"averaged_cached_analysis"`
	Uncached    Averages      `json:"averaged_uncached_analysis"`
	Statistics  Statistics    `json:"statistics"`
}

// Experiment runs cached/uncached comparisons.
type Experiment struct {
	cfg Config
}

// New validates cfg and fills its defaults.
func New(cfg Config) (*Experiment, error) {
	if cfg.Model == nil {
		return nil, errors.New("experiment: model is required")
	}
	if len(cfg.Prompts.Prompts) == 0 {
		cfg.Prompts = DefaultPromptSet()
	}
	if cfg.App == "" {
		cfg.App = "cache_analysis"
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1
	}
	if cfg.RequestDelay < 0 || cfg.VariantPause < 0 || cfg.RunPause < 0 {
		return nil, errors.New("experiment: delays must not be negative")
	}
	if cfg.UserID == "" {
		cfg.UserID = defaultUserID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Experiment{cfg: cfg}, nil
}

// Run executes every iteration and returns the averaged summary. With a
// store configured the run is recorded even when it fails.
func (e *Experiment) Run(ctx context.Context) (Summary, error) {
	started := e.cfg.Now()
	sum := Summary{
		RunID:       uuid.NewString(),
		App:         e.cfg.App,
		Model:       e.cfg.Model.Name(),
		Description: e.cfg.Prompts.Description,
		StartedAt:   started,
	}
	if s := e.cfg.Store; s != nil {
		if err := s.CreateRun(context.WithoutCancel(ctx), sum.RunID, e.cfg.Prompts.Name, sum.Model); err != nil {
			return Summary{}, err
		}
	}

	err := e.iterate(ctx, &sum)
	sum.FinishedAt = e.cfg.Now()
	sum.Duration = sum.FinishedAt.Sub(started)
	if err == nil {
		sum.Cached, sum.Uncached, sum.Statistics = Average(sum.Iterations)
	}
	if s := e.cfg.Store; s != nil {
		status, payload := StatusSucceeded, ""
		if err != nil {
			status = StatusFailed
		} else if b, mErr := json.Marshal(sum); mErr == nil {
			payload = string(b)
		}
		// The run outcome must be recorded even if ctx was cancelled.
		if fErr := s.FinishRun(context.WithoutCancel(ctx), sum.RunID, status, payload); fErr != nil {
			err = errors.Join(err, fErr)
		}
	}
	return sum, err
}

func (e *Experiment) iterate(ctx context.Context, sum *Summary) error {
	for i := 1; i <= e.cfg.Iterations; i++ {
		log.Info().Int("iteration", i).Int("of", e.cfg.Iterations).Str("model", sum.Model).Msg("experiment iteration")
		it := Iteration{Number: i}

		order := []string{VariantUncached, VariantCached}
		if e.cfg.CachedFirst {
			order = []string{VariantCached, VariantUncached}
		}
		for j, variant := range order {
			if j > 0 {
				if err := sleep(ctx, e.cfg.VariantPause); err != nil {
					return err
				}
			}
			b, err := e.runVariant(ctx, variant)
			if err != nil {
				return fmt.Errorf("iteration %d %s: %w", i, variant, err)
			}
			if err := e.record(ctx, sum.RunID, i, b); err != nil {
				return err
			}
			if variant == VariantCached {
				it.Cached = b
			} else {
				it.Uncached = b
			}
		}
		sum.Iterations = append(sum.Iterations, it)

		if i < e.cfg.Iterations {
			if err := sleep(ctx, e.cfg.RunPause); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Experiment) record(ctx context.Context, runID string, iteration int, b Batch) error {
	if e.cfg.Store == nil {
		return nil
	}
	report, err := json.Marshal(b.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return e.cfg.Store.AddResult(ctx, runID, db.ResultRecord{Variant: b.Variant, Iteration: iteration, ReportJSON: string(report)})
}

// runVariant builds a fresh app for variant, sends every prompt to one new
// session and analyzes the session's cache usage.
func (e *Experiment) runVariant(ctx context.Context, variant string) (Batch, error) {
	opts := apps.Options{
		Model:             e.cfg.Model,
		InstructionPrefix: fmt.Sprintf("Current session started at: %s\n\n", e.cfg.Now().Format(time.DateTime)),
		AgentName:         VariantAgentName(e.cfg.App, e.cfg.Model.Name(), variant),
	}
	if variant == VariantCached {
		opts.Cache = e.cfg.Cache
	} else {
		opts.DisableCache = true
	}
	app, err := apps.Build(e.cfg.App, opts)
	if err != nil {
		return Batch{}, err
	}
	app.Name = app.Name + "_" + cacheStatus(variant)
	if variant == VariantCached && app.CacheConfig == nil {
		return Batch{}, fmt.Errorf("app %s has no cache config", e.cfg.App)
	}

	r, err := runner.InMemory(app)
	if err != nil {
		return Batch{}, err
	}
	sess, err := r.Sessions().Create(ctx, &session.CreateRequest{AppName: r.AppName(), UserID: e.cfg.UserID})
	if err != nil {
		return Batch{}, fmt.Errorf("create session: %w", err)
	}

	b := Batch{Variant: variant, AppName: r.AppName(), AgentName: opts.AgentName, SessionID: sess.ID}
	logger := log.With().Str("variant", variant).Str("session_id", sess.ID).Logger()
	for i, prompt := range e.cfg.Prompts.Prompts {
		if i > 0 {
			if err := sleep(ctx, e.cfg.RequestDelay); err != nil {
				return Batch{}, err
			}
		}
		res := send(ctx, r, e.cfg.UserID, sess.ID, prompt)
		res.Number = i + 1
		if res.Success {
			b.SuccessfulRequests++
			logger.Info().Int("prompt", res.Number).Int32("prompt_tokens", res.Usage.PromptTokens).
				Int32("cached_tokens", res.Usage.CachedTokens).Msg("prompt completed")
		} else {
			logger.Warn().Int("prompt", res.Number).Str("error", res.Error).Msg("prompt failed")
		}
		b.TotalPromptTokens += int64(res.Usage.PromptTokens)
		b.TotalCachedTokens += int64(res.Usage.CachedTokens)
		b.Results = append(b.Results, res)
	}

	b.Report, err = cacheperf.NewAnalyzer(r.Sessions()).AnalyzeAgent(ctx, r.AppName(), e.cfg.UserID, sess.ID, opts.AgentName)
	if err != nil {
		return Batch{}, fmt.Errorf("analyze cache: %w", err)
	}
	return b, nil
}

// send runs one prompt. Failures are reported in the result so the batch
// continues with the next prompt.
func send(ctx context.Context, r *runner.Runner, userID, sessionID, prompt string) PromptResult {
	res := PromptResult{Prompt: prompt}
	var text strings.Builder
	msg := genai.NewContentFromText(prompt, genai.RoleUser)
	for ev, err := range r.Run(ctx, userID, sessionID, msg, agent.RunConfig{}) {
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if ev.Partial || ev.Author == session.AuthorUser {
			continue
		}
		text.WriteString(ev.Text())
		// A turn with tool calls makes several model calls.
		if u := ev.UsageMetadata; u != nil {
			res.Usage.PromptTokens += u.PromptTokenCount
			res.Usage.CandidatesTokens += u.CandidatesTokenCount
			res.Usage.CachedTokens += u.CachedContentTokenCount
			res.Usage.TotalTokens += u.TotalTokenCount
		}
	}
	res.Success = true
	res.ResponseLength = text.Len()
	return res
}

// VariantAgentName names the root agent of a variant after the app, the
// model and the variant.
func VariantAgentName(app, model, variant string) string {
	return fmt.Sprintf("%s_%s_%s", app, sanitize(model), cacheStatus(variant))
}

func cacheStatus(variant string) string {
	if variant == VariantCached {
		return VariantCached
	}
	return "no_cache"
}

// DefaultOutput is the results file name for model.
func DefaultOutput(model string) string {
	return fmt.Sprintf("cache_%s_results.json", sanitize(model))
}

func sanitize(s string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(s)
}

// Average averages the reports of both variants and computes the spread
// of the cached variant.
func Average(its []Iteration) (cached, uncached Averages, stats Statistics) {
	var hit, util, perReq []float64
	cachedReports := make([]cacheperf.Report, 0, len(its))
	uncachedReports := make([]cacheperf.Report, 0, len(its))
	for _, it := range its {
		cachedReports = append(cachedReports, it.Cached.Report)
		uncachedReports = append(uncachedReports, it.Uncached.Report)
		hit = append(hit, it.Cached.Report.CacheHitRatioPercent)
		util = append(util, it.Cached.Report.CacheUtilizationRatioPercent)
		perReq = append(perReq, it.Cached.Report.AvgCachedTokensPerRequest)
	}
	stats = Statistics{
		RunsCompleted:             len(its),
		CacheHitRatioStd:          stddev(hit),
		CacheUtilizationStd:       stddev(util),
		CachedTokensPerRequestStd: stddev(perReq),
	}
	return average(cachedReports), average(uncachedReports), stats
}

func average(reports []cacheperf.Report) Averages {
	if len(reports) == 0 {
		return Averages{}
	}
	var a Averages
	for _, r := range reports {
		a.CacheHitRatioPercent += r.CacheHitRatioPercent
		a.CacheUtilizationRatioPercent += r.CacheUtilizationRatioPercent
		a.TotalPromptTokens += float64(r.TotalPromptTokens)
		a.TotalCachedTokens += float64(r.TotalCachedTokens)
		a.AvgCachedTokensPerRequest += r.AvgCachedTokensPerRequest
		a.RequestsWithCacheHits += float64(r.RequestsWithCacheHits)
	}
	n := float64(len(reports))
	a.CacheHitRatioPercent /= n
	a.CacheUtilizationRatioPercent /= n
	a.TotalPromptTokens /= n
	a.TotalCachedTokens /= n
	a.AvgCachedTokensPerRequest /= n
	a.RequestsWithCacheHits /= n
	return a
}

// stddev is the population standard deviation; zero for fewer than two values.
func stddev(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Save writes sum as indented JSON.
func Save(path string, sum Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
