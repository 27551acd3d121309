package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/apps"
	"github.com/metalagman/adkx/internal/artifact"
	"github.com/metalagman/adkx/internal/compaction"
	"github.com/metalagman/adkx/internal/config"
	"github.com/metalagman/adkx/internal/db"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/llm/gemini"
	"github.com/metalagman/adkx/internal/plugin"
	"github.com/metalagman/adkx/internal/runner"
	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool/mcptool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

type modelFactory func(ctx context.Context, cfg config.Config) (llm.Model, error)

// geminiModel builds a Gemini model. Empty backend fields fall back to the
// GOOGLE_* environment variables.
func geminiModel(ctx context.Context, cfg config.Config) (llm.Model, error) {
	cc := &genai.ClientConfig{
		APIKey:   cfg.Backend.APIKey,
		Project:  cfg.Backend.Project,
		Location: cfg.Backend.Location,
	}
	if cfg.Backend.VertexAI {
		cc.Backend = genai.BackendVertexAI
	}
	return gemini.NewModel(ctx, cfg.Model, cc)
}

// storage holds the services selected by the storage driver. store is
// nil for the memory driver.
type storage struct {
	sessions  session.Service
	artifacts artifact.Service
	store     *db.Store
	sqlDB     *sql.DB
}

func openStorage(cfg config.Config) (*storage, error) {
	if cfg.Storage.Driver != config.StorageSQLite {
		return &storage{
			sessions:  session.NewInMemoryService(),
			artifacts: artifact.NewInMemoryService(),
		}, nil
	}
	if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	sqlDB, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return &storage{
		sessions:  session.NewSQLiteService(sqlDB),
		artifacts: artifact.NewSQLiteService(sqlDB),
		store:     db.NewStore(sqlDB),
		sqlDB:     sqlDB,
	}, nil
}

func (s *storage) Close() error {
	if s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// requireStore returns the run store, which only the sqlite driver has.
func (s *storage) requireStore() (*db.Store, error) {
	if s.store == nil {
		return nil, errors.New("this command needs storage.driver sqlite")
	}
	return s.store, nil
}

// plugins builds the plugins enabled in cfg. reg receives the metrics.
func plugins(cfg config.Config, reg prometheus.Registerer) ([]agent.Plugin, error) {
	var out []agent.Plugin
	p := cfg.Plugins
	if p.Logging {
		out = append(out, plugin.Logging{})
	}
	if p.Metrics {
		m, err := plugin.NewMetrics(reg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if p.Logprobs {
		out = append(out, plugin.Logprobs{})
	}
	if p.SaveFiles {
		out = append(out, plugin.SaveFilesAsArtifacts{})
	}
	if p.KeepTurns > 0 {
		out = append(out, plugin.ContextFilter{InvocationsToKeep: p.KeepTurns})
	}
	return out, nil
}

// toolsets opens the configured MCP servers in name order.
func toolsets(cfg config.Config) ([]*mcptool.Toolset, error) {
	names := make([]string, 0, len(cfg.MCP))
	for name := range cfg.MCP {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*mcptool.Toolset
	for _, name := range names {
		ts, err := mcptool.New(cfg.MCP[name])
		if err != nil {
			closeToolsets(out)
			return nil, fmt.Errorf("mcp %s: %w", name, err)
		}
		out = append(out, ts)
	}
	return out, nil
}

func closeToolsets(ts []*mcptool.Toolset) {
	for _, t := range ts {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Msg("mcp: close toolset")
		}
	}
}

// appOptions assembles the app options from cfg around m.
func appOptions(cfg config.Config, m llm.Model, pl []agent.Plugin, ts []*mcptool.Toolset) (apps.Options, error) {
	opts := apps.Options{
		Model:     m,
		Cache:     cfg.CacheSettings(),
		Plugins:   pl,
		Resumable: cfg.Run.Resumable,
	}
	for _, t := range ts {
		opts.Toolsets = append(opts.Toolsets, t)
	}
	if cfg.Compaction.Interval > 0 {
		w := compaction.SlidingWindow{
			Interval:   cfg.Compaction.Interval,
			Overlap:    cfg.Compaction.Overlap,
			Summarizer: compaction.LLMSummarizer{Model: m},
		}
		if err := w.Validate(); err != nil {
			return apps.Options{}, err
		}
		opts.Compaction = w
	}
	return opts, nil
}

func runConfig(cfg config.Config) agent.RunConfig {
	rc := agent.RunConfig{StreamingMode: agent.StreamingNone, MaxLLMCalls: cfg.Run.MaxLLMCalls}
	if cfg.Run.Streaming {
		rc.StreamingMode = agent.StreamingSSE
	}
	return rc
}

// env is what a command needs to talk to the configured apps. Its
// plugins are shared by every runner it builds.
type env struct {
	cfg      config.Config
	model    llm.Model
	storage  *storage
	plugins  []agent.Plugin
	toolsets []*mcptool.Toolset
}

// open loads the config, the model and the storage. reg receives the
// plugin metrics; nil uses the default registerer.
func (c *cli) open(ctx context.Context, reg prometheus.Registerer) (*env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	pl, err := plugins(cfg, reg)
	if err != nil {
		return nil, err
	}
	m, err := c.newModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	ts, err := toolsets(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &env{cfg: cfg, model: m, storage: st, plugins: pl, toolsets: ts}, nil
}

func (e *env) Close() error {
	closeToolsets(e.toolsets)
	return e.storage.Close()
}

// runner builds a runner for the named app over the env storage.
func (e *env) runner(name string) (*runner.Runner, error) {
	opts, err := appOptions(e.cfg, e.model, e.plugins, e.toolsets)
	if err != nil {
		return nil, err
	}
	app, err := apps.Build(name, opts)
	if err != nil {
		return nil, err
	}
	return runner.New(runner.Config{App: app, Sessions: e.storage.sessions, Artifacts: e.storage.artifacts})
}

// ensureSession creates the session unless it exists and returns its ID.
// An empty id creates a session with a generated ID.
func ensureSession(ctx context.Context, r *runner.Runner, userID, id string) (string, error) {
	if id != "" {
		_, err := r.Sessions().Get(ctx, &session.GetRequest{AppName: r.AppName(), UserID: userID, SessionID: id})
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			return "", err
		}
	}
	sess, err := r.Sessions().Create(ctx, &session.CreateRequest{AppName: r.AppName(), UserID: userID, SessionID: id})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sess.ID, nil
}
