// Package apps holds the built-in apps the CLI and the API server can run.
package apps

import (
	"fmt"
	"slices"
	"sort"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/compaction"
	"github.com/metalagman/adkx/internal/llm"
	"github.com/metalagman/adkx/internal/runner"
)

// Options are the runtime pieces an app is assembled from.
type Options struct {
	Model llm.Model
	// Cache overrides the app's own cache config. Set DisableCache to run
	// an app without caching.
	Cache        *cache.Config
	DisableCache bool
	Toolsets     []agent.Toolset
	Plugins      []agent.Plugin
	Compaction   compaction.Compactor
	Resumable    bool
	// InstructionPrefix is prepended to the root agent's dynamic
	// instruction.
	InstructionPrefix string
	// AgentName renames the root agent when set.
	AgentName string
}

// Builder assembles an app.
type Builder func(opts Options) (runner.App, error)

var registry = map[string]Builder{
	"hello_world":        HelloWorld,
	"cache_analysis":     CacheAnalysis,
	"static_instruction": StaticInstruction,
	"logprobs":           Logprobs,
	"human_in_the_loop":  HumanInTheLoop,
}

// Names lists the built-in apps.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build assembles the named app.
func Build(name string, opts Options) (runner.App, error) {
	b, ok := registry[name]
	if !ok {
		return runner.App{}, fmt.Errorf("unknown app %q, available: %v", name, Names())
	}
	if opts.Model == nil {
		return runner.App{}, fmt.Errorf("app %s: model is required", name)
	}
	return b(opts)
}

// finish applies the options shared by every app.
func finish(app runner.App, opts Options) runner.App {
	switch {
	case opts.DisableCache:
		app.CacheConfig = nil
	case opts.Cache != nil:
		cp := *opts.Cache
		app.CacheConfig = &cp
	}
	app.Plugins = append(slices.Clone(app.Plugins), opts.Plugins...)
	app.Compaction = opts.Compaction
	app.Resumability = app.Resumability || opts.Resumable
	return app
}

func agentName(opts Options, fallback string) string {
	if opts.AgentName != "" {
		return opts.AgentName
	}
	return fallback
}
