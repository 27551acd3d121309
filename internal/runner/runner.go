// Package runner drives invocations of an agent app against stored
// sessions: it records the user message, picks the agent that should
// answer, persists what the agents produce and compacts history.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/artifact"
	"github.com/metalagman/adkx/internal/cache"
	"github.com/metalagman/adkx/internal/compaction"
	"github.com/metalagman/adkx/internal/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

var tracer = otel.Tracer("github.com/metalagman/adkx/internal/runner")

// ErrEmptyMessage is returned for a user message without parts.
var ErrEmptyMessage = errors.New("no parts in the new message")

// App bundles an agent tree with the app-wide settings applied to every
// invocation.
type App struct {
	Name      string
	RootAgent agent.Agent
	Plugins   []agent.Plugin
	// CacheConfig enables context caching for every LLM agent.
	CacheConfig *cache.Config
	// Resumability pauses invocations on long running tool calls.
	Resumability bool
	Compaction   compaction.Compactor
}

func (a App) validate() error {
	if a.Name == "" {
		return errors.New("app name is required")
	}
	if a.RootAgent == nil {
		return errors.New("root agent is required")
	}
	if a.CacheConfig != nil {
		if err := a.CacheConfig.Validate(); err != nil {
			return fmt.Errorf("cache config: %w", err)
		}
	}
	return nil
}

// Config wires an app to its services.
type Config struct {
	App       App
	Sessions  session.Service
	Artifacts artifact.Service
}

// Runner runs one app.
type Runner struct {
	app       App
	sessions  session.Service
	artifacts artifact.Service
	plugins   *agent.PluginManager
}

// New validates cfg and returns a runner.
func New(cfg Config) (*Runner, error) {
	if err := cfg.App.validate(); err != nil {
		return nil, err
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session service is required")
	}
	pm := agent.NewPluginManager(cfg.App.Plugins...)
	if err := pm.Validate(); err != nil {
		return nil, err
	}
	return &Runner{app: cfg.App, sessions: cfg.Sessions, artifacts: cfg.Artifacts, plugins: pm}, nil
}

// InMemory returns a runner over in-memory session and artifact services.
func InMemory(app App) (*Runner, error) {
	return New(Config{App: app, Sessions: session.NewInMemoryService(), Artifacts: artifact.NewInMemoryService()})
}

// AppName returns the name of the app.
func (r *Runner) AppName() string { return r.app.Name }

// RootAgent returns the root of the agent tree.
func (r *Runner) RootAgent() agent.Agent { return r.app.RootAgent }

// Sessions returns the session service.
func (r *Runner) Sessions() session.Service { return r.sessions }

// Artifacts returns the artifact service, nil when none is configured.
func (r *Runner) Artifacts() artifact.Service { return r.artifacts }

type runOptions struct {
	stateDelta map[string]any
}

// Option tunes a single Run call.
type Option func(*runOptions)

// WithStateDelta records delta on the user message event.
func WithStateDelta(delta map[string]any) Option {
	return func(o *runOptions) { o.stateDelta = delta }
}

// Run records msg in the session and streams the events of the agent that
// answers it. Every non-partial event is persisted before it is yielded.
// A nil msg continues the session without new input.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, msg *genai.Content, cfg agent.RunConfig, opts ...Option) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		var o runOptions
		for _, opt := range opts {
			opt(&o)
		}

		ctx, span := tracer.Start(ctx, "invocation",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("app.name", r.app.Name),
				attribute.String("session.id", sessionID),
			))
		defer span.End()

		err := r.run(ctx, userID, sessionID, msg, cfg, o, yield)
		if err != nil && !errors.Is(err, errStopped) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}
	}
}

// errStopped reports that the consumer stopped the iteration.
var errStopped = errors.New("stopped")

func (r *Runner) run(ctx context.Context, userID, sessionID string, msg *genai.Content, cfg agent.RunConfig, o runOptions, yield func(*session.Event, error) bool) error {
	sess, err := r.sessions.Get(ctx, &session.GetRequest{AppName: r.app.Name, UserID: userID, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	ictx := agent.NewInvocationContext(ctx, sess, r.app.RootAgent)
	ictx.SessionService = r.sessions
	ictx.Artifacts = r.artifacts
	ictx.Plugins = r.plugins
	ictx.CacheConfig = r.app.CacheConfig
	ictx.Resumable = r.app.Resumability
	ictx.RunConfig = cfg
	log.Debug().
		Str("app", r.app.Name).
		Str("session", sessionID).
		Str("invocation", ictx.InvocationID).
		Msg("runner: invocation started")

	if msg != nil {
		if msg.Role == "" {
			msg.Role = string(genai.RoleUser)
		}
		modified, err := r.plugins.RunOnUserMessage(ictx, msg)
		if err != nil {
			return err
		}
		if modified != nil {
			msg = modified
		}
		if err := r.appendUserMessage(ctx, ictx, msg, o.stateDelta); err != nil {
			return err
		}
		ictx.UserContent = msg
	}

	target := FindAgentToRun(sess, r.app.RootAgent)
	if err := r.execute(ctx, ictx, target, yield); err != nil {
		return err
	}
	return r.compact(ctx, ictx)
}

func (r *Runner) appendUserMessage(ctx context.Context, ictx *agent.InvocationContext, msg *genai.Content, delta map[string]any) error {
	if len(msg.Parts) == 0 {
		return ErrEmptyMessage
	}
	ev := session.NewEvent(ictx.InvocationID)
	ev.Author = session.AuthorUser
	ev.Content = msg
	if len(delta) > 0 {
		ev.Actions.StateDelta = delta
	}
	if err := r.sessions.AppendEvent(ctx, ictx.Session, ev); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	return nil
}

// execute runs target with the before-run, on-event and after-run plugin
// hooks around it.
func (r *Runner) execute(ctx context.Context, ictx *agent.InvocationContext, target agent.Agent, yield func(*session.Event, error) bool) error {
	defer r.plugins.RunAfterRun(ictx)

	early, err := r.plugins.RunBeforeRun(ictx)
	if err != nil {
		return err
	}
	if early != nil {
		ev := session.NewEvent(ictx.InvocationID)
		ev.Author = "model"
		ev.Content = early
		if err := r.sessions.AppendEvent(ctx, ictx.Session, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		if !yield(ev, nil) {
			return errStopped
		}
		return nil
	}

	for ev, err := range target.Run(ictx) {
		if err != nil {
			return err
		}
		if !ev.Partial {
			if err := r.sessions.AppendEvent(ctx, ictx.Session, ev); err != nil {
				return fmt.Errorf("append event: %w", err)
			}
		}
		modified, err := r.plugins.RunOnEvent(ictx, ev)
		if err != nil {
			return err
		}
		if modified != nil {
			ev = modified
		}
		if !yield(ev, nil) {
			return errStopped
		}
	}
	return nil
}

// compact records a compaction event when the app's compactor asks for one.
func (r *Runner) compact(ctx context.Context, ictx *agent.InvocationContext) error {
	if r.app.Compaction == nil {
		return nil
	}
	c, err := r.app.Compaction.MaybeCompact(ctx, ictx.Session.Events())
	if err != nil {
		log.Warn().Err(err).Str("session", ictx.Session.ID).Msg("runner: compaction failed")
		return nil
	}
	if c == nil {
		return nil
	}
	ev := session.NewEvent(ictx.InvocationID)
	ev.Author = session.AuthorUser
	ev.Actions.Compaction = c
	if err := r.sessions.AppendEvent(ctx, ictx.Session, ev); err != nil {
		return fmt.Errorf("append compaction: %w", err)
	}
	log.Info().
		Str("session", ictx.Session.ID).
		Time("start", c.StartTimestamp).
		Time("end", c.EndTimestamp).
		Msg("runner: history compacted")
	return nil
}

// FindAgentToRun picks the agent that answers the latest user message: the
// agent whose function call the message responds to, else the last agent
// that replied if it can transfer across the tree, else root.
func FindAgentToRun(sess *session.Session, root agent.Agent) agent.Agent {
	events := sess.Events()
	if ev := matchingFunctionCall(events); ev != nil {
		if a := agent.FindAgent(root, ev.Author); a != nil {
			return a
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Author == session.AuthorUser || ev.Actions.Compaction != nil {
			continue
		}
		if ev.Author == root.Name() {
			return root
		}
		a := agent.FindAgent(root, ev.Author)
		if a == nil {
			log.Warn().Str("author", ev.Author).Str("event", ev.ID).Msg("runner: event from unknown agent")
			continue
		}
		if transferable(a) {
			return a
		}
	}
	return root
}

// matchingFunctionCall returns the event holding the function call answered
// by the last event, when the last event is a function response.
func matchingFunctionCall(events []*session.Event) *session.Event {
	if len(events) == 0 {
		return nil
	}
	responses := events[len(events)-1].FunctionResponses()
	if len(responses) == 0 {
		return nil
	}
	id := responses[0].ID
	for i := len(events) - 2; i >= 0; i-- {
		for _, call := range events[i].FunctionCalls() {
			if call.ID == id {
				return events[i]
			}
		}
	}
	return nil
}

// transferable reports whether a and all its ancestors are LLM agents that
// may hand control back to their parent.
func transferable(a agent.Agent) bool {
	for ; a != nil; a = a.Parent() {
		la, ok := a.(*agent.LLMAgent)
		if !ok || la.Config().DisallowTransferToParent {
			return false
		}
	}
	return true
}
