package agent

import (
	"context"
	"errors"
	"iter"

	"github.com/metalagman/adkx/internal/session"
	"golang.org/x/sync/errgroup"
)

// WorkflowConfig configures an agent that only orchestrates sub-agents.
type WorkflowConfig struct {
	Name        string
	Description string
	SubAgents   []Agent
	BeforeAgent []AgentCallback
	AfterAgent  []AgentCallback
}

func newWorkflowBase(self Agent, cfg WorkflowConfig) (base, error) {
	return newBase(self, cfg.Name, cfg.Description, cfg.SubAgents, cfg.BeforeAgent, cfg.AfterAgent)
}

// Sequential runs its sub-agents one after another.
type Sequential struct {
	base
}

// NewSequential builds a sequential agent.
func NewSequential(cfg WorkflowConfig) (*Sequential, error) {
	a := &Sequential{}
	b, err := newWorkflowBase(a, cfg)
	if err != nil {
		return nil, err
	}
	a.base = b
	if err := adopt(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Sequential) Run(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
	return run(a, &a.base, ictx, func(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			for _, sub := range a.subAgents {
				stop, ok := forward(ictx, sub, yield)
				if !ok || stop || ictx.Ended() {
					return
				}
			}
		}
	})
}

// forward relays the events of sub. ok is false when the caller stopped or
// an error was relayed; stop is set when the invocation paused.
func forward(ictx *InvocationContext, sub Agent, yield func(*session.Event, error) bool) (stop, ok bool) {
	for ev, err := range sub.Run(ictx) {
		if !yield(ev, err) || err != nil {
			return false, false
		}
		if ictx.ShouldPause(ev) {
			stop = true
		}
	}
	return stop, true
}

// Loop runs its sub-agents in order, repeatedly, until one escalates, the
// invocation pauses or MaxIterations is reached.
type Loop struct {
	base
	maxIterations int
}

// LoopConfig configures a loop agent. Zero MaxIterations loops until
// escalation.
type LoopConfig struct {
	WorkflowConfig
	MaxIterations int
}

// NewLoop builds a loop agent.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	a := &Loop{maxIterations: cfg.MaxIterations}
	b, err := newWorkflowBase(a, cfg.WorkflowConfig)
	if err != nil {
		return nil, err
	}
	a.base = b
	if err := adopt(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Loop) Run(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
	return run(a, &a.base, ictx, func(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			for i := 0; a.maxIterations == 0 || i < a.maxIterations; i++ {
				for _, sub := range a.subAgents {
					escalated, paused := false, false
					for ev, err := range sub.Run(ictx) {
						if !yield(ev, err) || err != nil {
							return
						}
						escalated = escalated || ev.Actions.Escalate
						paused = paused || ictx.ShouldPause(ev)
					}
					if escalated || paused || ictx.Ended() {
						return
					}
				}
			}
		}
	})
}

// Parallel runs its sub-agents concurrently, each on its own branch, and
// merges their events. Each sub-agent waits until its previous event was
// consumed, so events of one sub-agent keep their order.
type Parallel struct {
	base
}

// NewParallel builds a parallel agent.
func NewParallel(cfg WorkflowConfig) (*Parallel, error) {
	a := &Parallel{}
	b, err := newWorkflowBase(a, cfg)
	if err != nil {
		return nil, err
	}
	a.base = b
	if err := adopt(a); err != nil {
		return nil, err
	}
	return a, nil
}

type branchEvent struct {
	ev  *session.Event
	err error
	ack chan struct{}
}

func (a *Parallel) Run(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
	return run(a, &a.base, ictx, func(ictx *InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			ctx, cancel := context.WithCancel(ictx)
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)

			events := make(chan branchEvent)
			for _, sub := range a.subAgents {
				sctx := ictx.WithContext(gctx).withBranch(a.branchFor(ictx, sub))
				g.Go(func() error {
					for ev, err := range sub.Run(sctx) {
						be := branchEvent{ev: ev, err: err, ack: make(chan struct{})}
						select {
						case events <- be:
						case <-gctx.Done():
							return gctx.Err()
						}
						if err != nil {
							return err
						}
						select {
						case <-be.ack:
						case <-gctx.Done():
							return gctx.Err()
						}
					}
					return nil
				})
			}
			waitErr := make(chan error, 1)
			go func() {
				waitErr <- g.Wait()
				close(events)
			}()

			for be := range events {
				if be.err != nil {
					cancel()
					drain(events)
					yield(nil, be.err)
					return
				}
				if !yield(be.ev, nil) {
					cancel()
					drain(events)
					return
				}
				close(be.ack)
			}
			if err := <-waitErr; err != nil && !errors.Is(err, context.Canceled) {
				yield(nil, err)
			}
		}
	})
}

func (a *Parallel) branchFor(ictx *InvocationContext, sub Agent) string {
	if ictx.Branch == "" {
		return a.name + "." + sub.Name()
	}
	return ictx.Branch + "." + sub.Name()
}

func drain(events <-chan branchEvent) {
	for range events {
	}
}
