// Package coordinator drives the one-prompt-at-a-time availability check.
//
// The original ad hoc approach (a boolean re-entrancy flag plus chained async
// calls with manual indices) is reframed here as an explicit state machine:
// Idle -> Checking -> Presenting(i) -> ... -> Idle. Cycle triggers are
// messages into the run loop; the active-group switch is a message consumed
// between prompts. "Only one cycle at a time" is a structural property of the
// guarded transition out of Idle, not a convention.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/gigplan/availability-service/internal/pkg/logger"
	"github.com/google/uuid"
)

type State int32

const (
	StateIdle State = iota
	StateChecking
	StatePresenting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StatePresenting:
		return "presenting"
	default:
		return "unknown"
	}
}

// Answer is the member's reaction to one blocking prompt: a decision, or an
// explicit defer that writes nothing and lets the event reappear next cycle.
type Answer struct {
	Decision domain.Decision
	Defer    bool
}

// Presenter is implemented by the UI collaborator. Present blocks until the
// member chooses; there is no timeout on decision time. lastErr carries the
// previous write failure for the same prompt so the UI can show it while
// keeping the member's choice selectable.
type Presenter interface {
	Present(ctx context.Context, prompt domain.PendingPrompt, lastErr error) (Answer, error)
}

// PromptService is the slice of the availability service the coordinator
// consumes: the pending-list query and the single write entry point.
type PromptService interface {
	PendingPrompts(ctx context.Context, groupID, memberID uuid.UUID) ([]domain.PendingPrompt, error)
	RecordDecision(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID, decision domain.Decision) error
}

type Coordinator struct {
	svc       PromptService
	presenter Presenter
	memberID  uuid.UUID

	mu          sync.Mutex
	state       State
	activeGroup uuid.UUID

	triggerCh chan struct{}

	advanceDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration)
}

type Option func(*Coordinator)

// WithAdvanceDelay sets the pacing pause between successive prompts.
func WithAdvanceDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.advanceDelay = d }
}

// WithSleep overrides the pacing sleep (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration)) Option {
	return func(c *Coordinator) { c.sleep = fn }
}

func New(svc PromptService, presenter Presenter, memberID uuid.UUID, opts ...Option) *Coordinator {
	c := &Coordinator{
		svc:          svc,
		presenter:    presenter,
		memberID:     memberID,
		state:        StateIdle,
		triggerCh:    make(chan struct{}, 1),
		advanceDelay: 300 * time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetActiveGroup records the member's group switch. A running cycle re-reads
// the active group before each prompt and aborts if it changed: queued
// prompts for the old group are never shown under the new group's context.
func (c *Coordinator) SetActiveGroup(groupID uuid.UUID) {
	c.mu.Lock()
	c.activeGroup = groupID
	c.mu.Unlock()
}

func (c *Coordinator) ActiveGroup() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeGroup
}

// Trigger requests a check cycle. Overlapping triggers while a cycle is in
// flight are no-ops; the buffered channel keeps at most one queued.
func (c *Coordinator) Trigger() bool {
	select {
	case c.triggerCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run consumes trigger messages until ctx is canceled. App foreground/resume
// and explicit re-checks all funnel through Trigger.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.triggerCh:
			c.CheckNow(ctx)
		}
	}
}

// CheckNow runs one full check cycle synchronously. It is the guarded
// transition out of Idle: if another cycle is running this is a no-op.
func (c *Coordinator) CheckNow(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateChecking
	group := c.activeGroup
	c.mu.Unlock()

	defer c.setState(StateIdle)

	if group == uuid.Nil {
		return
	}

	pending, err := c.svc.PendingPrompts(ctx, group, c.memberID)
	if err != nil {
		// Best-effort path: never block the app over a failed pending query.
		logger.WithCtx(ctx).Warn().Err(err).Msg("pending query failed; no prompts this cycle")
		return
	}
	if len(pending) == 0 {
		return
	}

	for i, prompt := range pending {
		if c.ActiveGroup() != group {
			logger.WithCtx(ctx).Info().
				Str("group_id", group.String()).
				Int("remaining", len(pending)-i).
				Msg("active group changed; aborting prompt sequence")
			return
		}

		c.setState(StatePresenting)
		done, err := c.presentOne(ctx, group, prompt)
		if err != nil || !done {
			return
		}

		if i < len(pending)-1 {
			c.sleep(ctx, c.advanceDelay)
		}
	}
}

// presentOne keeps a single prompt open until the member's decision is
// durably written or they defer. A write failure re-presents the same prompt
// with the error attached, so the intended decision is never silently lost.
func (c *Coordinator) presentOne(ctx context.Context, group uuid.UUID, prompt domain.PendingPrompt) (bool, error) {
	var lastErr error
	for {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		ans, err := c.presenter.Present(ctx, prompt, lastErr)
		if err != nil {
			return false, err
		}
		if ans.Defer {
			return true, nil
		}

		if err := c.svc.RecordDecision(ctx, group, prompt.EventID, nil, c.memberID, ans.Decision); err != nil {
			lastErr = err
			continue
		}
		return true, nil
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
