package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gigplan/availability-service/internal/coordinator"
	"github.com/gigplan/availability-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordCall struct {
	GroupID  uuid.UUID
	EventID  uuid.UUID
	Decision domain.Decision
}

// scriptedService is an in-memory PromptService with scripted results.
type scriptedService struct {
	mu sync.Mutex

	pending      []domain.PendingPrompt
	pendingErr   error
	pendingCalls int

	recordErrs []error // popped per RecordDecision call; empty means success
	records    []recordCall
}

func (s *scriptedService) PendingPrompts(ctx context.Context, groupID, memberID uuid.UUID) ([]domain.PendingPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCalls++
	return s.pending, s.pendingErr
}

func (s *scriptedService) RecordDecision(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID, decision domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if len(s.recordErrs) > 0 {
		err = s.recordErrs[0]
		s.recordErrs = s.recordErrs[1:]
	}
	if err != nil {
		return err
	}
	s.records = append(s.records, recordCall{GroupID: groupID, EventID: eventID, Decision: decision})
	return nil
}

func (s *scriptedService) recorded() []recordCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordCall(nil), s.records...)
}

func (s *scriptedService) pendingQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCalls
}

type presented struct {
	Prompt  domain.PendingPrompt
	LastErr error
}

// scriptedPresenter pops one answer per Present call and records what it saw.
type scriptedPresenter struct {
	mu      sync.Mutex
	answers []coordinator.Answer
	seen    []presented

	// optional hook before answering, for mid-sequence mutations
	onPresent func(prompt domain.PendingPrompt)
}

func (p *scriptedPresenter) Present(ctx context.Context, prompt domain.PendingPrompt, lastErr error) (coordinator.Answer, error) {
	p.mu.Lock()
	p.seen = append(p.seen, presented{Prompt: prompt, LastErr: lastErr})
	var ans coordinator.Answer
	if len(p.answers) > 0 {
		ans = p.answers[0]
		p.answers = p.answers[1:]
	} else {
		ans = coordinator.Answer{Defer: true}
	}
	hook := p.onPresent
	p.mu.Unlock()

	if hook != nil {
		hook(prompt)
	}
	return ans, nil
}

func (p *scriptedPresenter) presentedPrompts() []presented {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presented(nil), p.seen...)
}

func prompts(groupID uuid.UUID, n int) []domain.PendingPrompt {
	out := make([]domain.PendingPrompt, n)
	for i := range out {
		out[i] = domain.PendingPrompt{EventID: uuid.New(), GroupID: groupID, Name: "rehearsal"}
	}
	return out
}

func noSleep(ctx context.Context, d time.Duration) {}

func TestCheckNow_PresentsSequentiallyAndWritesDecisions(t *testing.T) {
	groupID, memberID := uuid.New(), uuid.New()
	queue := prompts(groupID, 3)

	svc := &scriptedService{pending: queue}
	pres := &scriptedPresenter{answers: []coordinator.Answer{
		{Decision: domain.DecisionYes},
		{Defer: true},
		{Decision: domain.DecisionNo},
	}}

	var paced []time.Duration
	c := coordinator.New(svc, pres, memberID,
		coordinator.WithAdvanceDelay(300*time.Millisecond),
		coordinator.WithSleep(func(ctx context.Context, d time.Duration) { paced = append(paced, d) }),
	)
	c.SetActiveGroup(groupID)

	c.CheckNow(context.Background())

	seen := pres.presentedPrompts()
	require.Len(t, seen, 3)
	for i := range queue {
		assert.Equal(t, queue[i].EventID, seen[i].Prompt.EventID, "prompt order")
	}

	recs := svc.recorded()
	require.Len(t, recs, 2, "deferred prompt writes nothing")
	assert.Equal(t, recordCall{GroupID: groupID, EventID: queue[0].EventID, Decision: domain.DecisionYes}, recs[0])
	assert.Equal(t, recordCall{GroupID: groupID, EventID: queue[2].EventID, Decision: domain.DecisionNo}, recs[1])

	// pacing pause between prompts, not after the last one
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, paced)
	assert.Equal(t, coordinator.StateIdle, c.State())
}

func TestCheckNow_WriteFailureKeepsPromptOpen(t *testing.T) {
	groupID, memberID := uuid.New(), uuid.New()
	queue := prompts(groupID, 1)
	writeErr := errors.New("write retries exhausted: timeout")

	svc := &scriptedService{pending: queue, recordErrs: []error{writeErr}}
	pres := &scriptedPresenter{answers: []coordinator.Answer{
		{Decision: domain.DecisionYes},
		{Decision: domain.DecisionYes},
	}}

	c := coordinator.New(svc, pres, memberID, coordinator.WithSleep(noSleep))
	c.SetActiveGroup(groupID)
	c.CheckNow(context.Background())

	seen := pres.presentedPrompts()
	require.Len(t, seen, 2, "same prompt re-presented after the failed write")
	assert.Equal(t, queue[0].EventID, seen[1].Prompt.EventID)
	assert.NoError(t, seen[0].LastErr)
	assert.ErrorIs(t, seen[1].LastErr, writeErr)

	recs := svc.recorded()
	require.Len(t, recs, 1, "second attempt lands")
	assert.Equal(t, domain.DecisionYes, recs[0].Decision)
}

func TestCheckNow_GroupChangeAbortsRemainingPrompts(t *testing.T) {
	groupID, otherGroup, memberID := uuid.New(), uuid.New(), uuid.New()
	queue := prompts(groupID, 3)

	svc := &scriptedService{pending: queue}
	pres := &scriptedPresenter{answers: []coordinator.Answer{{Decision: domain.DecisionYes}}}

	c := coordinator.New(svc, pres, memberID, coordinator.WithSleep(noSleep))
	c.SetActiveGroup(groupID)

	// member switches groups while the first prompt is on screen
	pres.onPresent = func(domain.PendingPrompt) { c.SetActiveGroup(otherGroup) }

	c.CheckNow(context.Background())

	assert.Len(t, pres.presentedPrompts(), 1, "queued prompts for the old group never show")
	assert.Len(t, svc.recorded(), 1, "the answered prompt still writes")
	assert.Equal(t, coordinator.StateIdle, c.State())
}

func TestCheckNow_SingleFlight(t *testing.T) {
	groupID, memberID := uuid.New(), uuid.New()
	queue := prompts(groupID, 1)

	presentEntered := make(chan struct{})
	release := make(chan struct{})

	svc := &scriptedService{pending: queue}
	pres := &blockingPresenter{entered: presentEntered, release: release}

	c := coordinator.New(svc, pres, memberID, coordinator.WithSleep(noSleep))
	c.SetActiveGroup(groupID)

	done := make(chan struct{})
	go func() {
		c.CheckNow(context.Background())
		close(done)
	}()

	<-presentEntered
	assert.Equal(t, coordinator.StatePresenting, c.State())

	// overlapping check while a prompt is on screen is a no-op
	c.CheckNow(context.Background())
	assert.Equal(t, 1, svc.pendingQueries())

	close(release)
	<-done
	assert.Equal(t, coordinator.StateIdle, c.State())
}

type blockingPresenter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPresenter) Present(ctx context.Context, prompt domain.PendingPrompt, lastErr error) (coordinator.Answer, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return coordinator.Answer{Defer: true}, nil
}

func TestCheckNow_PendingQueryFailureShowsNothing(t *testing.T) {
	groupID, memberID := uuid.New(), uuid.New()

	svc := &scriptedService{pendingErr: errors.New("db down")}
	pres := &scriptedPresenter{}

	c := coordinator.New(svc, pres, memberID, coordinator.WithSleep(noSleep))
	c.SetActiveGroup(groupID)
	c.CheckNow(context.Background())

	assert.Empty(t, pres.presentedPrompts())
	assert.Equal(t, coordinator.StateIdle, c.State())
}

func TestCheckNow_NoActiveGroupIsNoOp(t *testing.T) {
	svc := &scriptedService{pending: prompts(uuid.New(), 2)}
	pres := &scriptedPresenter{}

	c := coordinator.New(svc, pres, uuid.New(), coordinator.WithSleep(noSleep))
	c.CheckNow(context.Background())

	assert.Zero(t, svc.pendingQueries())
	assert.Empty(t, pres.presentedPrompts())
}

func TestTrigger_CoalescesWhileQueued(t *testing.T) {
	c := coordinator.New(&scriptedService{}, &scriptedPresenter{}, uuid.New())

	assert.True(t, c.Trigger())
	assert.False(t, c.Trigger(), "second trigger coalesces into the queued one")
}

func TestRun_ConsumesTriggers(t *testing.T) {
	groupID, memberID := uuid.New(), uuid.New()
	queue := prompts(groupID, 1)

	svc := &scriptedService{pending: queue}
	pres := &scriptedPresenter{answers: []coordinator.Answer{{Decision: domain.DecisionNo}}}

	c := coordinator.New(svc, pres, memberID, coordinator.WithSleep(noSleep))
	c.SetActiveGroup(groupID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.True(t, c.Trigger())

	assert.Eventually(t, func() bool {
		return len(svc.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
