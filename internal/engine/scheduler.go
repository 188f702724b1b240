package engine

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// ActionState tracks a scheduled action through its single lifecycle
// transition: PENDING -> EXECUTED or PENDING -> FAILED, never resurrected.
type ActionState uint8

const (
	ActionPending ActionState = iota
	ActionExecuted
	ActionFailed
)

// String returns the canonical state name
func (s ActionState) String() string {
	switch s {
	case ActionPending:
		return "PENDING"
	case ActionExecuted:
		return "EXECUTED"
	case ActionFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ActionSpec describes a future action to schedule
type ActionSpec struct {
	RunAt      int64  `json:"runAt"` // unix milliseconds
	ActionType string `json:"actionType"`
	Payload    any    `json:"payload"`
	Priority   int    `json:"priority"` // lower value runs first at equal runAt
}

// ScheduledAction is a queued unit of future work owned by the Scheduler
type ScheduledAction struct {
	ID         string      `json:"id"`
	RunAt      int64       `json:"runAt"`
	ActionType string      `json:"actionType"`
	Payload    any         `json:"payload"`
	Priority   int         `json:"priority"`
	State      ActionState `json:"state"`

	seq uint64 // FIFO tie-break within equal (RunAt, Priority)
}

// TickResult summarizes one due-action-processing pass
type TickResult struct {
	Processed int `json:"processed"` // actions executed this tick, failures included
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"` // still pending after the tick
}

// SchedulerTotals are lifetime counters for snapshot reporting
type SchedulerTotals struct {
	Scheduled uint64 `json:"scheduled"`
	Executed  uint64 `json:"executed"`
	Failed    uint64 `json:"failed"`
}

// ErrNoHandler is returned by a DispatchFunc when no handler is
// registered for an action type. The scheduler treats it as a no-op
// execution with a warning: unknown future action types must not crash
// existing ticks.
var ErrNoHandler = errors.New("no handler registered for action type")

// DispatchFunc routes a due action to its handler by action type
type DispatchFunc func(ctx context.Context, actionType string, payload any) error

// actionQueue is a min-heap ordered by (RunAt, Priority, seq) ascending.
// The seq counter guarantees deterministic FIFO replay for full ties.
type actionQueue []*ScheduledAction

func (q actionQueue) Len() int { return len(q) }

func (q actionQueue) Less(i, j int) bool {
	if q[i].RunAt != q[j].RunAt {
		return q[i].RunAt < q[j].RunAt
	}
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q actionQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *actionQueue) Push(x any) { *q = append(*q, x.(*ScheduledAction)) }

func (q *actionQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Scheduler holds a time/priority-ordered queue of future actions.
// Tick pops and executes everything due at the given timestamp; a single
// failing action never halts the pass or starves later-due actions.
type Scheduler struct {
	mu       sync.Mutex
	queue    actionQueue
	seq      uint64
	dispatch DispatchFunc
	errs     *ErrorDomain
	totals   SchedulerTotals
}

// NewScheduler creates a scheduler routing execution through dispatch
// and failures into errs.
func NewScheduler(dispatch DispatchFunc, errs *ErrorDomain) *Scheduler {
	return &Scheduler{
		queue:    make(actionQueue, 0, 64),
		dispatch: dispatch,
		errs:     errs,
	}
}

// Schedule inserts a PENDING action and returns its generated id
func (s *Scheduler) Schedule(spec ActionSpec) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	action := &ScheduledAction{
		ID:         uuid.NewString(),
		RunAt:      spec.RunAt,
		ActionType: spec.ActionType,
		Payload:    spec.Payload,
		Priority:   spec.Priority,
		State:      ActionPending,
		seq:        s.seq,
	}
	heap.Push(&s.queue, action)
	s.totals.Scheduled++
	return action.ID
}

// Pending returns the current queue size
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Totals returns lifetime scheduled/executed/failed counters
func (s *Scheduler) Totals() SchedulerTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// Tick repeatedly pops the minimum element while its RunAt <= now and
// executes it. Handlers run outside the queue lock so they may schedule
// follow-up actions; anything they enqueue with RunAt <= now is picked
// up within the same tick.
func (s *Scheduler) Tick(ctx context.Context, now int64) TickResult {
	var result TickResult

	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].RunAt > now {
			result.Remaining = len(s.queue)
			s.mu.Unlock()
			return result
		}
		action := heap.Pop(&s.queue).(*ScheduledAction)
		s.mu.Unlock()

		result.Processed++
		if err := s.execute(ctx, action); err != nil {
			action.State = ActionFailed
			result.Failed++
			s.errs.New(CodeActionExecutionError, "scheduled action failed", map[string]any{
				"actionId":   action.ID,
				"actionType": action.ActionType,
				"error":      err.Error(),
			})
			s.mu.Lock()
			s.totals.Failed++
			s.mu.Unlock()
			continue
		}

		action.State = ActionExecuted
		s.mu.Lock()
		s.totals.Executed++
		s.mu.Unlock()
	}
}

// execute runs one due action behind a recover barrier. A missing
// handler is a logged no-op, not a failure.
func (s *Scheduler) execute(ctx context.Context, action *ScheduledAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(describePanic(r))
		}
	}()

	if dispatchErr := s.dispatch(ctx, action.ActionType, action.Payload); dispatchErr != nil {
		if errors.Is(dispatchErr, ErrNoHandler) {
			log.Printf("⚠️ No handler for action type %q (id=%s), treating as no-op", action.ActionType, action.ID)
			return nil
		}
		return dispatchErr
	}
	return nil
}
