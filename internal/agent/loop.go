// File: internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/config"
	"github.com/xkilldash9x/domrelay/internal/observability"
	"github.com/xkilldash9x/domrelay/internal/snapshot"
)

// stopRequest ends the current request when submitted verbatim.
const stopRequest = "done"

// Options wires a Loop to its collaborators.
type Options struct {
	Store     StateStore
	Page      Page
	Generator Generator
	// Readiness gates ticks until the page realm is ready. Nil means always ready.
	Readiness   Readiness
	Config      config.LoopConfig
	MaxSnapshot int
	Metrics     *observability.Metrics
}

// Loop drives a user request to completion: snapshot the page, ask for the
// next action, record it, execute it, repeat.
//
// The persisted ActionLoopState is only written while holding the slot, a
// one-element channel shared by ticks and submits. A tick that cannot take
// the slot immediately is dropped, so ticks never overlap.
type Loop struct {
	store     StateStore
	page      Page
	gen       Generator
	readiness Readiness
	cfg       config.LoopConfig
	maxSnap   int
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// notReadySince is when ticks started finding the page not ready for
	// the current request. Guarded by slot.
	notReadySince time.Time

	slot    chan struct{}
	wake    chan struct{}
	stopped chan struct{}
	runOnce sync.Once

	statusMu sync.RWMutex
	status   schemas.LoopStatus
	updates  chan schemas.LoopStatus
}

// NewLoop creates an idle loop. Call Run to start the worker.
func NewLoop(opts Options, logger *zap.Logger) *Loop {
	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 1500 * time.Millisecond
	}
	return &Loop{
		store:     opts.Store,
		page:      opts.Page,
		gen:       opts.Generator,
		readiness: opts.Readiness,
		cfg:       cfg,
		maxSnap:   opts.MaxSnapshot,
		metrics:   opts.Metrics,
		logger:    logger.Named("loop"),
		now:       time.Now,
		slot:      make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
		status:    statusOf(schemas.DefaultState()),
		updates:   make(chan schemas.LoopStatus, 1),
	}
}

// Run ticks every interval until ctx is done. It must be called at most once.
func (l *Loop) Run(ctx context.Context) {
	l.runOnce.Do(func() {
		defer close(l.stopped)
		l.logger.Info("Action loop started.", zap.Duration("interval", l.cfg.Interval))

		ticker := time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				l.logger.Info("Action loop stopped.")
				return
			case <-ticker.C:
			case <-l.wake:
			}
			if outcome := l.Tick(ctx); outcome == TickSkipped {
				l.logger.Debug("Tick dropped, previous one still in flight.")
			}
		}
	})
}

// Stopped is closed when Run returns.
func (l *Loop) Stopped() <-chan struct{} { return l.stopped }

// Submit starts a new request, replacing whatever was running. The request
// "done" ends the current one instead.
func (l *Loop) Submit(ctx context.Context, request string) error {
	request = strings.TrimSpace(request)
	if request == "" {
		return ErrEmptyRequest
	}
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	var state schemas.ActionLoopState
	if strings.EqualFold(request, stopRequest) {
		current, err := l.store.LoadState(ctx)
		if err != nil {
			return fmt.Errorf("agent: load state: %w", err)
		}
		state = current
		state.Done = true
		state.UserRequest = ""
		state.UpdatedAt = l.now()
		l.logger.Info("Request stopped by user.")
	} else {
		state = schemas.NewRequestState(request, l.now())
		l.logger.Info("New request submitted.", zap.String("request", request))
	}

	if err := l.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("agent: save state: %w", err)
	}
	l.publish(state)
	if !state.Done {
		l.poke()
	}
	return nil
}

// ResumeIfRunning picks up a persisted request that has not finished, for
// example after a restart or a page load. It reports whether one was found.
func (l *Loop) ResumeIfRunning(ctx context.Context) (bool, error) {
	state, err := l.store.LoadState(ctx)
	if err != nil {
		return false, fmt.Errorf("agent: load state: %w", err)
	}
	l.publish(state)
	if state.Done {
		return false, nil
	}
	l.logger.Info("Resuming unfinished request.",
		zap.String("request", state.UserRequest),
		zap.Int("steps", state.Len()))
	l.poke()
	return true, nil
}

// Status returns the latest view of the loop.
func (l *Loop) Status() schemas.LoopStatus {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	s := l.status
	s.History = append([]string{}, s.History...)
	return s
}

// StatusUpdates delivers the latest status after every change. Intermediate
// values are coalesced for a slow reader. Meant for a single consumer.
func (l *Loop) StatusUpdates() <-chan schemas.LoopStatus { return l.updates }

// Tick performs one iteration. It returns TickSkipped without doing anything
// if another tick or a submit is in progress.
func (l *Loop) Tick(ctx context.Context) (outcome TickOutcome) {
	select {
	case l.slot <- struct{}{}:
	default:
		return TickSkipped
	}
	defer l.release()

	start := time.Now()
	parent := ctx
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic during tick.", zap.Any("panic_value", r), zap.Stack("stack"))
			outcome = TickPanicked
			l.recordFailure(parent, fmt.Errorf("panic: %v", r))
		}
		if outcome != TickIdle && outcome != TickNotReady {
			l.metrics.ObserveTick(string(outcome), time.Since(start))
		}
	}()

	if l.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.TickTimeout)
		defer cancel()
	}
	return l.tick(ctx)
}

func (l *Loop) tick(ctx context.Context) TickOutcome {
	if !l.pageReady() {
		return l.notReady(ctx)
	}
	l.notReadySince = time.Time{}

	state, err := l.store.LoadState(ctx)
	if err != nil {
		l.logger.Error("Failed to load state.", zap.Error(err))
		return TickFailed
	}
	if state.Done {
		return TickIdle
	}

	snap, err := snapshot.Capture(ctx, l.page, l.maxSnap)
	if err != nil {
		l.logger.Warn("Failed to snapshot page.", zap.Error(err))
		return l.fail(ctx, state, err)
	}

	out := l.gen.GenerateAction(ctx, snap, state)
	if out.Failed() {
		return l.fail(ctx, state, out.Err)
	}

	action := out.Action
	state.Append(action.Description, action.Code, out.Exchange)
	state.ConsecutiveFailures = 0
	state.FailureReason = ""
	if evicted := state.Trim(l.cfg.MaxHistory); evicted > 0 {
		l.logger.Debug("Evicted oldest history entries.", zap.Int("evicted", evicted))
	}
	state.Done = action.Done
	if state.Done {
		state.UserRequest = ""
	}
	state.UpdatedAt = l.now()

	if err := l.store.SaveState(ctx, state); err != nil {
		// An unpersisted step is never executed.
		l.logger.Error("Failed to save state.", zap.Error(err))
		return TickFailed
	}
	l.publish(state)

	l.logger.Info("Step recorded.",
		zap.Int("step", state.Len()),
		zap.String("description", action.Description),
		zap.Bool("done", action.Done))

	if state.Done {
		l.logger.Info("Request complete.", zap.Int("steps", state.Len()))
		return TickFinished
	}
	if action.Code == "" {
		l.logger.Info("No code was generated.")
		return TickAdvanced
	}

	res, err := l.page.Send(ctx, action.Code, false)
	if errors.Is(err, bridge.ErrBridgeClosed) {
		// The code navigated away; the new document will report readiness.
		l.logger.Info("Page navigated during execution.")
		return TickAdvanced
	}
	if err == nil && res.Failed() {
		err = errors.New(res.Err)
	}
	if err != nil {
		l.logger.Warn("Generated code failed in the page.", zap.Error(err))
		return l.fail(ctx, state, fmt.Errorf("execute: %w", err))
	}
	l.logger.Debug("Generated code executed.", zap.String("result", res.String()))
	return TickAdvanced
}

// notReady handles a tick taken before the page realm is ready. A running
// request that has waited longer than the ready timeout is ended.
func (l *Loop) notReady(ctx context.Context) TickOutcome {
	if l.cfg.ReadyTimeout <= 0 {
		return TickNotReady
	}
	state, err := l.store.LoadState(ctx)
	if err != nil {
		l.logger.Error("Failed to load state.", zap.Error(err))
		return TickNotReady
	}
	if state.Done {
		l.notReadySince = time.Time{}
		return TickIdle
	}

	now := l.now()
	if l.notReadySince.IsZero() || l.notReadySince.Before(state.UpdatedAt) {
		l.notReadySince = now
	}
	waited := now.Sub(l.notReadySince)
	if waited < l.cfg.ReadyTimeout {
		return TickNotReady
	}

	l.notReadySince = time.Time{}
	state.Done = true
	state.UserRequest = ""
	state.FailureReason = fmt.Sprintf("%v after %s", ErrPageNotReady, waited.Round(time.Second))
	state.UpdatedAt = now
	l.logger.Error("Giving up on request, page realm never became ready.", zap.Duration("waited", waited))
	if err := l.store.SaveState(ctx, state); err != nil {
		l.logger.Error("Failed to save state.", zap.Error(err))
		return TickFailed
	}
	l.publish(state)
	return TickGaveUp
}

// fail counts a failed tick against state and applies the cutoff.
func (l *Loop) fail(ctx context.Context, state schemas.ActionLoopState, cause error) TickOutcome {
	state.ConsecutiveFailures++
	outcome := TickFailed

	if limit := l.cfg.MaxConsecutiveFailures; limit > 0 && state.ConsecutiveFailures >= limit {
		state.Done = true
		state.UserRequest = ""
		state.FailureReason = fmt.Sprintf("gave up after %d consecutive failures: %v", state.ConsecutiveFailures, cause)
		outcome = TickGaveUp
		l.logger.Error("Giving up on request.",
			zap.Int("failures", state.ConsecutiveFailures),
			zap.Error(cause))
	} else {
		l.logger.Warn("Tick failed.",
			zap.Int("failures", state.ConsecutiveFailures),
			zap.Error(cause))
	}

	state.UpdatedAt = l.now()
	if err := l.store.SaveState(ctx, state); err != nil {
		l.logger.Error("Failed to save state after failure.", zap.Error(err))
		return TickFailed
	}
	l.publish(state)
	return outcome
}

// recordFailure reloads the state and counts a failure against it. Used when
// the tick's own copy is not available.
func (l *Loop) recordFailure(ctx context.Context, cause error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic while recording failure.", zap.Any("panic_value", r))
		}
	}()
	state, err := l.store.LoadState(ctx)
	if err != nil || state.Done {
		return
	}
	l.fail(ctx, state, cause)
}

func (l *Loop) pageReady() bool {
	if l.readiness == nil {
		return true
	}
	select {
	case <-l.readiness.Ready():
		return true
	default:
		return false
	}
}

func (l *Loop) acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrLoopStopped
	}
}

func (l *Loop) release() { <-l.slot }

func (l *Loop) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) publish(state schemas.ActionLoopState) {
	st := statusOf(state)
	l.statusMu.Lock()
	l.status = st
	l.statusMu.Unlock()

	st.History = append([]string{}, st.History...)
	for {
		select {
		case l.updates <- st:
			return
		default:
		}
		// Replace a stale value the consumer has not read yet.
		select {
		case <-l.updates:
		default:
		}
	}
}

func statusOf(state schemas.ActionLoopState) schemas.LoopStatus {
	return schemas.LoopStatus{
		Request:       state.UserRequest,
		Loading:       !state.Done,
		Done:          state.Done,
		History:       append([]string{}, state.DescriptionHistory...),
		FailureReason: state.FailureReason,
	}
}
