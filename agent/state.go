package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/i2y/merco/llm"
	"github.com/i2y/merco/provider"
	"github.com/i2y/merco/task"
)

// State is a node of the per-invocation state machine.
type State int

const (
	StateInit State = iota
	StateAwaitingCompletion
	StateDispatchingTools
	StateValidating
	StateRetrying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateValidating:
		return "validating"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// terminal reports whether no further transition is possible.
func (s State) terminal() bool {
	return s == StateDone || s == StateFailed
}

// run is the state of one invocation. It is never shared.
type run struct {
	agent *Agent
	task  task.Task
	state State

	attempt    int
	transcript []provider.Message
	calls      []provider.ToolCall
	output     string
	usage      provider.Usage

	// correction is the validation error carried into the next seed.
	correction string
	// lastErr is the failure of the most recent attempt.
	lastErr error
	// err is the final error once state is StateFailed.
	err error

	backoff backoff.BackOff
	log     zerolog.Logger
}

func (a *Agent) newRun(t task.Task) *run {
	return &run{
		agent:   a,
		task:    t,
		state:   StateInit,
		backoff: a.cfg.NewBackoff(),
		log:     a.log,
	}
}

// drive steps until a terminal state and returns the final error, if any.
func (r *run) drive(ctx context.Context) error {
	for !r.state.terminal() {
		r.step(ctx)
	}
	return r.err
}

// step performs the transition out of the current state.
func (r *run) step(ctx context.Context) {
	switch r.state {
	case StateInit:
		r.init()
	case StateAwaitingCompletion:
		r.awaitCompletion(ctx)
	case StateDispatchingTools:
		r.dispatchTools(ctx)
	case StateValidating:
		r.validate()
	case StateRetrying:
		r.retry(ctx)
	}
}

// init starts a new attempt from a freshly built seed.
func (r *run) init() {
	r.attempt++
	r.transcript = r.agent.seed(r.task, r.correction)
	r.calls = nil
	r.output = ""
	r.log = r.agent.log.With().Int("attempt", r.attempt).Logger()
	r.log.Debug().Int("max_attempts", r.agent.cfg.MaxAttempts).Msg("Starting attempt")
	r.state = StateAwaitingCompletion
}

func (r *run) awaitCompletion(ctx context.Context) {
	resp, err := r.agent.complete(ctx, r.agent.request(r.transcript))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			r.fail(ctx.Err())
		case provider.IsFatal(err):
			r.fail(fmt.Errorf("completion: %w", err))
		default:
			r.log.Warn().Err(err).Msg("Completion failed")
			r.lastErr = err
			r.correction = ""
			r.state = StateRetrying
		}
		return
	}
	r.usage.Add(resp.Usage)

	if resp.Kind == provider.KindToolCalls && len(resp.ToolCalls) > 0 {
		r.calls = resp.ToolCalls
		r.state = StateDispatchingTools
		return
	}

	// An empty call set carries nothing to dispatch and is judged as empty text.
	r.output = resp.Content
	r.transcript = append(r.transcript, provider.AssistantMessage(resp.Content))
	r.state = StateValidating
}

func (r *run) dispatchTools(ctx context.Context) {
	r.log.Debug().Int("calls", len(r.calls)).Msg("Dispatching tool calls")
	r.transcript = append(r.transcript, provider.AssistantToolCallMessage(r.calls))

	results, err := llm.Dispatch(r.log.WithContext(ctx), r.agent.Tools, r.calls)
	r.calls = nil
	if err != nil {
		r.fail(err)
		return
	}
	r.transcript = append(r.transcript, results...)
	r.state = StateAwaitingCompletion
}

func (r *run) validate() {
	err := r.task.ValidateOutput(r.output)
	if err == nil {
		r.log.Debug().Msg("Output accepted")
		r.state = StateDone
		return
	}
	r.log.Warn().Err(err).Msg("Output rejected")
	r.lastErr = err
	r.correction = err.Error()
	r.state = StateRetrying
}

// retry waits before the next attempt, or fails once the budget is spent.
func (r *run) retry(ctx context.Context) {
	if r.attempt >= r.agent.cfg.MaxAttempts {
		r.fail(&ExhaustedError{Attempts: r.attempt, Cause: r.lastErr})
		return
	}

	wait := r.backoff.NextBackOff()
	if wait == backoff.Stop {
		r.fail(&ExhaustedError{Attempts: r.attempt, Cause: r.lastErr})
		return
	}
	if err := sleep(ctx, wait); err != nil {
		r.fail(err)
		return
	}
	r.state = StateInit
}

func (r *run) fail(err error) {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		r.log.Error().Err(exhausted.Cause).Int("attempts", exhausted.Attempts).Msg("Attempts exhausted")
	} else {
		r.log.Error().Err(err).Msg("Run failed")
	}
	r.err = err
	r.state = StateFailed
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
