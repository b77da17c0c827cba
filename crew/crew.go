// Package crew runs a list of tasks in order, handing each task's output to
// the next one.
package crew

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/i2y/merco/task"
)

// NothingToRun is the output of a crew with no agents or no tasks.
const NothingToRun = "No agents or tasks to run."

// errContextRunes is how much of a failing task's description is quoted in errors.
const errContextRunes = 50

// Runner executes a single task. *agent.Agent satisfies it.
type Runner interface {
	Call(ctx context.Context, t task.Task) (string, error)
}

// Crew runs its tasks sequentially. The first agent runs every task.
type Crew struct {
	agents []Runner
	tasks  []task.Task
	log    zerolog.Logger
}

// Option configures a Crew.
type Option func(*Crew)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Crew) {
		c.log = logger
	}
}

// New creates a Crew.
func New(agents []Runner, tasks []task.Task, opts ...Option) *Crew {
	c := &Crew{
		agents: agents,
		tasks:  tasks,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "crew").Logger()
	return c
}

// Run executes every task and returns the output of the last one.
func (c *Crew) Run(ctx context.Context) (string, error) {
	outputs, err := c.RunAll(ctx)
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		return NothingToRun, nil
	}
	return outputs[len(outputs)-1], nil
}

// RunAll executes every task and returns all outputs in task order. Every
// task after the first sees the previous output ahead of its own description.
func (c *Crew) RunAll(ctx context.Context) ([]string, error) {
	if len(c.agents) == 0 || len(c.tasks) == 0 {
		c.log.Info().Int("agents", len(c.agents)).Int("tasks", len(c.tasks)).Msg(NothingToRun)
		return nil, nil
	}

	runner := c.agents[0]
	outputs := make([]string, 0, len(c.tasks))

	for i, t := range c.tasks {
		current := t
		if i > 0 {
			current = task.Reframe(t, Handoff(outputs[i-1], t.Description()))
		}

		desc := current.Description()
		c.log.Info().Int("task", i+1).Str("description", firstLine(desc)).Msg("Running task")

		out, err := runner.Call(ctx, current)
		if err != nil {
			return outputs, fmt.Errorf("agent failed to execute task starting with: '%s': %w", truncate(desc, errContextRunes), err)
		}

		c.log.Debug().Int("task", i+1).Str("result", out).Msg("Task result")
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// Handoff frames description with the previous task's output.
func Handoff(previous, description string) string {
	return "Previous Task Output:\n" + previous + "\n\n---\n\nOriginal Task:\n" + description
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
