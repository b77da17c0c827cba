// Package agent runs the tool-calling conversation loop: it seeds a
// transcript from a task, drives completions and tool dispatch until the
// model produces text, validates that text, and retries with corrective
// feedback within a fixed attempt budget.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/i2y/merco/llm"
	"github.com/i2y/merco/provider"
	"github.com/i2y/merco/task"
)

// DefaultMaxAttempts is the attempt budget used when Config.MaxAttempts is zero.
const DefaultMaxAttempts = 3

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// Config holds the completion and retry settings of an Agent.
type Config struct {
	Model       string
	Temperature *float64
	MaxTokens   *int

	// MaxAttempts bounds whole attempts, not tool round-trips.
	MaxAttempts int

	// Stream requests completions through CompletionStream when the
	// provider supports it. OnChunk, if set, observes every chunk.
	Stream  bool
	OnChunk func(*provider.StreamChunk)

	// NewBackoff returns the pacing policy for one invocation.
	NewBackoff func() backoff.BackOff
}

// Agent is a persona bound to a provider and an optional tool set.
type Agent struct {
	Backstory string
	Goals     []string
	Tools     llm.Executor

	provider provider.Provider
	cfg      Config
	log      zerolog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithBackstory sets the system persona.
func WithBackstory(backstory string) Option {
	return func(a *Agent) {
		a.Backstory = backstory
	}
}

// WithGoals sets the goal statements, sent joined by newlines.
func WithGoals(goals ...string) Option {
	return func(a *Agent) {
		a.Goals = goals
	}
}

// WithTools sets the tools declared to the model.
func WithTools(exec llm.Executor) Option {
	return func(a *Agent) {
		a.Tools = exec
	}
}

// WithConfig replaces the whole Config. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(a *Agent) {
		a.cfg = cfg
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(a *Agent) {
		a.cfg.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) {
		a.cfg.Temperature = &t
	}
}

// WithMaxTokens sets the maximum tokens per completion.
func WithMaxTokens(n int) Option {
	return func(a *Agent) {
		a.cfg.MaxTokens = &n
	}
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(a *Agent) {
		a.cfg.MaxAttempts = n
	}
}

// WithStreaming enables streamed completions. fn may be nil.
func WithStreaming(fn func(*provider.StreamChunk)) Option {
	return func(a *Agent) {
		a.cfg.Stream = true
		a.cfg.OnChunk = fn
	}
}

// WithBackoff sets the factory for the wait policy between attempts.
func WithBackoff(fn func() backoff.BackOff) Option {
	return func(a *Agent) {
		a.cfg.NewBackoff = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) {
		a.log = logger
	}
}

// New creates an Agent that completes through p.
//
// Example:
//
//	a := agent.New(p,
//	    agent.WithBackstory("You are a careful arithmetician."),
//	    agent.WithGoals("Answer precisely."),
//	    agent.WithModel("gpt-4o-mini"),
//	)
//	out, err := a.Call(ctx, task.New("What is 2+2?"))
func New(p provider.Provider, opts ...Option) *Agent {
	a := &Agent{
		provider: p,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cfg.MaxAttempts <= 0 {
		a.cfg.MaxAttempts = DefaultMaxAttempts
	}
	if a.cfg.NewBackoff == nil {
		a.cfg.NewBackoff = defaultBackoff
	}
	a.log = a.log.With().Str("component", "agent").Logger()
	return a
}

func defaultBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = defaultInitialInterval
	eb.MaxInterval = defaultMaxInterval
	// The attempt budget bounds retries, not elapsed time.
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Config returns the effective configuration.
func (a *Agent) Config() Config {
	return a.cfg
}

// Result is the outcome of a successful Run.
type Result struct {
	Output string

	// Attempts is the number of attempts made, including the successful one.
	Attempts int

	// Transcript is the conversation of the successful attempt, ending with
	// the accepted assistant message.
	Transcript []provider.Message

	// Usage sums token usage over every completion of every attempt.
	Usage provider.Usage
}

// Run executes t and returns the validated output with its transcript.
// A configuration error fails immediately; other failures are retried until
// the attempt budget is spent, then reported as *ExhaustedError.
func (a *Agent) Run(ctx context.Context, t task.Task) (*Result, error) {
	r := a.newRun(t)
	if err := r.drive(ctx); err != nil {
		return nil, err
	}
	return &Result{
		Output:     r.output,
		Attempts:   r.attempt,
		Transcript: r.transcript,
		Usage:      r.usage,
	}, nil
}

// Call executes t and returns only the validated output.
func (a *Agent) Call(ctx context.Context, t task.Task) (string, error) {
	res, err := a.Run(ctx, t)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// seed builds the opening turns of an attempt. correction, when non-empty,
// is the validation error of the previous attempt.
func (a *Agent) seed(t task.Task, correction string) []provider.Message {
	msgs := []provider.Message{
		provider.SystemMessage(a.Backstory),
		provider.UserMessage(strings.Join(a.Goals, "\n")),
		provider.UserMessage(taskPrompt(t)),
	}
	if correction != "" {
		msgs = append(msgs, provider.UserMessage(correctionPrompt(correction)))
	}
	return msgs
}

func taskPrompt(t task.Task) string {
	expected := t.ExpectedOutput()
	if expected == "" {
		expected = "None"
	}

	var b strings.Builder
	b.WriteString(t.Description())
	b.WriteString("\n\nEXPECTED OUTPUT: ")
	b.WriteString(expected)
	if format := t.FormatPrompt(); format != "" {
		b.WriteString("\n\n")
		b.WriteString(format)
	}
	return b.String()
}

func correctionPrompt(reason string) string {
	return "Your previous answer was rejected: " + reason +
		"\nAnswer the task again and follow the expected output exactly."
}

func (a *Agent) request(messages []provider.Message) *provider.Request {
	req := &provider.Request{
		Model:       a.cfg.Model,
		Messages:    messages,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}
	if a.Tools != nil {
		req.Tools = a.Tools.Specs()
	}
	return req
}

// complete issues one completion, streamed when configured and supported.
func (a *Agent) complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	sp, ok := a.provider.(provider.StreamingProvider)
	if !a.cfg.Stream || !ok {
		return a.provider.Completion(ctx, req)
	}

	stream, err := sp.CompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for stream.Next() {
		if a.cfg.OnChunk != nil {
			a.cfg.OnChunk(stream.Current())
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return stream.Response(), nil
}
