package crew

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/merco/agent"
	"github.com/i2y/merco/provider"
	"github.com/i2y/merco/task"
)

// echoRunner records the tasks it sees and replies from a fixed list.
type echoRunner struct {
	seen    []task.Task
	replies []string
	failAt  int
}

func (r *echoRunner) Call(ctx context.Context, t task.Task) (string, error) {
	r.seen = append(r.seen, t)
	if r.failAt > 0 && len(r.seen) == r.failAt {
		return "", errors.New("model unavailable")
	}
	return r.replies[len(r.seen)-1], nil
}

func TestCrew_Run_Empty(t *testing.T) {
	tests := []struct {
		name   string
		agents []Runner
		tasks  []task.Task
	}{
		{name: "no agents", tasks: []task.Task{task.New("a")}},
		{name: "no tasks", agents: []Runner{&echoRunner{}}},
		{name: "nothing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := New(tt.agents, tt.tasks).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, NothingToRun, out)
		})
	}
}

func TestCrew_RunAll_PassesOutputForward(t *testing.T) {
	first := &echoRunner{replies: []string{"outline", "draft", "final"}}
	unused := &echoRunner{}
	tasks := []task.Task{
		task.New("Write an outline"),
		task.New("Write a draft", task.WithExpectedOutput("Prose")),
		task.New("Polish it"),
	}

	outputs, err := New([]Runner{first, unused}, tasks).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"outline", "draft", "final"}, outputs)
	assert.Empty(t, unused.seen)

	require.Len(t, first.seen, 3)
	assert.Equal(t, "Write an outline", first.seen[0].Description())
	assert.Equal(t, "Previous Task Output:\noutline\n\n---\n\nOriginal Task:\nWrite a draft", first.seen[1].Description())
	assert.Equal(t, "Prose", first.seen[1].ExpectedOutput())
	assert.Equal(t, "Previous Task Output:\ndraft\n\n---\n\nOriginal Task:\nPolish it", first.seen[2].Description())
}

func TestCrew_Run_ReturnsLastOutput(t *testing.T) {
	r := &echoRunner{replies: []string{"one", "two"}}
	out, err := New([]Runner{r}, []task.Task{task.New("a"), task.New("b")}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", out)
}

func TestCrew_Run_Error(t *testing.T) {
	r := &echoRunner{replies: []string{"first"}, failAt: 2}
	tasks := []task.Task{
		task.New("Gather sources"),
		task.New(strings.Repeat("x", 80)),
	}

	outputs, err := New([]Runner{r}, tasks).RunAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"first"}, outputs)
	assert.Contains(t, err.Error(), "agent failed to execute task starting with: 'Previous Task Output:\nfirst\n\n---\n\nOriginal Task:\nx'")
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestCrew_WithAgent(t *testing.T) {
	p := &staticProvider{replies: []string{"4", "8"}}
	a := agent.New(p, agent.WithModel("m"))

	out, err := New([]Runner{a}, []task.Task{task.New("2+2"), task.New("double it")}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8", out)

	require.Len(t, p.requests, 2)
	last := p.requests[1].Messages
	assert.Contains(t, last[len(last)-1].Content, "Previous Task Output:\n4")
}

type staticProvider struct {
	replies  []string
	requests []*provider.Request
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) Completion(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	p.requests = append(p.requests, req)
	return provider.NewMessageResponse(p.replies[len(p.requests)-1]), nil
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "hi", truncate("hi", 50))
	assert.Equal(t, "first", firstLine("first\nsecond"))
}
