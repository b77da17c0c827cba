package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/merco/provider"
)

type lookupInput struct {
	Query string `json:"query" jsonschema:"required,description=What to look up"`
	Limit int    `json:"limit,omitempty"`
}

type lookupOutput struct {
	Hits  []string `json:"hits"`
	Total int      `json:"total"`
}

func lookupTool(t *testing.T) *TypedTool[lookupInput, lookupOutput] {
	t.Helper()
	tool, err := NewTool("lookup", "Looks things up",
		func(ctx context.Context, in lookupInput) (lookupOutput, error) {
			hits := []string{in.Query}
			return lookupOutput{Hits: hits, Total: len(hits) + in.Limit}, nil
		})
	require.NoError(t, err)
	return tool
}

func TestNewTool(t *testing.T) {
	tool := lookupTool(t)
	assert.Equal(t, "lookup", tool.Name())
	assert.Equal(t, "Looks things up", tool.Description())

	params := tool.Parameters()
	require.NotNil(t, params)
	_, hasQuery := params.Properties.Get("query")
	_, hasLimit := params.Properties.Get("limit")
	assert.True(t, hasQuery)
	assert.True(t, hasLimit)
	assert.Equal(t, []string{"query"}, params.Required)
}

func TestNewTool_Invalid(t *testing.T) {
	_, err := NewTool("", "nameless", func(ctx context.Context, in lookupInput) (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrEmptyToolName)

	_, err = NewTool[lookupInput, string]("nil_fn", "no body", nil)
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustNewTool("", "nameless", func(ctx context.Context, in lookupInput) (string, error) { return "", nil })
	})
}

func TestTypedTool_Execute(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		wantErr bool
		want    lookupOutput
	}{
		{name: "valid args", args: `{"query":"go","limit":2}`, want: lookupOutput{Hits: []string{"go"}, Total: 3}},
		{name: "empty object", args: `{}`, want: lookupOutput{Hits: []string{""}, Total: 1}},
		{name: "empty args", args: ``, want: lookupOutput{Hits: []string{""}, Total: 1}},
		{name: "invalid JSON", args: `not json`, wantErr: true},
	}

	tool := lookupTool(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), json.RawMessage(tt.args))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestTypedTool_TypedCall(t *testing.T) {
	out, err := lookupTool(t).TypedCall(context.Background(), lookupInput{Query: "direct", Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Total)
}

func TestRegistry_OrderAndReplace(t *testing.T) {
	first := MustNewTool("alpha", "first", func(ctx context.Context, in lookupInput) (string, error) { return "a1", nil })
	second := MustNewTool("beta", "second", func(ctx context.Context, in lookupInput) (string, error) { return "b", nil })
	replacement := MustNewTool("alpha", "replaced", func(ctx context.Context, in lookupInput) (string, error) { return "a2", nil })

	r := NewRegistry(first, second)
	r.Register(replacement)

	assert.Equal(t, 2, r.Len())
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name())
	assert.Equal(t, "replaced", all[0].Description())
	assert.Equal(t, "beta", all[1].Name())

	_, ok := r.Get("gamma")
	assert.False(t, ok)
}

func TestRegistry_Specs(t *testing.T) {
	assert.Nil(t, NewRegistry().Specs())

	specs := NewRegistry(lookupTool(t)).Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "lookup", specs[0].Name)
	assert.Equal(t, "Looks things up", specs[0].Description)

	var params map[string]any
	require.NoError(t, json.Unmarshal(specs[0].Parameters, &params))
	assert.Equal(t, "object", params["type"])
	assert.NotContains(t, params, "$schema")
}

func TestRegistry_Execute(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(
		lookupTool(t),
		MustNewTool("text", "returns text", func(ctx context.Context, in struct{}) (string, error) { return "plain", nil }),
		MustNewTool("fail", "always fails", func(ctx context.Context, in struct{}) (string, error) { return "", boom }),
		MustNewTool("unencodable", "returns a channel", func(ctx context.Context, in struct{}) (chan int, error) { return make(chan int), nil }),
	)
	ctx := context.Background()

	out, err := r.Execute(ctx, "lookup", `{"query":"x"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hits":["x"],"total":1}`, out)

	out, err = r.Execute(ctx, "text", "")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	_, err = r.Execute(ctx, "fail", "{}")
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "fail", toolErr.ToolName)
	assert.ErrorIs(t, err, boom)

	_, err = r.Execute(ctx, "unencodable", "{}")
	assert.True(t, errors.As(err, &toolErr))

	_, err = r.Execute(ctx, "missing", "{}")
	var notFound *ToolNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "missing", notFound.Name)
}

// recordingExecutor records every call it receives.
type recordingExecutor struct {
	calls   [][2]string
	results map[string]string
	errs    map[string]error
}

func (e *recordingExecutor) Execute(ctx context.Context, name, arguments string) (string, error) {
	e.calls = append(e.calls, [2]string{name, arguments})
	if err, ok := e.errs[name]; ok {
		return "", err
	}
	return e.results[name], nil
}

func (e *recordingExecutor) Specs() []provider.ToolDef { return nil }

func TestDispatch(t *testing.T) {
	tests := []struct {
		name  string
		calls []provider.ToolCall
		exec  *recordingExecutor
		want  []provider.Message
	}{
		{
			name:  "no calls",
			calls: nil,
			exec:  &recordingExecutor{},
			want:  nil,
		},
		{
			name:  "get_current_time with empty arguments",
			calls: []provider.ToolCall{{ID: "call_1", Name: "get_current_time", Arguments: "{}"}},
			exec:  &recordingExecutor{results: map[string]string{"get_current_time": "2025-01-01T00:00:00Z"}},
			want:  []provider.Message{provider.ToolResultMessage("call_1", "2025-01-01T00:00:00Z")},
		},
		{
			name: "failure does not abort the batch",
			calls: []provider.ToolCall{
				{ID: "c1", Name: "broken", Arguments: "{}"},
				{ID: "c2", Name: "ok", Arguments: `{"a":1}`},
			},
			exec: &recordingExecutor{
				results: map[string]string{"ok": "fine"},
				errs:    map[string]error{"broken": &ToolNotFoundError{Name: "broken"}},
			},
			want: []provider.Message{
				provider.ToolResultMessage("c1", `Error: tool not found: "broken"`),
				provider.ToolResultMessage("c2", "fine"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := Dispatch(context.Background(), tt.exec, tt.calls)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msgs)
			assert.Len(t, tt.exec.calls, len(tt.calls))
			for i, c := range tt.calls {
				assert.Equal(t, [2]string{c.Name, c.Arguments}, tt.exec.calls[i])
			}
		})
	}
}

func TestDispatch_NilExecutor(t *testing.T) {
	msgs, err := Dispatch(context.Background(), nil, []provider.ToolCall{{ID: "c1", Name: "x"}})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `Error: tool not found: "x"`, msgs[0].Content)
}

func TestDispatch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &recordingExecutor{}
	_, err := Dispatch(ctx, exec, []provider.ToolCall{{ID: "c1", Name: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.calls)
}
