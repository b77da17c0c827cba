package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/merco/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	n := 0
	p.newID = func() string {
		n++
		return fmt.Sprintf("call_%d", n)
	}
	return p
}

func TestNew_MissingKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := New()
	assert.True(t, provider.IsFatal(err))
}

func TestNew_GeneratesUniqueIDs(t *testing.T) {
	p, err := New(WithAPIKey("k"))
	require.NoError(t, err)

	a, b := p.newID(), p.newID()
	assert.True(t, strings.HasPrefix(a, "call_"))
	assert.NotEqual(t, a, b)
}

func TestBuildRequest_ToolResultsByName(t *testing.T) {
	temp := 0.5
	req := buildRequest(&provider.Request{
		Model:       "gemini-2.5-flash",
		Temperature: &temp,
		Messages: []provider.Message{
			provider.SystemMessage("You are helpful."),
			provider.UserMessage("Weather in Rome and the time?"),
			provider.AssistantToolCallMessage([]provider.ToolCall{
				{ID: "call_a", Name: "get_weather", Arguments: `{"city":"Rome"}`},
				{ID: "call_b", Name: "get_current_time", Arguments: ""},
			}),
			provider.ToolResultMessage("call_a", `{"temp":21}`),
			provider.ToolResultMessage("call_b", "10:30"),
		},
	})

	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "You are helpful.", req.SystemInstruction.Parts[0].Text)
	require.NotNil(t, req.GenerationConfig)
	assert.Equal(t, 0.5, *req.GenerationConfig.Temperature)

	raw, err := json.Marshal(req.Contents)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"user","parts":[{"text":"Weather in Rome and the time?"}]},
		{"role":"model","parts":[
			{"functionCall":{"name":"get_weather","args":{"city":"Rome"}}},
			{"functionCall":{"name":"get_current_time","args":{}}}
		]},
		{"role":"user","parts":[
			{"functionResponse":{"name":"get_weather","response":{"temp":21}}},
			{"functionResponse":{"name":"get_current_time","response":{"result":"10:30"}}}
		]}
	]`, string(raw))
}

func TestBuildRequest_SkipsEmptyText(t *testing.T) {
	req := buildRequest(&provider.Request{
		Model: "gemini-2.5-flash",
		Messages: []provider.Message{
			provider.SystemMessage(""),
			provider.UserMessage(""),
			provider.UserMessage("task"),
		},
	})

	assert.Nil(t, req.SystemInstruction)
	raw, err := json.Marshal(req.Contents)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","parts":[{"text":"task"}]}]`, string(raw))
}

func TestCompletion_FunctionCall(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
		assert.Equal(t, "get_current_time", decls[0].(map[string]any)["name"])

		_, _ = io.WriteString(w, `{
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"functionCall": {"name": "get_current_time", "args": {}}},
					{"functionCall": {"name": "get_current_time"}}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 4, "totalTokenCount": 12}
		}`)
	})

	resp, err := p.Completion(context.Background(), &provider.Request{
		Model:    "gemini-2.5-flash",
		Messages: []provider.Message{provider.UserMessage("time?")},
		Tools:    []provider.ToolDef{{Name: "get_current_time", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	require.Equal(t, provider.KindToolCalls, resp.Kind)
	assert.Equal(t, []provider.ToolCall{
		{ID: "call_1", Name: "get_current_time", Arguments: "{}"},
		{ID: "call_2", Name: "get_current_time", Arguments: "{}"},
	}, resp.ToolCalls)
	assert.Equal(t, provider.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestCompletion_Text(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"4"}]},"finishReason":"STOP"}]}`)
	})

	resp, err := p.Completion(context.Background(), &provider.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, provider.KindMessage, resp.Kind)
	assert.Equal(t, "4", resp.Content)
	assert.Nil(t, resp.Usage)
}

func TestCompletion_NoCandidates(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantParse bool
	}{
		{name: "blocked prompt", body: `{"promptFeedback":{"blockReason":"SAFETY"}}`},
		{name: "empty", body: `{}`, wantParse: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})

			resp, err := p.Completion(context.Background(), &provider.Request{Model: "m"})
			if tt.wantParse {
				var parseErr *provider.ParseError
				assert.True(t, errors.As(err, &parseErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, provider.FinishReasonContentFilter, resp.FinishReason)
		})
	}
}

func TestCompletion_APIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`)
	})

	_, err := p.Completion(context.Background(), &provider.Request{Model: "m"})
	assert.EqualError(t, err, "gemini API error (status 403, type PERMISSION_DENIED): API key not valid")
}

func TestCompletionStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/m:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"lookup","args":{"q":"go"}}}]}}]}`+"\r\n\r\n")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"lookup","args":{"q":"rust"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`+"\r\n\r\n")
	})

	stream, err := p.CompletionStream(context.Background(), &provider.Request{Model: "m"})
	require.NoError(t, err)

	var chunks []provider.StreamChunk
	for stream.Next() {
		chunks = append(chunks, *stream.Current())
	}
	require.NoError(t, stream.Err())
	require.Len(t, chunks, 3)
	assert.True(t, chunks[2].IsTerminal())

	resp := stream.Response()
	require.Equal(t, provider.KindToolCalls, resp.Kind)
	assert.Equal(t, []provider.ToolCall{
		{ID: "call_1", Name: "lookup", Arguments: `{"q":"go"}`},
		{ID: "call_2", Name: "lookup", Arguments: `{"q":"rust"}`},
	}, resp.ToolCalls)
	assert.Equal(t, provider.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestCompletionStream_Text(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}]}`+"\n\n")
	})

	stream, err := p.CompletionStream(context.Background(), &provider.Request{Model: "m"})
	require.NoError(t, err)
	for stream.Next() {
	}
	require.NoError(t, stream.Err())

	resp := stream.Response()
	assert.Equal(t, provider.KindMessage, resp.Kind)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, provider.FinishReasonStop, resp.FinishReason)
}
