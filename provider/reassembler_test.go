package provider

import (
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitRandomly cuts s into consecutive fragments of random length (possibly empty).
func splitRandomly(rng *rand.Rand, s string) []string {
	var parts []string
	for len(s) > 0 {
		n := rng.Intn(len(s) + 1)
		parts = append(parts, s[:n])
		s = s[n:]
	}
	return parts
}

func TestReassembler_ArgumentsConcatenateInArrivalOrder(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"city":"Tokyo","units":"metric"}`,
		`{"query":"a \"quoted\" value","nested":{"list":[1,2,3]}}`,
		`{"text":"日本語のテキスト"}`,
	}

	rng := rand.New(rand.NewSource(42))
	for _, want := range inputs {
		for trial := 0; trial < 50; trial++ {
			asm := NewReassembler()
			var last StreamChunk
			for _, frag := range splitRandomly(rng, want) {
				last = asm.ToolCalls(PartialToolCall{Index: 0, Arguments: frag})
			}
			calls := asm.Completed()
			require.Len(t, calls, 1)
			assert.Equal(t, want, calls[0].Arguments)
			if last.Delta.Kind == DeltaToolCalls {
				assert.Equal(t, want, last.Delta.ToolCalls[0].Arguments)
			}
		}
	}
}

func TestReassembler_FirstWriteWins(t *testing.T) {
	asm := NewReassembler()

	asm.ToolCalls(PartialToolCall{Index: 0, ID: "call_1", Name: "get_weather"})
	chunk := asm.ToolCalls(PartialToolCall{Index: 0, ID: "call_2", Name: "other", Arguments: `{"a":1}`})

	require.Equal(t, DeltaToolCalls, chunk.Delta.Kind)
	require.Len(t, chunk.Delta.ToolCalls, 1)
	assert.Equal(t, "call_1", chunk.Delta.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", chunk.Delta.ToolCalls[0].Name)

	calls := asm.Completed()
	require.Len(t, calls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"a":1}`}, calls[0])
}

func TestReassembler_LateIDIsAccepted(t *testing.T) {
	asm := NewReassembler()

	asm.ToolCalls(PartialToolCall{Index: 0, Arguments: `{"x":`})
	asm.ToolCalls(PartialToolCall{Index: 0, ID: "call_late", Name: "calc", Arguments: `1}`})

	calls := asm.Completed()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_late", calls[0].ID)
	assert.Equal(t, "calc", calls[0].Name)
	assert.Equal(t, `{"x":1}`, calls[0].Arguments)
}

func TestReassembler_TextClearsToolState(t *testing.T) {
	asm := NewReassembler()

	asm.ToolCalls(PartialToolCall{Index: 0, ID: "call_a", Name: "first", Arguments: `{"stale":`})

	text := asm.Text("thinking out loud")
	assert.Equal(t, DeltaText, text.Delta.Kind)
	assert.Equal(t, "thinking out loud", text.Delta.Text)
	assert.Empty(t, asm.Completed())

	chunk := asm.ToolCalls(PartialToolCall{Index: 0, ID: "call_b", Name: "second", Arguments: `{}`})
	require.Len(t, chunk.Delta.ToolCalls, 1)
	assert.Equal(t, PartialToolCall{Index: 0, ID: "call_b", Name: "second", Arguments: `{}`}, chunk.Delta.ToolCalls[0])
}

func TestReassembler_MultipleIndicesOrderedByIndex(t *testing.T) {
	asm := NewReassembler()

	chunk := asm.ToolCalls(
		PartialToolCall{Index: 1, ID: "call_b", Name: "b", Arguments: `{"n":`},
		PartialToolCall{Index: 0, ID: "call_a", Name: "a", Arguments: `{}`},
	)
	require.Len(t, chunk.Delta.ToolCalls, 2)
	assert.Equal(t, 1, chunk.Delta.ToolCalls[0].Index)
	assert.Equal(t, 0, chunk.Delta.ToolCalls[1].Index)

	asm.ToolCalls(PartialToolCall{Index: 1, Arguments: `2}`})

	calls := asm.Completed()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, "call_b", calls[1].ID)
	assert.Equal(t, `{"n":2}`, calls[1].Arguments)
}

func TestReassembler_FinishOnce(t *testing.T) {
	asm := NewReassembler()

	asm.Observe(nil, FinishReasonToolCalls)
	chunk, ok := asm.Finish(&Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}, "")
	require.True(t, ok)
	assert.True(t, chunk.IsTerminal())
	assert.Equal(t, FinishReasonToolCalls, chunk.FinishReason)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 7, chunk.Usage.TotalTokens)

	_, ok = asm.Finish(nil, FinishReasonStop)
	assert.False(t, ok)
	assert.True(t, asm.Finished())
}

func TestReassembler_Reset(t *testing.T) {
	asm := NewReassembler()
	asm.ToolCalls(PartialToolCall{Index: 0, ID: "x", Arguments: "{"})
	asm.Finish(&Usage{TotalTokens: 1}, FinishReasonStop)

	asm.Reset()

	assert.Empty(t, asm.Completed())
	assert.Nil(t, asm.Usage())
	assert.Empty(t, asm.FinishReason())
	assert.False(t, asm.Finished())
}

func TestReassembler_IndependentInstances(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]string, 8)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asm := NewReassembler()
			want := `{"worker":` + strings.Repeat("9", i+1) + `}`
			for _, r := range want {
				asm.ToolCalls(PartialToolCall{Index: 0, Arguments: string(r)})
			}
			results[i] = asm.Completed()[0].Arguments
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, `{"worker":`+strings.Repeat("9", i+1)+`}`, got)
	}
}
