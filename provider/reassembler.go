package provider

import (
	"sort"
	"strings"
	"sync"
)

// Reassembler rebuilds complete tool calls from streamed fragments keyed by
// call index. One instance serves exactly one in-flight stream.
type Reassembler struct {
	mu       sync.Mutex
	calls    map[int]*partialCall
	usage    *Usage
	finish   FinishReason
	finished bool
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{calls: make(map[int]*partialCall)}
}

// Text passes a text fragment through and drops any in-progress tool calls:
// switching back to text invalidates the accumulation.
func (r *Reassembler) Text(s string) StreamChunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.calls) > 0 {
		r.calls = make(map[int]*partialCall)
	}
	return StreamChunk{Delta: Delta{Kind: DeltaText, Text: s}}
}

// ToolCalls merges one or more fragments and returns a chunk carrying the
// current state of every index touched, in fragment order.
//
// ID and Name are first-write-wins; Arguments fragments are concatenated in
// arrival order.
func (r *Reassembler) ToolCalls(fragments ...PartialToolCall) StreamChunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PartialToolCall, 0, len(fragments))
	for _, f := range fragments {
		acc, ok := r.calls[f.Index]
		if !ok {
			acc = &partialCall{}
			r.calls[f.Index] = acc
		}
		if acc.id == "" && f.ID != "" {
			acc.id = f.ID
		}
		if acc.name == "" && f.Name != "" {
			acc.name = f.Name
		}
		acc.args.WriteString(f.Arguments)

		out = append(out, PartialToolCall{
			Index:     f.Index,
			ID:        acc.id,
			Name:      acc.name,
			Arguments: acc.args.String(),
		})
	}
	return StreamChunk{Delta: Delta{Kind: DeltaToolCalls, ToolCalls: out}}
}

// Observe records usage or a finish reason seen mid-stream without emitting a chunk.
func (r *Reassembler) Observe(usage *Usage, reason FinishReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observe(usage, reason)
}

func (r *Reassembler) observe(usage *Usage, reason FinishReason) {
	if usage != nil {
		u := *usage
		r.usage = &u
	}
	if reason != "" {
		r.finish = reason
	}
}

// Finish records terminal information and returns the terminal chunk.
// The second return value is false if a terminal chunk was already produced.
func (r *Reassembler) Finish(usage *Usage, reason FinishReason) (StreamChunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observe(usage, reason)
	if r.finished {
		return StreamChunk{}, false
	}
	r.finished = true

	chunk := StreamChunk{
		Delta:        Delta{Kind: DeltaText},
		FinishReason: r.finish,
	}
	if r.usage != nil {
		u := *r.usage
		chunk.Usage = &u
	}
	return chunk, true
}

// Finished reports whether Finish has produced a terminal chunk.
func (r *Reassembler) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Completed returns the accumulated tool calls ordered by index.
func (r *Reassembler) Completed() []ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	indices := make([]int, 0, len(r.calls))
	for i := range r.calls {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, i := range indices {
		acc := r.calls[i]
		calls = append(calls, ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: acc.args.String(),
		})
	}
	return calls
}

// Usage returns the last usage observed, if any.
func (r *Reassembler) Usage() *Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usage == nil {
		return nil
	}
	u := *r.usage
	return &u
}

// FinishReason returns the last finish reason observed.
func (r *Reassembler) FinishReason() FinishReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finish
}

// Reset discards all state.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[int]*partialCall)
	r.usage = nil
	r.finish = ""
	r.finished = false
}
