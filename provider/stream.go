package provider

import (
	"errors"
	"io"
	"strings"
)

// DecodeFunc turns one SSE event into zero or more normalized chunks, feeding
// tool-call fragments through asm. It returns done=true when the event marks
// the vendor's end of message.
type DecodeFunc func(ev *Event, asm *Reassembler) (chunks []StreamChunk, done bool, err error)

// EventStream implements Stream on top of an SSE body and a vendor DecodeFunc.
// It owns a fresh Reassembler and always yields exactly one terminal chunk
// carrying the collected usage and finish reason before it ends cleanly.
type EventStream struct {
	events  *EventReader
	decode  DecodeFunc
	asm     *Reassembler
	text    strings.Builder
	pending []StreamChunk
	current *StreamChunk
	err     error
	done    bool
	closed  bool
}

// NewEventStream creates a stream reading events and decoding them with decode.
func NewEventStream(events *EventReader, decode DecodeFunc) *EventStream {
	return &EventStream{
		events: events,
		decode: decode,
		asm:    NewReassembler(),
	}
}

// Next implements Stream.
func (s *EventStream) Next() bool {
	for len(s.pending) == 0 {
		if s.err != nil || s.closed {
			return false
		}
		if s.done {
			if chunk, ok := s.asm.Finish(nil, ""); ok {
				s.pending = append(s.pending, chunk)
				continue
			}
			return false
		}

		ev, err := s.events.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			continue
		}
		if err != nil {
			s.fail(err)
			return false
		}

		chunks, done, err := s.decode(ev, s.asm)
		if err != nil {
			s.fail(err)
			return false
		}
		s.pending = append(s.pending, chunks...)
		s.done = done
	}

	chunk := s.pending[0]
	s.pending = s.pending[1:]
	if chunk.Delta.Kind == DeltaText {
		s.text.WriteString(chunk.Delta.Text)
	}
	s.current = &chunk
	return true
}

func (s *EventStream) fail(err error) {
	s.err = err
	s.pending = nil
	s.asm.Reset()
	_ = s.events.Close()
}

// Current implements Stream.
func (s *EventStream) Current() *StreamChunk {
	return s.current
}

// Err implements Stream.
func (s *EventStream) Err() error {
	return s.err
}

// Close implements Stream.
func (s *EventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	s.asm.Reset()
	return s.events.Close()
}

// Response implements Stream. Accumulated tool calls take precedence over
// text; a tool_calls finish with nothing accumulated yields an empty call set.
// A call that streamed no argument fragments gets "{}", matching the
// non-streaming adapters.
func (s *EventStream) Response() *Response {
	var resp *Response
	calls := s.asm.Completed()
	for i := range calls {
		if strings.TrimSpace(calls[i].Arguments) == "" {
			calls[i].Arguments = "{}"
		}
	}
	switch {
	case len(calls) > 0:
		resp = NewToolCallResponse(calls)
	case s.asm.FinishReason() == FinishReasonToolCalls && s.text.Len() == 0:
		resp = NewToolCallResponse(nil)
	default:
		resp = NewMessageResponse(s.text.String())
	}
	resp.Usage = s.asm.Usage()
	resp.FinishReason = s.asm.FinishReason()
	return resp
}
