package provider

import (
	"bufio"
	"io"
	"strings"
)

// DoneSentinel is the data payload some vendors send to mark the end of a stream.
const DoneSentinel = "[DONE]"

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// EventReader reads SSE events from a streaming HTTP body.
type EventReader struct {
	reader *bufio.Reader
	closer io.Closer
}

// NewEventReader wraps body. Closing the reader closes body.
func NewEventReader(body io.ReadCloser) *EventReader {
	return &EventReader{
		reader: bufio.NewReader(body),
		closer: body,
	}
}

// Next returns the next event with a non-empty data payload.
// [DONE] sentinels are dropped. Returns nil, io.EOF when the body is exhausted.
func (r *EventReader) Next() (*Event, error) {
	var (
		name string
		data []string
	)
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			if err == io.EOF && len(data) > 0 {
				if ev := makeEvent(name, data); ev != nil {
					return ev, nil
				}
			}
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(data) > 0 {
				if ev := makeEvent(name, data); ev != nil {
					return ev, nil
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func makeEvent(name string, data []string) *Event {
	payload := strings.Join(data, "\n")
	if payload == "" || payload == DoneSentinel {
		return nil
	}
	return &Event{Name: name, Data: payload}
}

// Close closes the underlying body.
func (r *EventReader) Close() error {
	return r.closer.Close()
}
