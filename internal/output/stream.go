package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Stream writes subscription pushes as they arrive. JSON streams are one
// compact object per line so they can be piped into line-oriented tools.
// Stream is safe for concurrent use by handler callbacks.
type Stream struct {
	mu     sync.Mutex
	format Format
	writer io.Writer
	count  int
}

// StreamEvent is the JSON envelope of one push.
type StreamEvent struct {
	Event string `json:"event"`
	Slug  string `json:"slug,omitempty"`
	Data  any    `json:"data"`
}

// NewStream creates a stream over w.
func NewStream(format Format, w io.Writer) *Stream {
	return &Stream{format: format, writer: w}
}

// Emit writes one push. Text streams render the line with text().
func (s *Stream) Emit(event, slug string, data any, text func() string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if s.format == FormatJSON {
		line, err := json.Marshal(StreamEvent{Event: event, Slug: slug, Data: data})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.writer, string(line))
		return err
	}
	_, err := fmt.Fprintln(s.writer, text())
	return err
}

// Count returns the number of pushes written.
func (s *Stream) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
