package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/voc/tsmon/analyzer"
	"github.com/voc/tsmon/stream"
)

// Sink consumes analyzed records. The batch slice is reused after
// WriteBatch returns and must not be retained.
type Sink interface {
	WriteBatch([]stream.StreamData) error
	VideoChange(analyzer.VideoChange)
}

// DiscardSink drops everything
type DiscardSink struct{}

func (DiscardSink) WriteBatch([]stream.StreamData) error { return nil }

func (DiscardSink) VideoChange(analyzer.VideoChange) {}

// JSONSink writes one JSON object per line: every record, and an event
// object for every video PID change.
type JSONSink struct {
	mutex  sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	err    error
}

type videoChangeEvent struct {
	Event         string `json:"event"`
	ProgramNumber uint16 `json:"program_number"`
	OldPID        uint16 `json:"old_pid"`
	NewPID        uint16 `json:"new_pid"`
	OldCodec      string `json:"old_codec"`
	NewCodec      string `json:"new_codec"`
}

// NewJSONSink writes to w
func NewJSONSink(w io.Writer) *JSONSink {
	bw := bufio.NewWriter(w)
	return &JSONSink{
		w:   bw,
		enc: json.NewEncoder(bw),
	}
}

// OpenJSONSink creates the sink configured by path: "" discards,
// "-" writes to stdout, anything else appends to a file.
func OpenJSONSink(path string) (Sink, error) {
	switch path {
	case "":
		return DiscardSink{}, nil
	case "-":
		return NewJSONSink(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("json output: %w", err)
	}
	s := NewJSONSink(f)
	s.closer = f
	return s, nil
}

func (s *JSONSink) WriteBatch(batch []stream.StreamData) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i := range batch {
		if err := s.enc.Encode(batch[i]); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *JSONSink) VideoChange(ev analyzer.VideoChange) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := s.enc.Encode(videoChangeEvent{
		Event:         "video_change",
		ProgramNumber: ev.ProgramNumber,
		OldPID:        ev.OldPID,
		NewPID:        ev.NewPID,
		OldCodec:      ev.OldCodec.String(),
		NewCodec:      ev.NewCodec.String(),
	})
	if err == nil {
		err = s.w.Flush()
	}
	if err != nil && s.err == nil {
		s.err = err
	}
}

// Close flushes pending output and closes an opened file
func (s *JSONSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err == nil {
		err = s.err
	}
	return err
}
