// Package capture reads transport stream data from the network or a file
// and hands it to the processing loop through a bounded queue.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// Default read sizes
const (
	// DefaultReadSize fits any UDP datagram
	DefaultReadSize = 65536
	// DefaultSRTPayloadSize is the usual SRT live payload of 7 TS packets
	DefaultSRTPayloadSize = 1316
)

// Source produces capture buffers until ctx ends or the queue is closed.
// A nil return means a regular shutdown.
type Source interface {
	Run(ctx context.Context, q *Queue) error
}

// Config selects and configures a source
type Config struct {
	Type       string // udp, srt or file
	Address    string
	Interface  string
	File       string
	Loop       bool
	ReadSize   int
	LatencyMs  uint
	LossMaxTTL uint32
	Allow      []string
}

// NewSource creates the source named by config.Type
func NewSource(config Config) (Source, error) {
	switch config.Type {
	case "udp":
		return NewUDPSource(config), nil
	case "srt":
		return NewSRTSource(config), nil
	case "file":
		if config.File == "" {
			return nil, errors.New("file source without file")
		}
		return NewFileSource(config), nil
	}
	return nil, fmt.Errorf("unknown capture type %q", config.Type)
}

// shutdown reports whether err only signals the end of the session
func shutdown(err error) bool {
	return errors.Is(err, ErrQueueClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
