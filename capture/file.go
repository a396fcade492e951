package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/stream"
)

// FileSource reads a recorded transport stream in fixed size chunks
type FileSource struct {
	config Config
	log    *slog.Logger
}

func NewFileSource(config Config) *FileSource {
	if config.ReadSize <= 0 {
		config.ReadSize = 7 * mpegts.PacketLen
	}
	return &FileSource{
		config: config,
		log:    slog.With("component", "file", "file", config.File),
	}
}

func (s *FileSource) Run(ctx context.Context, q *Queue) error {
	f, err := os.Open(s.config.File)
	if err != nil {
		return fmt.Errorf("file source: %w", err)
	}
	defer f.Close()

	passes := 0
	for {
		read, err := s.readAll(ctx, f, q)
		if err != nil {
			if shutdown(err) {
				return nil
			}
			return err
		}
		passes++
		if read == 0 {
			return fmt.Errorf("file source: %s is empty", s.config.File)
		}
		if !s.config.Loop {
			s.log.Info("end of file", "passes", passes)
			return nil
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("file rewind: %w", err)
		}
	}
}

func (s *FileSource) readAll(ctx context.Context, f *os.File, q *Queue) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		buf := make([]byte, s.config.ReadSize)
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			total += int64(n)
			if err := q.Push(ctx, stream.NewBuffer(buf[:n], time.Now())); err != nil {
				return total, err
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return total, nil
		default:
			return total, fmt.Errorf("file read: %w", err)
		}
	}
}
