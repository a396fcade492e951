// Package pipeline runs the single threaded processing loop of a capture
// session: classify, decode, analyze and batch every captured buffer.
package pipeline

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voc/tsmon/analyzer"
	"github.com/voc/tsmon/capture"
	"github.com/voc/tsmon/format"
	"github.com/voc/tsmon/mpegts"
	"github.com/voc/tsmon/registry"
	"github.com/voc/tsmon/stream"
)

// Config holds the processing settings of the [app] section
type Config struct {
	PacketSize           int
	PayloadOffset        int
	BatchSize            int
	PollInterval         time.Duration
	NullPacketThreshold  uint64
	Hexdump              bool
	ShowTR101290         bool
	StickyClassification bool
}

// DefaultConfig returns the processing defaults
func DefaultConfig() Config {
	return Config{
		PacketSize:           mpegts.PacketLen,
		BatchSize:            1000,
		PollInterval:         time.Second,
		NullPacketThreshold:  1000,
		StickyClassification: true,
	}
}

// Stats are the pipeline counters, safe to read from any goroutine
type Stats struct {
	Buffers        uint64 `json:"buffers"`
	Records        uint64 `json:"records"`
	NullPackets    uint64 `json:"null_packets"`
	Unknown        uint64 `json:"unknown_buffers"`
	DecodeFailures uint64 `json:"decode_failures"`
	Batches        uint64 `json:"batches"`
	FlushErrors    uint64 `json:"flush_errors"`
}

// Pipeline owns the analysis state of one capture session
type Pipeline struct {
	config     Config
	queue      *capture.Queue
	registry   *registry.Registry
	analyzer   *analyzer.Analyzer
	classifier *format.Classifier
	decoder    *format.Decoder
	sink       Sink
	log        *slog.Logger

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	resets   chan struct{}
	batch    []stream.StreamData
	nullRun  uint64

	buffers        atomic.Uint64
	records        atomic.Uint64
	nulls          atomic.Uint64
	decodeFailures atomic.Uint64
	batches        atomic.Uint64
	flushErrors    atomic.Uint64
}

// New creates the pipeline of a session. Records are analyzed into reg and
// errs and written to sink in batches.
func New(config Config, q *capture.Queue, reg *registry.Registry, errs *analyzer.TR101290Errors, sink Sink) *Pipeline {
	if config.PacketSize <= 0 {
		config.PacketSize = mpegts.PacketLen
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if sink == nil {
		sink = DiscardSink{}
	}
	p := &Pipeline{
		config:     config,
		queue:      q,
		registry:   reg,
		classifier: format.NewClassifier(config.StickyClassification, config.PacketSize, config.PayloadOffset),
		decoder:    format.NewDecoder(config.PacketSize, config.PayloadOffset),
		sink:       sink,
		log:        slog.With("component", "pipeline"),
		stop:       make(chan struct{}),
		resets:     make(chan struct{}, 1),
		batch:      make([]stream.StreamData, 0, config.BatchSize),
	}
	p.analyzer = analyzer.New(reg, errs,
		analyzer.WithShowTR101290(config.ShowTR101290),
		analyzer.WithHexdump(config.Hexdump),
		analyzer.WithVideoChangeHandler(sink.VideoChange),
	)
	return p
}

// Run processes buffers until ctx ends, Stop is called or the queue is
// closed and drained. The pending batch is flushed on exit.
func (p *Pipeline) Run(ctx context.Context) error {
	select {
	case <-p.stop:
		return nil
	default:
	}
	p.running.Store(true)
	defer p.running.Store(false)
	defer p.flush()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.log.Info("started", "packet_size", p.config.PacketSize, "batch_size", p.config.BatchSize,
		"sticky", p.config.StickyClassification)
	for p.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		case <-p.resets:
			p.resetStats()
		case buf := <-p.queue.C():
			p.process(buf)
		case now := <-ticker.C:
			p.flush()
			p.analyzer.CheckTimeouts(now)
		case <-p.queue.Done():
			p.drain()
			return nil
		}
	}
	return nil
}

// drain processes what is left in a closed queue
func (p *Pipeline) drain() {
	for p.running.Load() {
		select {
		case buf := <-p.queue.C():
			p.process(buf)
		default:
			return
		}
	}
}

// Stop ends Run after the current buffer. A stopped pipeline does not
// start again.
func (p *Pipeline) Stop() {
	p.running.Store(false)
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// ResetStats zeroes the statistics of every PID, keeping the PIDs and
// their table association. The reset runs on the processing goroutine
// between two buffers.
func (p *Pipeline) ResetStats() {
	select {
	case p.resets <- struct{}{}:
	default:
	}
}

func (p *Pipeline) resetStats() {
	p.analyzer.ResetStats()
	p.registry.Reset()
	p.log.Info("PID statistics reset")
}

// Running reports whether Run is active
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

func (p *Pipeline) process(buf *stream.Buffer) {
	p.buffers.Add(1)
	t := p.classifier.Classify(buf.Data)
	for d := range p.decoder.Decode(t, buf) {
		p.records.Add(1)
		if p.config.Hexdump {
			p.log.Info("packet", "pid", d.PID, "dump", hex.Dump(d.Bytes()))
		}
		if p.isNull(d) {
			continue
		}
		p.analyzer.Process(d)
		p.batch = append(p.batch, *d)
		if len(p.batch) >= p.config.BatchSize {
			p.flush()
		}
	}
	p.decodeFailures.Store(p.decoder.Failures())
}

// isNull filters stuffing and warns about long runs of it
func (p *Pipeline) isNull(d *stream.StreamData) bool {
	if d.SyncError || d.PID != mpegts.PIDNull {
		p.nullRun = 0
		return false
	}
	p.nulls.Add(1)
	p.nullRun++
	if p.config.NullPacketThreshold > 0 && p.nullRun%p.config.NullPacketThreshold == 0 {
		p.log.Warn("only null packets received", "consecutive", p.nullRun)
	}
	return true
}

func (p *Pipeline) flush() {
	if len(p.batch) == 0 {
		return
	}
	if err := p.sink.WriteBatch(p.batch); err != nil {
		p.flushErrors.Add(1)
		p.log.Warn("writing records failed", "records", len(p.batch), "err", err)
	}
	p.batches.Add(1)
	clear(p.batch)
	p.batch = p.batch[:0]
}

// Classifier returns the transport classifier of the session
func (p *Pipeline) Classifier() *format.Classifier {
	return p.classifier
}

// Analyzer returns the analyzer of the session
func (p *Pipeline) Analyzer() *analyzer.Analyzer {
	return p.analyzer
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Buffers:        p.buffers.Load(),
		Records:        p.records.Load(),
		NullPackets:    p.nulls.Load(),
		Unknown:        p.classifier.UnknownCount(),
		DecodeFailures: p.decodeFailures.Load(),
		Batches:        p.batches.Load(),
		FlushErrors:    p.flushErrors.Load(),
	}
}
