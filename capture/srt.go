package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	gosrt "github.com/datarhei/gosrt"
)

// SRTSource listens for SRT publishers. Only one publisher feeds the analysis
// at a time, further publish requests are rejected while it is connected.
type SRTSource struct {
	config    Config
	allow     Allowlist
	log       *slog.Logger
	pool      *bufferPool
	publisher sync.Mutex

	mutex sync.Mutex
	conns map[*srtConn]bool
	addr  net.Addr
	done  sync.WaitGroup
}

// srtConn wraps an srt socket with additional state
type srtConn struct {
	log      *slog.Logger
	socket   srtSocket
	streamid StreamID
}

type srtSocket interface {
	io.Reader
	RemoteAddr() net.Addr
	Close() error
	Stats(*gosrt.Statistics)
}

func NewSRTSource(config Config) *SRTSource {
	if config.ReadSize <= 0 {
		config.ReadSize = DefaultSRTPayloadSize
	}
	return &SRTSource{
		config: config,
		allow:  Allowlist(config.Allow),
		log:    slog.With("component", "srt", "addr", config.Address),
		pool:   newBufferPool(config.ReadSize),
		conns:  make(map[*srtConn]bool),
	}
}

// Addr returns the listening address once Run has bound it
func (s *SRTSource) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.addr
}

// Run accepts publishers until ctx ends
func (s *SRTSource) Run(ctx context.Context, q *Queue) error {
	conf := gosrt.DefaultConfig()
	if s.config.LatencyMs > 0 {
		conf.Latency = time.Duration(s.config.LatencyMs) * time.Millisecond
	}
	conf.PayloadSize = uint32(s.config.ReadSize)
	if s.config.LossMaxTTL > 0 {
		conf.LossMaxTTL = s.config.LossMaxTTL
	}
	ln, err := gosrt.Listen("srt", s.config.Address, conf)
	if err != nil {
		return fmt.Errorf("srt listen: %w", err)
	}
	s.mutex.Lock()
	s.addr = ln.Addr()
	s.mutex.Unlock()
	s.log.Info("listening", "local", ln.Addr())

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()
	defer s.done.Wait()

	for {
		req, err := ln.Accept2()
		if err != nil {
			// exit silently on close
			if errors.Is(err, gosrt.ErrListenerClosed) || ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}

		streamid, reason, ok := s.shouldAccept(req)
		if !ok {
			req.Reject(reason)
			continue
		}
		// one publisher at a time
		if !s.publisher.TryLock() {
			s.log.Warn("publisher already connected, rejecting", "remote", req.RemoteAddr(), "stream", streamid)
			req.Reject(gosrt.REJ_PEER)
			continue
		}

		conn, err := req.Accept()
		if err != nil {
			s.publisher.Unlock()
			s.log.Warn("accept failed", "err", err)
			continue
		}
		s.done.Add(1)
		go func() {
			defer s.done.Done()
			defer s.publisher.Unlock()
			s.handle(ctx, conn, streamid, q)
		}()
	}
}

func (s *SRTSource) shouldAccept(req gosrt.ConnRequest) (StreamID, gosrt.RejectionReason, bool) {
	streamid, err := ParseStreamID(req.StreamId())
	if err != nil {
		s.log.Warn("invalid stream id", "remote", req.RemoteAddr(), "streamid", req.StreamId(), "err", err)
		return StreamID{}, gosrt.REJ_PEER, false
	}
	if streamid.Mode() != ModePublish {
		s.log.Warn("only publishers are accepted", "remote", req.RemoteAddr(), "stream", streamid)
		return StreamID{}, gosrt.REJ_PEER, false
	}
	if !s.allow.Allowed(streamid) {
		s.log.Warn("access denied", "remote", req.RemoteAddr(), "stream", streamid)
		return StreamID{}, gosrt.REJX_UNAUTHORIZED, false
	}
	return streamid, 0, true
}

func (s *SRTSource) handle(ctx context.Context, socket srtSocket, streamid StreamID, q *Queue) {
	conn := &srtConn{
		log:      s.log.With("remote", socket.RemoteAddr(), "stream", streamid.Name()),
		socket:   socket,
		streamid: streamid,
	}
	defer socket.Close()

	subctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.register(subctx, conn)
	stop := context.AfterFunc(subctx, func() {
		socket.Close()
	})
	defer stop()

	conn.log.Info("publish")
	err := s.publish(subctx, conn, q)
	if err != nil && subctx.Err() == nil {
		conn.log.Info("closing", "error", err)
	}
}

// publish forwards everything read from the connection to the queue
func (s *SRTSource) publish(ctx context.Context, conn *srtConn, q *Queue) error {
	for {
		buf := s.pool.get()
		n, err := conn.socket.Read(*buf)
		if n > 0 {
			if err := q.Push(ctx, s.pool.wrap(buf, n, time.Now())); err != nil {
				return err
			}
		} else {
			s.pool.put(buf)
		}
		if err != nil {
			return err
		}
	}
}

func (s *SRTSource) register(ctx context.Context, conn *srtConn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.conns[conn] = true

	go func() {
		<-ctx.Done()

		s.mutex.Lock()
		defer s.mutex.Unlock()

		delete(s.conns, conn)
	}()
}

type SocketStatistics struct {
	Address  string                      `json:"address"`
	StreamID string                      `json:"stream_id"`
	Stats    gosrt.StatisticsAccumulated `json:"stats"`
}

// SocketStatistics returns the transport counters of connected publishers
func (s *SRTSource) SocketStatistics() []*SocketStatistics {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var stats gosrt.Statistics
	statistics := make([]*SocketStatistics, 0, len(s.conns))
	for conn := range s.conns {
		conn.socket.Stats(&stats)
		statistics = append(statistics, &SocketStatistics{
			Address:  conn.socket.RemoteAddr().String(),
			StreamID: conn.streamid.String(),
			Stats:    stats.Accumulated,
		})
	}
	return statistics
}
