// Command tsgen sends a synthetic MPEG-TS test stream over SRT or UDP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	gosrt "github.com/datarhei/gosrt"
	"golang.org/x/sync/errgroup"

	"github.com/voc/tsmon/mpegts"
)

// chunkSize is the payload of a single write, 7 packets fit one SRT or UDP payload
const chunkSize = 7 * mpegts.PacketLen

type conn interface {
	io.WriteCloser
	SetWriteDeadline(t time.Time) error
}

func main() {
	addr := flag.String("addr", "localhost:5000", "address to send to")
	mode := flag.String("mode", "srt", "transport, srt or udp")
	streamid := flag.String("streamid", "publish/tsgen", "SRT stream id")
	rate := flag.Uint64("rate", 3_000_000, "stream bitrate in bit/s")
	loss := flag.Float64("loss", 0, "fraction of video packets to drop")
	duration := flag.Duration("duration", 0, "stop after this long, 0 runs until interrupted")
	seed := flag.Uint64("seed", 1, "seed for packet loss")
	flag.Parse()

	if *rate < mpegts.PacketLen*8 {
		log.Fatalf("rate %d too low", *rate)
	}
	if *loss < 0 || *loss >= 1 {
		log.Fatalf("loss %v out of range [0,1)", *loss)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	c, err := dial(*mode, *addr, *streamid)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	context.AfterFunc(ctx, func() {
		c.Close()
	})
	log.Printf("sending %s to %s at %.3fMbit/s", *mode, *addr, float64(*rate)/1e6)

	s := &sender{
		conn: c,
		gen:  newGenerator(*loss, *seed),
		rate: *rate,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.run(ctx)
	})
	g.Go(func() error {
		s.report(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	log.Printf("done, %d packets sent, %d dropped", s.packets.Load(), s.dropped.Load())
}

func dial(mode, addr, streamid string) (conn, error) {
	switch mode {
	case "srt":
		conf := gosrt.DefaultConfig()
		conf.StreamId = streamid
		conf.Latency = 50 * time.Millisecond
		return gosrt.Dial("srt", addr, conf)
	case "udp":
		return net.Dial("udp", addr)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

type sender struct {
	conn conn
	gen  *generator
	rate uint64

	written atomic.Int64
	packets atomic.Uint64
	dropped atomic.Uint64
}

// run paces the generated stream to the configured rate
func (s *sender) run(ctx context.Context) error {
	packetDuration := time.Duration(float64(time.Second) * mpegts.PacketLen * 8 / float64(s.rate))
	start := time.Now()
	var t time.Duration
	var pending []byte
	for {
		for len(pending) < chunkSize {
			pending = s.gen.next(pending, t)
			t += packetDuration
		}
		s.packets.Store(s.gen.packets)
		s.dropped.Store(s.gen.dropped)

		if wait := time.Until(start.Add(t)); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		if err := s.conn.SetWriteDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
			return fmt.Errorf("set write deadline failed: %w", err)
		}
		n, err := s.conn.Write(pending[:chunkSize])
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("write failed: %w", err)
		}
		s.written.Add(int64(n))
		pending = append(pending[:0], pending[chunkSize:]...)
	}
}

func (s *sender) report(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := int64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := s.written.Load()
			log.Printf("write: %.3fMbit/s, dropped: %d", float64(total-last)/1e6*8, s.dropped.Load())
			last = total
		}
	}
}
