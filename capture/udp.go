package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// UDPSource receives datagrams on a unicast or multicast address.
// Every datagram becomes one capture buffer.
type UDPSource struct {
	config Config
	log    *slog.Logger
	pool   *bufferPool

	mutex sync.Mutex
	conn  *net.UDPConn
}

func NewUDPSource(config Config) *UDPSource {
	if config.ReadSize <= 0 {
		config.ReadSize = DefaultReadSize
	}
	return &UDPSource{
		config: config,
		log:    slog.With("component", "udp", "addr", config.Address),
		pool:   newBufferPool(config.ReadSize),
	}
}

// Listen opens the socket, Run calls it when needed
func (s *UDPSource) Listen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("udp resolve: %w", err)
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		var ifi *net.Interface
		if s.config.Interface != "" {
			ifi, err = net.InterfaceByName(s.config.Interface)
			if err != nil {
				return fmt.Errorf("udp interface: %w", err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp", ifi, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return fmt.Errorf("udp listen: %w", err)
	}
	s.conn = conn
	s.log.Info("listening", "local", conn.LocalAddr(), "multicast", addr.IP.IsMulticast())
	return nil
}

// Addr returns the bound address, nil before Listen
func (s *UDPSource) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UDPSource) Run(ctx context.Context, q *Queue) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mutex.Lock()
	conn := s.conn
	s.mutex.Unlock()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		buf := s.pool.get()
		n, err := conn.Read(*buf)
		if err != nil {
			s.pool.put(buf)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}
		if n == 0 {
			s.pool.put(buf)
			continue
		}
		if err := q.Push(ctx, s.pool.wrap(buf, n, time.Now())); err != nil {
			if shutdown(err) {
				return nil
			}
			return err
		}
	}
}
