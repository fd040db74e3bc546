// Package server is the UDP transport of the agent: it reads datagrams,
// hands them to a bounded pool of workers and writes back the responses.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psaab/snmpagentd/pkg/logging"
	"github.com/psaab/snmpagentd/pkg/stats"
)

// maxPacketSize is the largest UDP payload accepted.
const maxPacketSize = 65535

const (
	DefaultListen    = ":161"
	DefaultQueueSize = 1024
)

// Read error backoff bounds.
const (
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// packetConn is the part of *net.UDPConn the serve loop uses.
type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Processor turns a request datagram into a response datagram, or nil.
type Processor interface {
	Process(ctx context.Context, data []byte, source netip.AddrPort) []byte
}

// Stats is the counter sink.
type Stats interface {
	Inc(c stats.Counter)
}

// Config configures a Server.
type Config struct {
	Listen    string // UDP address, default ":161"
	Workers   int    // default runtime.NumCPU()
	QueueSize int    // pending datagrams, default 1024
}

type packet struct {
	data   []byte
	source netip.AddrPort
}

// Server is the SNMP UDP listener.
type Server struct {
	cfg   Config
	proc  Processor
	stats Stats

	ready chan struct{}

	mu      sync.Mutex
	conn    *net.UDPConn
	stopped bool
}

// New creates a Server. st may be nil.
func New(cfg Config, proc Processor, st Stats) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Server{cfg: cfg, proc: proc, stats: st, ready: make(chan struct{})}
}

// Ready is closed once the socket is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Start binds the socket and serves requests. It blocks until the context
// is cancelled or Stop is called, and returns after all workers finished.
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server: resolve address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()
	close(s.ready)

	slog.Info("SNMP agent listening", "addr", conn.LocalAddr().String(),
		"workers", s.cfg.Workers, "queue", s.cfg.QueueSize)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.serveConn(ctx, conn)
}

// serveConn runs the read loop and the worker pool over conn.
func (s *Server) serveConn(ctx context.Context, conn packetConn) error {
	queue := make(chan packet, s.cfg.QueueSize)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range queue {
				s.serve(ctx, conn, p)
			}
		}()
	}
	defer func() {
		close(queue)
		wg.Wait()
	}()

	buf := make([]byte, maxPacketSize)
	var backoff time.Duration
	for {
		n, source, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.isStopped() || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server: read: %w", err)
			}
			backoff = min(max(2*backoff, minReadBackoff), maxReadBackoff)
			slog.Error("SNMP read error", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		p := packet{data: append([]byte(nil), buf[:n]...), source: source}
		select {
		case queue <- p:
		default:
			s.inc(stats.InQueueDrops)
			slog.Warn("SNMP request queue full, dropping datagram", "source", source)
		}
	}
}

// serve processes one datagram with a request-scoped logger. A panic is
// logged and the datagram dropped.
func (s *Server) serve(ctx context.Context, conn packetConn, p packet) {
	log := slog.With("request", uuid.NewString())
	ctx = logging.NewContext(ctx, log)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing request", "panic", r, "remote", p.source)
		}
	}()

	resp := s.proc.Process(ctx, p.data, p.source)
	if resp == nil {
		return
	}
	if _, err := conn.WriteToUDPAddrPort(resp, p.source); err != nil {
		log.Error("SNMP write error", "err", err, "remote", p.source)
		return
	}
	s.inc(stats.OutPkts)
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Server) inc(c stats.Counter) {
	if s.stats != nil {
		s.stats.Inc(c)
	}
}

// Stop closes the socket; Start returns once in-flight requests finish.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.conn != nil {
		s.conn.Close()
	}
	slog.Info("SNMP agent stopped")
}
