package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psaab/snmpagentd/pkg/logging"
	"github.com/psaab/snmpagentd/pkg/stats"
)

// echo answers every datagram with its reversed payload, drops "drop" and
// panics on "panic".
type echo struct {
	mu      sync.Mutex
	loggers int
	block   chan struct{}
}

func (e *echo) Process(ctx context.Context, data []byte, _ netip.AddrPort) []byte {
	if e.block != nil {
		<-e.block
	}
	if logging.FromContext(ctx) != slog.Default() {
		e.mu.Lock()
		e.loggers++
		e.mu.Unlock()
	}
	switch string(data) {
	case "drop":
		return nil
	case "panic":
		panic("bad datagram")
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out
}

func startServer(t *testing.T, cfg Config, proc Processor, st Stats) (*Server, *net.UDPConn) {
	t.Helper()
	cfg.Listen = "127.0.0.1:0"
	srv := New(cfg, proc, st)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Start: %v", err)
	}
	raddr, err := net.ResolveUDPAddr("udp", srv.Addr().String())
	require.NoError(t, err)
	client, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestServerRoundTrip(t *testing.T) {
	st := stats.New()
	proc := &echo{}
	_, client := startServer(t, Config{Workers: 2}, proc, st)

	_, err := client.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "cba", string(buf[:n]))

	assert.Eventually(t, func() bool { return st.Value(stats.OutPkts) == 1 }, time.Second, 10*time.Millisecond)
	proc.mu.Lock()
	assert.Equal(t, 1, proc.loggers)
	proc.mu.Unlock()
}

func TestServerNoResponse(t *testing.T) {
	st := stats.New()
	_, client := startServer(t, Config{Workers: 1}, &echo{}, st)

	_, err := client.Write([]byte("drop"))
	require.NoError(t, err)
	_, err = client.Write([]byte("xy"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "yx", string(buf[:n]))
	assert.Equal(t, uint64(1), st.Value(stats.OutPkts))
}

func TestServerQueueFull(t *testing.T) {
	st := stats.New()
	proc := &echo{block: make(chan struct{})}
	_, client := startServer(t, Config{Workers: 1, QueueSize: 1}, proc, st)
	defer close(proc.block)

	// One datagram held by the worker, one queued, the rest dropped.
	for i := 0; i < 5; i++ {
		_, err := client.Write([]byte("x"))
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool {
		return st.Value(stats.InQueueDrops) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerStopBeforeStart(t *testing.T) {
	srv := New(Config{Listen: "127.0.0.1:0"}, &echo{}, nil)
	srv.Stop()
	assert.NoError(t, srv.Start(context.Background()))
	assert.Nil(t, srv.Addr())
}

func TestNewDefaults(t *testing.T) {
	srv := New(Config{}, &echo{}, nil)
	assert.Equal(t, DefaultListen, srv.cfg.Listen)
	assert.Equal(t, DefaultQueueSize, srv.cfg.QueueSize)
	assert.Positive(t, srv.cfg.Workers)
}

func TestServerSurvivesPanic(t *testing.T) {
	st := stats.New()
	_, client := startServer(t, Config{Workers: 1}, &echo{}, st)

	_, err := client.Write([]byte("panic"))
	require.NoError(t, err)
	_, err = client.Write([]byte("ok"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ko", string(buf[:n]))
}

// failingConn fails every read with err.
type failingConn struct {
	err   error
	reads atomic.Int64
}

func (c *failingConn) ReadFromUDPAddrPort([]byte) (int, netip.AddrPort, error) {
	c.reads.Add(1)
	return 0, netip.AddrPort{}, c.err
}

func (c *failingConn) WriteToUDPAddrPort(b []byte, _ netip.AddrPort) (int, error) {
	return len(b), nil
}

func TestServeConnBacksOffOnReadErrors(t *testing.T) {
	srv := New(Config{Workers: 1}, &echo{}, nil)
	conn := &failingConn{err: errors.New("no buffer space available")}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, srv.serveConn(ctx, conn))

	// 5ms doubling: 5+10+20+40+80 stays under 200ms, 160 more does not.
	assert.LessOrEqual(t, conn.reads.Load(), int64(7))
	assert.GreaterOrEqual(t, conn.reads.Load(), int64(2))
}

func TestServeConnClosedSocket(t *testing.T) {
	srv := New(Config{Workers: 1}, &echo{}, nil)
	conn := &failingConn{err: fmt.Errorf("read udp: %w", net.ErrClosed)}

	err := srv.serveConn(context.Background(), conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Equal(t, int64(1), conn.reads.Load())
}
