package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient, context.CancelFunc, <-chan error) {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	s := NewServer("")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		cancel()
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn), cancel, done
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthStatus(t *testing.T) {
	s, client, cancel, done := startServer(t)
	defer func() {
		cancel()
		<-done
	}()

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("initial status of %q = %v, want NOT_SERVING", svc, got)
		}
	}

	s.SetServing(true)
	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("status of %q = %v, want SERVING", svc, got)
		}
	}

	s.SetServing(false)
	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after SetServing(false) = %v, want NOT_SERVING", got)
	}
}

func TestUnknownService(t *testing.T) {
	_, client, cancel, done := startServer(t)
	defer func() {
		cancel()
		<-done
	}()

	ctx, cctx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cctx()
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"}); err == nil {
		t.Error("Check of unknown service succeeded")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	_, _, cancel, done := startServer(t)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
