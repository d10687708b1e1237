package telemetry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("json", "not-a-level"); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestNewLoggerBuildsConsoleAndJSON(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		if _, err := NewLogger(format, "info"); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
}

func TestNewMetricsRegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.MessagesRouted.Inc()
	m.ActorsActive.Set(3)
}

func TestServeHealthAcceptsConnections(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeHealth(ctx, addr, nil) }()

	time.Sleep(50 * time.Millisecond)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHealth did not exit after context cancellation")
	}
}
