// Package natstest starts embedded NATS servers for tests.
package natstest

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 10 * time.Second

// RunServer starts an embedded server on a random port and stops it when
// the test ends. JetStream state lives in a test temp dir.
func RunServer(tb testing.TB, mutate ...func(*server.Options)) *server.Server {
	tb.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  tb.TempDir(),
	}

	for _, m := range mutate {
		m(opts)
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		tb.Fatalf("failed to create nats server: %v", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		tb.Fatal("nats server not ready")
	}

	tb.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	return srv
}
