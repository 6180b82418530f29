package server

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tyrowin/ratechat/internal/logging"
	"github.com/Tyrowin/ratechat/internal/metrics"
	"github.com/Tyrowin/ratechat/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

const (
	testAddr    = "192.0.2.10:40000"
	waitTimeout = 2 * time.Second
	quietPeriod = 100 * time.Millisecond
)

// sequentialNames yields "User 1", "User 2", ... in registration order.
func sequentialNames() NameGenerator {
	var n atomic.Int32
	return func() string {
		return fmt.Sprintf("User %d", n.Add(1))
	}
}

func newTestClient(t *testing.T, opts ClientOptions) (*Client, *testhelpers.FakeConn) {
	t.Helper()

	conn := testhelpers.NewFakeConn(opts.Clock)
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	client := NewClient(conn, testAddr, opts)
	t.Cleanup(func() { client.Evict(1000, "") })
	return client, conn
}

func newTestHub(t *testing.T, opts HubOptions) (*Hub, *metrics.RelayMetrics) {
	t.Helper()

	if opts.Names == nil {
		opts.Names = sequentialNames()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRelayMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	hub := NewHub(opts)
	t.Cleanup(func() { _ = hub.Shutdown(waitTimeout) })
	return hub, opts.Metrics
}

// startSession serves a fake connection on hub and waits until it is registered.
func startSession(t *testing.T, hub *Hub) (*testhelpers.FakeConn, <-chan error) {
	t.Helper()

	before := hub.Registry().Len()
	conn := testhelpers.NewFakeConn(hub.opts.Clock)
	done := make(chan error, 1)
	go func() {
		done <- hub.Serve(conn, testAddr)
	}()

	testhelpers.WaitFor(t, waitTimeout, func() bool {
		return hub.Registry().Len() == before+1
	}, "session did not register")
	return conn, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitTimeout):
		require.FailNow(t, "session did not end")
		return nil
	}
}
