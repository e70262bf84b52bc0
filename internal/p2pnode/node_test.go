package p2pnode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natprobe/internal/overlay"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	logger, _ := test.NewNullLogger()
	n, err := New(context.Background(), Options{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		DHTMode:     "server",
		DialTimeout: 5 * time.Second,
		PingTimeout: 5 * time.Second,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	require.NoError(t, n.Start(context.Background()))
	return n
}

// waitFor drains events until match returns true.
func waitFor(t *testing.T, n *Node, match func(overlay.Event) bool) overlay.Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-n.Events():
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("expected event not received")
			return nil
		}
	}
}

func TestNode_StartEmitsListenAddr(t *testing.T) {
	t.Parallel()

	n := newTestNode(t)
	ev := waitFor(t, n, func(ev overlay.Event) bool {
		_, ok := ev.(overlay.NewListenAddr)
		return ok
	})
	assert.Contains(t, ev.(overlay.NewListenAddr).Address, "/ip4/127.0.0.1/tcp/")
	assert.NotEmpty(t, n.LocalID())
}

func TestNode_DialConnectsAndPings(t *testing.T) {
	t.Parallel()

	a := newTestNode(t)
	b := newTestNode(t)

	addr := a.host.Network().ListenAddresses()[0].String()
	require.NoError(t, b.AddBootstrapAddress(a.LocalID(), addr))
	require.NoError(t, b.Dial(a.LocalID()))

	ev := waitFor(t, b, func(ev overlay.Event) bool {
		e, ok := ev.(overlay.ConnectionEstablished)
		return ok && e.Peer == a.LocalID()
	})
	assert.NotEmpty(t, ev.(overlay.ConnectionEstablished).Endpoint)

	ping := waitFor(t, b, func(ev overlay.Event) bool {
		e, ok := ev.(overlay.PingOK)
		return ok && e.Peer == a.LocalID()
	})
	assert.Positive(t, ping.(overlay.PingOK).RTT)
}

func TestNode_BootstrapReportsSeeds(t *testing.T) {
	t.Parallel()

	a := newTestNode(t)
	b := newTestNode(t)

	assert.Error(t, b.Bootstrap(), "no seeds yet")

	addr := fmt.Sprintf("%s/p2p/%s", a.host.Network().ListenAddresses()[0], a.LocalID())
	require.NoError(t, b.AddBootstrapAddress(a.LocalID(), addr))
	require.NoError(t, b.Bootstrap())

	waitFor(t, b, func(ev overlay.Event) bool {
		e, ok := ev.(overlay.BootstrapOK)
		return ok && e.Peer == a.LocalID()
	})
}

func TestNode_DialFailureIsReported(t *testing.T) {
	t.Parallel()

	a := newTestNode(t)
	b := newTestNode(t)
	peerID := a.LocalID()
	require.NoError(t, a.Close())

	require.NoError(t, b.AddBootstrapAddress(peerID, "/ip4/127.0.0.1/tcp/1"))
	require.NoError(t, b.Dial(peerID))

	ev := waitFor(t, b, func(ev overlay.Event) bool {
		_, ok := ev.(overlay.OutgoingConnectionError)
		return ok
	})
	e := ev.(overlay.OutgoingConnectionError)
	assert.Equal(t, peerID, e.Peer)
	assert.Error(t, e.Err)
}

func TestNode_InvalidInputs(t *testing.T) {
	t.Parallel()

	n := newTestNode(t)

	assert.ErrorIs(t, n.AddBootstrapAddress("", "/ip4/1.2.3.4/tcp/1"), overlay.ErrNoPeerID)
	assert.Error(t, n.AddBootstrapAddress("not-a-peer", "/ip4/1.2.3.4/tcp/1"))
	assert.Error(t, n.AddBootstrapAddress(n.LocalID(), "garbage"))
	assert.Error(t, n.Dial("not-a-peer"))
	assert.Error(t, n.ListenOn("garbage"))
	assert.Error(t, n.Announce(""))
	n.RemovePeer("not-a-peer")
}

func TestDHTMode(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"", "server", "client", "auto"} {
		_, err := dhtMode(mode)
		assert.NoError(t, err, mode)
	}
	_, err := dhtMode("peer")
	assert.Error(t, err)
}

func TestDialError_WrapsIdentityMismatch(t *testing.T) {
	t.Parallel()

	err := dialError("QmExpected", errors.New("failed to negotiate security protocol: peer id mismatch: expected QmExpected, but remote key matches QmOther"))
	var wrong *overlay.WrongPeerError
	require.ErrorAs(t, err, &wrong)
	assert.Equal(t, "QmExpected", wrong.Expected)

	plain := errors.New("connection refused")
	assert.Same(t, plain, dialError("QmExpected", plain))
}

func TestClosestPeersEvent(t *testing.T) {
	t.Parallel()

	n := newTestNode(t)
	id, err := peer.Decode(n.LocalID())
	require.NoError(t, err)

	ev, ok := closestPeersEvent("QmTarget", []peer.ID{id}, nil)
	require.True(t, ok)
	assert.Equal(t, overlay.ClosestPeersOK{Key: "QmTarget", Peers: []string{n.LocalID()}}, ev)

	ev, ok = closestPeersEvent("QmTarget", nil, fmt.Errorf("query: %w", context.DeadlineExceeded))
	require.True(t, ok)
	assert.Equal(t, overlay.ClosestPeersTimeout{Key: "QmTarget"}, ev)

	_, ok = closestPeersEvent("QmTarget", nil, errors.New("failed to find any peer in table"))
	assert.False(t, ok, "a failed query is not reported as a result")
}

func TestNode_FailedClosestPeersEmitsNothing(t *testing.T) {
	t.Parallel()

	n := newTestNode(t)
	waitFor(t, n, func(ev overlay.Event) bool {
		_, ok := ev.(overlay.NewListenAddr)
		return ok
	})

	// An empty routing table makes the lookup fail immediately.
	require.NoError(t, n.FindClosestPeers(n.LocalID()))
	select {
	case ev := <-n.Events():
		_, isOK := ev.(overlay.ClosestPeersOK)
		assert.False(t, isOK, "unexpected %T", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestPingFailure(t *testing.T) {
	t.Parallel()

	assert.Equal(t, overlay.PingTimeout, pingFailure(context.DeadlineExceeded))
	assert.Equal(t, overlay.PingUnsupported, pingFailure(errors.New("failed to negotiate protocol: protocols not supported: [/ipfs/ping/1.0.0]")))
	assert.Equal(t, overlay.PingOther, pingFailure(errors.New("stream reset")))
}
