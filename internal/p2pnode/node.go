// Package p2pnode implements overlay.Overlay on a go-libp2p host with a
// Kademlia DHT. Commands return immediately; their results are delivered on
// the Events channel from background goroutines.
//
// The libp2p swarm has no notification for failed inbound upgrades, so this
// implementation never emits overlay.IncomingConnectionError.
package p2pnode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"natprobe/internal/overlay"
)

const (
	defaultEventBuffer    = 256
	defaultDialTimeout    = 15 * time.Second
	defaultQueryTimeout   = 30 * time.Second
	defaultPingTimeout    = 10 * time.Second
	defaultAdvertiseEvery = time.Minute
)

// Options configures a Node.
type Options struct {
	ListenAddrs  []string
	DHTMode      string
	EventBuffer  int
	DialTimeout  time.Duration
	QueryTimeout time.Duration
	PingTimeout  time.Duration
	Logger       logrus.FieldLogger
}

func (o *Options) applyDefaults() {
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = defaultQueryTimeout
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = defaultPingTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Node is a libp2p host plus DHT presented as an overlay.Overlay.
type Node struct {
	opts   Options
	host   host.Host
	kdht   *dht.IpfsDHT
	log    logrus.FieldLogger
	events chan overlay.Event
	notify *network.NotifyBundle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	seeds    []peer.AddrInfo
	listened map[string]bool
}

var _ overlay.Overlay = (*Node)(nil)

// New generates a fresh identity and builds the host and DHT. The host does
// not listen until Start.
func New(ctx context.Context, opts Options) (*Node, error) {
	opts.applyDefaults()

	mode, err := dhtMode(opts.DHTMode)
	if err != nil {
		return nil, err
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	h, err := libp2p.New(libp2p.Identity(priv), libp2p.NoListenAddrs)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	kdht, err := dht.New(ctx, h, dht.Mode(mode))
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("create dht: %w", err)
	}

	nctx, cancel := context.WithCancel(ctx)
	n := &Node{
		opts:     opts,
		host:     h,
		kdht:     kdht,
		log:      opts.Logger.WithField("peer", h.ID().String()),
		events:   make(chan overlay.Event, opts.EventBuffer),
		ctx:      nctx,
		cancel:   cancel,
		listened: map[string]bool{},
	}

	n.notify = &network.NotifyBundle{
		ConnectedF:    n.connected,
		DisconnectedF: n.disconnected,
	}
	h.Network().Notify(n.notify)

	rt := kdht.RoutingTable()
	prev := rt.PeerAdded
	rt.PeerAdded = func(p peer.ID) {
		if prev != nil {
			prev(p)
		}
		n.emit(overlay.RoutingUpdated{Peer: p.String()})
	}

	return n, nil
}

func dhtMode(mode string) (dht.ModeOpt, error) {
	switch mode {
	case "", "server":
		return dht.ModeServer, nil
	case "client":
		return dht.ModeClient, nil
	case "auto":
		return dht.ModeAuto, nil
	}
	return 0, fmt.Errorf("unknown dht mode %q", mode)
}

func (n *Node) LocalID() string {
	return n.host.ID().String()
}

// Start listens on every configured address. A failure to listen is fatal.
func (n *Node) Start(ctx context.Context) error {
	if len(n.opts.ListenAddrs) == 0 {
		return errors.New("no listen addresses configured")
	}
	for _, addr := range n.opts.ListenAddrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.ListenOn(addr); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) ListenOn(addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("listen address %q: %w", addr, err)
	}
	if err := n.host.Network().Listen(m); err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	n.mu.Lock()
	var fresh []string
	for _, a := range n.host.Network().ListenAddresses() {
		s := a.String()
		if !n.listened[s] {
			n.listened[s] = true
			fresh = append(fresh, s)
		}
	}
	n.mu.Unlock()

	for _, s := range fresh {
		n.emit(overlay.NewListenAddr{Address: s})
	}
	return nil
}

// AddBootstrapAddress stores addr in the peerstore and remembers the peer
// for Bootstrap. Addresses without a peer id cannot be dialed.
func (n *Node) AddBootstrapAddress(peerID, addr string) error {
	if peerID == "" {
		return overlay.ErrNoPeerID
	}
	id, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("decode peer id %q: %w", peerID, err)
	}
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("bootstrap address %q: %w", addr, err)
	}
	transport, _ := peer.SplitAddr(m)
	if transport == nil {
		return fmt.Errorf("bootstrap address %q has no transport part", addr)
	}

	n.host.Peerstore().AddAddrs(id, []ma.Multiaddr{transport}, peerstore.PermanentAddrTTL)

	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.seeds {
		if n.seeds[i].ID == id {
			n.seeds[i].Addrs = append(n.seeds[i].Addrs, transport)
			return nil
		}
	}
	n.seeds = append(n.seeds, peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{transport}})
	return nil
}

// Bootstrap connects to the seed peers and starts the DHT refresh. Each seed
// reports BootstrapOK or BootstrapTimeout; other dial failures are reported
// as OutgoingConnectionError.
func (n *Node) Bootstrap() error {
	n.mu.Lock()
	seeds := append([]peer.AddrInfo(nil), n.seeds...)
	n.mu.Unlock()
	if len(seeds) == 0 {
		return errors.New("no dialable bootstrap peers")
	}

	for _, seed := range seeds {
		n.wg.Add(1)
		go func(pi peer.AddrInfo) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(n.ctx, n.opts.DialTimeout)
			defer cancel()

			err := n.host.Connect(ctx, pi)
			switch {
			case err == nil:
				n.emit(overlay.BootstrapOK{Peer: pi.ID.String()})
			case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
				n.emit(overlay.BootstrapTimeout{Peer: pi.ID.String()})
			default:
				n.emit(overlay.OutgoingConnectionError{Peer: pi.ID.String(), Err: err})
			}
		}(seed)
	}

	return n.kdht.Bootstrap(n.ctx)
}

// FindClosestPeers queries the DHT for peers closest to target, a peer id.
func (n *Node) FindClosestPeers(target string) error {
	key := target
	if id, err := peer.Decode(target); err == nil {
		key = string(id)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(n.ctx, n.opts.QueryTimeout)
		defer cancel()

		ids, err := n.kdht.GetClosestPeers(ctx, key)
		if ev, ok := closestPeersEvent(target, ids, err); ok {
			n.emit(ev)
			return
		}
		n.log.WithError(err).WithField("key", target).Warn("closest peers query failed")
	}()
	return nil
}

// closestPeersEvent maps a query result to an event. Failures other than a
// deadline produce no event.
func closestPeersEvent(target string, ids []peer.ID, err error) (overlay.Event, bool) {
	switch {
	case err == nil:
		peers := make([]string, 0, len(ids))
		for _, id := range ids {
			peers = append(peers, id.String())
		}
		return overlay.ClosestPeersOK{Key: target, Peers: peers}, true
	case errors.Is(err, context.DeadlineExceeded):
		return overlay.ClosestPeersTimeout{Key: target}, true
	default:
		return nil, false
	}
}

// Dial connects to a known peer using the addresses in the peerstore.
func (n *Node) Dial(peerID string) error {
	id, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("decode peer id %q: %w", peerID, err)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(n.ctx, n.opts.DialTimeout)
		defer cancel()

		pi := peer.AddrInfo{ID: id, Addrs: n.host.Peerstore().Addrs(id)}
		if err := n.host.Connect(ctx, pi); err != nil {
			n.emit(overlay.OutgoingConnectionError{Peer: peerID, Err: dialError(peerID, err)})
		}
	}()
	return nil
}

func (n *Node) RemovePeer(peerID string) {
	id, err := peer.Decode(peerID)
	if err != nil {
		return
	}
	n.kdht.RoutingTable().RemovePeer(id)
	n.host.Peerstore().ClearAddrs(id)
}

// Announce advertises this node under key and keeps re-advertising until the
// node is closed.
func (n *Node) Announce(key string) error {
	if key == "" {
		return errors.New("empty rendezvous key")
	}
	disc := drouting.NewRoutingDiscovery(n.kdht)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(defaultAdvertiseEvery)
		defer ticker.Stop()
		for {
			ctx, cancel := context.WithTimeout(n.ctx, n.opts.QueryTimeout)
			ttl, err := disc.Advertise(ctx, key)
			cancel()
			if err != nil {
				n.log.WithError(err).WithField("key", key).Debug("advertise failed")
			} else {
				n.log.WithFields(logrus.Fields{"key": key, "ttl": ttl}).Debug("advertised")
			}

			select {
			case <-n.ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Events is the overlay event stream. It is never closed.
func (n *Node) Events() <-chan overlay.Event {
	return n.events
}

// Close stops background work and shuts down the DHT and host. Calling it
// again returns the first result.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		n.host.Network().StopNotify(n.notify)
		n.closeErr = multierr.Combine(n.kdht.Close(), n.host.Close())
		n.wg.Wait()
	})
	return n.closeErr
}

func (n *Node) connected(_ network.Network, conn network.Conn) {
	p := conn.RemotePeer()
	n.emit(overlay.ConnectionEstablished{Peer: p.String(), Endpoint: conn.RemoteMultiaddr().String()})
	if n.ctx.Err() != nil {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.ping(p)
	}()
}

func (n *Node) disconnected(_ network.Network, conn network.Conn) {
	n.emit(overlay.ConnectionClosed{Peer: conn.RemotePeer().String()})
}

func (n *Node) ping(p peer.ID) {
	ctx, cancel := context.WithTimeout(n.ctx, n.opts.PingTimeout)
	defer cancel()

	select {
	case res := <-ping.Ping(ctx, n.host, p):
		if res.Error != nil {
			n.emit(overlay.PingFailed{Peer: p.String(), Failure: pingFailure(res.Error), Err: res.Error})
			return
		}
		n.emit(overlay.PingOK{Peer: p.String(), RTT: res.RTT})
	case <-ctx.Done():
		if n.ctx.Err() != nil {
			return
		}
		n.emit(overlay.PingFailed{Peer: p.String(), Failure: overlay.PingTimeout, Err: ctx.Err()})
	}
}

// emit never blocks; a full buffer drops the event.
func (n *Node) emit(ev overlay.Event) {
	select {
	case n.events <- ev:
	default:
		n.log.WithField("event", fmt.Sprintf("%T", ev)).Warn("event buffer full, dropping event")
	}
}

func pingFailure(err error) overlay.PingFailure {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return overlay.PingTimeout
	case strings.Contains(msg, "protocol not supported"), strings.Contains(msg, "protocols not supported"):
		return overlay.PingUnsupported
	}
	return overlay.PingOther
}

// dialError wraps identity mismatches reported by the security handshake.
func dialError(expected string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "peer id mismatch") || strings.Contains(msg, "peer ids don't match") {
		return &overlay.WrongPeerError{Expected: expected, Err: err}
	}
	return err
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
