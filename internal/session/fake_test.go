package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"natprobe/internal/config"
	"natprobe/internal/overlay"
)

const selfID = "QmSelf"

type fakeOverlay struct {
	mu           sync.Mutex
	events       chan overlay.Event
	started      chan struct{}
	startErr     error
	bootstrapErr error
	dialErr      map[string]error

	bootstraps int
	refreshes  []string
	dials      []string
	removed    []string
	announced  []string
	seeds      [][2]string
}

func newFakeOverlay() *fakeOverlay {
	return &fakeOverlay{
		events:  make(chan overlay.Event, 64),
		started: make(chan struct{}),
		dialErr: map[string]error{},
	}
}

func (f *fakeOverlay) LocalID() string { return selfID }

func (f *fakeOverlay) Start(context.Context) error {
	close(f.started)
	return f.startErr
}

func (f *fakeOverlay) ListenOn(string) error { return nil }

func (f *fakeOverlay) AddBootstrapAddress(peerID, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds = append(f.seeds, [2]string{peerID, addr})
	if peerID == "" {
		return overlay.ErrNoPeerID
	}
	return nil
}

func (f *fakeOverlay) Bootstrap() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstraps++
	return f.bootstrapErr
}

func (f *fakeOverlay) FindClosestPeers(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, target)
	return nil
}

func (f *fakeOverlay) Dial(peerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, peerID)
	return f.dialErr[peerID]
}

func (f *fakeOverlay) RemovePeer(peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, peerID)
}

func (f *fakeOverlay) Announce(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, key)
	return nil
}

func (f *fakeOverlay) Events() <-chan overlay.Event { return f.events }

func (f *fakeOverlay) Close() error { return nil }

func (f *fakeOverlay) bootstrapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bootstraps
}

func (f *fakeOverlay) dialed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dials...)
}

type fakeDiscoverer struct {
	mu    sync.Mutex
	addr  *net.UDPAddr
	err   error
	calls int
}

func (d *fakeDiscoverer) Discover(context.Context) (*net.UDPAddr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.addr, d.err
}

func (d *fakeDiscoverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var errDecode = errors.New("decode response: unexpected EOF")

func testConfig(t *testing.T, mode, role string) config.Config {
	t.Helper()
	cfg := config.Config{
		Mode:           mode,
		Role:           role,
		BootstrapPeers: []string{"/ip4/10.0.0.1/tcp/4001/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmPYiLMwpSM", "/ip4/10.0.0.2/tcp/6880"},
		RegistryPath:   t.TempDir() + "/BOOTSTRAPS.json",
	}
	config.ApplyDefaults(&cfg)
	return cfg
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

type running struct {
	mock   *clock.Mock
	ov     *fakeOverlay
	cancel context.CancelFunc
	done   chan *Result
}

// start runs a session on a mock clock and waits until the overlay is started,
// so every ticker exists before the test advances time.
func start(t *testing.T, cfg config.Config, ov *fakeOverlay, d Discoverer) *running {
	t.Helper()
	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := New(cfg, ov, d, WithClock(mock), WithLogger(quietLogger()))
	done := make(chan *Result, 1)
	go func() {
		res, err := s.Run(ctx)
		if err != nil {
			t.Errorf("run: %v", err)
		}
		done <- res
	}()

	select {
	case <-ov.started:
	case <-time.After(2 * time.Second):
		t.Fatal("overlay never started")
	}
	return &running{mock: mock, ov: ov, cancel: cancel, done: done}
}

func (r *running) wait(t *testing.T) *Result {
	t.Helper()
	select {
	case res := <-r.done:
		require.NotNil(t, res)
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}
