// Package session runs one time-bounded reachability test against a DHT
// overlay. All session state is owned by the goroutine executing Run.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"natprobe/internal/addrutil"
	"natprobe/internal/attempts"
	"natprobe/internal/config"
	"natprobe/internal/metrics"
	"natprobe/internal/model"
	"natprobe/internal/overlay"
	"natprobe/internal/store"
)

// recentAttempts is the number of attempt records included in a Status.
const recentAttempts = 20

// Discoverer resolves the externally visible address of this node.
type Discoverer interface {
	Discover(ctx context.Context) (*net.UDPAddr, error)
}

// Session is a single test run. Create it with New and call Run once.
type Session struct {
	cfg       config.Config
	overlay   overlay.Overlay
	discovery Discoverer
	clock     clock.Clock
	log       logrus.FieldLogger
	collector *metrics.Collector
	observer  func(Status)

	state    State
	registry *store.Registry
	tracker  *attempts.Tracker
	samples  []model.Metric
}

// Option customises a Session.
type Option func(*Session)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger; the session adds a session field to it.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

// WithCollector records session metrics on c. A nil collector is a no-op.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Session) { s.collector = c }
}

// WithObserver registers fn to receive a Status before every wait. fn runs on
// the session goroutine and must not block.
func WithObserver(fn func(Status)) Option {
	return func(s *Session) { s.observer = fn }
}

// New prepares a session. cfg is expected to have defaults applied.
func New(cfg config.Config, ov overlay.Overlay, discovery Discoverer, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		overlay:   ov,
		discovery: discovery,
		clock:     clock.New(),
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = store.NewRegistry(s.clock.Now)
	s.tracker = attempts.NewTracker(s.clock.Now)
	return s
}

// Run executes the session until one of the exit conditions holds or ctx is
// cancelled. Only setup failures are returned as errors; everything that
// happens once the loop is running ends in a classified Outcome.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if err := config.Validate(s.cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if s.discovery == nil {
		return nil, errors.New("no discovery client configured")
	}

	start := s.clock.Now()
	s.state = State{
		SessionID:   uuid.NewString(),
		StartTime:   start,
		Deadline:    start.Add(s.cfg.Runtime()),
		MaxAttempts: s.cfg.MaxAttempts,
	}
	s.log = s.log.WithField("session", s.state.SessionID)

	bootstrapTicker := s.clock.Ticker(s.cfg.BootstrapInterval)
	defer bootstrapTicker.Stop()
	refreshTicker := s.clock.Ticker(s.cfg.RefreshInterval)
	defer refreshTicker.Stop()
	sweepTicker := s.clock.Ticker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()
	deadline := s.clock.Timer(s.cfg.Runtime())
	defer deadline.Stop()

	if err := s.overlay.Start(ctx); err != nil {
		return nil, fmt.Errorf("start overlay: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"peer": s.overlay.LocalID(),
		"mode": s.cfg.Mode,
		"role": s.cfg.Role,
	}).Info("session started")

	s.seed()
	if s.cfg.Rendezvous != "" {
		if err := s.overlay.Announce(s.cfg.Rendezvous); err != nil {
			s.log.WithError(err).Warn("rendezvous announce failed")
		}
	}

	events := s.overlay.Events()
	deadlineFired := false
	for {
		if outcome, done := s.exitCondition(deadlineFired); done {
			return s.finish(outcome), nil
		}
		s.collector.SetAttemptsMade(s.state.AttemptsMade)
		s.publish()

		select {
		case <-ctx.Done():
			return s.finish(Cancelled), nil
		case <-deadline.C:
			deadlineFired = true
		case ev, ok := <-events:
			if !ok {
				s.log.Warn("overlay event stream closed")
				events = nil
				continue
			}
			s.handleEvent(ev)
		case <-bootstrapTicker.C:
			s.bootstrap()
		case <-refreshTicker.C:
			s.refresh()
		case <-sweepTicker.C:
			s.sweep(ctx)
		}
	}
}

// exitCondition checks timeout, then success, then the attempt budget.
func (s *Session) exitCondition(deadlineFired bool) (Outcome, bool) {
	switch {
	case deadlineFired || s.clock.Now().Sub(s.state.StartTime) > s.cfg.Runtime():
		return TimedOut, true
	case s.state.Success:
		return Succeeded, true
	case s.state.AttemptsMade >= s.state.MaxAttempts:
		return AttemptsExhausted, true
	}
	return "", false
}

func (s *Session) seed() {
	for _, addr := range s.cfg.BootstrapPeers {
		b, err := addrutil.ParseBootstrap(addr)
		if err != nil {
			s.registry.Add(addr, "")
			s.log.WithError(err).WithField("address", addr).Warn("invalid bootstrap address")
			continue
		}
		s.registry.Add(b.Address, b.PeerID)
		if err := s.overlay.AddBootstrapAddress(b.PeerID, b.Address); err != nil {
			s.log.WithError(err).WithField("address", addr).Warn("add bootstrap address failed")
		}
	}
	s.log.WithField("count", s.registry.Len()).Info("bootstrap registry seeded")
}

func (s *Session) bootstrap() {
	if s.state.Bootstrapped {
		return
	}
	if err := s.overlay.Bootstrap(); err != nil {
		s.log.WithError(err).Warn("bootstrap failed, retrying on next tick")
		return
	}
	s.state.Bootstrapped = true
	s.log.Info("bootstrap started")
}

func (s *Session) refresh() {
	self := s.overlay.LocalID()
	if err := s.overlay.FindClosestPeers(self); err != nil {
		s.log.WithError(err).Warn("closest peers query failed")
		return
	}
	s.log.Debug("closest peers query started")
}

// sweep logs the bootstrap registry, runs one discovery request and persists
// the registry. The persist happens whatever the discovery result.
func (s *Session) sweep(ctx context.Context) {
	snap := s.registry.Snapshot()
	for _, rec := range snap.Nodes {
		s.log.WithFields(logrus.Fields{
			"address": rec.Address,
			"peer":    rec.PeerID,
			"status":  rec.Status,
		}).Debug("bootstrap peer")
	}

	remaining := s.state.Deadline.Sub(s.clock.Now())
	dctx, cancel := context.WithTimeout(ctx, remaining)
	addr, err := s.discovery.Discover(dctx)
	cancel()

	s.collector.ObserveDiscovery(err == nil)
	if err != nil {
		s.log.WithError(err).Warn("address discovery failed")
		if enabled(s.cfg.Discovery.FailureCountsAttempt) {
			s.state.AttemptsMade++
		}
	} else {
		s.log.WithField("address", addr.String()).Info("external address discovered")
		if enabled(s.cfg.Discovery.MarksSuccess) {
			s.state.Success = true
		}
	}

	s.persist(snap)
}

func enabled(flag *bool) bool {
	return flag != nil && *flag
}

func (s *Session) persist(snap store.Snapshot) {
	if s.cfg.RegistryPath == "" {
		return
	}
	if err := store.SaveSnapshot(s.cfg.RegistryPath, snap); err != nil {
		s.log.WithError(err).WithField("path", s.cfg.RegistryPath).Error("persist registry failed")
		return
	}
	s.log.WithField("path", s.cfg.RegistryPath).Debug("registry persisted")
}

func (s *Session) publish() {
	if s.observer == nil {
		return
	}
	s.observer(s.status())
}

func (s *Session) status() Status {
	records := s.tracker.Records()
	last := records
	if len(last) > recentAttempts {
		last = last[len(last)-recentAttempts:]
	}
	return Status{
		State:    s.state,
		Attempts: len(records),
		Registry: s.registry.Snapshot(),
		Last:     last,
	}
}

func (s *Session) finish(outcome Outcome) *Result {
	snap := s.registry.Snapshot()
	s.persist(snap)
	s.publish()

	s.log.WithFields(logrus.Fields{
		"outcome":  outcome,
		"attempts": s.state.AttemptsMade,
		"success":  s.state.Success,
	}).Info("session finished")

	return &Result{
		State:    s.state,
		Outcome:  outcome,
		EndTime:  s.clock.Now(),
		Records:  s.tracker.Records(),
		Registry: snap,
		Samples:  append([]model.Metric(nil), s.samples...),
	}
}
