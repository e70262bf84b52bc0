package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"natprobe/internal/config"
	"natprobe/internal/metrics"
	"natprobe/internal/model"
	"natprobe/internal/overlay"
)

// handleEvent applies one overlay event to the session state. It never fails;
// problems are recorded as attempts or logged.
func (s *Session) handleEvent(ev overlay.Event) {
	switch e := ev.(type) {
	case overlay.NewListenAddr:
		s.collector.ObserveEvent("new_listen_addr")
		s.log.WithField("address", e.Address).Info("listening")

	case overlay.BootstrapOK:
		s.collector.ObserveEvent("bootstrap_ok")
		s.log.WithField("peer", e.Peer).Info("bootstrap query succeeded")

	case overlay.BootstrapTimeout:
		s.collector.ObserveEvent("bootstrap_timeout")
		s.log.WithField("peer", e.Peer).Info("bootstrap query timed out")

	case overlay.ClosestPeersOK:
		s.collector.ObserveEvent("closest_peers_ok")
		s.log.WithField("count", len(e.Peers)).Info("closest peers found")
		s.dialClosest(e.Peers)

	case overlay.ClosestPeersTimeout:
		s.collector.ObserveEvent("closest_peers_timeout")
		s.log.WithField("key", e.Key).Info("closest peers query timed out")

	case overlay.RoutingUpdated:
		s.collector.ObserveEvent("routing_updated")
		s.registry.Upsert(e.Peer, model.StatusActive)

	case overlay.ConnectionEstablished:
		s.collector.ObserveEvent("connection_established")
		s.registry.Upsert(e.Peer, model.StatusActive)
		s.record(model.OutcomeSuccess, e.Peer, "")
		s.log.WithFields(logrus.Fields{"peer": e.Peer, "endpoint": e.Endpoint}).Info("connection established")
		if s.cfg.Role == config.RoleInitiator {
			s.state.Success = true
		}

	case overlay.ConnectionClosed:
		s.collector.ObserveEvent("connection_closed")
		s.registry.Upsert(e.Peer, model.StatusInactive)
		s.log.WithField("peer", e.Peer).Debug("connection closed")

	case overlay.OutgoingConnectionError:
		s.collector.ObserveEvent("outgoing_connection_error")
		outcome := Classify(e.Err)
		s.record(outcome, e.Peer, fmt.Sprintf("%v", e.Err))
		s.state.AttemptsMade++
		if e.Peer != "" {
			s.registry.Upsert(e.Peer, model.StatusInactive)
		}
		var wrong *overlay.WrongPeerError
		if errors.As(e.Err, &wrong) && e.Peer != "" {
			s.overlay.RemovePeer(e.Peer)
		}
		s.log.WithFields(logrus.Fields{
			"peer":     e.Peer,
			"outcome":  outcome,
			"attempts": s.state.AttemptsMade,
		}).WithError(e.Err).Warn("outgoing connection failed")

	case overlay.IncomingConnectionError:
		s.collector.ObserveEvent("incoming_connection_error")
		s.state.AttemptsMade++
		s.log.WithFields(logrus.Fields{
			"local":    e.LocalAddr,
			"remote":   e.SendBackAddr,
			"outcome":  Classify(e.Err),
			"attempts": s.state.AttemptsMade,
		}).WithError(e.Err).Warn("incoming connection failed")

	case overlay.PingOK:
		s.collector.ObserveEvent("ping_ok")
		s.collector.ObservePing(e.RTT)
		s.registry.Upsert(e.Peer, model.StatusActive)
		s.state.Success = true
		s.state.AttemptsMade = 0
		s.sample(e)

	case overlay.PingFailed:
		s.collector.ObserveEvent("ping_failed")
		s.registry.Upsert(e.Peer, model.StatusInactive)
		s.log.WithFields(logrus.Fields{"peer": e.Peer, "failure": e.Failure}).WithError(e.Err).Debug("ping failed")

	default:
		s.log.WithField("event", fmt.Sprintf("%T", ev)).Warn("unhandled overlay event")
	}
}

// dialClosest dials every discovered peer once. The attempt budget is only
// checked between events, so one batch may overshoot it.
func (s *Session) dialClosest(peers []string) {
	if s.cfg.Role != config.RoleInitiator || len(peers) == 0 || s.state.Success {
		return
	}
	self := s.overlay.LocalID()
	for _, p := range peers {
		if p == self {
			continue
		}
		s.state.AttemptsMade++
		if err := s.overlay.Dial(p); err != nil {
			s.record(Classify(err), p, err.Error())
			s.log.WithField("peer", p).WithError(err).Warn("dial failed")
		}
	}
}

func (s *Session) record(outcome model.Outcome, peerID, detail string) {
	s.tracker.Record(outcome, peerID, detail)
	s.collector.ObserveAttempt(outcome)
}

func (s *Session) sample(e overlay.PingOK) {
	rttMs := float64(e.RTT.Microseconds()) / 1000.0
	s.log.WithFields(logrus.Fields{"peer": e.Peer, "rtt_ms": rttMs}).Info("ping succeeded")

	m := model.Metric{
		Timestamp: s.clock.Now().UTC(),
		SessionID: s.state.SessionID,
		PeerID:    e.Peer,
		RTTMs:     rttMs,
	}
	s.samples = append(s.samples, m)
	if s.cfg.MetricsPath == "" {
		return
	}
	if err := metrics.AppendCSV(s.cfg.MetricsPath, []model.Metric{m}); err != nil {
		s.log.WithError(err).Warn("append metrics failed")
	}
}
