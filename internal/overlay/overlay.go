// Package overlay defines the contract between a test session and the DHT
// overlay that does the actual networking. Commands are issued through
// Overlay; results arrive asynchronously on Events as one of the concrete
// event types in this package.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoPeerID is returned by AddBootstrapAddress when the address carries
// no peer identity and the overlay cannot dial it.
var ErrNoPeerID = errors.New("bootstrap address has no peer id")

// Overlay issues commands to the DHT overlay.
type Overlay interface {
	// LocalID is this node's peer identity.
	LocalID() string
	// Start listens on the configured addresses. Errors are fatal for a session.
	Start(ctx context.Context) error
	ListenOn(addr string) error
	// AddBootstrapAddress registers a seed peer. peerID may be empty.
	AddBootstrapAddress(peerID, addr string) error
	Bootstrap() error
	// FindClosestPeers starts a query; its result arrives as ClosestPeersOK
	// or ClosestPeersTimeout.
	FindClosestPeers(target string) error
	// Dial starts a connection; its result arrives as ConnectionEstablished
	// or OutgoingConnectionError.
	Dial(peerID string) error
	RemovePeer(peerID string)
	// Announce publishes this node under key so peers sharing the key can find it.
	Announce(key string) error
	Events() <-chan Event
	Close() error
}

// Event is the closed set of notifications an overlay emits.
type Event interface {
	event()
}

// PingFailure distinguishes ping errors.
type PingFailure string

const (
	PingTimeout     PingFailure = "timeout"
	PingUnsupported PingFailure = "unsupported"
	PingOther       PingFailure = "other"
)

type (
	NewListenAddr struct {
		Address string
	}

	BootstrapOK struct {
		Peer string
	}

	BootstrapTimeout struct {
		Peer string
	}

	ClosestPeersOK struct {
		Key   string
		Peers []string
	}

	ClosestPeersTimeout struct {
		Key string
	}

	RoutingUpdated struct {
		Peer string
	}

	ConnectionEstablished struct {
		Peer     string
		Endpoint string
	}

	ConnectionClosed struct {
		Peer  string
		Cause error
	}

	// OutgoingConnectionError reports a failed dial. Peer is empty when the
	// remote identity is unknown.
	OutgoingConnectionError struct {
		Peer string
		Err  error
	}

	IncomingConnectionError struct {
		LocalAddr    string
		SendBackAddr string
		Err          error
	}

	PingOK struct {
		Peer string
		RTT  time.Duration
	}

	PingFailed struct {
		Peer    string
		Failure PingFailure
		Err     error
	}
)

func (NewListenAddr) event()           {}
func (BootstrapOK) event()             {}
func (BootstrapTimeout) event()        {}
func (ClosestPeersOK) event()          {}
func (ClosestPeersTimeout) event()     {}
func (RoutingUpdated) event()          {}
func (ConnectionEstablished) event()   {}
func (ConnectionClosed) event()        {}
func (OutgoingConnectionError) event() {}
func (IncomingConnectionError) event() {}
func (PingOK) event()                  {}
func (PingFailed) event()              {}

// WrongPeerError reports that a dialed address answered with a different identity.
type WrongPeerError struct {
	Expected string
	Obtained string
	Err      error
}

func (e *WrongPeerError) Error() string {
	if e.Obtained == "" {
		return fmt.Sprintf("wrong peer id: expected %s: %v", e.Expected, e.Err)
	}
	return fmt.Sprintf("wrong peer id: expected %s, obtained %s: %v", e.Expected, e.Obtained, e.Err)
}

func (e *WrongPeerError) Unwrap() error {
	return e.Err
}
