package addrutil

import (
	"errors"
	"fmt"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// Bootstrap is a parsed seed peer address.
type Bootstrap struct {
	Address string
	// PeerID is the /p2p component, empty when the address has none.
	PeerID string
}

// ParseBootstrap validates addr as a multiaddr and extracts its peer id.
func ParseBootstrap(addr string) (Bootstrap, error) {
	a := strings.TrimSpace(addr)
	if a == "" {
		return Bootstrap{}, fmt.Errorf("empty bootstrap address")
	}

	m, err := ma.NewMultiaddr(a)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("invalid bootstrap address %q: %w", a, err)
	}

	id, err := m.ValueForProtocol(ma.P_P2P)
	if err != nil {
		if errors.Is(err, ma.ErrProtocolNotFound) {
			return Bootstrap{Address: a}, nil
		}
		return Bootstrap{}, err
	}
	return Bootstrap{Address: a, PeerID: id}, nil
}
