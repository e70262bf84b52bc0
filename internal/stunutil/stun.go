package stunutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// DefaultServers is the discovery server list used when none is configured.
var DefaultServers = []string{
	"fwa.lifesizecloud.com:3478",
	"stun.isp.net.au:3478",
	"stun.freeswitch.org:3478",
	"stun.voip.blackberry.com:3478",
}

var (
	ErrNoServers       = errors.New("no STUN servers provided")
	ErrNoMappedAddress = errors.New("stun response missing mapped address")
)

// Client discovers the externally visible UDP address with a single binding
// request per call.
type Client struct {
	servers []string
	timeout time.Duration
}

// NewClient creates a discovery client. A zero timeout leaves the exchange
// bounded only by the context.
func NewClient(servers []string, timeout time.Duration) *Client {
	return &Client{servers: servers, timeout: timeout}
}

// Server returns the server Discover queries.
func (c *Client) Server() string {
	if len(c.servers) == 0 {
		return ""
	}
	return c.servers[0]
}

// Discover queries the first configured server only. Retries are left to the caller.
func (c *Client) Discover(ctx context.Context) (*net.UDPAddr, error) {
	if len(c.servers) == 0 {
		return nil, ErrNoServers
	}
	return Query(ctx, c.servers[0], c.timeout)
}

// Query sends one binding request with a zeroed transaction id to server and
// returns the mapped address from the response, preferring XOR-MAPPED-ADDRESS.
func Query(ctx context.Context, server string, timeout time.Duration) (*net.UDPAddr, error) {
	server = strings.TrimPrefix(strings.TrimSpace(server), "stun:")
	if server == "" {
		return nil, fmt.Errorf("empty STUN server")
	}

	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", server, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	msg, err := stun.Build(stun.NewTransactionIDSetter([stun.TransactionIDSize]byte{}), stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if _, err := msg.WriteTo(conn); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	return decodeMapped(buf[:n])
}

func decodeMapped(raw []byte) (*net.UDPAddr, error) {
	res := new(stun.Message)
	res.Raw = append([]byte(nil), raw...)
	if err := res.Decode(); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}

	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
	}

	return nil, ErrNoMappedAddress
}

// Probe queries every server and classifies the NAT from the mapped addresses.
// Note: The mapped address is for the probe socket and may not match other sockets.
func Probe(ctx context.Context, servers []string, timeout time.Duration) (string, string, error) {
	if len(servers) == 0 {
		return "", NATTypeUnknown, ErrNoServers
	}

	results := make([]string, 0, len(servers))
	var lastErr error
	for _, server := range servers {
		addr, err := Query(ctx, server, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return "", NATTypeUnknown, ctx.Err()
			}
			lastErr = err
			continue
		}
		results = append(results, addr.String())
	}

	if len(results) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("STUN probe failed")
		}
		return "", NATTypeUnknown, lastErr
	}

	return results[0], Classify(results), nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	first := addrs[0]
	for _, addr := range addrs[1:] {
		if addr != first {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}
