package stunutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers each binding request using reply, which builds the raw
// response for the decoded request and the sender's address.
func fakeServer(t *testing.T, reply func(req *stun.Message, from *net.UDPAddr) []byte) (string, <-chan *stun.Message) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	seen := make(chan *stun.Message, 4)
	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := new(stun.Message)
			req.Raw = append([]byte(nil), buf[:n]...)
			if err := req.Decode(); err != nil {
				continue
			}
			seen <- req
			if out := reply(req, from); out != nil {
				_, _ = conn.WriteToUDP(out, from)
			}
		}
	}()
	return conn.LocalAddr().String(), seen
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NATTypeUnknown, Classify([]string{"1.2.3.4:1"}))
	assert.Equal(t, NATTypeConeOrRestricted, Classify([]string{"1.2.3.4:1", "1.2.3.4:1"}))
	assert.Equal(t, NATTypeSymmetric, Classify([]string{"1.2.3.4:1", "1.2.3.4:2"}))
}

func TestDiscover_XORMappedAddress(t *testing.T) {
	t.Parallel()

	addr, seen := fakeServer(t, func(req *stun.Message, from *net.UDPAddr) []byte {
		res := stun.MustBuild(
			stun.NewTransactionIDSetter(req.TransactionID),
			stun.BindingSuccess,
			&stun.XORMappedAddress{IP: net.IPv4(203, 0, 113, 7), Port: 40000},
			&stun.MappedAddress{IP: net.IPv4(198, 51, 100, 1), Port: 1},
		)
		return res.Raw
	})

	client := NewClient([]string{"stun:" + addr, "unreachable.invalid:3478"}, 2*time.Second)
	got, err := client.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7:40000", got.String())

	req := <-seen
	assert.Equal(t, stun.BindingRequest, req.Type)
	assert.Equal(t, [stun.TransactionIDSize]byte{}, req.TransactionID)
}

func TestDiscover_FallsBackToMappedAddress(t *testing.T) {
	t.Parallel()

	addr, _ := fakeServer(t, func(req *stun.Message, from *net.UDPAddr) []byte {
		res := stun.MustBuild(
			stun.NewTransactionIDSetter(req.TransactionID),
			stun.BindingSuccess,
			&stun.MappedAddress{IP: from.IP, Port: from.Port},
		)
		return res.Raw
	})

	got, err := NewClient([]string{addr}, 2*time.Second).Discover(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IP.Equal(net.IPv4(127, 0, 0, 1)))
	assert.NotZero(t, got.Port)
}

func TestDiscover_MissingMappedAddress(t *testing.T) {
	t.Parallel()

	addr, _ := fakeServer(t, func(req *stun.Message, from *net.UDPAddr) []byte {
		return stun.MustBuild(stun.NewTransactionIDSetter(req.TransactionID), stun.BindingSuccess).Raw
	})

	_, err := NewClient([]string{addr}, 2*time.Second).Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoMappedAddress)
}

func TestDiscover_DecodeFailure(t *testing.T) {
	t.Parallel()

	addr, _ := fakeServer(t, func(*stun.Message, *net.UDPAddr) []byte {
		return []byte("definitely not stun")
	})

	_, err := NewClient([]string{addr}, 2*time.Second).Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestDiscover_RespectsTimeout(t *testing.T) {
	t.Parallel()

	addr, _ := fakeServer(t, func(*stun.Message, *net.UDPAddr) []byte { return nil })

	start := time.Now()
	_, err := NewClient([]string{addr}, 50*time.Millisecond).Discover(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiscover_ContextDeadlineCapsTimeout(t *testing.T) {
	t.Parallel()

	addr, _ := fakeServer(t, func(*stun.Message, *net.UDPAddr) []byte { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient([]string{addr}, 0).Discover(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiscover_NoServers(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, time.Second).Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestProbe_ClassifiesAcrossServers(t *testing.T) {
	t.Parallel()

	reply := func(port int) func(*stun.Message, *net.UDPAddr) []byte {
		return func(req *stun.Message, _ *net.UDPAddr) []byte {
			return stun.MustBuild(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: net.IPv4(203, 0, 113, 7), Port: port},
			).Raw
		}
	}
	a, _ := fakeServer(t, reply(1000))
	b, _ := fakeServer(t, reply(2000))

	addr, nat, err := Probe(context.Background(), []string{a, b}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7:1000", addr)
	assert.Equal(t, NATTypeSymmetric, nat)
}

func TestProbe_StopsWhenCancelled(t *testing.T) {
	t.Parallel()

	silent := func(*stun.Message, *net.UDPAddr) []byte { return nil }
	a, _ := fakeServer(t, silent)
	b, seenB := fakeServer(t, silent)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, nat, err := Probe(ctx, []string{a, b}, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, NATTypeUnknown, nat)
	assert.Empty(t, seenB, "no query after cancellation")
}
