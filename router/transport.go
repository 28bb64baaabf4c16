package router

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Frame is one inbound transport message. From is the authenticated
// identity of the peer that sent it.
type Frame struct {
	From []byte
	Data []byte
}

// Transport moves opaque frames between node identities. Implementations
// must authenticate the sender of every inbound frame.
type Transport interface {
	Identity() []byte
	Send(ctx context.Context, to []byte, data []byte) error
	Inbound() <-chan Frame
	Close() error
}

var (
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrTransportClosed = errors.New("transport closed")
)

const localInboundSize = 1024

// LocalNetwork connects transports inside one process. Identities are
// authenticated by construction.
type LocalNetwork struct {
	mu    sync.RWMutex
	peers map[string]*LocalTransport
}

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{peers: make(map[string]*LocalTransport)}
}

// Join attaches a transport with the given identity, replacing any previous
// transport with the same identity.
func (n *LocalNetwork) Join(identity []byte) *LocalTransport {
	t := &LocalTransport{
		net:      n,
		identity: append([]byte(nil), identity...),
		inbound:  make(chan Frame, localInboundSize),
		done:     make(chan struct{}),
	}
	n.mu.Lock()
	n.peers[string(identity)] = t
	n.mu.Unlock()
	return t
}

type LocalTransport struct {
	net      *LocalNetwork
	identity []byte
	inbound  chan Frame
	done     chan struct{}
	once     sync.Once
}

func (t *LocalTransport) Identity() []byte { return t.identity }

func (t *LocalTransport) Inbound() <-chan Frame { return t.inbound }

func (t *LocalTransport) Send(ctx context.Context, to []byte, data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	// The read lock is held while sending so Close never closes an inbound
	// channel with a send in flight.
	t.net.mu.RLock()
	defer t.net.mu.RUnlock()

	dst, ok := t.net.peers[string(to)]
	if !ok {
		return errors.Wrapf(ErrUnknownPeer, "%x", to)
	}
	f := Frame{From: t.identity, Data: append([]byte(nil), data...)}
	select {
	case dst.inbound <- f:
		return nil
	case <-dst.done:
		return errors.Wrapf(ErrUnknownPeer, "%x", to)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches the transport and closes its inbound channel.
func (t *LocalTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.net.mu.Lock()
		if t.net.peers[string(t.identity)] == t {
			delete(t.net.peers, string(t.identity))
		}
		close(t.inbound)
		t.net.mu.Unlock()
	})
	return nil
}
