package router

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/tangle-network/frost-blueprint/metrics"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/wire"
)

var (
	// ErrSessionClosed is returned by Recv and Send once the session has been
	// unregistered.
	ErrSessionClosed = errors.New("session closed")
	ErrSessionExists = errors.New("session already registered")
	ErrNotMember     = errors.New("participant is not a session member")
)

// Config bounds the router's buffers. Zero values select the defaults.
type Config struct {
	// MailboxSize is the number of undelivered messages a session keeps per
	// sender. Further messages from that sender are dropped; other senders
	// are unaffected.
	MailboxSize int
	// PendingLimit is the number of messages kept for sessions that have not
	// been registered yet.
	PendingLimit int
	// PendingTTL is how long such messages are kept.
	PendingTTL time.Duration
}

const (
	DefaultMailboxSize  = 64
	DefaultPendingLimit = 4096
	DefaultPendingTTL   = 2 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = DefaultPendingLimit
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	return c
}

type parked struct {
	from   []byte
	msg    *wire.RoundMessage
	digest [32]byte
	at     time.Time
}

// Router demultiplexes inbound frames from a [Transport] to per-session
// mailboxes and sends session messages to peers.
type Router struct {
	transport Transport
	cfg       Config
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[wire.SessionID]*Handle
	closed   map[wire.SessionID]time.Time
	pending  []*parked
}

// New returns a Router on top of t. Call Run to start dispatching.
func New(t Transport, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Router {
	return &Router{
		transport: t,
		cfg:       cfg.withDefaults(),
		metrics:   m,
		log:       log.With().Str("component", "router").Logger(),
		now:       time.Now,
		sessions:  make(map[wire.SessionID]*Handle),
		closed:    make(map[wire.SessionID]time.Time),
	}
}

// Identity returns the transport identity of this node.
func (r *Router) Identity() []byte { return r.transport.Identity() }

// Run dispatches inbound frames until ctx is done or the transport stops.
func (r *Router) Run(ctx context.Context) error {
	in := r.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			r.dispatch(f)
		}
	}
}

func frameDigest(f Frame) [32]byte {
	h := blake3.New()
	h.Write(f.From)
	h.Write(f.Data)
	var d [32]byte
	copy(d[:], h.Sum(nil))
	return d
}

func (r *Router) dispatch(f Frame) {
	msg, err := wire.Decode(f.Data)
	if err != nil {
		r.metrics.RouterMessage(metrics.MessageRejected)
		r.log.Warn().Err(err).Int("size", len(f.Data)).Msg("rejected undecodable frame")
		return
	}
	digest := frameDigest(f)

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.sessions[msg.SessionID]; ok {
		h.deliver(f.From, msg, digest)
		return
	}
	if at, ok := r.closed[msg.SessionID]; ok && r.now().Sub(at) < r.cfg.PendingTTL {
		r.metrics.RouterMessage(metrics.MessageDropped)
		r.log.Debug().Str("session", msg.SessionID.Short()).Uint16("sender", uint16(msg.Sender)).
			Msg("dropped message for closed session")
		return
	}
	r.park(f.From, msg, digest)
}

// park holds a message for a session this node has not registered yet.
// r.mu must be held.
func (r *Router) park(from []byte, msg *wire.RoundMessage, digest [32]byte) {
	now := r.now()
	r.expire(now)
	for _, p := range r.pending {
		if p.digest == digest {
			r.metrics.RouterMessage(metrics.MessageDuplicate)
			return
		}
	}
	if len(r.pending) >= r.cfg.PendingLimit {
		r.metrics.RouterMessage(metrics.MessageDropped)
		r.log.Warn().Str("session", msg.SessionID.Short()).Int("limit", r.cfg.PendingLimit).
			Msg("pending buffer full, dropped message")
		return
	}
	r.pending = append(r.pending, &parked{from: from, msg: msg, digest: digest, at: now})
	r.metrics.RouterMessage(metrics.MessageParked)
}

// expire drops parked messages and closed-session markers older than the
// pending TTL. r.mu must be held.
func (r *Router) expire(now time.Time) {
	keep := r.pending[:0]
	for _, p := range r.pending {
		if now.Sub(p.at) < r.cfg.PendingTTL {
			keep = append(keep, p)
		} else {
			r.metrics.RouterMessage(metrics.MessageDropped)
		}
	}
	for i := len(keep); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = keep

	for id, at := range r.closed {
		if now.Sub(at) >= r.cfg.PendingTTL {
			delete(r.closed, id)
		}
	}
}

// Register opens a mailbox for the session. members restricts the session to
// a subset of set, as signing does; nil means every participant. Parked
// messages for the session are validated and queued immediately, however
// many members there are.
func (r *Router) Register(id wire.SessionID, set *party.Set, self party.Index, members []party.Index) (*Handle, error) {
	if members == nil {
		members = set.Indices()
	}
	peers := make(map[party.Index]struct{}, len(members))
	isMember := false
	for _, m := range members {
		if !set.Contains(m) {
			return nil, errors.Wrapf(ErrNotMember, "index %d", m)
		}
		if m == self {
			isMember = true
			continue
		}
		peers[m] = struct{}{}
	}
	if !isMember {
		return nil, errors.Wrapf(ErrNotMember, "own index %d", self)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, errors.Wrap(ErrSessionExists, id.Short())
	}
	delete(r.closed, id)

	h := &Handle{
		r:      r,
		id:     id,
		set:    set,
		self:   self,
		peers:  peers,
		queued: make(map[party.Index]int, len(peers)),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		seen:   make(map[[32]byte]struct{}),
		log:    r.log.With().Str("session", id.Short()).Uint16("self", uint16(self)).Logger(),
	}
	r.sessions[id] = h

	now := r.now()
	r.expire(now)
	keep := r.pending[:0]
	for _, p := range r.pending {
		if p.msg.SessionID == id {
			h.deliver(p.from, p.msg, p.digest)
			continue
		}
		keep = append(keep, p)
	}
	for i := len(keep); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = keep

	return h, nil
}

// Unregister closes the session's mailbox. Suspended Recv calls return
// [ErrSessionClosed] and late messages for the session are dropped.
func (r *Router) Unregister(id wire.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	r.closed[id] = r.now()
	close(h.done)
}

func (r *Router) parkedLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Handle is one session's view of the router.
type Handle struct {
	r     *Router
	id    wire.SessionID
	set   *party.Set
	self  party.Index
	peers map[party.Index]struct{}

	// queue, queued and seen are guarded by r.mu.
	queue  []*wire.RoundMessage
	queued map[party.Index]int
	seen   map[[32]byte]struct{}
	notify chan struct{}
	done   chan struct{}
	log    zerolog.Logger
}

// deliver validates an inbound message and queues it. r.mu must be held.
func (h *Handle) deliver(from []byte, msg *wire.RoundMessage, digest [32]byte) {
	reject := func(reason string) {
		h.r.metrics.RouterMessage(metrics.MessageRejected)
		h.log.Warn().Uint16("sender", uint16(msg.Sender)).Uint16("recipient", uint16(msg.Recipient)).
			Uint8("round", msg.Round).Str("reason", reason).Msg("rejected inbound message")
	}

	if _, ok := h.peers[msg.Sender]; !ok {
		reject("sender is not a session member")
		return
	}
	if !bytes.Equal(h.set.Identity(msg.Sender), from) {
		reject("transport identity does not match sender index")
		return
	}
	if msg.Recipient != party.Broadcast && msg.Recipient != h.self {
		reject("addressed to another participant")
		return
	}
	if _, dup := h.seen[digest]; dup {
		h.r.metrics.RouterMessage(metrics.MessageDuplicate)
		h.log.Debug().Uint16("sender", uint16(msg.Sender)).Uint8("round", msg.Round).Msg("suppressed duplicate frame")
		return
	}
	h.seen[digest] = struct{}{}

	if h.queued[msg.Sender] >= h.r.cfg.MailboxSize {
		h.r.metrics.RouterMessage(metrics.MessageDropped)
		h.log.Warn().Uint16("sender", uint16(msg.Sender)).Int("limit", h.r.cfg.MailboxSize).
			Msg("sender exceeded mailbox limit, dropped message")
		return
	}
	h.queue = append(h.queue, msg)
	h.queued[msg.Sender]++
	h.r.metrics.RouterMessage(metrics.MessageAccepted)
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest queued message, or returns nil.
func (h *Handle) next() *wire.RoundMessage {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if len(h.queue) == 0 {
		return nil
	}
	msg := h.queue[0]
	h.queue[0] = nil
	h.queue = h.queue[1:]
	h.queued[msg.Sender]--
	return msg
}

// SessionID returns the session this handle is registered for.
func (h *Handle) SessionID() wire.SessionID { return h.id }

// Send delivers payload to participant to, or to every other member when to
// is [party.Broadcast]. Delivery is attempted to every recipient; the first
// transport error is returned.
func (h *Handle) Send(ctx context.Context, to party.Index, round uint8, payload []byte) error {
	select {
	case <-h.done:
		return ErrSessionClosed
	default:
	}

	var targets []party.Index
	if to == party.Broadcast {
		for p := range h.peers {
			targets = append(targets, p)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	} else {
		if _, ok := h.peers[to]; !ok {
			return errors.Wrapf(ErrNotMember, "recipient %d", to)
		}
		targets = []party.Index{to}
	}

	data, err := wire.Encode(&wire.RoundMessage{
		SessionID: h.id,
		Round:     round,
		Sender:    h.self,
		Recipient: to,
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	var first error
	for _, p := range targets {
		if err := h.r.transport.Send(ctx, h.set.Identity(p), data); err != nil {
			h.log.Warn().Err(err).Uint16("to", uint16(p)).Uint8("round", round).Msg("send failed")
			if first == nil {
				first = errors.Wrapf(err, "send to %d", p)
			}
		}
	}
	return first
}

// Recv returns the next message in arrival order. It blocks until a message
// arrives, ctx is done or the session is unregistered.
func (h *Handle) Recv(ctx context.Context) (*wire.RoundMessage, error) {
	for {
		select {
		case <-h.done:
			return nil, ErrSessionClosed
		default:
		}
		if msg := h.next(); msg != nil {
			return msg, nil
		}
		select {
		case <-h.notify:
		case <-h.done:
			return nil, ErrSessionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close unregisters the session.
func (h *Handle) Close() { h.r.Unregister(h.id) }
