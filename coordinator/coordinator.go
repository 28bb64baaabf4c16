package coordinator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/keystore"
	"github.com/tangle-network/frost-blueprint/metrics"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/router"
	"github.com/tangle-network/frost-blueprint/session"
	"github.com/tangle-network/frost-blueprint/wire"
)

// State is the lifecycle state of one job's session.
type State int

const (
	Pending State = iota
	Running
	Completed
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether the outcome of the session is final.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == TimedOut
}

var (
	// ErrSessionRunning is returned for a request whose (service, call) session
	// is still in progress.
	ErrSessionRunning = errors.New("session for this call is still running")
	// ErrNotParticipant is returned when this node's identity is not part of
	// the request. The node has nothing to do for the job.
	ErrNotParticipant = errors.New("node is not a participant")
	// ErrCancelled is returned when the session was torn down by Cancel or
	// CancelService before it finished.
	ErrCancelled = errors.New("session cancelled")
	// ErrKindMismatch is returned when a call id is reused for another kind
	// of job.
	ErrKindMismatch = errors.New("call id already used by another job kind")
)

// KeygenRequest asks the participants to run a DKG for a service.
type KeygenRequest struct {
	ServiceID    uint64
	CallID       uint64
	Participants [][]byte
	Threshold    int
	Ciphersuite  string
}

// SignRequest asks a signer subset to sign Message with the service key.
type SignRequest struct {
	ServiceID uint64
	CallID    uint64
	Signers   [][]byte
	Message   []byte
}

// Outcome is the terminal result of a session as seen by this node.
type Outcome struct {
	Kind      wire.Kind      `json:"kind"`
	ServiceID uint64         `json:"service_id"`
	CallID    uint64         `json:"call_id"`
	SessionID wire.SessionID `json:"-"`
	State     State          `json:"state"`
	Self      party.Index    `json:"self,omitempty"`
	// Artifact is the encoded PublicKeyPackage for keygen and the signature
	// for signing.
	Artifact     []byte `json:"artifact,omitempty"`
	VerifyingKey []byte `json:"verifying_key,omitempty"`
	// Aggregator is set on the signing outcome of the lowest-index signer,
	// the node that submits the signature.
	Aggregator bool             `json:"aggregator,omitempty"`
	Failure    *session.Failure `json:"failure,omitempty"`
	// Replayed marks a copy of an outcome that was already returned once,
	// handed out for a repeated request.
	Replayed bool `json:"-"`
}

// SessionInfo is a snapshot of a session for status queries.
type SessionInfo struct {
	Kind      wire.Kind     `json:"kind"`
	ServiceID uint64        `json:"service_id"`
	CallID    uint64        `json:"call_id"`
	SessionID string        `json:"session_id"`
	State     State         `json:"state"`
	Round     string        `json:"round"`
	Missing   []party.Index `json:"missing,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Outcome   *Outcome      `json:"outcome,omitempty"`
}

// Config holds the coordinator's tunables.
type Config struct {
	// RoundTimeout bounds the wait for the messages of one round.
	RoundTimeout time.Duration
	// Rand defaults to crypto/rand.
	Rand io.Reader
}

const DefaultRoundTimeout = 30 * time.Second

type callKey struct {
	service uint64
	call    uint64
}

type entry struct {
	kind      wire.Kind
	sessionID wire.SessionID
	state     State
	round     session.Status
	missing   []party.Index
	started   time.Time
	outcome   *Outcome
	cancel    context.CancelFunc
	cancelled bool
	active    bool
}

// Coordinator maps job requests to protocol sessions and drives each
// session to a terminal state. At most one session runs per (service, call).
type Coordinator struct {
	router  *router.Router
	store   *keystore.Store
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	entries map[callKey]*entry
}

func New(r *router.Router, store *keystore.Store, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Coordinator {
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = DefaultRoundTimeout
	}
	return &Coordinator{
		router:  r,
		store:   store,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "coordinator").Logger(),
		entries: make(map[callKey]*entry),
	}
}

// begin reserves (service, call) for a new session. A finished session
// yields its cached outcome instead.
func (c *Coordinator) begin(kind wire.Kind, serviceID, callID uint64) (*entry, *Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := callKey{serviceID, callID}
	if e, ok := c.entries[k]; ok {
		if e.kind != kind {
			return nil, nil, errors.Wrapf(ErrKindMismatch, "service %d call %d is a %s job", serviceID, callID, e.kind)
		}
		if e.state.Terminal() {
			replay := *e.outcome
			replay.Replayed = true
			return nil, &replay, nil
		}
		return nil, nil, ErrSessionRunning
	}
	e := &entry{
		kind:      kind,
		sessionID: wire.NewSessionID(kind, serviceID, callID),
		state:     Pending,
		started:   time.Now(),
	}
	c.entries[k] = e
	return e, nil, nil
}

// release forgets a reservation made by begin for a request this node does
// not take part in.
func (c *Coordinator) release(serviceID, callID uint64) {
	c.mu.Lock()
	delete(c.entries, callKey{serviceID, callID})
	c.mu.Unlock()
}

func (c *Coordinator) finish(e *entry, out *Outcome) *Outcome {
	out.Kind = e.kind
	out.SessionID = e.sessionID
	switch {
	case out.Failure == nil:
		out.State = Completed
	case out.Failure.Kind == session.Timeout:
		out.State = TimedOut
	default:
		out.State = Failed
	}

	c.mu.Lock()
	e.state = out.State
	e.outcome = out
	e.missing = nil
	e.cancel = nil
	c.mu.Unlock()

	if e.active {
		c.metrics.SessionFinished(string(e.kind), out.State.String(), time.Since(e.started))
	}
	lvl := zerolog.InfoLevel
	if out.Failure != nil {
		lvl = zerolog.WarnLevel
	}
	ev := c.log.WithLevel(lvl)
	if out.Failure != nil {
		ev = ev.Str("failure", out.Failure.Error())
	}
	ev.Str("kind", string(e.kind)).Uint64("service", out.ServiceID).Uint64("call", out.CallID).
		Str("session", e.sessionID.Short()).Stringer("state", out.State).
		Dur("elapsed", time.Since(e.started)).Msg("session finished")
	return out
}

func invalidInput(format string, args ...interface{}) *session.Failure {
	return &session.Failure{Kind: session.InvalidInput, Detail: fmt.Sprintf(format, args...)}
}

func storeError(err error) *session.Failure {
	return &session.Failure{Kind: session.StoreError, Detail: err.Error()}
}

// Keygen runs the DKG for req and blocks until it reaches a terminal state.
// Invalid requests and protocol failures are reported in the outcome; the
// error is reserved for requests that did not run.
func (c *Coordinator) Keygen(ctx context.Context, req KeygenRequest) (*Outcome, error) {
	e, cached, err := c.begin(wire.KindKeygen, req.ServiceID, req.CallID)
	if err != nil || cached != nil {
		return cached, err
	}
	base := &Outcome{ServiceID: req.ServiceID, CallID: req.CallID}

	cs, err := frost.Lookup(req.Ciphersuite)
	if err != nil {
		base.Failure = invalidInput("%v", err)
		return c.finish(e, base), nil
	}
	set, err := party.NewSet(req.Participants)
	if err != nil {
		base.Failure = invalidInput("participants: %v", err)
		return c.finish(e, base), nil
	}
	if req.Threshold < 1 || req.Threshold > set.Len() {
		base.Failure = invalidInput("threshold %d out of range for %d participants", req.Threshold, set.Len())
		return c.finish(e, base), nil
	}
	self, err := set.IndexOf(c.router.Identity())
	if err != nil {
		c.release(req.ServiceID, req.CallID)
		return nil, ErrNotParticipant
	}
	base.Self = self

	if f := c.checkExistingService(ctx, req.ServiceID, cs); f != nil {
		base.Failure = f
		return c.finish(e, base), nil
	}

	sm, err := session.NewKeygen(session.KeygenConfig{
		SessionID:    e.sessionID,
		Suite:        cs,
		Participants: set,
		Threshold:    req.Threshold,
		Self:         self,
		Rand:         c.cfg.Rand,
	})
	if err != nil {
		base.Failure = invalidInput("%v", err)
		return c.finish(e, base), nil
	}

	err = c.run(ctx, e, sm, set, self, nil)
	if f := sm.Failure(); f != nil {
		base.Failure = f
		return c.finish(e, base), err
	}

	res := sm.Result()
	rec, err := keystore.NewRecord(cs, res.KeyPackage, res.PublicKeyPackage, set)
	if err != nil {
		base.Failure = storeError(err)
		return c.finish(e, base), nil
	}
	if err := c.store.Put(ctx, req.ServiceID, self, rec); err != nil {
		base.Failure = storeError(err)
		return c.finish(e, base), nil
	}
	base.Artifact = rec.PublicKeyPackage
	base.VerifyingKey = res.PublicKeyPackage.VerifyingKey.Bytes()
	return c.finish(e, base), nil
}

// checkExistingService rejects a keygen for a service that already has key
// material on this node.
func (c *Coordinator) checkExistingService(ctx context.Context, serviceID uint64, cs *frost.Ciphersuite) *session.Failure {
	own, err := c.store.Lookup(ctx, serviceID)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeError(err)
	}
	rec, err := c.store.Get(ctx, serviceID, own)
	if err != nil {
		return storeError(err)
	}
	if rec.Ciphersuite != cs.ID() {
		return invalidInput("service %d uses ciphersuite %s, not %s", serviceID, rec.Ciphersuite, cs.ID())
	}
	return storeError(errors.Wrapf(keystore.ErrAlreadyExists, "service %d", serviceID))
}

// Sign runs a signing session for req with the key of the service and blocks
// until it reaches a terminal state.
func (c *Coordinator) Sign(ctx context.Context, req SignRequest) (*Outcome, error) {
	e, cached, err := c.begin(wire.KindSigning, req.ServiceID, req.CallID)
	if err != nil || cached != nil {
		return cached, err
	}
	base := &Outcome{ServiceID: req.ServiceID, CallID: req.CallID}

	own, err := c.store.Lookup(ctx, req.ServiceID)
	if err != nil {
		base.Failure = storeError(err)
		return c.finish(e, base), nil
	}
	rec, err := c.store.Get(ctx, req.ServiceID, own)
	if err != nil {
		base.Failure = storeError(err)
		return c.finish(e, base), nil
	}
	keys, err := rec.Decode()
	if err != nil {
		base.Failure = storeError(err)
		return c.finish(e, base), nil
	}
	base.Self = own

	signers, err := keys.Participants.Subset(req.Signers)
	if err != nil {
		base.Failure = invalidInput("signers: %v", err)
		return c.finish(e, base), nil
	}
	isSigner := false
	for _, s := range signers {
		if s == own {
			isSigner = true
		}
	}
	if !isSigner {
		c.release(req.ServiceID, req.CallID)
		return nil, ErrNotParticipant
	}
	if len(signers) < int(keys.KeyPackage.MinSigners) {
		base.Failure = invalidInput("%d signers, threshold is %d", len(signers), keys.KeyPackage.MinSigners)
		return c.finish(e, base), nil
	}

	sm, err := session.NewSigning(session.SigningConfig{
		SessionID:        e.sessionID,
		Suite:            keys.Suite,
		KeyPackage:       keys.KeyPackage,
		PublicKeyPackage: keys.PublicKeyPackage,
		Signers:          signers,
		Message:          req.Message,
		Rand:             c.cfg.Rand,
	})
	if err != nil {
		base.Failure = invalidInput("%v", err)
		return c.finish(e, base), nil
	}

	err = c.run(ctx, e, sm, keys.Participants, own, signers)
	if f := sm.Failure(); f != nil {
		base.Failure = f
		return c.finish(e, base), err
	}
	base.Artifact = sm.Signature().Bytes()
	base.VerifyingKey = keys.PublicKeyPackage.VerifyingKey.Bytes()
	base.Aggregator = sm.Aggregator() == own
	return c.finish(e, base), nil
}

// Cancel tears down a pending or running session. It reports whether one
// was cancelled.
func (c *Coordinator) Cancel(serviceID, callID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[callKey{serviceID, callID}]
	if !ok {
		return false
	}
	return c.cancelLocked(e)
}

// CancelService tears down every pending or running session of a service
// and returns how many were cancelled.
func (c *Coordinator) CancelService(serviceID uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if k.service == serviceID && c.cancelLocked(e) {
			n++
		}
	}
	return n
}

// cancelLocked marks e cancelled. A session that has not reached the router
// yet sees the mark before registering. c.mu must be held.
func (c *Coordinator) cancelLocked(e *entry) bool {
	if e.state.Terminal() || e.cancelled {
		return false
	}
	e.cancelled = true
	if e.cancel != nil {
		e.cancel()
		c.router.Unregister(e.sessionID)
	}
	return true
}

// Status returns a snapshot of the session for (service, call).
func (c *Coordinator) Status(serviceID, callID uint64) (*SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[callKey{serviceID, callID}]
	if !ok {
		return nil, false
	}
	return &SessionInfo{
		Kind:      e.kind,
		ServiceID: serviceID,
		CallID:    callID,
		SessionID: e.sessionID.String(),
		State:     e.state,
		Round:     e.round.String(),
		Missing:   append([]party.Index(nil), e.missing...),
		StartedAt: e.started,
		Outcome:   e.outcome,
	}, true
}
