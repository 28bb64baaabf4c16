package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/router"
	"github.com/tangle-network/frost-blueprint/session"
	"github.com/tangle-network/frost-blueprint/wire"
)

// machine is the surface shared by session.Keygen and session.Signing.
type machine interface {
	Start() ([]session.Outgoing, error)
	Handle(msg *wire.RoundMessage) ([]session.Outgoing, error)
	Status() session.Status
	Failure() *session.Failure
	Missing() []party.Index
	Abort(f *session.Failure)
}

// run registers the session with the router and drives sm until it is
// terminal. Every mutation of sm happens on the calling goroutine. The
// returned error is ErrCancelled or the caller's context error when the
// session was torn down, before or after registering; sm is failed in that
// case.
func (c *Coordinator) run(parent context.Context, e *entry, sm machine, set *party.Set, self party.Index, members []party.Index) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log := c.log.With().Str("kind", string(e.kind)).Str("session", e.sessionID.Short()).
		Uint16("self", uint16(self)).Logger()

	c.mu.Lock()
	if e.cancelled {
		c.mu.Unlock()
		log.Info().Msg("session cancelled before start")
		sm.Abort(&session.Failure{Kind: session.InvalidInput, Detail: ErrCancelled.Error()})
		return ErrCancelled
	}
	e.cancel = cancel
	c.mu.Unlock()

	h, err := c.router.Register(e.sessionID, set, self, members)
	if err != nil {
		sm.Abort(&session.Failure{Kind: session.InvalidInput, Detail: err.Error()})
		return nil
	}
	defer h.Close()

	c.mu.Lock()
	e.state = Running
	e.active = true
	c.mu.Unlock()
	c.metrics.SessionStarted(string(e.kind))
	log.Info().Msg("session started")

	out, err := sm.Start()
	if err != nil {
		sm.Abort(&session.Failure{Kind: session.InvalidInput, Detail: err.Error()})
		return nil
	}
	c.send(ctx, h, out)

	round := sm.Status()
	deadline := time.Now().Add(c.cfg.RoundTimeout)
	c.observe(e, sm)

	for !sm.Status().Terminal() {
		rctx, rcancel := context.WithDeadline(ctx, deadline)
		msg, err := h.Recv(rctx)
		rcancel()

		if err != nil {
			switch {
			case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
				missing := sm.Missing()
				log.Warn().Stringer("round", sm.Status()).Interface("missing", missing).Msg("round deadline expired")
				sm.Abort(session.NewTimeout(missing))
				return nil
			default:
				log.Info().Err(err).Msg("session torn down")
				sm.Abort(&session.Failure{Kind: session.InvalidInput, Detail: ErrCancelled.Error()})
				if perr := parent.Err(); perr != nil {
					return perr
				}
				return ErrCancelled
			}
		}

		out, err := sm.Handle(msg)
		if err != nil {
			var v *session.Violation
			if errors.As(err, &v) {
				log.Warn().Uint16("sender", uint16(v.Sender)).Uint8("round", v.Round).Err(v.Err).Msg("protocol violation")
			} else {
				log.Warn().Err(err).Msg("message handling failed")
			}
		}
		c.send(ctx, h, out)

		if s := sm.Status(); s != round {
			round = s
			deadline = time.Now().Add(c.cfg.RoundTimeout)
			log.Debug().Stringer("round", s).Msg("round advanced")
		}
		c.observe(e, sm)
	}
	return nil
}

func (c *Coordinator) observe(e *entry, sm machine) {
	c.mu.Lock()
	e.round = sm.Status()
	e.missing = sm.Missing()
	c.mu.Unlock()
}

// send hands outbound messages to the router. Delivery failures are logged
// by the router and otherwise ignored; a peer that never receives its
// message surfaces as a timeout.
func (c *Coordinator) send(ctx context.Context, h *router.Handle, out []session.Outgoing) {
	for _, o := range out {
		_ = h.Send(ctx, o.Recipient, o.Round, o.Payload)
	}
}
