package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tangle-network/frost-blueprint/coordinator"
	"github.com/tangle-network/frost-blueprint/metrics"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/session"
	"github.com/tangle-network/frost-blueprint/wire"
)

// EventKind tells which job an [Event] requests.
type EventKind int

const (
	KeygenRequested EventKind = iota + 1
	SignRequested
	ServiceTerminated
)

func (k EventKind) String() string {
	switch k {
	case KeygenRequested:
		return "keygen_requested"
	case SignRequested:
		return "sign_requested"
	case ServiceTerminated:
		return "service_terminated"
	default:
		return "unknown"
	}
}

// Event is one inbound job request. Participants holds the keygen
// participants or the signer subset.
type Event struct {
	Kind         EventKind
	ServiceID    uint64
	CallID       uint64
	Participants [][]byte
	Threshold    int
	Ciphersuite  string
	Message      []byte
}

// Source produces job events until ctx is done.
type Source interface {
	Run(ctx context.Context, out chan<- Event) error
}

// Result is the outbound report for one job. It carries the artifact on
// success and the failure reason otherwise, never key material.
type Result struct {
	Kind      wire.Kind   `json:"kind"`
	ServiceID uint64      `json:"service_id"`
	CallID    uint64      `json:"call_id"`
	Self      party.Index `json:"self"`
	Success   bool        `json:"success"`
	// Artifact is the encoded public key package for keygen and the
	// signature for signing.
	Artifact     []byte           `json:"artifact,omitempty"`
	VerifyingKey []byte           `json:"verifying_key,omitempty"`
	Aggregator   bool             `json:"aggregator,omitempty"`
	Failure      *session.Failure `json:"failure,omitempty"`
	CompletedAt  time.Time        `json:"completed_at"`
}

// ResultFrom converts a terminal coordinator outcome.
func ResultFrom(out *coordinator.Outcome) Result {
	return Result{
		Kind:         out.Kind,
		ServiceID:    out.ServiceID,
		CallID:       out.CallID,
		Self:         out.Self,
		Success:      out.State == coordinator.Completed,
		Artifact:     out.Artifact,
		VerifyingKey: out.VerifyingKey,
		Aggregator:   out.Aggregator,
		Failure:      out.Failure,
		CompletedAt:  time.Now().UTC(),
	}
}

// Sink receives job results.
type Sink interface {
	Submit(ctx context.Context, r Result) error
}

// Coordinator is the part of [coordinator.Coordinator] the bridge drives.
type Coordinator interface {
	Keygen(ctx context.Context, req coordinator.KeygenRequest) (*coordinator.Outcome, error)
	Sign(ctx context.Context, req coordinator.SignRequest) (*coordinator.Outcome, error)
	CancelService(serviceID uint64) int
}

// Bridge turns job events into coordinator calls and coordinator outcomes
// into results for the sink. It performs no cryptography.
type Bridge struct {
	coord   Coordinator
	sink    Sink
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewBridge(c Coordinator, sink Sink, m *metrics.Metrics, log zerolog.Logger) *Bridge {
	return &Bridge{
		coord:   c,
		sink:    sink,
		metrics: m,
		log:     log.With().Str("component", "bridge").Logger(),
	}
}

// OnKeygenRequested runs the keygen job and submits its result.
func (b *Bridge) OnKeygenRequested(ctx context.Context, serviceID, callID uint64, participants [][]byte, threshold int, ciphersuite string) error {
	out, err := b.coord.Keygen(ctx, coordinator.KeygenRequest{
		ServiceID:    serviceID,
		CallID:       callID,
		Participants: participants,
		Threshold:    threshold,
		Ciphersuite:  ciphersuite,
	})
	return b.report(ctx, wire.KindKeygen, serviceID, callID, out, err)
}

// OnSignRequested runs the signing job and submits its result.
func (b *Bridge) OnSignRequested(ctx context.Context, serviceID, callID uint64, signers [][]byte, message []byte) error {
	out, err := b.coord.Sign(ctx, coordinator.SignRequest{
		ServiceID: serviceID,
		CallID:    callID,
		Signers:   signers,
		Message:   message,
	})
	return b.report(ctx, wire.KindSigning, serviceID, callID, out, err)
}

// OnServiceTerminated tears down every running session of the service. No
// result is submitted for them.
func (b *Bridge) OnServiceTerminated(serviceID uint64) {
	n := b.coord.CancelService(serviceID)
	b.log.Info().Uint64("service", serviceID).Int("cancelled", n).Msg("service terminated")
}

func (b *Bridge) report(ctx context.Context, kind wire.Kind, serviceID, callID uint64, out *coordinator.Outcome, err error) error {
	log := b.log.With().Str("kind", string(kind)).Uint64("service", serviceID).Uint64("call", callID).Logger()
	switch {
	case errors.Is(err, coordinator.ErrNotParticipant):
		log.Debug().Msg("not a participant, skipping job")
		return nil
	case errors.Is(err, coordinator.ErrSessionRunning):
		log.Warn().Msg("duplicate request for running session ignored")
		return nil
	case errors.Is(err, coordinator.ErrCancelled):
		log.Info().Msg("session cancelled, no result submitted")
		return nil
	case out == nil:
		if err == nil {
			err = errors.New("no outcome")
		}
		return errors.Wrapf(err, "%s job %d/%d", kind, serviceID, callID)
	case out.Replayed:
		log.Debug().Stringer("state", out.State).Msg("result already submitted, repeated request ignored")
		return nil
	}

	res := ResultFrom(out)
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	b.metrics.JobResult(string(kind), outcome)
	if err := b.sink.Submit(ctx, res); err != nil {
		return errors.Wrapf(err, "submit %s result %d/%d", kind, serviceID, callID)
	}
	return nil
}

// Handle dispatches one event. It blocks until the job has finished.
func (b *Bridge) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KeygenRequested:
		return b.OnKeygenRequested(ctx, ev.ServiceID, ev.CallID, ev.Participants, ev.Threshold, ev.Ciphersuite)
	case SignRequested:
		return b.OnSignRequested(ctx, ev.ServiceID, ev.CallID, ev.Participants, ev.Message)
	case ServiceTerminated:
		b.OnServiceTerminated(ev.ServiceID)
		return nil
	default:
		return errors.Errorf("unknown event kind %d", ev.Kind)
	}
}

// Run consumes events from src and handles each one on its own goroutine
// until ctx is done or src fails. Job failures are logged and do not stop
// the bridge.
func (b *Bridge) Run(ctx context.Context, src Source) error {
	g, ctx := errgroup.WithContext(ctx)
	events := make(chan Event)

	g.Go(func() error {
		return src.Run(ctx, events)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				b.log.Debug().Stringer("event", ev.Kind).Uint64("service", ev.ServiceID).
					Uint64("call", ev.CallID).Msg("job event")
				g.Go(func() error {
					if err := b.Handle(ctx, ev); err != nil {
						b.log.Error().Err(err).Stringer("event", ev.Kind).Uint64("service", ev.ServiceID).
							Uint64("call", ev.CallID).Msg("job failed")
					}
					return nil
				})
			}
		}
	})
	return g.Wait()
}
