package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type resultKey struct {
	service uint64
	call    uint64
}

// MemorySink keeps the latest result per (service, call) for the HTTP API.
type MemorySink struct {
	mu      sync.RWMutex
	results map[resultKey]Result
}

func NewMemorySink() *MemorySink {
	return &MemorySink{results: make(map[resultKey]Result)}
}

func (s *MemorySink) Submit(_ context.Context, r Result) error {
	s.mu.Lock()
	s.results[resultKey{r.ServiceID, r.CallID}] = r
	s.mu.Unlock()
	return nil
}

// Get returns the result for (service, call).
func (s *MemorySink) Get(serviceID, callID uint64) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[resultKey{serviceID, callID}]
	return r, ok
}

// Results returns every stored result ordered by service and call.
func (s *MemorySink) Results() []Result {
	s.mu.RLock()
	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceID != out[j].ServiceID {
			return out[i].ServiceID < out[j].ServiceID
		}
		return out[i].CallID < out[j].CallID
	})
	return out
}

// LogSink writes each result to the log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "result-sink").Logger()}
}

func (s *LogSink) Submit(_ context.Context, r Result) error {
	if r.Success {
		s.log.Info().Str("kind", string(r.Kind)).Uint64("service", r.ServiceID).Uint64("call", r.CallID).
			Hex("artifact", r.Artifact).Bool("aggregator", r.Aggregator).Msg("job completed")
		return nil
	}
	ev := s.log.Warn().Str("kind", string(r.Kind)).Uint64("service", r.ServiceID).Uint64("call", r.CallID)
	if r.Failure != nil {
		ev = ev.Stringer("failure_kind", r.Failure.Kind).Str("failure", r.Failure.Error())
	}
	ev.Msg("job failed")
	return nil
}

// MultiSink submits to every sink in order. All sinks are tried; the first
// error is returned.
type MultiSink []Sink

func (m MultiSink) Submit(ctx context.Context, r Result) error {
	var first error
	for i, s := range m {
		if err := s.Submit(ctx, r); err != nil && first == nil {
			first = errors.Wrapf(err, "sink %d", i)
		}
	}
	return first
}

// ChanSource is an in-process [Source]. The HTTP API and tests push events
// into it.
type ChanSource struct {
	ch chan Event
}

func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan Event, buffer)}
}

// Push queues ev. It blocks while the buffer is full.
func (s *ChanSource) Push(ctx context.Context, ev Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChanSource) Run(ctx context.Context, out chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.ch:
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
