package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/frost-blueprint/coordinator"
	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/keystore"
	"github.com/tangle-network/frost-blueprint/router"
	"github.com/tangle-network/frost-blueprint/session"
	"github.com/tangle-network/frost-blueprint/wire"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	outcome   *coordinator.Outcome
	err       error
	keygens   []coordinator.KeygenRequest
	signs     []coordinator.SignRequest
	cancelled []uint64
}

func (f *fakeCoordinator) Keygen(_ context.Context, req coordinator.KeygenRequest) (*coordinator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keygens = append(f.keygens, req)
	return f.outcome, f.err
}

func (f *fakeCoordinator) Sign(_ context.Context, req coordinator.SignRequest) (*coordinator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signs = append(f.signs, req)
	return f.outcome, f.err
}

func (f *fakeCoordinator) CancelService(serviceID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, serviceID)
	return 1
}

type failingSink struct{}

func (failingSink) Submit(context.Context, Result) error { return errors.New("sink down") }

func TestBridgeSubmitsOutcome(t *testing.T) {
	fc := &fakeCoordinator{outcome: &coordinator.Outcome{
		Kind: wire.KindKeygen, ServiceID: 1, CallID: 2, State: coordinator.Completed, Artifact: []byte{1, 2},
	}}
	sink := NewMemorySink()
	b := NewBridge(fc, sink, nil, zerolog.Nop())

	require.NoError(t, b.OnKeygenRequested(context.Background(), 1, 2, [][]byte{[]byte("a")}, 1, frost.Ed25519))
	require.Len(t, fc.keygens, 1)
	assert.Equal(t, frost.Ed25519, fc.keygens[0].Ciphersuite)

	r, ok := sink.Get(1, 2)
	require.True(t, ok)
	assert.True(t, r.Success)
	assert.Equal(t, []byte{1, 2}, r.Artifact)
}

func TestBridgeReportsFailure(t *testing.T) {
	fc := &fakeCoordinator{outcome: &coordinator.Outcome{
		Kind: wire.KindSigning, ServiceID: 3, CallID: 4, State: coordinator.TimedOut,
		Failure: session.NewTimeout(nil),
	}}
	sink := NewMemorySink()
	b := NewBridge(fc, sink, nil, zerolog.Nop())

	require.NoError(t, b.OnSignRequested(context.Background(), 3, 4, nil, []byte("m")))
	r, ok := sink.Get(3, 4)
	require.True(t, ok)
	assert.False(t, r.Success)
	assert.Equal(t, session.Timeout, r.Failure.Kind)
	assert.Empty(t, r.Artifact)
}

func TestBridgeSkipsWithoutResult(t *testing.T) {
	for _, err := range []error{coordinator.ErrNotParticipant, coordinator.ErrSessionRunning, coordinator.ErrCancelled} {
		fc := &fakeCoordinator{err: err}
		sink := NewMemorySink()
		b := NewBridge(fc, sink, nil, zerolog.Nop())
		assert.NoError(t, b.OnSignRequested(context.Background(), 1, 1, nil, nil))
		assert.Empty(t, sink.Results())
	}

	fc := &fakeCoordinator{err: errors.New("boom")}
	b := NewBridge(fc, NewMemorySink(), nil, zerolog.Nop())
	assert.Error(t, b.OnSignRequested(context.Background(), 1, 1, nil, nil))
}

func TestBridgeIgnoresReplayedOutcome(t *testing.T) {
	fc := &fakeCoordinator{outcome: &coordinator.Outcome{
		Kind: wire.KindSigning, ServiceID: 5, CallID: 6, State: coordinator.Completed,
		Artifact: []byte("sig"), Replayed: true,
	}}
	sink := NewMemorySink()
	b := NewBridge(fc, sink, nil, zerolog.Nop())

	require.NoError(t, b.OnSignRequested(context.Background(), 5, 6, nil, []byte("m")))
	require.Len(t, fc.signs, 1)
	assert.Empty(t, sink.Results())
}

func TestBridgeSinkError(t *testing.T) {
	fc := &fakeCoordinator{outcome: &coordinator.Outcome{Kind: wire.KindKeygen, State: coordinator.Completed}}
	b := NewBridge(fc, failingSink{}, nil, zerolog.Nop())
	assert.Error(t, b.OnKeygenRequested(context.Background(), 1, 1, nil, 1, frost.Ed25519))
}

func TestMultiSinkTriesEverySink(t *testing.T) {
	mem := NewMemorySink()
	m := MultiSink{failingSink{}, NewLogSink(zerolog.Nop()), mem}
	err := m.Submit(context.Background(), Result{ServiceID: 1, CallID: 1, Success: true})
	assert.Error(t, err)
	_, ok := mem.Get(1, 1)
	assert.True(t, ok)
}

func TestBridgeRunDispatchesEvents(t *testing.T) {
	fc := &fakeCoordinator{outcome: &coordinator.Outcome{Kind: wire.KindKeygen, State: coordinator.Completed}}
	b := NewBridge(fc, NewMemorySink(), nil, zerolog.Nop())
	src := NewChanSource(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, src) }()

	require.NoError(t, src.Push(ctx, Event{Kind: KeygenRequested, ServiceID: 1, CallID: 1, Threshold: 1}))
	require.NoError(t, src.Push(ctx, Event{Kind: SignRequested, ServiceID: 1, CallID: 2}))
	require.NoError(t, src.Push(ctx, Event{Kind: ServiceTerminated, ServiceID: 1}))

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.keygens) == 1 && len(fc.signs) == 1 && len(fc.cancelled) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

// End to end: three nodes, each with its own bridge, keygen then sign.
func TestBridgeEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := router.NewLocalNetwork()
	var (
		ids     [][]byte
		sources []*ChanSource
		sinks   []*MemorySink
	)
	for i := 1; i <= 3; i++ {
		id := []byte(fmt.Sprintf("operator-%d", i))
		ids = append(ids, id)
		r := router.New(net.Join(id), router.Config{}, nil, zerolog.Nop())
		go r.Run(ctx)
		store := keystore.New(keystore.NewMemoryBackend(), id, zerolog.Nop())
		c := coordinator.New(r, store, coordinator.Config{RoundTimeout: 5 * time.Second}, nil, zerolog.Nop())

		sink := NewMemorySink()
		src := NewChanSource(8)
		go NewBridge(c, sink, nil, zerolog.Nop()).Run(ctx, src)
		sources = append(sources, src)
		sinks = append(sinks, sink)
	}

	for _, src := range sources {
		require.NoError(t, src.Push(ctx, Event{
			Kind: KeygenRequested, ServiceID: 42, CallID: 1, Participants: ids, Threshold: 2, Ciphersuite: frost.Secp256k1,
		}))
	}
	require.Eventually(t, func() bool {
		for _, s := range sinks {
			if _, ok := s.Get(42, 1); !ok {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)

	first, _ := sinks[0].Get(42, 1)
	require.True(t, first.Success, "%v", first.Failure)
	for _, s := range sinks[1:] {
		r, _ := s.Get(42, 1)
		assert.Equal(t, first.Artifact, r.Artifact)
	}

	for _, src := range sources {
		require.NoError(t, src.Push(ctx, Event{
			Kind: SignRequested, ServiceID: 42, CallID: 2, Participants: [][]byte{ids[1], ids[2]}, Message: []byte("transfer"),
		}))
	}
	require.Eventually(t, func() bool {
		_, ok2 := sinks[1].Get(42, 2)
		_, ok3 := sinks[2].Get(42, 2)
		return ok2 && ok3
	}, 10*time.Second, 10*time.Millisecond)

	r2, _ := sinks[1].Get(42, 2)
	r3, _ := sinks[2].Get(42, 2)
	require.True(t, r2.Success, "%v", r2.Failure)
	assert.True(t, r2.Aggregator)
	assert.False(t, r3.Aggregator)
	assert.Equal(t, r2.Artifact, r3.Artifact)
	_, ok := sinks[0].Get(42, 2)
	assert.False(t, ok)
}
