package coordinator

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/keystore"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/router"
	"github.com/tangle-network/frost-blueprint/session"
)

type testNode struct {
	identity []byte
	store    *keystore.Store
	coord    *Coordinator
}

func newNodes(t *testing.T, n int, roundTimeout time.Duration) ([]*testNode, [][]byte) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	net := router.NewLocalNetwork()
	nodes := make([]*testNode, n)
	ids := make([][]byte, n)
	for i := range nodes {
		id := []byte(fmt.Sprintf("operator-%d", i+1))
		tr := net.Join(id)
		r := router.New(tr, router.Config{}, nil, zerolog.Nop())
		go r.Run(ctx)
		store := keystore.New(keystore.NewMemoryBackend(), id, zerolog.Nop())
		nodes[i] = &testNode{
			identity: id,
			store:    store,
			coord:    New(r, store, Config{RoundTimeout: roundTimeout}, nil, zerolog.Nop()),
		}
		ids[i] = id
	}
	return nodes, ids
}

type result struct {
	out *Outcome
	err error
}

func runAll(nodes []*testNode, fn func(*testNode) (*Outcome, error)) []result {
	res := make([]result, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n *testNode) {
			defer wg.Done()
			out, err := fn(n)
			res[i] = result{out, err}
		}(i, n)
	}
	wg.Wait()
	return res
}

func keygenAll(t *testing.T, nodes []*testNode, req KeygenRequest) []*Outcome {
	t.Helper()
	res := runAll(nodes, func(n *testNode) (*Outcome, error) {
		return n.coord.Keygen(context.Background(), req)
	})
	outs := make([]*Outcome, len(res))
	for i, r := range res {
		require.NoError(t, r.err)
		require.Equal(t, Completed, r.out.State, "node %d: %v", i+1, r.out.Failure)
		outs[i] = r.out
	}
	return outs
}

func TestKeygenAndSignEd25519(t *testing.T) {
	nodes, ids := newNodes(t, 3, 5*time.Second)
	outs := keygenAll(t, nodes, KeygenRequest{
		ServiceID: 1, CallID: 1, Participants: ids, Threshold: 2, Ciphersuite: frost.Ed25519,
	})
	for i, o := range outs {
		assert.Equal(t, party.Index(i+1), o.Self)
		assert.Equal(t, outs[0].VerifyingKey, o.VerifyingKey)
		assert.Equal(t, outs[0].Artifact, o.Artifact)
	}

	req := SignRequest{ServiceID: 1, CallID: 2, Signers: [][]byte{ids[0], ids[1]}, Message: []byte("hello")}
	res := runAll(nodes, func(n *testNode) (*Outcome, error) {
		return n.coord.Sign(context.Background(), req)
	})

	assert.ErrorIs(t, res[2].err, ErrNotParticipant)
	aggregators := 0
	for _, r := range res[:2] {
		require.NoError(t, r.err)
		require.Equal(t, Completed, r.out.State, "%v", r.out.Failure)
		require.Len(t, r.out.Artifact, 64)
		assert.True(t, ed25519.Verify(outs[0].VerifyingKey, []byte("hello"), r.out.Artifact))
		assert.False(t, ed25519.Verify(outs[0].VerifyingKey, []byte("hellp"), r.out.Artifact))
		if r.out.Aggregator {
			aggregators++
		}
	}
	assert.Equal(t, 1, aggregators)
	assert.True(t, res[0].out.Aggregator)
	_, ok := nodes[2].coord.Status(1, 2)
	assert.False(t, ok)
}

func TestKeygenAndSignAllCiphersuites(t *testing.T) {
	for _, suite := range frost.Ciphersuites() {
		suite := suite
		t.Run(suite, func(t *testing.T) {
			nodes, ids := newNodes(t, 2, 5*time.Second)
			keygenAll(t, nodes, KeygenRequest{
				ServiceID: 9, CallID: 1, Participants: ids, Threshold: 2, Ciphersuite: suite,
			})

			msg := []byte("payload for " + suite)
			res := runAll(nodes, func(n *testNode) (*Outcome, error) {
				return n.coord.Sign(context.Background(), SignRequest{ServiceID: 9, CallID: 2, Signers: ids, Message: msg})
			})
			require.NoError(t, res[0].err)
			require.Equal(t, Completed, res[0].out.State, "%v", res[0].out.Failure)

			rec, err := nodes[0].store.Get(context.Background(), 9, 1)
			require.NoError(t, err)
			keys, err := rec.Decode()
			require.NoError(t, err)
			sig, err := keys.Suite.DecodeSignature(res[0].out.Artifact)
			require.NoError(t, err)
			assert.True(t, keys.Suite.Verify(msg, sig, keys.PublicKeyPackage.VerifyingKey))
		})
	}
}

func TestCompletedRequestReturnsCachedOutcome(t *testing.T) {
	nodes, ids := newNodes(t, 2, 5*time.Second)
	req := KeygenRequest{ServiceID: 2, CallID: 1, Participants: ids, Threshold: 1, Ciphersuite: frost.Secp256k1}
	first := keygenAll(t, nodes, req)

	again, err := nodes[0].coord.Keygen(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.False(t, first[0].Replayed)
	assert.Equal(t, first[0].Artifact, again.Artifact)
	assert.Equal(t, first[0].State, again.State)

	info, ok := nodes[0].coord.Status(2, 1)
	require.True(t, ok)
	assert.Equal(t, Completed, info.State)
	assert.Same(t, first[0], info.Outcome)
}

func TestTimeoutNamesMissingParticipant(t *testing.T) {
	nodes, ids := newNodes(t, 3, 300*time.Millisecond)
	req := KeygenRequest{ServiceID: 3, CallID: 1, Participants: ids, Threshold: 2, Ciphersuite: frost.Ed25519}

	res := runAll(nodes[:2], func(n *testNode) (*Outcome, error) {
		return n.coord.Keygen(context.Background(), req)
	})
	for i, r := range res {
		require.NoError(t, r.err)
		assert.Equal(t, TimedOut, r.out.State)
		require.NotNil(t, r.out.Failure)
		assert.Equal(t, session.Timeout, r.out.Failure.Kind)
		assert.Equal(t, []party.Index{3}, r.out.Failure.Missing)

		_, err := nodes[i].store.Lookup(context.Background(), 3)
		assert.True(t, errors.Is(err, keystore.ErrNotFound))
	}
}

func TestRunningRequestIsRejectedAndCancelled(t *testing.T) {
	nodes, ids := newNodes(t, 3, 10*time.Second)
	req := KeygenRequest{ServiceID: 4, CallID: 7, Participants: ids, Threshold: 2, Ciphersuite: frost.Ed25519}
	c := nodes[0].coord

	done := make(chan result, 1)
	go func() {
		out, err := c.Keygen(context.Background(), req)
		done <- result{out, err}
	}()
	require.Eventually(t, func() bool {
		info, ok := c.Status(4, 7)
		return ok && info.State == Running && len(info.Missing) == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err := c.Keygen(context.Background(), req)
	assert.ErrorIs(t, err, ErrSessionRunning)

	info, _ := c.Status(4, 7)
	assert.Equal(t, []party.Index{2, 3}, info.Missing)

	assert.True(t, c.Cancel(4, 7))
	r := <-done
	assert.ErrorIs(t, r.err, ErrCancelled)
	assert.Equal(t, Failed, r.out.State)

	_, err = nodes[0].store.Lookup(context.Background(), 4)
	assert.True(t, errors.Is(err, keystore.ErrNotFound))

	cached, err := c.Keygen(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, cached.Replayed)
	assert.Equal(t, r.out.Failure, cached.Failure)
	assert.False(t, c.Cancel(4, 7))
}

func TestCancelService(t *testing.T) {
	nodes, ids := newNodes(t, 2, 10*time.Second)
	c := nodes[0].coord

	errc := make(chan error, 2)
	for call := uint64(1); call <= 2; call++ {
		go func(call uint64) {
			_, err := c.Keygen(context.Background(), KeygenRequest{
				ServiceID: 5, CallID: call, Participants: ids, Threshold: 2, Ciphersuite: frost.Ed25519,
			})
			errc <- err
		}(call)
	}
	require.Eventually(t, func() bool {
		a, ok1 := c.Status(5, 1)
		b, ok2 := c.Status(5, 2)
		return ok1 && ok2 && a.State == Running && b.State == Running
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, c.CancelService(5))
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errc, ErrCancelled)
	}
	assert.Equal(t, 0, c.CancelService(5))
}

// gatedBackend blocks the first Load until release is closed.
type gatedBackend struct {
	keystore.Backend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Load(ctx context.Context, key string) ([]byte, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Backend.Load(ctx, key)
}

func TestCancelServiceBeforeSessionStarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := []byte("operator-1")
	r := router.New(router.NewLocalNetwork().Join(id), router.Config{}, nil, zerolog.Nop())
	go r.Run(ctx)
	gate := &gatedBackend{
		Backend: keystore.NewMemoryBackend(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := keystore.New(gate, id, zerolog.Nop())
	c := New(r, store, Config{RoundTimeout: 5 * time.Second}, nil, zerolog.Nop())

	done := make(chan result, 1)
	go func() {
		out, err := c.Keygen(ctx, KeygenRequest{
			ServiceID: 12, CallID: 1, Participants: [][]byte{id}, Threshold: 1, Ciphersuite: frost.Ed25519,
		})
		done <- result{out, err}
	}()
	<-gate.entered

	info, ok := c.Status(12, 1)
	require.True(t, ok)
	assert.Equal(t, Pending, info.State)
	assert.Equal(t, 1, c.CancelService(12))
	assert.Equal(t, 0, c.CancelService(12))
	close(gate.release)

	res := <-done
	assert.ErrorIs(t, res.err, ErrCancelled)
	require.NotNil(t, res.out)
	assert.Equal(t, Failed, res.out.State)

	_, err := store.Lookup(ctx, 12)
	assert.True(t, errors.Is(err, keystore.ErrNotFound))
}

func TestInvalidKeygenInput(t *testing.T) {
	nodes, ids := newNodes(t, 3, time.Second)
	c := nodes[0].coord

	cases := []KeygenRequest{
		{Participants: ids, Threshold: 0, Ciphersuite: frost.Ed25519},
		{Participants: ids, Threshold: 4, Ciphersuite: frost.Ed25519},
		{Participants: ids, Threshold: 2, Ciphersuite: "FROST-P256-SHA256-v1"},
		{Participants: nil, Threshold: 1, Ciphersuite: frost.Ed25519},
		{Participants: [][]byte{ids[0], ids[0]}, Threshold: 1, Ciphersuite: frost.Ed25519},
	}
	for i, req := range cases {
		req.ServiceID = 6
		req.CallID = uint64(i + 1)
		out, err := c.Keygen(context.Background(), req)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, Failed, out.State, "case %d", i)
		require.NotNil(t, out.Failure, "case %d", i)
		assert.Equal(t, session.InvalidInput, out.Failure.Kind, "case %d", i)
	}

	_, err := c.Keygen(context.Background(), KeygenRequest{
		ServiceID: 6, CallID: 99, Participants: ids[1:], Threshold: 1, Ciphersuite: frost.Ed25519,
	})
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, ok := c.Status(6, 99)
	assert.False(t, ok)
}

func TestSignWithoutKeyIsStoreError(t *testing.T) {
	nodes, ids := newNodes(t, 2, time.Second)
	out, err := nodes[0].coord.Sign(context.Background(), SignRequest{ServiceID: 7, CallID: 1, Signers: ids, Message: []byte("m")})
	require.NoError(t, err)
	assert.Equal(t, Failed, out.State)
	assert.Equal(t, session.StoreError, out.Failure.Kind)
}

func TestSignValidation(t *testing.T) {
	nodes, ids := newNodes(t, 3, 5*time.Second)
	keygenAll(t, nodes, KeygenRequest{ServiceID: 8, CallID: 1, Participants: ids, Threshold: 2, Ciphersuite: frost.Ed25519})
	c := nodes[0].coord

	out, err := c.Sign(context.Background(), SignRequest{ServiceID: 8, CallID: 2, Signers: ids[:1], Message: []byte("m")})
	require.NoError(t, err)
	assert.Equal(t, session.InvalidInput, out.Failure.Kind)

	out, err = c.Sign(context.Background(), SignRequest{ServiceID: 8, CallID: 3, Signers: [][]byte{ids[0], []byte("stranger")}, Message: []byte("m")})
	require.NoError(t, err)
	assert.Equal(t, session.InvalidInput, out.Failure.Kind)

	_, err = c.Sign(context.Background(), SignRequest{ServiceID: 8, CallID: 1, Signers: ids, Message: []byte("m")})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestSecondKeygenForService(t *testing.T) {
	nodes, ids := newNodes(t, 1, time.Second)
	c := nodes[0].coord
	keygenAll(t, nodes, KeygenRequest{ServiceID: 10, CallID: 1, Participants: ids, Threshold: 1, Ciphersuite: frost.Ed25519})

	out, err := c.Keygen(context.Background(), KeygenRequest{ServiceID: 10, CallID: 2, Participants: ids, Threshold: 1, Ciphersuite: frost.Ed25519})
	require.NoError(t, err)
	assert.Equal(t, session.StoreError, out.Failure.Kind)

	out, err = c.Keygen(context.Background(), KeygenRequest{ServiceID: 10, CallID: 3, Participants: ids, Threshold: 1, Ciphersuite: frost.Secp256k1})
	require.NoError(t, err)
	assert.Equal(t, session.InvalidInput, out.Failure.Kind)
}
