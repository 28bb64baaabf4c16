package router

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/wire"
)

func newRedisTransport(t *testing.T, mr *miniredis.Miniredis) *RedisTransport {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { client.Close() })

	tr, err := NewRedisTransport(context.Background(), client, key, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func nextFrame(t *testing.T, tr Transport) Frame {
	t.Helper()
	select {
	case f, ok := <-tr.Inbound():
		require.True(t, ok, "inbound closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func TestRedisTransportAuthenticatesSender(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisTransport(t, mr)
	b := newRedisTransport(t, mr)
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, b.Identity(), []byte("frame")))
	f := nextFrame(t, b)
	assert.Equal(t, a.Identity(), f.From)
	assert.Equal(t, []byte("frame"), f.Data)
}

func TestRedisTransportDropsForgedFrames(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisTransport(t, mr)
	b := newRedisTransport(t, mr)
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	defer client.Close()

	require.NoError(t, client.Publish(ctx, peerChannel(b.Identity()), "garbage").Err())

	// Signed by a for a different recipient and replayed to b.
	sig, err := crypto.Sign(envelopeDigest(a.Identity(), []byte("replayed")), a.key)
	require.NoError(t, err)
	replay, err := cbor.Marshal(envelope{To: a.Identity(), Data: []byte("replayed"), Sig: sig})
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, peerChannel(b.Identity()), replay).Err())

	require.NoError(t, a.Send(ctx, b.Identity(), []byte("genuine")))
	f := nextFrame(t, b)
	assert.Equal(t, []byte("genuine"), f.Data)
	assert.Equal(t, a.Identity(), f.From)
}

func TestRouterOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisTransport(t, mr)
	b := newRedisTransport(t, mr)
	set, err := party.NewSet([][]byte{a.Identity(), b.Identity()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ra := New(a, Config{}, nil, zerolog.Nop())
	rb := New(b, Config{}, nil, zerolog.Nop())
	go ra.Run(ctx)
	go rb.Run(ctx)

	ia, err := set.IndexOf(a.Identity())
	require.NoError(t, err)
	ib, err := set.IndexOf(b.Identity())
	require.NoError(t, err)

	id := wire.NewSessionID(wire.KindKeygen, 11, 1)
	ha, err := ra.Register(id, set, ia, nil)
	require.NoError(t, err)
	hb, err := rb.Register(id, set, ib, nil)
	require.NoError(t, err)

	require.NoError(t, ha.Send(ctx, party.Broadcast, 1, []byte("round one")))
	msg := recv(t, hb)
	assert.Equal(t, ia, msg.Sender)
	assert.Equal(t, []byte("round one"), msg.Payload)
}

func TestRedisTransportCloseClosesInbound(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisTransport(t, mr)
	require.NoError(t, a.Close())
	_, ok := <-a.Inbound()
	assert.False(t, ok)
}
