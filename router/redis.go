package router

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const peerChannelPrefix = "frostd:peer:"

func peerChannel(identity []byte) string {
	return peerChannelPrefix + hex.EncodeToString(identity)
}

// envelope is the published form of a frame. Sig is a recoverable secp256k1
// signature over keccak256(to || data), so a frame cannot be replayed to
// another recipient and the sender identity is recovered rather than
// claimed.
type envelope struct {
	To   []byte `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
	Sig  []byte `cbor:"3,keyasint"`
}

func envelopeDigest(to, data []byte) []byte {
	return crypto.Keccak256(to, data)
}

// RedisTransport exchanges frames over Redis pub/sub with one channel per
// node identity. The identity is the compressed secp256k1 public key of the
// node key.
type RedisTransport struct {
	client   *redis.Client
	key      *ecdsa.PrivateKey
	identity []byte
	sub      *redis.PubSub
	inbound  chan Frame
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewRedisTransport subscribes to the node's channel. The client is not
// closed by Close.
func NewRedisTransport(ctx context.Context, client *redis.Client, key *ecdsa.PrivateKey, log zerolog.Logger) (*RedisTransport, error) {
	identity := crypto.CompressPubkey(&key.PublicKey)
	sub := client.Subscribe(ctx, peerChannel(identity))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, errors.Wrap(err, "subscribe to peer channel")
	}

	t := &RedisTransport{
		client:   client,
		key:      key,
		identity: identity,
		sub:      sub,
		inbound:  make(chan Frame, localInboundSize),
		done:     make(chan struct{}),
		log:      log.With().Str("component", "redis-transport").Logger(),
	}
	t.wg.Add(1)
	go t.loop()
	return t, nil
}

func (t *RedisTransport) Identity() []byte { return t.identity }

func (t *RedisTransport) Inbound() <-chan Frame { return t.inbound }

func (t *RedisTransport) Send(ctx context.Context, to []byte, data []byte) error {
	sig, err := crypto.Sign(envelopeDigest(to, data), t.key)
	if err != nil {
		return errors.Wrap(err, "sign frame")
	}
	payload, err := cbor.Marshal(envelope{To: to, Data: data, Sig: sig})
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	if err := t.client.Publish(ctx, peerChannel(to), payload).Err(); err != nil {
		return errors.Wrap(err, "publish frame")
	}
	return nil
}

func (t *RedisTransport) loop() {
	defer t.wg.Done()
	defer close(t.inbound)

	ch := t.sub.Channel()
	for {
		select {
		case <-t.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			f, err := t.open([]byte(m.Payload))
			if err != nil {
				t.log.Warn().Err(err).Msg("dropped unauthenticated frame")
				continue
			}
			select {
			case t.inbound <- f:
			case <-t.done:
				return
			}
		}
	}
}

func (t *RedisTransport) open(payload []byte) (Frame, error) {
	var env envelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	if !bytes.Equal(env.To, t.identity) {
		return Frame{}, errors.New("frame addressed to another node")
	}
	pub, err := crypto.SigToPub(envelopeDigest(t.identity, env.Data), env.Sig)
	if err != nil {
		return Frame{}, errors.Wrap(err, "recover sender")
	}
	return Frame{From: crypto.CompressPubkey(pub), Data: env.Data}, nil
}

// Close unsubscribes and closes the inbound channel.
func (t *RedisTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.sub.Close()
		t.wg.Wait()
	})
	return err
}
