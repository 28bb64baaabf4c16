package jobs

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/session"
	"github.com/tangle-network/frost-blueprint/wire"
)

func setupChain(t *testing.T) (*simulated.Backend, *bind.TransactOpts) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	require.NoError(t, err)
	// The job manager address has no code, so gas estimation is skipped.
	auth.GasLimit = 500_000

	balance, _ := new(big.Int).SetString("10000000000000000000", 10)
	backend := simulated.NewBackend(types.GenesisAlloc{auth.From: {Balance: balance}})
	t.Cleanup(func() { backend.Close() })
	return backend, auth
}

func sentCalls(t *testing.T, backend *simulated.Backend, from common.Address) []*types.Transaction {
	t.Helper()
	backend.Commit()
	ctx := context.Background()
	block, err := backend.Client().BlockByNumber(ctx, nil)
	require.NoError(t, err)
	var out []*types.Transaction
	for _, tx := range block.Transactions() {
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		require.NoError(t, err)
		if sender == from {
			out = append(out, tx)
		}
	}
	return out
}

func TestEthSinkSubmitsResults(t *testing.T) {
	backend, auth := setupChain(t)
	manager := common.HexToAddress("0x00000000000000000000000000000000000f2057")
	sink := NewEthSink(manager, backend.Client(), auth, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, sink.Submit(ctx, Result{
		Kind: wire.KindKeygen, ServiceID: 7, CallID: 1, Success: true, Artifact: []byte{0xaa, 0xbb},
	}))
	require.NoError(t, sink.Submit(ctx, Result{
		Kind: wire.KindSigning, ServiceID: 7, CallID: 2, Success: true, Artifact: []byte{0x01}, Aggregator: false,
	}))
	require.NoError(t, sink.Submit(ctx, Result{
		Kind: wire.KindSigning, ServiceID: 7, CallID: 3, Success: false,
		Failure: &session.Failure{Kind: session.CheaterDetected, Culprit: party.Index(2), Detail: "bad share"},
	}))

	txs := sentCalls(t, backend, auth.From)
	require.Len(t, txs, 2)

	submit := jobsABI.Methods["submitResult"]
	require.Equal(t, submit.ID, txs[0].Data()[:4])
	args, err := submit.Inputs.Unpack(txs[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, uint64(7), args[0])
	assert.Equal(t, uint64(1), args[1])
	assert.Equal(t, kindCodeKeygen, args[2])
	assert.Equal(t, []byte{0xaa, 0xbb}, args[3])
	assert.Equal(t, manager, *txs[0].To())

	report := jobsABI.Methods["reportFailure"]
	require.Equal(t, report.ID, txs[1].Data()[:4])
	args, err = report.Inputs.Unpack(txs[1].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, uint64(3), args[1])
	assert.Equal(t, kindCodeSigning, args[2])

	var reason session.Failure
	require.NoError(t, json.Unmarshal(args[3].([]byte), &reason))
	assert.Equal(t, session.CheaterDetected, reason.Kind)
	assert.Equal(t, party.Index(2), reason.Culprit)
}

type fakeLogReader struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeLogReader) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeLogReader) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLogReader) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, ethereum.NotFound
}

func (f *fakeLogReader) add(l types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	if l.BlockNumber > f.head {
		f.head = l.BlockNumber
	}
}

func uintTopic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func eventLog(t *testing.T, address common.Address, block uint64, name string, indexed []uint64, data ...interface{}) types.Log {
	t.Helper()
	ev := jobsABI.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	topics := []common.Hash{ev.ID}
	for _, v := range indexed {
		topics = append(topics, uintTopic(v))
	}
	return types.Log{Address: address, Topics: topics, Data: packed, BlockNumber: block}
}

func TestEthSourceDecodesEvents(t *testing.T) {
	manager := common.HexToAddress("0x00000000000000000000000000000000000f2057")
	reader := &fakeLogReader{}
	participants := [][]byte{[]byte("op-a"), []byte("op-b")}

	reader.add(eventLog(t, manager, 10, "KeygenRequested", []uint64{5, 1}, participants, uint16(2), frost.Ed25519))
	reader.add(eventLog(t, manager, 11, "SignRequested", []uint64{5, 2}, participants, []byte("msg")))
	removed := eventLog(t, manager, 11, "SignRequested", []uint64{5, 3}, participants, []byte("reorged"))
	removed.Removed = true
	reader.add(removed)
	reader.add(types.Log{Address: manager, Topics: []common.Hash{jobsABI.Events["SignRequested"].ID}, Data: []byte{1}, BlockNumber: 11})
	reader.add(eventLog(t, manager, 12, "ServiceTerminated", []uint64{5}))

	src := NewEthSource(manager, reader, 10, 10*time.Millisecond, zerolog.Nop())
	out := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx, out)

	next := func() Event {
		select {
		case ev := <-out:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return Event{}
		}
	}

	ev := next()
	assert.Equal(t, KeygenRequested, ev.Kind)
	assert.Equal(t, uint64(5), ev.ServiceID)
	assert.Equal(t, uint64(1), ev.CallID)
	assert.Equal(t, participants, ev.Participants)
	assert.Equal(t, 2, ev.Threshold)
	assert.Equal(t, frost.Ed25519, ev.Ciphersuite)

	ev = next()
	assert.Equal(t, SignRequested, ev.Kind)
	assert.Equal(t, uint64(2), ev.CallID)
	assert.Equal(t, []byte("msg"), ev.Message)

	ev = next()
	assert.Equal(t, ServiceTerminated, ev.Kind)
	assert.Equal(t, uint64(5), ev.ServiceID)

	// Later blocks are picked up by the next poll, earlier ones are not
	// read again.
	reader.add(eventLog(t, manager, 13, "SignRequested", []uint64{6, 9}, participants, []byte("later")))
	ev = next()
	assert.Equal(t, uint64(9), ev.CallID)

	select {
	case ev := <-out:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
