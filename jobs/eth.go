package jobs

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tangle-network/frost-blueprint/wire"
)

// JobsABI is the interface of the on-chain job manager: it emits job
// requests and accepts results.
const JobsABI = `[
  {"type":"function","name":"submitResult","stateMutability":"nonpayable",
   "inputs":[{"name":"serviceId","type":"uint64"},{"name":"callId","type":"uint64"},{"name":"kind","type":"uint8"},{"name":"result","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"reportFailure","stateMutability":"nonpayable",
   "inputs":[{"name":"serviceId","type":"uint64"},{"name":"callId","type":"uint64"},{"name":"kind","type":"uint8"},{"name":"reason","type":"bytes"}],
   "outputs":[]},
  {"type":"event","name":"KeygenRequested","anonymous":false,
   "inputs":[{"name":"serviceId","type":"uint64","indexed":true},{"name":"callId","type":"uint64","indexed":true},
             {"name":"participants","type":"bytes[]","indexed":false},{"name":"threshold","type":"uint16","indexed":false},
             {"name":"ciphersuite","type":"string","indexed":false}]},
  {"type":"event","name":"SignRequested","anonymous":false,
   "inputs":[{"name":"serviceId","type":"uint64","indexed":true},{"name":"callId","type":"uint64","indexed":true},
             {"name":"signers","type":"bytes[]","indexed":false},{"name":"message","type":"bytes","indexed":false}]},
  {"type":"event","name":"ServiceTerminated","anonymous":false,
   "inputs":[{"name":"serviceId","type":"uint64","indexed":true}]}
]`

var jobsABI = mustParseABI(JobsABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Job kind codes used on chain.
const (
	kindCodeKeygen  uint8 = 0
	kindCodeSigning uint8 = 1
)

func kindCode(k wire.Kind) uint8 {
	if k == wire.KindSigning {
		return kindCodeSigning
	}
	return kindCodeKeygen
}

// EthSink submits results to the job manager contract. Signing results are
// only submitted by the aggregator; every other outcome is submitted by
// each participant.
type EthSink struct {
	contract *bind.BoundContract
	opts     *bind.TransactOpts
	mu       sync.Mutex
	log      zerolog.Logger
}

func NewEthSink(address common.Address, backend bind.ContractBackend, opts *bind.TransactOpts, log zerolog.Logger) *EthSink {
	return &EthSink{
		contract: bind.NewBoundContract(address, jobsABI, backend, backend, backend),
		opts:     opts,
		log:      log.With().Str("component", "eth-sink").Str("contract", address.Hex()).Logger(),
	}
}

func (s *EthSink) Submit(ctx context.Context, r Result) error {
	if r.Success && r.Kind == wire.KindSigning && !r.Aggregator {
		s.log.Debug().Uint64("service", r.ServiceID).Uint64("call", r.CallID).Msg("not the aggregator, skipping submission")
		return nil
	}

	// Transactions are sent one at a time so nonces are assigned in order.
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := *s.opts
	opts.Context = ctx

	var (
		tx  *types.Transaction
		err error
	)
	if r.Success {
		tx, err = s.contract.Transact(&opts, "submitResult", r.ServiceID, r.CallID, kindCode(r.Kind), r.Artifact)
	} else {
		reason, jerr := json.Marshal(r.Failure)
		if jerr != nil {
			return errors.Wrap(jerr, "encode failure reason")
		}
		tx, err = s.contract.Transact(&opts, "reportFailure", r.ServiceID, r.CallID, kindCode(r.Kind), reason)
	}
	if err != nil {
		return errors.Wrap(err, "send result transaction")
	}
	s.log.Info().Uint64("service", r.ServiceID).Uint64("call", r.CallID).Bool("success", r.Success).
		Str("tx", tx.Hash().Hex()).Msg("result submitted")
	return nil
}

// LogReader is the chain access EthSource needs. *ethclient.Client
// satisfies it.
type LogReader interface {
	ethereum.LogFilterer
	ethereum.BlockNumberReader
}

type keygenRequestedEvent struct {
	ServiceId    uint64
	CallId       uint64
	Participants [][]byte
	Threshold    uint16
	Ciphersuite  string
}

type signRequestedEvent struct {
	ServiceId uint64
	CallId    uint64
	Signers   [][]byte
	Message   []byte
}

type serviceTerminatedEvent struct {
	ServiceId uint64
}

// EthSource polls the job manager contract for job events.
type EthSource struct {
	reader   LogReader
	address  common.Address
	contract *bind.BoundContract
	next     uint64
	interval time.Duration
	log      zerolog.Logger
}

// NewEthSource starts reading logs at block from.
func NewEthSource(address common.Address, reader LogReader, from uint64, interval time.Duration, log zerolog.Logger) *EthSource {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &EthSource{
		reader:   reader,
		address:  address,
		contract: bind.NewBoundContract(address, jobsABI, nil, nil, nil),
		next:     from,
		interval: interval,
		log:      log.With().Str("component", "eth-source").Str("contract", address.Hex()).Logger(),
	}
}

// Run polls until ctx is done. RPC errors are logged and retried on the
// next tick.
func (s *EthSource) Run(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Uint64("from", s.next).Msg("log poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *EthSource) poll(ctx context.Context, out chan<- Event) error {
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "block number")
	}
	if head < s.next {
		return nil
	}

	logs, err := s.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(s.next),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{s.address},
		Topics: [][]common.Hash{{
			jobsABI.Events["KeygenRequested"].ID,
			jobsABI.Events["SignRequested"].ID,
			jobsABI.Events["ServiceTerminated"].ID,
		}},
	})
	if err != nil {
		return errors.Wrap(err, "filter logs")
	}

	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := s.decode(l)
		if err != nil {
			s.log.Warn().Err(err).Uint64("block", l.BlockNumber).Uint("index", l.Index).Msg("skipping undecodable log")
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.next = head + 1
	return nil
}

func (s *EthSource) decode(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, errors.New("log without topics")
	}
	switch l.Topics[0] {
	case jobsABI.Events["KeygenRequested"].ID:
		var e keygenRequestedEvent
		if err := s.contract.UnpackLog(&e, "KeygenRequested", l); err != nil {
			return Event{}, errors.Wrap(err, "KeygenRequested")
		}
		return Event{
			Kind:         KeygenRequested,
			ServiceID:    e.ServiceId,
			CallID:       e.CallId,
			Participants: e.Participants,
			Threshold:    int(e.Threshold),
			Ciphersuite:  e.Ciphersuite,
		}, nil
	case jobsABI.Events["SignRequested"].ID:
		var e signRequestedEvent
		if err := s.contract.UnpackLog(&e, "SignRequested", l); err != nil {
			return Event{}, errors.Wrap(err, "SignRequested")
		}
		return Event{
			Kind:         SignRequested,
			ServiceID:    e.ServiceId,
			CallID:       e.CallId,
			Participants: e.Signers,
			Message:      e.Message,
		}, nil
	case jobsABI.Events["ServiceTerminated"].ID:
		var e serviceTerminatedEvent
		if err := s.contract.UnpackLog(&e, "ServiceTerminated", l); err != nil {
			return Event{}, errors.Wrap(err, "ServiceTerminated")
		}
		return Event{Kind: ServiceTerminated, ServiceID: e.ServiceId}, nil
	default:
		return Event{}, errors.Errorf("unexpected topic %s", l.Topics[0].Hex())
	}
}
