package session

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/wire"
)

// Round numbers on the wire.
const (
	Round1 uint8 = 1
	Round2 uint8 = 2
)

// Status is the externally visible state of a protocol session.
type Status int

const (
	Pending Status = iota
	Round1Collecting
	Round2Collecting
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Round1Collecting:
		return "round1"
	case Round2Collecting:
		return "round2"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// FailureKind classifies why a session failed.
type FailureKind int

const (
	Timeout FailureKind = iota + 1
	CheaterDetected
	InvalidInput
	StoreError
)

func (k FailureKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case CheaterDetected:
		return "cheater_detected"
	case InvalidInput:
		return "invalid_input"
	case StoreError:
		return "store_error"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// Failure is the structured reason a session failed. It never carries secret
// material.
type Failure struct {
	Kind    FailureKind   `json:"kind"`
	Missing []party.Index `json:"missing,omitempty"` // Timeout
	Culprit party.Index   `json:"culprit,omitempty"` // CheaterDetected
	Detail  string        `json:"detail,omitempty"`
}

func (f *Failure) Error() string {
	switch f.Kind {
	case Timeout:
		idx := make([]string, len(f.Missing))
		for i, m := range f.Missing {
			idx[i] = fmt.Sprint(m)
		}
		return fmt.Sprintf("timeout waiting for [%s]", strings.Join(idx, " "))
	case CheaterDetected:
		return fmt.Sprintf("cheater detected: participant %d: %s", f.Culprit, f.Detail)
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	}
}

// NewTimeout returns a Timeout failure naming the participants that never
// responded.
func NewTimeout(missing []party.Index) *Failure {
	return &Failure{Kind: Timeout, Missing: missing}
}

func cheater(culprit party.Index, err error) *Failure {
	return &Failure{Kind: CheaterDetected, Culprit: culprit, Detail: err.Error()}
}

// Protocol violations. They are reported through [*Violation] and never end
// the session.
var (
	ErrSessionFinished   = errors.New("session already finished")
	ErrWrongSession      = errors.New("message for another session")
	ErrUnexpectedSender  = errors.New("sender is not an expected participant")
	ErrMisrouted         = errors.New("message addressed to another participant")
	ErrWrongDelivery     = errors.New("round requires the other delivery mode")
	ErrUnknownRound      = errors.New("unknown round")
	ErrStaleRound        = errors.New("round already closed")
	ErrDuplicate         = errors.New("duplicate message")
	ErrConflictingResend = errors.New("conflicting duplicate message")
)

// Violation is a non-fatal protocol violation by one sender. The offending
// message is dropped and the session continues.
type Violation struct {
	Sender party.Index
	Round  uint8
	Err    error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("protocol violation by %d in round %d: %v", v.Sender, v.Round, v.Err)
}

func (v *Violation) Unwrap() error { return v.Err }

// Outgoing is a message a state machine asks the caller to deliver.
// Recipient [party.Broadcast] addresses every other participant.
type Outgoing struct {
	Round     uint8
	Recipient party.Index
	Payload   []byte
}

// rounds holds the bookkeeping shared by both protocols: the open round,
// first-seen payloads per round and sender, and messages buffered for a
// round that is not open yet.
type rounds struct {
	sessionID wire.SessionID
	self      party.Index
	senders   map[party.Index]struct{} // expected peers, self excluded
	direct    map[uint8]bool           // rounds delivered point-to-point

	status  Status
	failure *Failure

	seen    map[uint8]map[party.Index][]byte
	pending []*wire.RoundMessage
}

func newRounds(id wire.SessionID, self party.Index, peers []party.Index, direct map[uint8]bool) rounds {
	senders := make(map[party.Index]struct{}, len(peers))
	for _, p := range peers {
		if p != self {
			senders[p] = struct{}{}
		}
	}
	return rounds{
		sessionID: id,
		self:      self,
		senders:   senders,
		direct:    direct,
		seen: map[uint8]map[party.Index][]byte{
			Round1: {},
			Round2: {},
		},
	}
}

func (r *rounds) current() uint8 {
	switch r.status {
	case Round1Collecting:
		return Round1
	case Round2Collecting:
		return Round2
	default:
		return 0
	}
}

// admit filters an inbound message. It returns true when the message belongs
// to the open round and must be processed now. Future-round messages are
// buffered and return false with a nil error.
func (r *rounds) admit(msg *wire.RoundMessage) (bool, error) {
	violation := func(err error) error {
		return &Violation{Sender: msg.Sender, Round: msg.Round, Err: err}
	}

	if r.status.Terminal() {
		return false, violation(ErrSessionFinished)
	}
	if msg.SessionID != r.sessionID {
		return false, violation(ErrWrongSession)
	}
	if _, ok := r.senders[msg.Sender]; !ok {
		return false, violation(ErrUnexpectedSender)
	}
	if msg.Round != Round1 && msg.Round != Round2 {
		return false, violation(ErrUnknownRound)
	}
	if r.direct[msg.Round] {
		if msg.Recipient != r.self {
			if msg.Recipient == party.Broadcast {
				return false, violation(ErrWrongDelivery)
			}
			return false, violation(ErrMisrouted)
		}
	} else if msg.Recipient != party.Broadcast {
		if msg.Recipient != r.self {
			return false, violation(ErrMisrouted)
		}
		return false, violation(ErrWrongDelivery)
	}

	if cur := r.current(); cur != 0 && msg.Round < cur {
		return false, violation(ErrStaleRound)
	}
	if first, ok := r.seen[msg.Round][msg.Sender]; ok {
		if bytes.Equal(first, msg.Payload) {
			return false, violation(ErrDuplicate)
		}
		return false, violation(ErrConflictingResend)
	}
	r.seen[msg.Round][msg.Sender] = msg.Payload

	if msg.Round != r.current() {
		r.pending = append(r.pending, msg)
		return false, nil
	}
	return true, nil
}

// release removes and returns the buffered messages for round.
func (r *rounds) release(round uint8) []*wire.RoundMessage {
	var out, keep []*wire.RoundMessage
	for _, m := range r.pending {
		if m.Round == round {
			out = append(out, m)
		} else {
			keep = append(keep, m)
		}
	}
	r.pending = keep
	return out
}

func (r *rounds) fail(f *Failure) {
	r.status = Failed
	r.failure = f
	r.pending = nil
}

// missing lists the expected senders of the open round whose message has
// not been processed yet.
func (r *rounds) missing(processed func(party.Index) bool) []party.Index {
	if r.current() == 0 {
		return nil
	}
	var out []party.Index
	for p := range r.senders {
		if !processed(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Status returns the session status.
func (r *rounds) Status() Status { return r.status }

// Failure returns the failure reason once the session has Failed.
func (r *rounds) Failure() *Failure { return r.failure }

// Self returns the local participant index.
func (r *rounds) Self() party.Index { return r.self }

// SessionID returns the session identifier.
func (r *rounds) SessionID() wire.SessionID { return r.sessionID }
