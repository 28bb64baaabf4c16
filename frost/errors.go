package frost

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidThreshold  = errors.New("invalid threshold parameters")
	ErrInvalidIdentifier = errors.New("invalid participant identifier")
	ErrInvalidProof      = errors.New("invalid proof of knowledge")
	ErrInvalidCommitment = errors.New("invalid commitment")
	ErrInvalidShare      = errors.New("invalid secret share")
	ErrInvalidSigShare   = errors.New("invalid signature share")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrMissingData       = errors.New("missing participant data")
	ErrNoncesUsed        = errors.New("signing nonces already used")
	ErrEncoding          = errors.New("malformed encoding")
)

// CulpritError attributes a verification failure to the participant whose
// contribution did not verify.
type CulpritError struct {
	Culprit Identifier
	Err     error
}

func (e *CulpritError) Error() string {
	return fmt.Sprintf("participant %d: %v", e.Culprit, e.Err)
}

func (e *CulpritError) Unwrap() error { return e.Err }

func culprit(id Identifier, err error) error {
	return &CulpritError{Culprit: id, Err: err}
}
