package markov

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCorpus is returned by Generate when the root owns no entries.
	ErrEmptyCorpus = errors.New("markov: corpus is empty")

	// ErrNoFragment is returned by Generate when the root has entries but no
	// start fragments, which means the stored corpus is inconsistent.
	ErrNoFragment = errors.New("markov: no start fragment to sample")

	// ErrRootNotFound is returned when a root id does not resolve.
	ErrRootNotFound = errors.New("markov: root not found")

	// ErrInvalidStateSize is returned for a non-positive state size.
	ErrInvalidStateSize = errors.New("markov: state size must be positive")

	// ErrMalformedImport wraps problems with the shape of import data.
	ErrMalformedImport = errors.New("markov: malformed import data")
)

// InvalidInputError reports a malformed corpus item. Index is the position of
// the offending item in the input.
type InvalidInputError struct {
	Index  int
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("markov: invalid input item %d: %s", e.Index, e.Reason)
}

// GenerationExhaustedError is returned when no attempt produced an accepted
// sentence. Callers usually relax the filter or add data.
type GenerationExhaustedError struct {
	Tries int
}

func (e *GenerationExhaustedError) Error() string {
	return fmt.Sprintf("markov: failed to build a sentence after %d tries", e.Tries)
}
