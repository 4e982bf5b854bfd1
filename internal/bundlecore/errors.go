package bundlecore

import (
	"errors"
	"fmt"
)

// Configuration errors. All of them abort the run before anything is sent.
var (
	ErrEncoding         = errors.New("calldata encoding")
	ErrValueFormat      = errors.New("bad value")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrUnsupportedChain = errors.New("chain has no base fee (pre-1559?)")
)

// Runtime errors.
var (
	// ErrSigning means the assembler produced something the signer rejects.
	ErrSigning = errors.New("sign bundle")

	// ErrBundleNotFound is the expected outcome of a target block passing
	// without the bundle landing.
	ErrBundleNotFound = errors.New("bundle not found")

	ErrRPCUnavailable   = errors.New("rpc unavailable")
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrExhausted is returned when MaxCycles submission cycles all missed.
	ErrExhausted = errors.New("exhausted submission cycles")
)

// SpecError points at the configured transaction that failed to assemble.
type SpecError struct {
	Index int
	Err   error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("transaction #%d: %v", e.Index, e.Err)
}

func (e *SpecError) Unwrap() error { return e.Err }

// IsFatal reports whether err indicates bad configuration or a defect
// rather than a transient network condition.
func IsFatal(err error) bool {
	switch {
	case errors.Is(err, ErrEncoding),
		errors.Is(err, ErrValueFormat),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrUnsupportedChain),
		errors.Is(err, ErrSigning):
		return true
	}
	return false
}
