package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error namespace of the relay.
const Codespace = "relay"

var (
	ErrSubmissionFailed      = errorsmod.Register(Codespace, 2, "proof submission failed")
	ErrQueryUnavailable      = errorsmod.Register(Codespace, 3, "attestation chain query unavailable")
	ErrProofNotFound         = errorsmod.Register(Codespace, 4, "inclusion proof not found")
	ErrTransactionFailed     = errorsmod.Register(Codespace, 5, "consumer chain transaction failed")
	ErrTimeout               = errorsmod.Register(Codespace, 6, "timed out waiting for event")
	ErrInvalidInclusionProof = errorsmod.Register(Codespace, 7, "invalid inclusion proof")
	ErrRootMismatch          = errorsmod.Register(Codespace, 8, "posted root does not match inclusion proof")
	ErrInvalidConfig         = errorsmod.Register(Codespace, 9, "invalid configuration")
	ErrInvalidArtifact       = errorsmod.Register(Codespace, 10, "invalid proof artifact")
)

// IsRetryable reports whether err is a transient failure that may be retried
// with the same inputs.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQueryUnavailable)
}

// Kind returns the registered taxonomy error err belongs to, or nil.
func Kind(err error) error {
	for _, kind := range []error{
		ErrSubmissionFailed,
		ErrQueryUnavailable,
		ErrProofNotFound,
		ErrTransactionFailed,
		ErrTimeout,
		ErrInvalidInclusionProof,
		ErrRootMismatch,
		ErrInvalidConfig,
		ErrInvalidArtifact,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
