package attestation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zpoken/zkv-attestation-relay/types"
)

type StatusKind int

const (
	StatusReady StatusKind = iota
	StatusInBlock
	StatusRetracted
	StatusFinalized
	StatusFinalityTimeout
	StatusUsurped
	StatusDropped
	StatusInvalid
)

func (k StatusKind) String() string {
	switch k {
	case StatusReady:
		return "ready"
	case StatusInBlock:
		return "in_block"
	case StatusRetracted:
		return "retracted"
	case StatusFinalized:
		return "finalized"
	case StatusFinalityTimeout:
		return "finality_timeout"
	case StatusUsurped:
		return "usurped"
	case StatusDropped:
		return "dropped"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// terminal reports whether the transaction pool gave up on the extrinsic.
func (k StatusKind) terminal() bool {
	switch k {
	case StatusFinalityTimeout, StatusUsurped, StatusDropped, StatusInvalid:
		return true
	}
	return false
}

// Status is one update of a watched extrinsic. Block is set for InBlock,
// Retracted and Finalized.
type Status struct {
	Kind  StatusKind
	Block common.Hash
}

// Watch follows a submitted extrinsic until it is finalized or dropped.
type Watch interface {
	TxHash() common.Hash
	Statuses() <-chan Status
	Err() <-chan error
	Unsubscribe()
}

// ProofSubmission is a proof together with the key it verifies against. A
// non-zero VerificationKeyHash selects a registered key.
type ProofSubmission struct {
	Artifact            types.ProofArtifact
	VerificationKey     types.VerificationKey
	VerificationKeyHash common.Hash
}

// Chain is the attestation chain as seen by the relay.
type Chain interface {
	// SubmitProof signs and submits a proof for verification.
	SubmitProof(ctx context.Context, submission ProofSubmission) (Watch, error)
	// RecordAt extracts the attestation record produced by txHash in a
	// finalized block.
	RecordAt(ctx context.Context, block, txHash common.Hash) (types.AttestationRecord, error)
	// AwaitAttestation blocks until the attestation with the given id is
	// published at or after block and returns its root.
	AwaitAttestation(ctx context.Context, attestationID uint64, from common.Hash) (common.Hash, error)

	RegisterVerificationKey(ctx context.Context, vk types.VerificationKey) (Watch, error)
	// RegisteredKeyAt returns the hash the chain assigned to the key
	// registered by txHash.
	RegisteredKeyAt(ctx context.Context, block, txHash common.Hash) (common.Hash, error)
}
