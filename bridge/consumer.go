package bridge

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/zpoken/zkv-attestation-relay/types"
)

// ProofCall holds the arguments of proveYouCanFactor42.
type ProofCall struct {
	AttestationID *big.Int
	MerklePath    [][32]byte
	LeafCount     *big.Int
	Index         *big.Int
}

func newProofCall(evidence types.InclusionEvidence) ProofCall {
	return ProofCall{
		AttestationID: evidence.Record.BigID(),
		MerklePath:    evidence.Proof.PathBytes(),
		LeafCount:     new(big.Int).SetUint64(evidence.Proof.LeafCount),
		Index:         new(big.Int).SetUint64(evidence.Proof.LeafIndex),
	}
}

// ConsumerChain is the EVM chain the attestation is mirrored to.
type ConsumerChain interface {
	// Account is the address proofs are submitted from.
	Account() common.Address

	// SubscribeAttestationPosted delivers AttestationPosted events for the
	// given attestation id to sink.
	SubscribeAttestationPosted(ctx context.Context, attestationID *big.Int, sink chan<- types.AttestationPosted) (event.Subscription, error)
	// SubscribeAcknowledgments delivers SuccessfulProofSubmission events
	// emitted for from to sink.
	SubscribeAcknowledgments(ctx context.Context, from common.Address, sink chan<- types.ProofAcknowledged) (event.Subscription, error)

	SendProof(ctx context.Context, call ProofCall) (*ethtypes.Transaction, error)
	// WaitMined blocks until tx is mined. A reverted transaction is returned
	// as ErrTransactionFailed.
	WaitMined(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Receipt, error)
}
