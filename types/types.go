package types

import (
	"fmt"
	"math/big"
	"math/bits"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
)

// AttestationRecord identifies a proof accepted by the attestation chain.
// Identifiers are assigned by the chain and are unique per session.
type AttestationRecord struct {
	AttestationID uint64      `json:"attestationId"`
	LeafDigest    common.Hash `json:"leafDigest"`
}

func (r AttestationRecord) IsZero() bool {
	return r.AttestationID == 0 && r.LeafDigest == (common.Hash{})
}

// BigID returns the attestation id as the uint256 the consumer chain expects.
func (r AttestationRecord) BigID() *big.Int {
	return new(big.Int).SetUint64(r.AttestationID)
}

func (r AttestationRecord) String() string {
	return fmt.Sprintf("attestation %d leaf %s", r.AttestationID, r.LeafDigest.Hex())
}

// MerkleInclusionProof proves membership of a leaf in an attestation root. It
// is only meaningful together with the AttestationRecord it was fetched for.
type MerkleInclusionProof struct {
	Path      []common.Hash `json:"path"`
	LeafCount uint64        `json:"leafCount"`
	LeafIndex uint64        `json:"leafIndex"`
}

// MaxPathLen is ceil(log2(leafCount)), the depth of a binary tree over
// leafCount leaves.
func MaxPathLen(leafCount uint64) int {
	if leafCount <= 1 {
		return 0
	}
	return bits.Len64(leafCount - 1)
}

func (p MerkleInclusionProof) Validate() error {
	if p.LeafCount == 0 {
		return errorsmod.Wrap(ErrInvalidInclusionProof, "empty tree")
	}
	if p.LeafIndex >= p.LeafCount {
		return errorsmod.Wrapf(ErrInvalidInclusionProof, "leaf index %d out of range for %d leaves", p.LeafIndex, p.LeafCount)
	}
	// promoted nodes carry no sibling, so shorter paths are legal
	if len(p.Path) > MaxPathLen(p.LeafCount) {
		return errorsmod.Wrapf(ErrInvalidInclusionProof, "path of %d nodes too long for %d leaves", len(p.Path), p.LeafCount)
	}
	return nil
}

// PathBytes returns the path in the bytes32[] form of the consumer contract.
func (p MerkleInclusionProof) PathBytes() [][32]byte {
	out := make([][32]byte, len(p.Path))
	for i, h := range p.Path {
		out[i] = h
	}
	return out
}

// InclusionEvidence is the record/proof pair of a single submission handed to
// the bridge.
type InclusionEvidence struct {
	Record AttestationRecord
	Proof  MerkleInclusionProof
}

type CheckpointKind int

const (
	IncludedInBlock CheckpointKind = iota
	Finalized
	AttestationConfirmed
)

func (k CheckpointKind) String() string {
	switch k {
	case IncludedInBlock:
		return "included_in_block"
	case Finalized:
		return "finalized"
	case AttestationConfirmed:
		return "attestation_confirmed"
	default:
		return fmt.Sprintf("checkpoint(%d)", int(k))
	}
}

// Checkpoint is a progress notification from the attestation chain. BlockRef
// is the transaction hash for IncludedInBlock, the block hash for Finalized
// and the attestation root for AttestationConfirmed.
type Checkpoint struct {
	Kind     CheckpointKind     `json:"kind"`
	BlockRef common.Hash        `json:"blockRef"`
	Record   *AttestationRecord `json:"record,omitempty"`
}

// AttestationPosted is emitted by the consumer chain's attestation contract
// when an attestation root is mirrored there.
type AttestationPosted struct {
	AttestationID *big.Int
	Root          common.Hash
	TxHash        common.Hash
}

// ProofAcknowledged is emitted by the application contract once it accepted a
// proof from From.
type ProofAcknowledged struct {
	From   common.Address
	TxHash common.Hash
}
