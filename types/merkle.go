package types

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeRoot folds leaf up the keccak binary merkle tree of the attestation
// chain and returns the implied root. Leaves are hashed once before folding
// and the last node of an odd-width level is promoted without a sibling.
func ComputeRoot(leaf common.Hash, proof MerkleInclusionProof) (common.Hash, error) {
	if err := proof.Validate(); err != nil {
		return common.Hash{}, err
	}

	computed := crypto.Keccak256Hash(leaf.Bytes())
	position := proof.LeafIndex
	width := proof.LeafCount
	used := 0
	for width > 1 {
		if position%2 == 1 || position+1 < width {
			if used == len(proof.Path) {
				return common.Hash{}, errorsmod.Wrap(ErrInvalidInclusionProof, "path too short")
			}
			sibling := proof.Path[used]
			used++
			if position%2 == 1 {
				computed = crypto.Keccak256Hash(sibling.Bytes(), computed.Bytes())
			} else {
				computed = crypto.Keccak256Hash(computed.Bytes(), sibling.Bytes())
			}
		}
		position /= 2
		width = (width + 1) / 2
	}
	if used != len(proof.Path) {
		return common.Hash{}, errorsmod.Wrapf(ErrInvalidInclusionProof, "%d unused path nodes", len(proof.Path)-used)
	}
	return computed, nil
}

// BuildTree returns the root over leaves and the inclusion proof of
// leaves[index], hashing the same way as ComputeRoot. leaves must not be
// empty.
func BuildTree(leaves []common.Hash, index uint64) (common.Hash, MerkleInclusionProof) {
	level := make([]common.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = crypto.Keccak256Hash(l.Bytes())
	}

	proof := MerkleInclusionProof{LeafCount: uint64(len(leaves)), LeafIndex: index}
	position := index
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, crypto.Keccak256Hash(level[i].Bytes(), level[i+1].Bytes()))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}

		switch {
		case position%2 == 1:
			proof.Path = append(proof.Path, level[position-1])
		case position+1 < uint64(len(level)):
			proof.Path = append(proof.Path, level[position+1])
		}
		position /= 2
		level = next
	}
	return level[0], proof
}
