package attestation

import (
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"github.com/zpoken/zkv-attestation-relay/types"
)

// Pallet calls and events of the attestation chain.
const (
	submitProofCall = "SettlementGroth16Pallet.submit_proof"
	registerVkCall  = "SettlementGroth16Pallet.register_vk"

	newElementEvent      = "Poe.NewElement"
	newAttestationEvent  = "Poe.NewAttestation"
	vkRegisteredEvent    = "SettlementGroth16Pallet.VkRegistered"
	extrinsicFailedEvent = "System.ExtrinsicFailed"

	proofPathMethod        = "poe_proofPath"
	accountNextIndexMethod = "system_accountNextIndex"
	getBlockMethod         = "chain_getBlock"
)

const (
	curveBn254 gstypes.U8 = 0

	fieldSize = 32
)

// groth16Proof mirrors the pallet's Proof { curve, proof: { a, b, c } }.
// Points are uncompressed little-endian coordinates.
type groth16Proof struct {
	Curve gstypes.U8
	A     gstypes.Bytes
	B     gstypes.Bytes
	C     gstypes.Bytes
}

type groth16Vk struct {
	Curve      gstypes.U8
	AlphaG1    gstypes.Bytes
	BetaG2     gstypes.Bytes
	GammaG2    gstypes.Bytes
	DeltaG2    gstypes.Bytes
	GammaAbcG1 []gstypes.Bytes
}

// vkOrHash is the pallet's VkOrHash enum: Vk(Box<Vk>) = 0, Hash(H256) = 1.
type vkOrHash struct {
	IsHash bool
	Vk     groth16Vk
	Hash   gstypes.H256
}

func (v vkOrHash) Encode(encoder scale.Encoder) error {
	if v.IsHash {
		if err := encoder.PushByte(1); err != nil {
			return err
		}
		return encoder.Encode(v.Hash)
	}
	if err := encoder.PushByte(0); err != nil {
		return err
	}
	return encoder.Encode(v.Vk)
}

func parseField(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid field element %q", s)
	}
	if n.BitLen() > fieldSize*8 {
		return nil, fmt.Errorf("field element %q exceeds %d bytes", s, fieldSize)
	}
	return n, nil
}

// littleEndian returns n as a fixed-size little-endian field element.
func littleEndian(n *big.Int) []byte {
	be := n.FillBytes(make([]byte, fieldSize))
	out := make([]byte, fieldSize)
	for i := range be {
		out[i] = be[fieldSize-1-i]
	}
	return out
}

func encodeFields(values ...string) (gstypes.Bytes, error) {
	out := make([]byte, 0, len(values)*fieldSize)
	for _, v := range values {
		n, err := parseField(v)
		if err != nil {
			return nil, err
		}
		out = append(out, littleEndian(n)...)
	}
	return out, nil
}

func encodeG1(point []string) (gstypes.Bytes, error) {
	if len(point) < 2 {
		return nil, fmt.Errorf("G1 point needs 2 coordinates, got %d", len(point))
	}
	return encodeFields(point[0], point[1])
}

func encodeG2(point [][]string) (gstypes.Bytes, error) {
	if len(point) < 2 || len(point[0]) != 2 || len(point[1]) != 2 {
		return nil, fmt.Errorf("malformed G2 point")
	}
	return encodeFields(point[0][0], point[0][1], point[1][0], point[1][1])
}

func encodeProof(proof types.Groth16Proof) (groth16Proof, error) {
	a, err := encodeG1(proof.PiA)
	if err != nil {
		return groth16Proof{}, fmt.Errorf("pi_a: %w", err)
	}
	b, err := encodeG2(proof.PiB)
	if err != nil {
		return groth16Proof{}, fmt.Errorf("pi_b: %w", err)
	}
	c, err := encodeG1(proof.PiC)
	if err != nil {
		return groth16Proof{}, fmt.Errorf("pi_c: %w", err)
	}
	return groth16Proof{Curve: curveBn254, A: a, B: b, C: c}, nil
}

func encodeVk(vk types.VerificationKey) (groth16Vk, error) {
	if vk.Curve != types.CurveBN128 {
		return groth16Vk{}, fmt.Errorf("unsupported curve %q", vk.Curve)
	}
	alpha, err := encodeG1(vk.VkAlpha1)
	if err != nil {
		return groth16Vk{}, fmt.Errorf("vk_alpha_1: %w", err)
	}
	beta, err := encodeG2(vk.VkBeta2)
	if err != nil {
		return groth16Vk{}, fmt.Errorf("vk_beta_2: %w", err)
	}
	gamma, err := encodeG2(vk.VkGamma2)
	if err != nil {
		return groth16Vk{}, fmt.Errorf("vk_gamma_2: %w", err)
	}
	delta, err := encodeG2(vk.VkDelta2)
	if err != nil {
		return groth16Vk{}, fmt.Errorf("vk_delta_2: %w", err)
	}
	ic := make([]gstypes.Bytes, len(vk.IC))
	for i, point := range vk.IC {
		ic[i], err = encodeG1(point)
		if err != nil {
			return groth16Vk{}, fmt.Errorf("IC[%d]: %w", i, err)
		}
	}
	return groth16Vk{
		Curve:      curveBn254,
		AlphaG1:    alpha,
		BetaG2:     beta,
		GammaG2:    gamma,
		DeltaG2:    delta,
		GammaAbcG1: ic,
	}, nil
}

func encodePublicSignals(signals []*big.Int) ([]gstypes.Bytes, error) {
	out := make([]gstypes.Bytes, len(signals))
	for i, s := range signals {
		if s == nil || s.Sign() < 0 || s.BitLen() > fieldSize*8 {
			return nil, fmt.Errorf("public signal %d is not a field element", i)
		}
		out[i] = littleEndian(s)
	}
	return out, nil
}
