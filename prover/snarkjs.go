package prover

import (
	"fmt"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"

	"github.com/zpoken/zkv-attestation-relay/types"
)

// VerificationKeyFromGnark converts a BN254 Groth16 verifying key to the
// snarkjs JSON layout the attestation chain accepts.
func VerificationKeyFromGnark(vk groth16.VerifyingKey) (types.VerificationKey, error) {
	_vk, ok := vk.(*groth16_bn254.VerifyingKey)
	if !ok {
		return types.VerificationKey{}, fmt.Errorf("unsupported verifying key %T", vk)
	}

	ic := make([][]string, len(_vk.G1.K))
	for i, p := range _vk.G1.K {
		ic[i] = g1Strings(p)
	}
	return types.VerificationKey{
		Protocol: types.ProtocolGroth16,
		Curve:    types.CurveBN128,
		NPublic:  len(_vk.G1.K) - 1,
		VkAlpha1: g1Strings(_vk.G1.Alpha),
		VkBeta2:  g2Strings(_vk.G2.Beta),
		VkGamma2: g2Strings(_vk.G2.Gamma),
		VkDelta2: g2Strings(_vk.G2.Delta),
		IC:       ic,
	}, nil
}

func proofFromGnark(proof groth16.Proof) (types.Groth16Proof, error) {
	_proof, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return types.Groth16Proof{}, fmt.Errorf("unsupported proof %T", proof)
	}
	return types.Groth16Proof{
		PiA:      g1Strings(_proof.Ar),
		PiB:      g2Strings(_proof.Bs),
		PiC:      g1Strings(_proof.Krs),
		Protocol: types.ProtocolGroth16,
		Curve:    types.CurveBN128,
	}, nil
}

// g1Strings and g2Strings produce projective coordinates with z = 1, as
// snarkjs does.
func g1Strings(p bn254.G1Affine) []string {
	return []string{p.X.String(), p.Y.String(), "1"}
}

func g2Strings(p bn254.G2Affine) [][]string {
	return [][]string{
		{p.X.A0.String(), p.X.A1.String()},
		{p.Y.A0.String(), p.Y.A1.String()},
		{"1", "0"},
	}
}
