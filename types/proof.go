package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	errorsmod "cosmossdk.io/errors"
)

const (
	ProtocolGroth16 = "groth16"
	CurveBN128      = "bn128"
)

// Groth16Proof is a Groth16 proof in the snarkjs JSON layout. Coordinates are
// decimal strings; G1 points carry a trailing projective "1", G2 points a
// trailing ["1", "0"].
type Groth16Proof struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
}

// ProofArtifact is the output of the proof-generation collaborator. It is
// never mutated once produced.
type ProofArtifact struct {
	Proof         Groth16Proof `json:"proof"`
	PublicSignals []*big.Int   `json:"publicSignals"`
}

func (a *ProofArtifact) Validate() error {
	if a.Proof.Protocol != ProtocolGroth16 {
		return errorsmod.Wrapf(ErrInvalidArtifact, "unsupported protocol %q", a.Proof.Protocol)
	}
	if len(a.Proof.PiA) < 2 || len(a.Proof.PiC) < 2 {
		return errorsmod.Wrap(ErrInvalidArtifact, "malformed G1 point")
	}
	if len(a.Proof.PiB) < 2 || len(a.Proof.PiB[0]) != 2 || len(a.Proof.PiB[1]) != 2 {
		return errorsmod.Wrap(ErrInvalidArtifact, "malformed G2 point")
	}
	for i, s := range a.PublicSignals {
		if s == nil || s.Sign() < 0 {
			return errorsmod.Wrapf(ErrInvalidArtifact, "public signal %d is not a field element", i)
		}
	}
	return nil
}

// PublicSignalStrings returns the public signals as decimal strings, the form
// snarkjs writes to public.json.
func (a *ProofArtifact) PublicSignalStrings() []string {
	out := make([]string, len(a.PublicSignals))
	for i, s := range a.PublicSignals {
		out[i] = s.String()
	}
	return out
}

func (a *ProofArtifact) Export(file string) error {
	proofFile, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	defer proofFile.Close()
	jsonString, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = proofFile.Write(jsonString)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	return nil
}
