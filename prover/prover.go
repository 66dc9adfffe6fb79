package prover

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"reflect"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/zpoken/zkv-attestation-relay/types"
)

// Inputs are the witness values of one proof.
type Inputs struct {
	Address common.Address
	A       uint64
	B       uint64
}

// Prover produces Groth16 proofs of FactorCircuit.
type Prover struct {
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey
	logger zerolog.Logger
}

// Compile builds the constraint system of FactorCircuit.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit FactorCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit: %w", err)
	}
	return ccs, nil
}

// Setup compiles the circuit, runs the Groth16 setup and saves the result to
// dir.
func Setup(dir string, logger zerolog.Logger) (*Prover, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}

	logger.Info().Int("constraints", ccs.GetNbConstraints()).Msg("Running circuit setup")
	start := time.Now()
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("failed to run setup: %w", err)
	}
	logger.Info().Msg("Successfully ran circuit setup, time: " + time.Since(start).String())

	if err := SaveKeys(dir, ccs, pk, vk); err != nil {
		return nil, fmt.Errorf("failed to save circuit: %w", err)
	}
	return &Prover{ccs: ccs, pk: pk, vk: vk, logger: logger}, nil
}

// Load reads the circuit data written by Setup.
func Load(dir string, logger zerolog.Logger) (*Prover, error) {
	ccs, pk, err := loadProverData(dir)
	if err != nil {
		return nil, err
	}
	vk, err := loadVerifyingKey(dir)
	if err != nil {
		return nil, err
	}
	return &Prover{ccs: ccs, pk: pk, vk: vk, logger: logger}, nil
}

func (p *Prover) VerificationKey() (types.VerificationKey, error) {
	return VerificationKeyFromGnark(p.vk)
}

// ReadVerificationKey reads the snarkjs key written to dir by Setup and fails
// when it is not the key proofs are generated against.
func (p *Prover) ReadVerificationKey(dir string) (types.VerificationKey, error) {
	vk, err := types.ReadVerificationKey(filepath.Join(dir, VerificationKeyJSON))
	if err != nil {
		return types.VerificationKey{}, err
	}
	want, err := p.VerificationKey()
	if err != nil {
		return types.VerificationKey{}, err
	}
	if !reflect.DeepEqual(vk, want) {
		return types.VerificationKey{}, errorsmod.Wrapf(types.ErrInvalidArtifact, "%s does not match %s in %s", VerificationKeyJSON, VerifyingKeyFile, dir)
	}
	return vk, nil
}

// Prove generates a proof for in and verifies it locally before returning.
func (p *Prover) Prove(ctx context.Context, in Inputs) (types.ProofArtifact, error) {
	if err := ctx.Err(); err != nil {
		return types.ProofArtifact{}, err
	}
	address := new(big.Int).SetBytes(in.Address.Bytes())
	assignment := &FactorCircuit{
		Address: address,
		A:       in.A,
		B:       in.B,
	}

	start := time.Now()
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return types.ProofArtifact{}, fmt.Errorf("failed to generate witness: %w", err)
	}
	publicWitness, err := witness.Public()
	if err != nil {
		return types.ProofArtifact{}, fmt.Errorf("failed to extract public witness: %w", err)
	}

	proof, err := groth16.Prove(p.ccs, p.pk, witness)
	if err != nil {
		return types.ProofArtifact{}, errorsmod.Wrapf(types.ErrInvalidArtifact, "inputs a=%d b=%d do not satisfy the circuit: %v", in.A, in.B, err)
	}
	if err := groth16.Verify(proof, p.vk, publicWitness); err != nil {
		return types.ProofArtifact{}, errorsmod.Wrapf(types.ErrInvalidArtifact, "failed to verify proof: %v", err)
	}
	p.logger.Info().Msg("Successfully created proof, time: " + time.Since(start).String())

	jsonProof, err := proofFromGnark(proof)
	if err != nil {
		return types.ProofArtifact{}, err
	}
	return types.ProofArtifact{
		Proof:         jsonProof,
		PublicSignals: []*big.Int{address},
	}, nil
}
