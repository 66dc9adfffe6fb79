package prover

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/logger"

	"github.com/zpoken/zkv-attestation-relay/types"
)

const (
	ConstraintsFile     = "r1cs.bin"
	ProvingKeyFile      = "pk.bin"
	VerifyingKeyFile    = "vk.bin"
	VerificationKeyJSON = "verification_key.json"
	SolidityFile        = "FactorVerifier.sol"
)

// SaveKeys writes the constraint system, both keys, the snarkjs verification
// key and a solidity verifier to dir.
func SaveKeys(dir string, ccs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey) error {
	log := logger.Logger()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	log.Info().Msg("Saving circuit constraints to " + filepath.Join(dir, ConstraintsFile))
	start := time.Now()
	if err := writeFile(filepath.Join(dir, ConstraintsFile), func(f *os.File) error {
		_, err := ccs.WriteTo(f)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write r1cs file: %w", err)
	}
	log.Debug().Msg("Successfully saved circuit constraints, time: " + time.Since(start).String())

	log.Info().Msg("Saving proving key to " + filepath.Join(dir, ProvingKeyFile))
	start = time.Now()
	if err := writeFile(filepath.Join(dir, ProvingKeyFile), func(f *os.File) error {
		_, err := pk.WriteRawTo(f)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write pk file: %w", err)
	}
	log.Debug().Msg("Successfully saved proving key, time: " + time.Since(start).String())

	log.Info().Msg("Saving verifying key to " + filepath.Join(dir, VerifyingKeyFile))
	start = time.Now()
	if err := writeFile(filepath.Join(dir, VerifyingKeyFile), func(f *os.File) error {
		_, err := vk.WriteRawTo(f)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write vk file: %w", err)
	}
	log.Info().Msg("Successfully saved verifying key, time: " + time.Since(start).String())

	jsonVk, err := VerificationKeyFromGnark(vk)
	if err != nil {
		return err
	}
	if err := types.WriteVerificationKey(filepath.Join(dir, VerificationKeyJSON), jsonVk); err != nil {
		return err
	}

	if err := writeFile(filepath.Join(dir, SolidityFile), func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := vk.ExportSolidity(w); err != nil {
			return err
		}
		return w.Flush()
	}); err != nil {
		log.Err(err).Msg("failed to export verifying key to solidity")
		return fmt.Errorf("failed to create solidity file: %w", err)
	}
	return nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func loadVerifyingKey(dir string) (groth16.VerifyingKey, error) {
	log := logger.Logger()
	vkFile, err := os.Open(filepath.Join(dir, VerifyingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open vk file: %w", err)
	}
	defer vkFile.Close()

	vk := groth16.NewVerifyingKey(ecc.BN254)
	start := time.Now()
	if _, err := vk.ReadFrom(bufio.NewReader(vkFile)); err != nil {
		return nil, fmt.Errorf("failed to read vk file: %w", err)
	}
	log.Debug().Msg("Successfully loaded verifying key, time: " + time.Since(start).String())
	return vk, nil
}

func loadProverData(dir string) (constraint.ConstraintSystem, groth16.ProvingKey, error) {
	log := logger.Logger()
	r1csFile, err := os.Open(filepath.Join(dir, ConstraintsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open r1cs file: %w", err)
	}
	defer r1csFile.Close()

	ccs := groth16.NewCS(ecc.BN254)
	start := time.Now()
	if _, err := ccs.ReadFrom(bufio.NewReader(r1csFile)); err != nil {
		return nil, nil, fmt.Errorf("failed to read r1cs file: %w", err)
	}
	log.Debug().Msg("Successfully loaded constraint system, time: " + time.Since(start).String())

	pkFile, err := os.Open(filepath.Join(dir, ProvingKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pk file: %w", err)
	}
	defer pkFile.Close()

	pk := groth16.NewProvingKey(ecc.BN254)
	start = time.Now()
	if _, err := pk.ReadFrom(bufio.NewReader(pkFile)); err != nil {
		return nil, nil, fmt.Errorf("failed to read pk file: %w", err)
	}
	log.Debug().Msg("Successfully loaded proving key, time: " + time.Since(start).String())

	return ccs, pk, nil
}
