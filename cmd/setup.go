package cmd

import (
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zpoken/zkv-attestation-relay/prover"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "compile the factor circuit and write its keys, snarkjs verification key and solidity verifier",
	RunE:  setup,
}

func setup(cmd *cobra.Command, args []string) error {
	if _, err := prover.Setup(fBaseDir, log.Logger); err != nil {
		return err
	}
	log.Info().
		Str("verification_key", filepath.Join(fBaseDir, prover.VerificationKeyJSON)).
		Str("solidity", filepath.Join(fBaseDir, prover.SolidityFile)).
		Msg("Circuit setup complete")
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
