package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zpoken/zkv-attestation-relay/attestation"
	"github.com/zpoken/zkv-attestation-relay/config"
	"github.com/zpoken/zkv-attestation-relay/prover"
	"github.com/zpoken/zkv-attestation-relay/types"
)

var registerVkCmd = &cobra.Command{
	Use:   "register-vk",
	Short: "register the circuit verification key on zkVerify and print its hash",
	RunE:  registerVk,
}

func registerVk(cmd *cobra.Command, args []string) error {
	vk, err := types.ReadVerificationKey(filepath.Join(fBaseDir, prover.VerificationKeyJSON))
	if err != nil {
		return err
	}

	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := config.LoadAttestation(v)
	if err != nil {
		return err
	}

	chain, err := attestation.NewSubstrateChain(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	hash, err := attestation.NewClient(chain, log.Logger).RegisterVerificationKey(cmd.Context(), vk)
	if err != nil {
		log.Error().Err(err).AnErr("kind", types.Kind(err)).Msg("Failed to register verification key")
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "vk hash: %s\n", hash.Hex())
	return nil
}

func init() {
	rootCmd.AddCommand(registerVkCmd)
}
