package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zpoken/zkv-attestation-relay/relay"
	"github.com/zpoken/zkv-attestation-relay/types"
)

var (
	fFactorA uint64
	fFactorB uint64
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "prove knowledge of two factors of 42, attest the proof on zkVerify and submit it to the consumer contract",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	session, err := s.relayer.Run(ctx, relay.Request{A: fFactorA, B: fFactorB})
	out, merr := json.MarshalIndent(session, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if err != nil {
		log.Error().Err(err).AnErr("kind", types.Kind(err)).Str("session", session.ID).Msg("Relay failed")
		return err
	}
	return nil
}

func init() {
	relayCmd.Flags().Uint64VarP(&fFactorA, "a", "a", 0, "first factor")
	relayCmd.Flags().Uint64VarP(&fFactorB, "b", "b", 0, "second factor")
	relayCmd.MarkFlagRequired("a")
	relayCmd.MarkFlagRequired("b")
	addConfigFlags(relayCmd.Flags())
	rootCmd.AddCommand(relayCmd)
}
