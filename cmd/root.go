package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zpoken/zkv-attestation-relay/config"
)

var (
	fBaseDir   string
	fLogLevel  string
	fLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "zkv-relay",
	Short: "relay factor proofs through zkVerify attestations to an EVM consumer chain",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogger(fLogLevel, fLogFormat); err != nil {
			return err
		}
		return config.LoadDotEnv(config.DotEnvFiles...)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	switch format {
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format %q, expected console or json", format)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&fBaseDir, "dir", "", "circuit directory holding r1cs.bin, pk.bin, vk.bin and verification_key.json")
	rootCmd.PersistentFlags().StringVar(&fLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&fLogFormat, "log-format", "console", "log format (console or json)")
	rootCmd.MarkPersistentFlagRequired("dir")
}
