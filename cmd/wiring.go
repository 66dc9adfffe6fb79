package cmd

import (
	"context"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zpoken/zkv-attestation-relay/attestation"
	"github.com/zpoken/zkv-attestation-relay/bridge"
	"github.com/zpoken/zkv-attestation-relay/config"
	"github.com/zpoken/zkv-attestation-relay/inclusion"
	"github.com/zpoken/zkv-attestation-relay/prover"
	"github.com/zpoken/zkv-attestation-relay/relay"
	"github.com/zpoken/zkv-attestation-relay/types"
)

var fVkHash string

// addConfigFlags exposes the relay tunables as flags. Environment values
// apply unless a flag is set explicitly.
func addConfigFlags(flags *pflag.FlagSet) {
	retry := config.DefaultRetryConfig()
	timeouts := config.DefaultTimeouts()
	flags.Duration(flagFor(config.FinalizationTimeoutKey), timeouts.Finalization, "how long to wait for the attestation chain to finalize a submission")
	flags.Duration(flagFor(config.InclusionTimeoutKey), timeouts.Inclusion, "how long to keep retrying the inclusion proof query")
	flags.Duration(flagFor(config.BridgeTimeoutKey), timeouts.Bridge, "how long to wait for the consumer chain to post and acknowledge")
	flags.Duration(flagFor(config.SessionTimeoutKey), timeouts.Session, "upper bound on a whole relay session, 0 for none")
	flags.Uint(flagFor(config.RetryAttemptsKey), retry.Attempts, "inclusion proof query attempts")
	flags.Duration(flagFor(config.RetryDelayKey), retry.Delay, "initial delay between inclusion proof queries")
	flags.Duration(flagFor(config.RetryMaxDelayKey), retry.MaxDelay, "maximum delay between inclusion proof queries")
	flags.Bool(flagFor(config.VerifyPostedRootKey), false, "refuse to submit when the posted root differs from the locally computed one")
	flags.Bool(flagFor(config.WaitPublishedKey), true, "wait for the attestation to be published before fetching the inclusion proof")
	flags.StringVar(&fVkHash, "vk-hash", "", "hash of a verification key registered with register-vk, sent instead of the full key")
}

func flagFor(key string) string {
	return config.FlagName(key)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

// stack holds the live chain connections behind a relayer.
type stack struct {
	relayer  *relay.Relayer
	chain    *attestation.SubstrateChain
	consumer *bridge.EVMConsumer
}

func (s *stack) Close() {
	s.consumer.Close()
	s.chain.Close()
}

// parseVkHash accepts an empty value, meaning the key is sent inline, or the
// 0x-prefixed 32 byte hash printed by register-vk.
func parseVkHash(value string) (common.Hash, error) {
	if value == "" {
		return common.Hash{}, nil
	}
	raw, err := hexutil.Decode(value)
	if err != nil {
		return common.Hash{}, errorsmod.Wrapf(types.ErrInvalidConfig, "--vk-hash %q: %v", value, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, errorsmod.Wrapf(types.ErrInvalidConfig, "--vk-hash must be %d bytes, got %d", common.HashLength, len(raw))
	}
	hash := common.BytesToHash(raw)
	if hash == (common.Hash{}) {
		return common.Hash{}, errorsmod.Wrap(types.ErrInvalidConfig, "--vk-hash is zero")
	}
	return hash, nil
}

func newStack(ctx context.Context, cfg config.Config, opts ...relay.Option) (*stack, error) {
	vkHash, err := parseVkHash(fVkHash)
	if err != nil {
		return nil, err
	}
	p, err := prover.Load(fBaseDir, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load circuit from %s, run setup first: %w", fBaseDir, err)
	}
	vk, err := p.ReadVerificationKey(fBaseDir)
	if err != nil {
		return nil, err
	}

	chain, err := attestation.NewSubstrateChain(cfg.Attestation, log.Logger)
	if err != nil {
		return nil, err
	}
	consumer, err := bridge.NewEVMConsumer(ctx, cfg.Consumer, log.Logger)
	if err != nil {
		chain.Close()
		return nil, err
	}

	opts = append(opts, relay.WithTimeouts(cfg.Timeouts))
	if vkHash != (common.Hash{}) {
		opts = append(opts, relay.WithRegisteredKey(vkHash))
	}
	relayer := relay.NewRelayer(
		p,
		attestation.NewClient(chain, log.Logger, attestation.WithPublishedAttestation(cfg.WaitForPublishedAttestation)),
		inclusion.NewFetcher(chain, cfg.Retry, log.Logger),
		bridge.NewBridge(consumer, log.Logger, bridge.WithPostedRootCheck(cfg.VerifyPostedRoot)),
		vk,
		consumer.Account(),
		log.Logger,
		opts...,
	)
	return &stack{relayer: relayer, chain: chain, consumer: consumer}, nil
}
