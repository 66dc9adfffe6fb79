package inclusion

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"
	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/zpoken/zkv-attestation-relay/config"
	"github.com/zpoken/zkv-attestation-relay/types"
)

// Querier answers inclusion proof queries against the attestation chain.
type Querier interface {
	ProofPath(ctx context.Context, record types.AttestationRecord) (types.MerkleInclusionProof, error)
}

// Fetcher retrieves inclusion proofs, retrying while the chain is unavailable.
type Fetcher struct {
	querier Querier
	retry   config.RetryConfig
	logger  zerolog.Logger
}

func NewFetcher(querier Querier, cfg config.RetryConfig, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		querier: querier,
		retry:   cfg,
		logger:  logger.With().Str("component", "inclusion").Logger(),
	}
}

// FetchInclusionProof returns the merkle path of record's leaf. It performs no
// writes, so repeated calls for the same record yield the same proof.
func (f *Fetcher) FetchInclusionProof(ctx context.Context, record types.AttestationRecord) (types.MerkleInclusionProof, error) {
	logger := f.logger.With().Uint64("attestation_id", record.AttestationID).Str("leaf_digest", record.LeafDigest.Hex()).Logger()

	var proof types.MerkleInclusionProof
	err := retry.Do(
		func() error {
			p, err := f.querier.ProofPath(ctx, record)
			if err != nil {
				if types.IsRetryable(err) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			if err := p.Validate(); err != nil {
				return retry.Unrecoverable(err)
			}
			proof = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.retry.Attempts),
		retry.Delay(f.retry.Delay),
		retry.MaxDelay(f.retry.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("inclusion proof query failed, retrying")
		}),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.MerkleInclusionProof{}, errorsmod.Wrap(types.ErrTimeout, "waiting for inclusion proof")
		}
		logger.Error().Err(err).Msg("failed to fetch inclusion proof")
		return types.MerkleInclusionProof{}, err
	}

	logger.Info().
		Int("path_len", len(proof.Path)).
		Uint64("leaf_count", proof.LeafCount).
		Uint64("leaf_index", proof.LeafIndex).
		Msg("inclusion proof fetched")
	return proof, nil
}
