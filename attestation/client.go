package attestation

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/zpoken/zkv-attestation-relay/types"
)

type SubmitRequest struct {
	Artifact        types.ProofArtifact
	VerificationKey types.VerificationKey
	// VerificationKeyHash, when set, references a key registered earlier
	// instead of sending VerificationKey inline.
	VerificationKeyHash common.Hash
	// OnCheckpoint, when set, is called synchronously for every checkpoint.
	OnCheckpoint func(types.Checkpoint)
}

// Client drives a proof through the attestation chain.
type Client struct {
	chain         Chain
	logger        zerolog.Logger
	waitPublished bool
}

type Option func(*Client)

// WithPublishedAttestation makes Submit wait for the attestation containing
// the proof to be published before returning.
func WithPublishedAttestation(wait bool) Option {
	return func(c *Client) {
		c.waitPublished = wait
	}
}

func NewClient(chain Chain, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		chain:  chain,
		logger: logger.With().Str("component", "attestation").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// checkpoints delivers each checkpoint kind at most once, in order.
type checkpoints struct {
	notify func(types.Checkpoint)
	fired  map[types.CheckpointKind]bool
}

func (c *checkpoints) fire(cp types.Checkpoint) {
	if c.fired[cp.Kind] {
		return
	}
	c.fired[cp.Kind] = true
	if c.notify != nil {
		c.notify(cp)
	}
}

// Submit sends the proof and suspends until the attestation chain has
// included and finalized it. On failure the returned record is always zero.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (types.AttestationRecord, error) {
	if err := req.Artifact.Validate(); err != nil {
		return types.AttestationRecord{}, errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
	}

	watch, err := c.chain.SubmitProof(ctx, ProofSubmission{
		Artifact:            req.Artifact,
		VerificationKey:     req.VerificationKey,
		VerificationKeyHash: req.VerificationKeyHash,
	})
	if err != nil {
		return types.AttestationRecord{}, submissionError(ctx, err)
	}
	defer watch.Unsubscribe()

	txHash := watch.TxHash()
	logger := c.logger.With().Str("tx_hash", txHash.Hex()).Logger()
	logger.Info().Msg("proof submitted to attestation chain")

	cps := &checkpoints{notify: req.OnCheckpoint, fired: map[types.CheckpointKind]bool{}}
	block, err := awaitFinalized(ctx, watch, func() {
		logger.Info().Msg("transaction accepted in attestation chain")
		cps.fire(types.Checkpoint{Kind: types.IncludedInBlock, BlockRef: txHash})
	})
	if err != nil {
		logger.Error().Err(err).Msg("submission failed before finalization")
		return types.AttestationRecord{}, err
	}
	logger.Info().Str("block_hash", block.Hex()).Msg("transaction finalized in attestation chain")

	record, err := c.chain.RecordAt(ctx, block, txHash)
	if err != nil {
		return types.AttestationRecord{}, submissionError(ctx, err)
	}
	if record.IsZero() {
		return types.AttestationRecord{}, errorsmod.Wrapf(types.ErrSubmissionFailed, "no attestation record in block %s", block.Hex())
	}
	cps.fire(types.Checkpoint{Kind: types.Finalized, BlockRef: block, Record: &record})

	logger = logger.With().
		Uint64("attestation_id", record.AttestationID).
		Str("leaf_digest", record.LeafDigest.Hex()).
		Logger()

	if c.waitPublished {
		logger.Info().Msg("waiting for attestation to be published")
		root, err := c.chain.AwaitAttestation(ctx, record.AttestationID, block)
		if err != nil {
			return types.AttestationRecord{}, submissionError(ctx, err)
		}
		cps.fire(types.Checkpoint{Kind: types.AttestationConfirmed, BlockRef: root, Record: &record})
		logger.Info().Str("root", root.Hex()).Msg("attestation published on attestation chain")
	}

	return record, nil
}

// RegisterVerificationKey registers vk and returns the hash the chain assigned
// to it.
func (c *Client) RegisterVerificationKey(ctx context.Context, vk types.VerificationKey) (common.Hash, error) {
	if err := vk.Validate(); err != nil {
		return common.Hash{}, errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
	}

	watch, err := c.chain.RegisterVerificationKey(ctx, vk)
	if err != nil {
		return common.Hash{}, submissionError(ctx, err)
	}
	defer watch.Unsubscribe()

	logger := c.logger.With().Str("tx_hash", watch.TxHash().Hex()).Logger()
	block, err := awaitFinalized(ctx, watch, func() {
		logger.Info().Msg("verification key registration included in block")
	})
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := c.chain.RegisteredKeyAt(ctx, block, watch.TxHash())
	if err != nil {
		return common.Hash{}, submissionError(ctx, err)
	}
	logger.Info().Str("vk_hash", hash.Hex()).Msg("verification key registered")
	return hash, nil
}

// awaitFinalized consumes the watch until finalization. onInBlock runs once,
// before finalization is reported, even when the node skips the in-block
// status.
func awaitFinalized(ctx context.Context, watch Watch, onInBlock func()) (common.Hash, error) {
	included := false
	markIncluded := func() {
		if !included {
			included = true
			onInBlock()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return common.Hash{}, submissionError(ctx, ctx.Err())
		case err := <-watch.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return common.Hash{}, errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
		case status, ok := <-watch.Statuses():
			if !ok {
				return common.Hash{}, errorsmod.Wrap(types.ErrSubmissionFailed, "status stream closed before finalization")
			}
			switch {
			case status.Kind == StatusInBlock:
				markIncluded()
			case status.Kind == StatusFinalized:
				markIncluded()
				return status.Block, nil
			case status.Kind.terminal():
				return common.Hash{}, errorsmod.Wrapf(types.ErrSubmissionFailed, "extrinsic %s", status.Kind)
			}
		}
	}
}

// submissionError classifies err as a timeout when ctx expired and as a
// submission failure otherwise, keeping an existing classification.
func submissionError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errorsmod.Wrap(types.ErrTimeout, "waiting for attestation chain")
	}
	if types.Kind(err) != nil {
		return err
	}
	return errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
}
