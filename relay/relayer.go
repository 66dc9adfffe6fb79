package relay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/zpoken/zkv-attestation-relay/attestation"
	"github.com/zpoken/zkv-attestation-relay/bridge"
	"github.com/zpoken/zkv-attestation-relay/config"
	"github.com/zpoken/zkv-attestation-relay/prover"
	"github.com/zpoken/zkv-attestation-relay/types"
)

type Prover interface {
	Prove(ctx context.Context, in prover.Inputs) (types.ProofArtifact, error)
}

type Submitter interface {
	Submit(ctx context.Context, req attestation.SubmitRequest) (types.AttestationRecord, error)
}

type Fetcher interface {
	FetchInclusionProof(ctx context.Context, record types.AttestationRecord) (types.MerkleInclusionProof, error)
}

type Bridge interface {
	Run(ctx context.Context, evidence types.InclusionEvidence) (bridge.Result, error)
}

// Relayer runs sessions through proving, attestation, inclusion proof
// retrieval and the consumer chain bridge, in that order.
type Relayer struct {
	prover    Prover
	submitter Submitter
	fetcher   Fetcher
	bridge    Bridge

	vk       types.VerificationKey
	vkHash   common.Hash
	account  common.Address
	timeouts config.Timeouts

	registry *Registry
	metrics  *Metrics
	logger   zerolog.Logger
}

type Option func(*Relayer)

func WithRegistry(registry *Registry) Option {
	return func(r *Relayer) {
		r.registry = registry
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(r *Relayer) {
		r.metrics = metrics
	}
}

func WithTimeouts(timeouts config.Timeouts) Option {
	return func(r *Relayer) {
		r.timeouts = timeouts
	}
}

// WithRegisteredKey submits proofs against a verification key registered on
// the attestation chain instead of sending the key inline.
func WithRegisteredKey(hash common.Hash) Option {
	return func(r *Relayer) {
		r.vkHash = hash
	}
}

// NewRelayer wires the stages of a relay. account is the consumer chain
// address proofs are bound to and submitted from.
func NewRelayer(
	p Prover,
	submitter Submitter,
	fetcher Fetcher,
	b Bridge,
	vk types.VerificationKey,
	account common.Address,
	logger zerolog.Logger,
	opts ...Option,
) *Relayer {
	r := &Relayer{
		prover:    p,
		submitter: submitter,
		fetcher:   fetcher,
		bridge:    b,
		vk:        vk,
		account:   account,
		logger:    logger.With().Str("component", "relay").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Start registers a new session and runs it in the background. The session id
// can be looked up in the registry.
func (r *Relayer) Start(ctx context.Context, req Request) string {
	s := newSession()
	r.registry.put(s)
	go r.run(ctx, s, req)
	return s.ID
}

// Run executes one session to completion. The returned session is always
// terminal; on failure the error is also stored in it.
func (r *Relayer) Run(ctx context.Context, req Request) (*Session, error) {
	s := newSession()
	r.registry.put(s)
	err := r.run(ctx, s, req)
	return s, err
}

func (r *Relayer) run(ctx context.Context, s *Session, req Request) (err error) {
	ctx, cancel := stageContext(ctx, r.timeouts.Session)
	defer cancel()

	logger := r.logger.With().Str("session", s.ID).Logger()
	r.metrics.sessionStarted()
	defer func() {
		if err != nil {
			s.Err = err
			s.Error = err.Error()
			r.setStage(s, StageFailed)
			logger.Error().Err(err).Msg("relay session failed")
		} else {
			r.setStage(s, StageComplete)
			logger.Info().Msg("relay session complete")
		}
		r.metrics.sessionFinished(s.Stage)
	}()

	// prove
	start := time.Now()
	artifact, err := r.prover.Prove(ctx, prover.Inputs{Address: r.account, A: req.A, B: req.B})
	r.metrics.observeStage(StageProving, start, err)
	if err != nil {
		return err
	}

	// submit to the attestation chain
	r.setStage(s, StageSubmitting)
	record, err := r.submit(ctx, s, artifact)
	if err != nil {
		return err
	}
	s.Record = &record
	r.touch(s)
	logger = logger.With().Uint64("attestation_id", record.AttestationID).Logger()

	// fetch the inclusion proof
	r.setStage(s, StageFetchingProof)
	proof, err := r.fetch(ctx, record)
	if err != nil {
		return err
	}
	s.InclusionProof = &proof
	r.touch(s)

	// mirror to the consumer chain
	r.setStage(s, StageBridging)
	result, err := r.bridgeProof(ctx, types.InclusionEvidence{Record: record, Proof: proof})
	s.BridgeState = result.State.String()
	if result.PostedRoot != (common.Hash{}) {
		s.PostedRoot = &result.PostedRoot
	}
	if result.ProofTx != (common.Hash{}) {
		s.ProofTx = &result.ProofTx
	}
	if result.AckTx != (common.Hash{}) {
		s.AckTx = &result.AckTx
	}
	return err
}

func (r *Relayer) submit(ctx context.Context, s *Session, artifact types.ProofArtifact) (types.AttestationRecord, error) {
	ctx, cancel := stageContext(ctx, r.timeouts.Finalization)
	defer cancel()

	start := time.Now()
	record, err := r.submitter.Submit(ctx, attestation.SubmitRequest{
		Artifact:            artifact,
		VerificationKey:     r.vk,
		VerificationKeyHash: r.vkHash,
		OnCheckpoint: func(cp types.Checkpoint) {
			s.Checkpoints = append(s.Checkpoints, cp)
			r.touch(s)
		},
	})
	r.metrics.observeStage(StageSubmitting, start, err)
	return record, err
}

func (r *Relayer) fetch(ctx context.Context, record types.AttestationRecord) (types.MerkleInclusionProof, error) {
	ctx, cancel := stageContext(ctx, r.timeouts.Inclusion)
	defer cancel()

	start := time.Now()
	proof, err := r.fetcher.FetchInclusionProof(ctx, record)
	r.metrics.observeStage(StageFetchingProof, start, err)
	return proof, err
}

func (r *Relayer) bridgeProof(ctx context.Context, evidence types.InclusionEvidence) (bridge.Result, error) {
	ctx, cancel := stageContext(ctx, r.timeouts.Bridge)
	defer cancel()

	start := time.Now()
	result, err := r.bridge.Run(ctx, evidence)
	r.metrics.observeStage(StageBridging, start, err)
	return result, err
}

func (r *Relayer) setStage(s *Session, stage Stage) {
	s.Stage = stage
	r.touch(s)
}

func (r *Relayer) touch(s *Session) {
	s.UpdatedAt = time.Now()
	r.registry.put(s)
}
