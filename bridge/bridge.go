package bridge

import (
	"context"
	"errors"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"

	"github.com/zpoken/zkv-attestation-relay/types"
)

// Result describes how far a bridge run got.
type Result struct {
	State         State
	AttestationID *big.Int
	PostedRoot    common.Hash
	ProofTx       common.Hash
	AckTx         common.Hash
}

// Bridge waits for an attestation to be mirrored on the consumer chain, then
// submits the inclusion proof to the application contract.
type Bridge struct {
	consumer   ConsumerChain
	logger     zerolog.Logger
	verifyRoot bool
}

type Option func(*Bridge)

// WithPostedRootCheck makes the bridge recompute the attestation root from the
// inclusion proof and fail with ErrRootMismatch when the posted root differs.
func WithPostedRootCheck(verify bool) Option {
	return func(b *Bridge) {
		b.verifyRoot = verify
	}
}

func NewBridge(consumer ConsumerChain, logger zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		consumer: consumer,
		logger:   logger.With().Str("component", "bridge").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// run is the state of a single Run call.
type run struct {
	*Bridge
	machine
	evidence types.InclusionEvidence
	logger   zerolog.Logger
	result   Result

	posted    chan types.AttestationPosted
	postedSub event.Subscription
	postedErr <-chan error

	acks   chan types.ProofAcknowledged
	ackSub event.Subscription
	ackErr <-chan error

	receipts chan message

	// sent is set once the proof transaction has been handed to the consumer.
	sent bool
}

// Run drives evidence through the consumer chain until the application
// contract acknowledges the proof. The returned result is always terminal.
func (b *Bridge) Run(ctx context.Context, evidence types.InclusionEvidence) (Result, error) {
	if err := evidence.Proof.Validate(); err != nil {
		return Result{State: Failed, AttestationID: evidence.Record.BigID()}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		Bridge: b,
		machine: machine{
			attestationID: evidence.Record.BigID(),
			account:       b.consumer.Account(),
		},
		evidence: evidence,
		logger:   b.logger.With().Uint64("attestation_id", evidence.Record.AttestationID).Logger(),
		result:   Result{State: AwaitingAttestationPosted, AttestationID: evidence.Record.BigID()},
		posted:   make(chan types.AttestationPosted, 1),
		acks:     make(chan types.ProofAcknowledged, 1),
		receipts: make(chan message, 1),
	}
	defer r.release()

	err := r.loop(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("state", r.result.State.String()).Msg("bridge failed")
		r.result.State = Failed
		return r.result, err
	}
	r.logger.Info().Str("ack_tx", r.result.AckTx.Hex()).Msg("proof acknowledged by application contract")
	return r.result, nil
}

func (r *run) loop(ctx context.Context) error {
	var err error
	r.postedSub, err = r.consumer.SubscribeAttestationPosted(ctx, r.attestationID, r.posted)
	if err != nil {
		return err
	}
	r.postedErr = r.postedSub.Err()
	r.logger.Info().Msg("waiting for attestation to be posted on consumer chain")

	for {
		msg := r.next(ctx)

		state, act := r.transition(r.result.State, msg)
		if state != r.result.State {
			r.logger.Debug().Str("from", r.result.State.String()).Str("to", state.String()).Msg("bridge transition")
		}
		r.result.State = state

		switch {
		case msg.kind == msgFailure && state == Failed:
			return msg.err
		case state == Complete:
			r.result.AckTx = msg.ack.TxHash
			return nil
		}

		if act == actionSubmit {
			if err := r.submit(ctx, msg.posted); err != nil {
				r.result.State, _ = r.transition(r.result.State, message{kind: msgFailure, err: err})
				return err
			}
		}
	}
}

// next blocks until the next event relevant to the run arrives.
func (r *run) next(ctx context.Context) message {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return message{kind: msgFailure, err: errorsmod.Wrapf(types.ErrTimeout, "bridge %s", r.result.State)}
		}
		return message{kind: msgFailure, err: ctx.Err()}
	case posted := <-r.posted:
		return message{kind: msgAttestationPosted, posted: posted}
	case ack := <-r.acks:
		return message{kind: msgAcknowledged, ack: ack}
	case msg := <-r.receipts:
		return msg
	case err := <-r.postedErr:
		return message{kind: msgFailure, err: subscriptionError(attestationPostedEvent, err)}
	case err := <-r.ackErr:
		return message{kind: msgFailure, err: subscriptionError(proofSubmissionEvent, err)}
	}
}

func subscriptionError(name string, err error) error {
	if err == nil {
		return errorsmod.Wrapf(types.ErrQueryUnavailable, "%s subscription closed", name)
	}
	return errorsmod.Wrapf(types.ErrQueryUnavailable, "%s subscription: %v", name, err)
}

// submit detaches the posted subscription, arms the acknowledgment
// subscription and sends the proof transaction exactly once.
func (r *run) submit(ctx context.Context, posted types.AttestationPosted) error {
	r.postedSub.Unsubscribe()
	r.postedErr = nil
	r.result.PostedRoot = posted.Root
	r.logger.Info().Str("root", posted.Root.Hex()).Str("tx_hash", posted.TxHash.Hex()).Msg("attestation posted on consumer chain")

	if r.verifyRoot {
		root, err := types.ComputeRoot(r.evidence.Record.LeafDigest, r.evidence.Proof)
		if err != nil {
			return err
		}
		if root != posted.Root {
			return errorsmod.Wrapf(types.ErrRootMismatch, "computed %s, posted %s", root.Hex(), posted.Root.Hex())
		}
	}

	var err error
	r.ackSub, err = r.consumer.SubscribeAcknowledgments(ctx, r.account, r.acks)
	if err != nil {
		return err
	}
	r.ackErr = r.ackSub.Err()

	if r.sent {
		return errorsmod.Wrapf(types.ErrTransactionFailed, "proof for attestation %d already sent", r.evidence.Record.AttestationID)
	}
	r.sent = true
	tx, err := r.consumer.SendProof(ctx, newProofCall(r.evidence))
	if err != nil {
		return transactionError(err)
	}
	r.result.ProofTx = tx.Hash()
	r.logger.Info().Str("tx_hash", tx.Hash().Hex()).Msg("proof transaction sent to application contract")

	go r.waitMined(ctx, tx)
	return nil
}

func (r *run) waitMined(ctx context.Context, tx *ethtypes.Transaction) {
	receipt, err := r.consumer.WaitMined(ctx, tx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.receipts <- message{kind: msgFailure, err: transactionError(err)}
		return
	}
	r.logger.Info().Uint64("block_number", receipt.BlockNumber.Uint64()).Msg("proof transaction mined")
	r.receipts <- message{kind: msgReceiptAccepted}
}

func transactionError(err error) error {
	if types.Kind(err) != nil {
		return err
	}
	return errorsmod.Wrap(types.ErrTransactionFailed, err.Error())
}

func (r *run) release() {
	if r.postedSub != nil {
		r.postedSub.Unsubscribe()
	}
	if r.ackSub != nil {
		r.ackSub.Unsubscribe()
	}
}
