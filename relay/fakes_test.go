package relay

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/zpoken/zkv-attestation-relay/attestation"
	"github.com/zpoken/zkv-attestation-relay/bridge"
	"github.com/zpoken/zkv-attestation-relay/prover"
	"github.com/zpoken/zkv-attestation-relay/types"
)

// eventLog records cross-chain side effects in the order they happen.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeProver struct {
	err    error
	inputs []prover.Inputs
}

func (p *fakeProver) Prove(_ context.Context, in prover.Inputs) (types.ProofArtifact, error) {
	p.inputs = append(p.inputs, in)
	if p.err != nil {
		return types.ProofArtifact{}, p.err
	}
	return types.ProofArtifact{
		Proof: types.Groth16Proof{
			PiA:      []string{"1", "2", "1"},
			PiB:      [][]string{{"3", "4"}, {"5", "6"}, {"1", "0"}},
			PiC:      []string{"7", "8", "1"},
			Protocol: types.ProtocolGroth16,
			Curve:    types.CurveBN128,
		},
		PublicSignals: []*big.Int{new(big.Int).SetBytes(in.Address.Bytes())},
	}, nil
}

type fakeWatch struct {
	statuses chan attestation.Status
	errs     chan error
	done     chan struct{}
	once     sync.Once
}

func (w *fakeWatch) TxHash() common.Hash                 { return common.HexToHash("0x5e1d") }
func (w *fakeWatch) Statuses() <-chan attestation.Status { return w.statuses }
func (w *fakeWatch) Err() <-chan error                   { return w.errs }
func (w *fakeWatch) Unsubscribe()                        { w.once.Do(func() { close(w.done) }) }

// fakeAttestationChain finalizes every submission after finalizeDelay and
// serves proof for record.
type fakeAttestationChain struct {
	log           *eventLog
	record        types.AttestationRecord
	proof         types.MerkleInclusionProof
	proofErr      error
	finalizeDelay time.Duration
}

func (c *fakeAttestationChain) SubmitProof(context.Context, attestation.ProofSubmission) (attestation.Watch, error) {
	w := &fakeWatch{
		statuses: make(chan attestation.Status),
		errs:     make(chan error),
		done:     make(chan struct{}),
	}
	go func() {
		for _, status := range []attestation.Status{
			{Kind: attestation.StatusInBlock, Block: common.HexToHash("0xb1")},
			{Kind: attestation.StatusFinalized, Block: common.HexToHash("0xb1")},
		} {
			if status.Kind == attestation.StatusFinalized {
				time.Sleep(c.finalizeDelay)
			}
			select {
			case w.statuses <- status:
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

func (c *fakeAttestationChain) RecordAt(context.Context, common.Hash, common.Hash) (types.AttestationRecord, error) {
	c.log.add("finalized")
	return c.record, nil
}

func (c *fakeAttestationChain) AwaitAttestation(context.Context, uint64, common.Hash) (common.Hash, error) {
	return common.Hash{}, nil
}

func (c *fakeAttestationChain) RegisterVerificationKey(context.Context, types.VerificationKey) (attestation.Watch, error) {
	return nil, nil
}

func (c *fakeAttestationChain) RegisteredKeyAt(context.Context, common.Hash, common.Hash) (common.Hash, error) {
	return common.Hash{}, nil
}

func (c *fakeAttestationChain) ProofPath(_ context.Context, record types.AttestationRecord) (types.MerkleInclusionProof, error) {
	if c.proofErr != nil {
		return types.MerkleInclusionProof{}, c.proofErr
	}
	if record != c.record {
		return types.MerkleInclusionProof{}, types.ErrProofNotFound
	}
	c.log.add("proof_fetched")
	return c.proof, nil
}

// fakeConsumer emits posted for every AttestationPosted subscription and
// acknowledges every proof transaction from account.
type fakeConsumer struct {
	log     *eventLog
	account common.Address
	posted  []types.AttestationPosted

	mu    sync.Mutex
	calls []bridge.ProofCall
	sent  chan struct{}
}

func newFakeConsumer(log *eventLog, account common.Address, posted ...types.AttestationPosted) *fakeConsumer {
	return &fakeConsumer{log: log, account: account, posted: posted, sent: make(chan struct{})}
}

func (c *fakeConsumer) Account() common.Address { return c.account }

func (c *fakeConsumer) SubscribeAttestationPosted(_ context.Context, _ *big.Int, sink chan<- types.AttestationPosted) (event.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, ev := range c.posted {
			select {
			case sink <- ev:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func (c *fakeConsumer) SubscribeAcknowledgments(_ context.Context, from common.Address, sink chan<- types.ProofAcknowledged) (event.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-c.sent:
		case <-quit:
			return nil
		}
		select {
		case sink <- types.ProofAcknowledged{From: from, TxHash: common.HexToHash("0xac")}:
		case <-quit:
			return nil
		}
		<-quit
		return nil
	}), nil
}

func (c *fakeConsumer) SendProof(_ context.Context, call bridge.ProofCall) (*ethtypes.Transaction, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	c.log.add("sent")
	close(c.sent)
	return ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 1}), nil
}

func (c *fakeConsumer) WaitMined(context.Context, *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

func (c *fakeConsumer) proofCalls() []bridge.ProofCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bridge.ProofCall(nil), c.calls...)
}
