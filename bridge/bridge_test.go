package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zpoken/zkv-attestation-relay/types"
)

var (
	account = common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")
	other   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fakeConsumer struct {
	posted    []types.AttestationPosted
	acks      []types.ProofAcknowledged
	postedErr error
	sendErr   error
	mineErr   error
	// mineBlock, when set, keeps WaitMined pending until ctx is done.
	mineBlock bool

	mu              sync.Mutex
	calls           []ProofCall
	open            int
	ackArmed        bool
	armedBeforeSend bool
	postedSink      chan<- types.AttestationPosted
	sent            chan struct{}
	sentOnce        sync.Once
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{sent: make(chan struct{})}
}

func (c *fakeConsumer) Account() common.Address { return account }

func (c *fakeConsumer) subscribe(producer func(quit <-chan struct{}) error) event.Subscription {
	c.mu.Lock()
	c.open++
	c.mu.Unlock()
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer func() {
			c.mu.Lock()
			c.open--
			c.mu.Unlock()
		}()
		return producer(quit)
	})
}

func (c *fakeConsumer) SubscribeAttestationPosted(_ context.Context, _ *big.Int, sink chan<- types.AttestationPosted) (event.Subscription, error) {
	c.mu.Lock()
	c.postedSink = sink
	c.mu.Unlock()
	return c.subscribe(func(quit <-chan struct{}) error {
		for _, ev := range c.posted {
			select {
			case sink <- ev:
			case <-quit:
				return nil
			}
		}
		if c.postedErr != nil {
			return c.postedErr
		}
		<-quit
		return nil
	}), nil
}

func (c *fakeConsumer) SubscribeAcknowledgments(_ context.Context, _ common.Address, sink chan<- types.ProofAcknowledged) (event.Subscription, error) {
	c.mu.Lock()
	c.ackArmed = true
	c.mu.Unlock()
	return c.subscribe(func(quit <-chan struct{}) error {
		select {
		case <-c.sent:
		case <-quit:
			return nil
		}
		for _, ev := range c.acks {
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

func (c *fakeConsumer) SendProof(_ context.Context, call ProofCall) (*ethtypes.Transaction, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.armedBeforeSend = c.ackArmed
	sink := c.postedSink
	c.mu.Unlock()

	// a late duplicate of the posted event must be ignored
	if len(c.posted) > 0 {
		select {
		case sink <- c.posted[0]:
		default:
		}
	}
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sentOnce.Do(func() { close(c.sent) })
	return ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: uint64(len(c.calls))}), nil
}

func (c *fakeConsumer) WaitMined(ctx context.Context, _ *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	if c.mineBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.mineErr != nil {
		return nil, c.mineErr
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}, nil
}

func (c *fakeConsumer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeConsumer) openSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func testEvidence() (types.InclusionEvidence, common.Hash) {
	leaves := make([]common.Hash, 6)
	for i := range leaves {
		leaves[i] = common.BigToHash(big.NewInt(int64(100 + i)))
	}
	root, proof := types.BuildTree(leaves, 4)
	return types.InclusionEvidence{
		Record: types.AttestationRecord{AttestationID: 7, LeafDigest: leaves[4]},
		Proof:  proof,
	}, root
}

func postedFor(id int64, root common.Hash) types.AttestationPosted {
	return types.AttestationPosted{AttestationID: big.NewInt(id), Root: root, TxHash: common.HexToHash("0x90")}
}

func ackFrom(from common.Address) types.ProofAcknowledged {
	return types.ProofAcknowledged{From: from, TxHash: common.BytesToHash(from.Bytes())}
}

func runBridge(t *testing.T, c *fakeConsumer, timeout time.Duration, opts ...Option) (Result, error) {
	t.Helper()
	evidence, _ := testEvidence()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return NewBridge(c, zerolog.Nop(), opts...).Run(ctx, evidence)
}

func TestBridgeComplete(t *testing.T) {
	evidence, root := testEvidence()
	c := newFakeConsumer()
	c.posted = []types.AttestationPosted{postedFor(7, root), postedFor(7, root)}
	c.acks = []types.ProofAcknowledged{ackFrom(account)}

	res, err := runBridge(t, c, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, Complete, res.State)
	require.Equal(t, root, res.PostedRoot)
	require.Equal(t, ackFrom(account).TxHash, res.AckTx)
	require.NotEqual(t, common.Hash{}, res.ProofTx)

	require.Equal(t, 1, c.callCount())
	require.True(t, c.armedBeforeSend)
	call := c.calls[0]
	require.Equal(t, big.NewInt(7), call.AttestationID)
	require.Equal(t, evidence.Proof.PathBytes(), call.MerklePath)
	require.Equal(t, big.NewInt(6), call.LeafCount)
	require.Equal(t, big.NewInt(4), call.Index)
	require.Zero(t, c.openSubscriptions())
}

func TestBridgeIgnoresOtherAttestations(t *testing.T) {
	_, root := testEvidence()
	c := newFakeConsumer()
	c.posted = []types.AttestationPosted{postedFor(8, root), postedFor(7, root)}
	c.acks = []types.ProofAcknowledged{ackFrom(account)}

	res, err := runBridge(t, c, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, Complete, res.State)
	require.Equal(t, 1, c.callCount())
}

func TestBridgeCompletesOnlyForSubmittingAccount(t *testing.T) {
	_, root := testEvidence()
	c := newFakeConsumer()
	c.posted = []types.AttestationPosted{postedFor(7, root)}
	c.acks = []types.ProofAcknowledged{ackFrom(other), ackFrom(account)}

	res, err := runBridge(t, c, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, ackFrom(account).TxHash, res.AckTx)

	c = newFakeConsumer()
	c.posted = []types.AttestationPosted{postedFor(7, root)}
	c.acks = []types.ProofAcknowledged{ackFrom(other)}

	res, err = runBridge(t, c, 50*time.Millisecond)
	require.ErrorIs(t, err, types.ErrTimeout)
	require.Equal(t, Failed, res.State)
	require.Equal(t, 1, c.callCount())
	require.Zero(t, c.openSubscriptions())
}

func TestBridgeFailures(t *testing.T) {
	_, root := testEvidence()
	specs := map[string]struct {
		setup    func(c *fakeConsumer)
		expErr   error
		expCalls int
		opts     []Option
	}{
		"no attestation posted": {
			setup:    func(c *fakeConsumer) {},
			expErr:   types.ErrTimeout,
			expCalls: 0,
		},
		"reverted": {
			setup: func(c *fakeConsumer) {
				c.posted = []types.AttestationPosted{postedFor(7, root)}
				c.mineErr = errorsmod.Wrap(types.ErrTransactionFailed, "reverted")
			},
			expErr:   types.ErrTransactionFailed,
			expCalls: 1,
		},
		"send rejected": {
			setup: func(c *fakeConsumer) {
				c.posted = []types.AttestationPosted{postedFor(7, root)}
				c.sendErr = errors.New("execution reverted: invalid proof")
			},
			expErr:   types.ErrTransactionFailed,
			expCalls: 1,
		},
		"receipt never arrives": {
			setup: func(c *fakeConsumer) {
				c.posted = []types.AttestationPosted{postedFor(7, root)}
				c.mineBlock = true
			},
			expErr:   types.ErrTimeout,
			expCalls: 1,
		},
		"subscription dropped": {
			setup: func(c *fakeConsumer) {
				c.postedErr = errors.New("websocket: close 1006")
			},
			expErr:   types.ErrQueryUnavailable,
			expCalls: 0,
		},
		"root mismatch": {
			setup: func(c *fakeConsumer) {
				c.posted = []types.AttestationPosted{postedFor(7, common.HexToHash("0xbad"))}
				c.acks = []types.ProofAcknowledged{ackFrom(account)}
			},
			opts:     []Option{WithPostedRootCheck(true)},
			expErr:   types.ErrRootMismatch,
			expCalls: 0,
		},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			c := newFakeConsumer()
			spec.setup(c)

			res, err := runBridge(t, c, 100*time.Millisecond, spec.opts...)
			require.ErrorIs(t, err, spec.expErr)
			require.Equal(t, Failed, res.State)
			require.Equal(t, spec.expCalls, c.callCount())
			require.Zero(t, c.openSubscriptions())
		})
	}
}

func TestBridgeRootCheckPasses(t *testing.T) {
	_, root := testEvidence()
	c := newFakeConsumer()
	c.posted = []types.AttestationPosted{postedFor(7, root)}
	c.acks = []types.ProofAcknowledged{ackFrom(account)}

	res, err := runBridge(t, c, 5*time.Second, WithPostedRootCheck(true))
	require.NoError(t, err)
	require.Equal(t, Complete, res.State)
}

func TestBridgeRelaysEveryLeafOfAnAttestation(t *testing.T) {
	first, root := testEvidence()
	leaves := make([]common.Hash, 6)
	for i := range leaves {
		leaves[i] = common.BigToHash(big.NewInt(int64(100 + i)))
	}
	_, proof := types.BuildTree(leaves, 1)
	second := types.InclusionEvidence{
		Record: types.AttestationRecord{AttestationID: 7, LeafDigest: leaves[1]},
		Proof:  proof,
	}

	c := newFakeConsumer()
	c.posted = []types.AttestationPosted{postedFor(7, root)}
	c.acks = []types.ProofAcknowledged{ackFrom(account)}
	b := NewBridge(c, zerolog.Nop(), WithPostedRootCheck(true))

	for i, evidence := range []types.InclusionEvidence{first, second} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		res, err := b.Run(ctx, evidence)
		cancel()
		require.NoError(t, err)
		require.Equal(t, Complete, res.State)
		// the duplicate posted event injected during the send is ignored
		require.Equal(t, i+1, c.callCount())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, new(big.Int).SetUint64(first.Proof.LeafIndex), c.calls[0].Index)
	require.Equal(t, new(big.Int).SetUint64(second.Proof.LeafIndex), c.calls[1].Index)
}

func TestBridgeRejectsInvalidEvidence(t *testing.T) {
	evidence, _ := testEvidence()
	evidence.Proof.LeafIndex = evidence.Proof.LeafCount
	c := newFakeConsumer()

	res, err := NewBridge(c, zerolog.Nop()).Run(context.Background(), evidence)
	require.ErrorIs(t, err, types.ErrInvalidInclusionProof)
	require.Equal(t, Failed, res.State)
	require.Zero(t, c.callCount())
}

func TestTransition(t *testing.T) {
	m := machine{attestationID: big.NewInt(7), account: account}
	posted := message{kind: msgAttestationPosted, posted: postedFor(7, common.Hash{})}
	failure := message{kind: msgFailure, err: types.ErrTimeout}

	specs := []struct {
		name     string
		state    State
		msg      message
		expState State
		expAct   action
	}{
		{"posted triggers submit", AwaitingAttestationPosted, posted, SubmittingProof, actionSubmit},
		{"other attestation ignored", AwaitingAttestationPosted, message{kind: msgAttestationPosted, posted: postedFor(9, common.Hash{})}, AwaitingAttestationPosted, actionNone},
		{"duplicate posted ignored", SubmittingProof, posted, SubmittingProof, actionNone},
		{"duplicate posted after receipt ignored", AwaitingAcknowledgment, posted, AwaitingAcknowledgment, actionNone},
		{"receipt accepted", SubmittingProof, message{kind: msgReceiptAccepted}, AwaitingAcknowledgment, actionNone},
		{"ack completes", AwaitingAcknowledgment, message{kind: msgAcknowledged, ack: ackFrom(account)}, Complete, actionNone},
		{"early ack completes", SubmittingProof, message{kind: msgAcknowledged, ack: ackFrom(account)}, Complete, actionNone},
		{"foreign ack ignored", AwaitingAcknowledgment, message{kind: msgAcknowledged, ack: ackFrom(other)}, AwaitingAcknowledgment, actionNone},
		{"ack before posted ignored", AwaitingAttestationPosted, message{kind: msgAcknowledged, ack: ackFrom(account)}, AwaitingAttestationPosted, actionNone},
		{"failure", SubmittingProof, failure, Failed, actionNone},
		{"complete is final", Complete, failure, Complete, actionNone},
		{"failed is final", Failed, posted, Failed, actionNone},
	}
	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			state, act := m.transition(spec.state, spec.msg)
			require.Equal(t, spec.expState, state)
			require.Equal(t, spec.expAct, act)
		})
	}
}
