package bridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zpoken/zkv-attestation-relay/types"
)

type State int

const (
	AwaitingAttestationPosted State = iota
	SubmittingProof
	AwaitingAcknowledgment
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingAttestationPosted:
		return "awaiting_attestation_posted"
	case SubmittingProof:
		return "submitting_proof"
	case AwaitingAcknowledgment:
		return "awaiting_acknowledgment"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

type messageKind int

const (
	msgAttestationPosted messageKind = iota
	msgReceiptAccepted
	msgAcknowledged
	msgFailure
)

// message is one entry of the bridge's event queue.
type message struct {
	kind   messageKind
	posted types.AttestationPosted
	ack    types.ProofAcknowledged
	err    error
}

type action int

const (
	actionNone action = iota
	// actionSubmit detaches the posted subscription, arms the
	// acknowledgment subscription and sends the proof transaction.
	actionSubmit
)

// machine holds what the transition function needs to decide on a message.
type machine struct {
	attestationID *big.Int
	account       common.Address
}

// transition is the bridge state machine. It has no side effects; the caller
// performs the returned action.
func (m machine) transition(state State, msg message) (State, action) {
	if state.Terminal() {
		return state, actionNone
	}
	if msg.kind == msgFailure {
		return Failed, actionNone
	}

	switch state {
	case AwaitingAttestationPosted:
		if msg.kind == msgAttestationPosted && m.matches(msg.posted) {
			return SubmittingProof, actionSubmit
		}
	case SubmittingProof:
		switch msg.kind {
		case msgReceiptAccepted:
			return AwaitingAcknowledgment, actionNone
		case msgAcknowledged:
			// the ack log can be delivered before the receipt is observed
			if msg.ack.From == m.account {
				return Complete, actionNone
			}
		}
	case AwaitingAcknowledgment:
		if msg.kind == msgAcknowledged && msg.ack.From == m.account {
			return Complete, actionNone
		}
	}
	return state, actionNone
}

func (m machine) matches(posted types.AttestationPosted) bool {
	return posted.AttestationID != nil && posted.AttestationID.Cmp(m.attestationID) == 0
}
