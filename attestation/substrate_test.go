package attestation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zpoken/zkv-attestation-relay/types"
)

// nodeError mimics an error object returned in a JSON-RPC response.
type nodeError struct {
	code int
	msg  string
}

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return e.code }

func TestProofPathError(t *testing.T) {
	record := types.AttestationRecord{AttestationID: 3, LeafDigest: common.HexToHash("0xd1")}

	specs := map[string]struct {
		err       error
		expErr    error
		retryable bool
	}{
		"unknown attestation": {
			err:    nodeError{code: 1, msg: "Attestation not found"},
			expErr: types.ErrProofNotFound,
		},
		"unknown leaf": {
			err:    fmt.Errorf("call: %w", nodeError{code: 2, msg: "ProofNotFound"}),
			expErr: types.ErrProofNotFound,
		},
		"internal error": {
			err:       nodeError{code: -32603, msg: "Internal error"},
			expErr:    types.ErrQueryUnavailable,
			retryable: true,
		},
		"rate limited": {
			err:       nodeError{code: -32005, msg: "request limit exceeded"},
			expErr:    types.ErrQueryUnavailable,
			retryable: true,
		},
		"transport": {
			err:       errors.New("websocket: close 1006 (abnormal closure)"),
			expErr:    types.ErrQueryUnavailable,
			retryable: true,
		},
		"deadline": {
			err:    context.DeadlineExceeded,
			expErr: context.DeadlineExceeded,
		},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			err := proofPathError(record, spec.err)
			require.ErrorIs(t, err, spec.expErr)
			require.Equal(t, spec.retryable, types.IsRetryable(err))
		})
	}
}
