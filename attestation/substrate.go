package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	errorsmod "cosmossdk.io/errors"
	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/retriever"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/state"
	"github.com/centrifuge/go-substrate-rpc-client/v4/rpc/author"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/zpoken/zkv-attestation-relay/config"
	"github.com/zpoken/zkv-attestation-relay/types"
)

// ss58 prefix used when deriving the signing account.
const networkPrefix = 42

// SubstrateChain talks to the attestation chain over its websocket RPC.
type SubstrateChain struct {
	api     *gsrpc.SubstrateAPI
	keyring signature.KeyringPair
	events  retriever.EventRetriever
	logger  zerolog.Logger

	// signing state, refreshed per submission
	mu          sync.Mutex
	genesisHash gstypes.Hash
}

func NewSubstrateChain(cfg config.AttestationConfig, logger zerolog.Logger) (*SubstrateChain, error) {
	api, err := gsrpc.NewSubstrateAPI(cfg.RPCURL)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to connect to %s: %v", cfg.RPCURL, err)
	}

	keyring, err := signature.KeyringPairFromSecret(cfg.SeedPhrase, networkPrefix)
	if err != nil {
		api.Client.Close()
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to derive account: %v", err)
	}

	genesisHash, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		api.Client.Close()
		return nil, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to fetch genesis hash: %v", err)
	}

	events, err := retriever.NewDefaultEventRetriever(state.NewEventProvider(api.RPC.State), api.RPC.State)
	if err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("failed to create event retriever: %w", err)
	}

	logger = logger.With().Str("component", "substrate").Str("account", keyring.Address).Logger()
	logger.Info().Str("endpoint", cfg.RPCURL).Msg("connected to attestation chain")

	return &SubstrateChain{
		api:         api,
		keyring:     keyring,
		events:      events,
		logger:      logger,
		genesisHash: genesisHash,
	}, nil
}

func (s *SubstrateChain) Close() {
	s.api.Client.Close()
}

func (s *SubstrateChain) SubmitProof(ctx context.Context, submission ProofSubmission) (Watch, error) {
	proof, err := encodeProof(submission.Artifact.Proof)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
	}
	pubs, err := encodePublicSignals(submission.Artifact.PublicSignals)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
	}

	key := vkOrHash{}
	if submission.VerificationKeyHash != (common.Hash{}) {
		key.IsHash = true
		key.Hash = gstypes.NewH256(submission.VerificationKeyHash.Bytes())
	} else {
		key.Vk, err = encodeVk(submission.VerificationKey)
		if err != nil {
			return nil, errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
		}
	}

	return s.submit(ctx, submitProofCall, key, proof, pubs, gstypes.NewOptionU32Empty())
}

func (s *SubstrateChain) RegisterVerificationKey(ctx context.Context, vk types.VerificationKey) (Watch, error) {
	encoded, err := encodeVk(vk)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrSubmissionFailed, err.Error())
	}
	return s.submit(ctx, registerVkCall, encoded)
}

func (s *SubstrateChain) submit(ctx context.Context, call string, args ...interface{}) (Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to fetch metadata: %v", err)
	}
	c, err := gstypes.NewCall(meta, call, args...)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to build %s: %v", call, err)
	}
	runtime, err := s.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to fetch runtime version: %v", err)
	}

	var nonce uint64
	if err := s.call(ctx, &nonce, accountNextIndexMethod, s.keyring.Address); err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to fetch account nonce: %v", err)
	}

	ext := gstypes.NewExtrinsic(c)
	opts := gstypes.SignatureOptions{
		BlockHash:          s.genesisHash,
		Era:                gstypes.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        s.genesisHash,
		Nonce:              gstypes.NewUCompactFromUInt(nonce),
		SpecVersion:        runtime.SpecVersion,
		Tip:                gstypes.NewUCompactFromUInt(0),
		TransactionVersion: runtime.TransactionVersion,
	}
	if err := ext.Sign(s.keyring, opts); err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to sign extrinsic: %v", err)
	}

	encoded, err := codec.Encode(ext)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to encode extrinsic: %v", err)
	}
	txHash := extrinsicHash(encoded)

	sub, err := s.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "failed to submit %s: %v", call, err)
	}
	s.logger.Debug().Str("call", call).Uint64("nonce", nonce).Str("tx_hash", txHash.Hex()).Msg("extrinsic submitted")

	return newExtrinsicWatch(sub, txHash), nil
}

func extrinsicHash(encoded []byte) common.Hash {
	return common.Hash(blake2b.Sum256(encoded))
}

// extrinsicWatch adapts the RPC status subscription to Watch.
type extrinsicWatch struct {
	sub      *author.ExtrinsicStatusSubscription
	txHash   common.Hash
	statuses chan Status
	done     chan struct{}
	once     sync.Once
}

func newExtrinsicWatch(sub *author.ExtrinsicStatusSubscription, txHash common.Hash) *extrinsicWatch {
	w := &extrinsicWatch{
		sub:      sub,
		txHash:   txHash,
		statuses: make(chan Status),
		done:     make(chan struct{}),
	}
	go w.forward()
	return w
}

func (w *extrinsicWatch) forward() {
	defer close(w.statuses)
	for {
		select {
		case <-w.done:
			return
		case raw, ok := <-w.sub.Chan():
			if !ok {
				return
			}
			status, known := convertStatus(raw)
			if !known {
				continue
			}
			select {
			case w.statuses <- status:
			case <-w.done:
				return
			}
		}
	}
}

func convertStatus(raw gstypes.ExtrinsicStatus) (Status, bool) {
	switch {
	case raw.IsReady:
		return Status{Kind: StatusReady}, true
	case raw.IsInBlock:
		return Status{Kind: StatusInBlock, Block: common.Hash(raw.AsInBlock)}, true
	case raw.IsRetracted:
		return Status{Kind: StatusRetracted, Block: common.Hash(raw.AsRetracted)}, true
	case raw.IsFinalized:
		return Status{Kind: StatusFinalized, Block: common.Hash(raw.AsFinalized)}, true
	case raw.IsFinalityTimeout:
		return Status{Kind: StatusFinalityTimeout, Block: common.Hash(raw.AsFinalityTimeout)}, true
	case raw.IsUsurped:
		return Status{Kind: StatusUsurped}, true
	case raw.IsDropped:
		return Status{Kind: StatusDropped}, true
	case raw.IsInvalid:
		return Status{Kind: StatusInvalid}, true
	}
	return Status{}, false
}

func (w *extrinsicWatch) TxHash() common.Hash     { return w.txHash }
func (w *extrinsicWatch) Statuses() <-chan Status { return w.statuses }
func (w *extrinsicWatch) Err() <-chan error       { return w.sub.Err() }

func (w *extrinsicWatch) Unsubscribe() {
	w.once.Do(func() {
		close(w.done)
		w.sub.Unsubscribe()
	})
}

func (s *SubstrateChain) RecordAt(ctx context.Context, block, txHash common.Hash) (types.AttestationRecord, error) {
	events, err := s.extrinsicEvents(ctx, block, txHash)
	if err != nil {
		return types.AttestationRecord{}, err
	}
	for _, event := range events {
		if event.Name != newElementEvent {
			continue
		}
		digest, err := hashField(event.Fields, "value")
		if err != nil {
			return types.AttestationRecord{}, errorsmod.Wrapf(types.ErrSubmissionFailed, "malformed %s: %v", newElementEvent, err)
		}
		id, err := uintField(event.Fields, "attestation_id")
		if err != nil {
			return types.AttestationRecord{}, errorsmod.Wrapf(types.ErrSubmissionFailed, "malformed %s: %v", newElementEvent, err)
		}
		return types.AttestationRecord{AttestationID: id, LeafDigest: digest}, nil
	}
	return types.AttestationRecord{}, errorsmod.Wrapf(types.ErrSubmissionFailed, "no %s event for %s", newElementEvent, txHash.Hex())
}

func (s *SubstrateChain) RegisteredKeyAt(ctx context.Context, block, txHash common.Hash) (common.Hash, error) {
	events, err := s.extrinsicEvents(ctx, block, txHash)
	if err != nil {
		return common.Hash{}, err
	}
	for _, event := range events {
		if event.Name == vkRegisteredEvent {
			return hashField(event.Fields, "hash")
		}
	}
	return common.Hash{}, errorsmod.Wrapf(types.ErrSubmissionFailed, "no %s event for %s", vkRegisteredEvent, txHash.Hex())
}

// extrinsicEvents returns the events emitted by txHash in block, failing when
// the extrinsic dispatch failed.
func (s *SubstrateChain) extrinsicEvents(ctx context.Context, block, txHash common.Hash) ([]*parser.Event, error) {
	index, err := s.extrinsicIndex(ctx, block, txHash)
	if err != nil {
		return nil, err
	}
	all, err := s.events.GetEvents(gstypes.NewHash(block.Bytes()))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to fetch events of %s: %v", block.Hex(), err)
	}

	var out []*parser.Event
	for _, event := range all {
		if event.Phase == nil || !event.Phase.IsApplyExtrinsic || event.Phase.AsApplyExtrinsic != index {
			continue
		}
		if event.Name == extrinsicFailedEvent {
			return nil, errorsmod.Wrapf(types.ErrSubmissionFailed, "extrinsic %s failed: %v", txHash.Hex(), describeFields(event.Fields))
		}
		out = append(out, event)
	}
	return out, nil
}

type rawSignedBlock struct {
	Block struct {
		Extrinsics []string `json:"extrinsics"`
	} `json:"block"`
}

func (s *SubstrateChain) extrinsicIndex(ctx context.Context, block, txHash common.Hash) (uint32, error) {
	var raw rawSignedBlock
	if err := s.call(ctx, &raw, getBlockMethod, block.Hex()); err != nil {
		return 0, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to fetch block %s: %v", block.Hex(), err)
	}
	for i, xt := range raw.Block.Extrinsics {
		encoded, err := hexutil.Decode(xt)
		if err != nil {
			return 0, fmt.Errorf("failed to decode extrinsic %d: %w", i, err)
		}
		if extrinsicHash(encoded) == txHash {
			return uint32(i), nil
		}
	}
	return 0, errorsmod.Wrapf(types.ErrSubmissionFailed, "extrinsic %s not found in block %s", txHash.Hex(), block.Hex())
}

func (s *SubstrateChain) AwaitAttestation(ctx context.Context, attestationID uint64, from common.Hash) (common.Hash, error) {
	start, err := s.api.RPC.Chain.GetHeader(gstypes.NewHash(from.Bytes()))
	if err != nil {
		return common.Hash{}, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to fetch header %s: %v", from.Hex(), err)
	}

	sub, err := s.api.RPC.Chain.SubscribeFinalizedHeads()
	if err != nil {
		return common.Hash{}, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to subscribe to finalized heads: %v", err)
	}
	defer sub.Unsubscribe()

	next := uint64(start.Number)
	scan := func(head uint64) (common.Hash, bool, error) {
		for ; next <= head; next++ {
			hash, err := s.api.RPC.Chain.GetBlockHash(next)
			if err != nil {
				return common.Hash{}, false, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to fetch block hash %d: %v", next, err)
			}
			events, err := s.events.GetEvents(hash)
			if err != nil {
				return common.Hash{}, false, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to fetch events of block %d: %v", next, err)
			}
			for _, event := range events {
				if event.Name != newAttestationEvent {
					continue
				}
				id, err := uintField(event.Fields, "id")
				if err != nil || id != attestationID {
					continue
				}
				root, err := hashField(event.Fields, "attestation")
				if err != nil {
					return common.Hash{}, false, errorsmod.Wrapf(types.ErrQueryUnavailable, "malformed %s: %v", newAttestationEvent, err)
				}
				return root, true, nil
			}
		}
		return common.Hash{}, false, nil
	}

	// catch up to the finalized block of the submission before following heads
	if root, found, err := scan(uint64(start.Number)); err != nil || found {
		return root, err
	}
	for {
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case err := <-sub.Err():
			return common.Hash{}, errorsmod.Wrapf(types.ErrQueryUnavailable, "finalized heads subscription: %v", err)
		case head, ok := <-sub.Chan():
			if !ok {
				return common.Hash{}, errorsmod.Wrap(types.ErrQueryUnavailable, "finalized heads subscription closed")
			}
			root, found, err := scan(uint64(head.Number))
			if err != nil || found {
				return root, err
			}
		}
	}
}

// rpcError is implemented by errors the node returned in a JSON-RPC response,
// as opposed to transport failures.
type rpcError interface {
	ErrorCode() int
}

// notFoundMarkers are the message fragments the proof path RPC uses when the
// attestation or the leaf is unknown.
var notFoundMarkers = []string{"not found", "notfound", "does not exist"}

// proofPathError classifies a failed proof path query. Only an RPC response
// reporting an unknown attestation or leaf is final; transport failures and
// other node errors (internal errors, rate limits) may be retried.
func proofPathError(record types.AttestationRecord, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var rerr rpcError
	if errors.As(err, &rerr) {
		msg := strings.ToLower(err.Error())
		for _, marker := range notFoundMarkers {
			if strings.Contains(msg, marker) {
				return errorsmod.Wrapf(types.ErrProofNotFound, "%s: %v", record, err)
			}
		}
		return errorsmod.Wrapf(types.ErrQueryUnavailable, "%s (code %d): %v", proofPathMethod, rerr.ErrorCode(), err)
	}
	return errorsmod.Wrapf(types.ErrQueryUnavailable, "%s: %v", proofPathMethod, err)
}

type proofPathResponse struct {
	Proof           []common.Hash `json:"proof"`
	NumberOfLeaves  *uint64       `json:"number_of_leaves"`
	NumberOfLeaves2 *uint64       `json:"numberOfLeaves"`
	LeafIndex       *uint64       `json:"leaf_index"`
	LeafIndex2      *uint64       `json:"leafIndex"`
}

func firstSet(values ...*uint64) (uint64, bool) {
	for _, v := range values {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// ProofPath queries the merkle path of a leaf in a published attestation.
func (s *SubstrateChain) ProofPath(ctx context.Context, record types.AttestationRecord) (types.MerkleInclusionProof, error) {
	var raw *proofPathResponse
	err := s.call(ctx, &raw, proofPathMethod, record.AttestationID, record.LeafDigest.Hex())
	if err != nil {
		return types.MerkleInclusionProof{}, proofPathError(record, err)
	}
	if raw == nil {
		return types.MerkleInclusionProof{}, errorsmod.Wrapf(types.ErrProofNotFound, "%s", record)
	}

	count, ok := firstSet(raw.NumberOfLeaves, raw.NumberOfLeaves2)
	if !ok {
		return types.MerkleInclusionProof{}, errorsmod.Wrap(types.ErrInvalidInclusionProof, "missing number of leaves")
	}
	index, ok := firstSet(raw.LeafIndex, raw.LeafIndex2)
	if !ok {
		return types.MerkleInclusionProof{}, errorsmod.Wrap(types.ErrInvalidInclusionProof, "missing leaf index")
	}
	return types.MerkleInclusionProof{Path: raw.Proof, LeafCount: count, LeafIndex: index}, nil
}

// call runs a JSON-RPC request, abandoning it when ctx is done.
func (s *SubstrateChain) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	done := make(chan error, 1)
	go func() {
		done <- s.api.Client.Call(result, method, args...)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func findField(fields registry.DecodedFields, name string) (interface{}, error) {
	for _, field := range fields {
		if field.Name == name || strings.HasSuffix(field.Name, "."+name) {
			return field.Value, nil
		}
	}
	return nil, fmt.Errorf("field %q not found", name)
}

func hashField(fields registry.DecodedFields, name string) (common.Hash, error) {
	value, err := findField(fields, name)
	if err != nil {
		return common.Hash{}, err
	}
	b, err := toBytes(value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("field %q: %w", name, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("field %q: expected %d bytes, got %d", name, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func uintField(fields registry.DecodedFields, name string) (uint64, error) {
	value, err := findField(fields, name)
	if err != nil {
		return 0, err
	}
	return toUint(value)
}

// toBytes flattens the shapes the event decoder produces for byte arrays.
func toBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case gstypes.Hash:
		return v[:], nil
	case gstypes.H256:
		return v[:], nil
	case [32]byte:
		return v[:], nil
	case []byte:
		return v, nil
	case gstypes.Bytes:
		return v, nil
	case gstypes.U8:
		return []byte{byte(v)}, nil
	case uint8:
		return []byte{v}, nil
	case registry.DecodedFields:
		var out []byte
		for _, f := range v {
			b, err := toBytes(f.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	case []interface{}:
		var out []byte
		for _, item := range v {
			b, err := toBytes(item)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported byte value %T", value)
}

func toUint(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case gstypes.U64:
		return uint64(v), nil
	case gstypes.U32:
		return uint64(v), nil
	case gstypes.UCompact:
		return (*big.Int)(&v).Uint64(), nil
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case registry.DecodedFields:
		if len(v) == 1 {
			return toUint(v[0].Value)
		}
	}
	return 0, fmt.Errorf("unsupported integer value %T", value)
}

func describeFields(fields registry.DecodedFields) string {
	out, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("%d fields", len(fields))
	}
	return string(out)
}
