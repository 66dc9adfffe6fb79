package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"

	"github.com/zpoken/zkv-attestation-relay/config"
	"github.com/zpoken/zkv-attestation-relay/types"
)

const (
	attestationPostedEvent  = "AttestationPosted"
	proofSubmissionEvent    = "SuccessfulProofSubmission"
	proveYouCanFactor42Func = "proveYouCanFactor42"
)

const attestationContractABI = `[
	{"anonymous":false,"name":"AttestationPosted","type":"event","inputs":[
		{"indexed":true,"name":"attestationId","type":"uint256"},
		{"indexed":true,"name":"root","type":"bytes32"}]}
]`

const appContractABI = `[
	{"name":"proveYouCanFactor42","type":"function","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"attestationId","type":"uint256"},
		{"name":"merklePath","type":"bytes32[]"},
		{"name":"leafCount","type":"uint256"},
		{"name":"index","type":"uint256"}]},
	{"anonymous":false,"name":"SuccessfulProofSubmission","type":"event","inputs":[
		{"indexed":true,"name":"from","type":"address"}]}
]`

// attestationPostedLog and proofSubmissionLog are unpacked by name from the
// indexed topics.
type attestationPostedLog struct {
	AttestationId *big.Int
	Root          [32]byte
}

type proofSubmissionLog struct {
	From common.Address
}

// EVMConsumer implements ConsumerChain over a go-ethereum websocket client.
type EVMConsumer struct {
	client      *ethclient.Client
	attestation *bind.BoundContract
	app         *bind.BoundContract
	opts        *bind.TransactOpts
	logger      zerolog.Logger
}

func NewEVMConsumer(ctx context.Context, cfg config.ConsumerConfig, logger zerolog.Logger) (*EVMConsumer, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to connect to %s: %v", cfg.RPCURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to get chain ID: %v", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(cfg.PrivateKey, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	attestationABI, err := abi.JSON(strings.NewReader(attestationContractABI))
	if err != nil {
		client.Close()
		return nil, err
	}
	appABI, err := abi.JSON(strings.NewReader(appContractABI))
	if err != nil {
		client.Close()
		return nil, err
	}

	logger = logger.With().Str("component", "evm").Str("account", opts.From.Hex()).Logger()
	logger.Info().Str("chain_id", chainID.String()).Msg("connected to consumer chain")

	return &EVMConsumer{
		client:      client,
		attestation: bind.NewBoundContract(cfg.AttestationAddress, attestationABI, client, client, client),
		app:         bind.NewBoundContract(cfg.AppAddress, appABI, client, client, client),
		opts:        opts,
		logger:      logger,
	}, nil
}

func (c *EVMConsumer) Close() {
	c.client.Close()
}

func (c *EVMConsumer) Account() common.Address {
	return c.opts.From
}

func (c *EVMConsumer) SubscribeAttestationPosted(ctx context.Context, attestationID *big.Int, sink chan<- types.AttestationPosted) (event.Subscription, error) {
	logs, sub, err := c.attestation.WatchLogs(&bind.WatchOpts{Context: ctx}, attestationPostedEvent, []interface{}{attestationID})
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to subscribe to %s: %v", attestationPostedEvent, err)
	}
	return forwardLogs(sub, logs, func(log ethtypes.Log) error {
		var out attestationPostedLog
		if err := c.attestation.UnpackLog(&out, attestationPostedEvent, log); err != nil {
			return err
		}
		select {
		case sink <- types.AttestationPosted{AttestationID: out.AttestationId, Root: out.Root, TxHash: log.TxHash}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), nil
}

func (c *EVMConsumer) SubscribeAcknowledgments(ctx context.Context, from common.Address, sink chan<- types.ProofAcknowledged) (event.Subscription, error) {
	logs, sub, err := c.app.WatchLogs(&bind.WatchOpts{Context: ctx}, proofSubmissionEvent, []interface{}{from})
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrQueryUnavailable, "failed to subscribe to %s: %v", proofSubmissionEvent, err)
	}
	return forwardLogs(sub, logs, func(log ethtypes.Log) error {
		var out proofSubmissionLog
		if err := c.app.UnpackLog(&out, proofSubmissionEvent, log); err != nil {
			return err
		}
		select {
		case sink <- types.ProofAcknowledged{From: out.From, TxHash: log.TxHash}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), nil
}

// forwardLogs decodes raw logs with deliver until the subscription ends.
// Logs removed by a reorg are skipped.
func forwardLogs(sub event.Subscription, logs <-chan ethtypes.Log, deliver func(ethtypes.Log) error) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log := <-logs:
				if log.Removed {
					continue
				}
				if err := deliver(log); err != nil {
					return err
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

func (c *EVMConsumer) SendProof(ctx context.Context, call ProofCall) (*ethtypes.Transaction, error) {
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.app.Transact(&opts, proveYouCanFactor42Func, call.AttestationID, call.MerklePath, call.LeafCount, call.Index)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrTransactionFailed, "%s: %v", proveYouCanFactor42Func, err)
	}
	c.logger.Debug().Str("tx_hash", tx.Hash().Hex()).Uint64("nonce", tx.Nonce()).Msg("transaction sent")
	return tx, nil
}

func (c *EVMConsumer) WaitMined(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return receipt, errorsmod.Wrapf(types.ErrTransactionFailed, "transaction %s reverted in block %d", tx.Hash().Hex(), receipt.BlockNumber.Uint64())
	}
	return receipt, nil
}
