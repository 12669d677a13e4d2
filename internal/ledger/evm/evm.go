// Package evm provides a ledger adapter backed by an HTLC contract on an
// EVM chain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// htlcABI is the ABI of the Crosslock HTLC contract.
const htlcABI = `[
  {"type":"function","name":"newLock","stateMutability":"payable","inputs":[
    {"name":"lockId","type":"bytes32"},
    {"name":"receiver","type":"address"},
    {"name":"hashlock","type":"bytes32"},
    {"name":"deadline","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
    {"name":"lockId","type":"bytes32"},
    {"name":"preimage","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
    {"name":"lockId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getLock","stateMutability":"view","inputs":[
    {"name":"lockId","type":"bytes32"}],"outputs":[
    {"name":"sender","type":"address"},
    {"name":"receiver","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"hashlock","type":"bytes32"},
    {"name":"deadline","type":"uint256"},
    {"name":"withdrawn","type":"bool"},
    {"name":"refunded","type":"bool"},
    {"name":"preimage","type":"bytes32"}]},
  {"type":"event","name":"LockCreated","inputs":[
    {"name":"lockId","type":"bytes32","indexed":true},
    {"name":"sender","type":"address","indexed":true},
    {"name":"receiver","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"hashlock","type":"bytes32","indexed":false},
    {"name":"deadline","type":"uint256","indexed":false}]},
  {"type":"event","name":"LockWithdrawn","inputs":[
    {"name":"lockId","type":"bytes32","indexed":true},
    {"name":"preimage","type":"bytes32","indexed":false}]},
  {"type":"event","name":"LockRefunded","inputs":[
    {"name":"lockId","type":"bytes32","indexed":true}]}
]`

// Adapter talks to an HTLC contract on a single EVM chain.
type Adapter struct {
	chain    ledger.Chain
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	log      *logging.Logger
}

// Options configures an EVM adapter.
type Options struct {
	Chain           ledger.Chain
	RPCURL          string
	ContractAddress string
	PrivateKeyHex   string
}

// New connects to an EVM chain and binds the HTLC contract.
func New(opts Options, log *logging.Logger) (*Adapter, error) {
	const op = "evm.New"

	client, err := ethclient.Dial(opts.RPCURL)
	if err != nil {
		return nil, ledger.Errorf(ledger.KindTransient, op, "connect to %s: %w", opts.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(htlcABI))
	if err != nil {
		return nil, ledger.Errorf(ledger.KindValidation, op, "parse contract abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, ledger.Errorf(ledger.KindValidation, op, "parse private key: %w", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		client.Close()
		return nil, ledger.Errorf(ledger.KindTransient, op, "get chain id: %w", err)
	}

	address := common.HexToAddress(opts.ContractAddress)
	contract := bind.NewBoundContract(address, parsed, client, client, client)

	return &Adapter{
		chain:    opts.Chain,
		client:   client,
		contract: contract,
		abi:      parsed,
		address:  address,
		chainID:  chainID,
		key:      key,
		log:      log.Component("evm-" + string(opts.Chain)),
	}, nil
}

// Close releases the RPC connection.
func (a *Adapter) Close() {
	a.client.Close()
}

// Chain returns the chain this adapter serves.
func (a *Adapter) Chain() ledger.Chain {
	return a.chain
}

// DeriveLockID derives the deterministic bytes32 lock id the contract uses.
func DeriveLockID(sender, receiver common.Address, hashlock [32]byte, deadline time.Time) [32]byte {
	h := sha256.New()
	h.Write(sender.Bytes())
	h.Write(receiver.Bytes())
	h.Write(hashlock[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(deadline.Unix()))
	h.Write(ts[:])
	var id [32]byte
	copy(id[:], h.Sum(nil))
	return id
}

// CreateLock escrows native value under a hashlock.
func (a *Adapter) CreateLock(ctx context.Context, params ledger.CreateLockParams) (*ledger.CreateLockResult, error) {
	const op = "evm.CreateLock"

	if len(params.Hashlock) != 32 {
		return nil, ledger.Errorf(ledger.KindValidation, op, "hashlock must be 32 bytes, got %d", len(params.Hashlock))
	}

	sender := crypto.PubkeyToAddress(a.key.PublicKey)
	receiver := common.HexToAddress(params.Receiver)
	var hashlock [32]byte
	copy(hashlock[:], params.Hashlock)

	lockID := DeriveLockID(sender, receiver, hashlock, params.Deadline)

	auth, err := a.newTransactor(ctx)
	if err != nil {
		return nil, err
	}
	auth.Value = new(big.Int).SetUint64(params.Amount)

	tx, err := a.contract.Transact(auth, "newLock", lockID, receiver, hashlock, big.NewInt(params.Deadline.Unix()))
	if err != nil {
		return nil, a.classify(op, err)
	}

	a.log.Info("lock created", "lock", common.Hash(lockID).Hex(), "tx", tx.Hash().Hex())

	return &ledger.CreateLockResult{
		LockID: common.Hash(lockID).Hex(),
		TxRef:  ledger.TxRef(tx.Hash().Hex()),
	}, nil
}

// Withdraw claims a lock by revealing the preimage on chain.
func (a *Adapter) Withdraw(ctx context.Context, lockID string, preimage []byte) (ledger.TxRef, error) {
	const op = "evm.Withdraw"

	if len(preimage) != 32 {
		return "", ledger.Errorf(ledger.KindValidation, op, "preimage must be 32 bytes, got %d", len(preimage))
	}

	auth, err := a.newTransactor(ctx)
	if err != nil {
		return "", err
	}

	var pre [32]byte
	copy(pre[:], preimage)

	tx, err := a.contract.Transact(auth, "withdraw", common.HexToHash(lockID), pre)
	if err != nil {
		return "", a.classify(op, err)
	}

	a.log.Info("lock withdrawn", "lock", lockID, "tx", tx.Hash().Hex())
	return ledger.TxRef(tx.Hash().Hex()), nil
}

// Refund returns escrowed funds to the sender after the deadline.
func (a *Adapter) Refund(ctx context.Context, lockID string) (ledger.TxRef, error) {
	const op = "evm.Refund"

	auth, err := a.newTransactor(ctx)
	if err != nil {
		return "", err
	}

	tx, err := a.contract.Transact(auth, "refund", common.HexToHash(lockID))
	if err != nil {
		return "", a.classify(op, err)
	}

	a.log.Info("lock refunded", "lock", lockID, "tx", tx.Hash().Hex())
	return ledger.TxRef(tx.Hash().Hex()), nil
}

// GetLock reads the lock state from the contract.
func (a *Adapter) GetLock(ctx context.Context, lockID string) (*ledger.Lock, error) {
	const op = "evm.GetLock"

	var out []interface{}
	err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getLock", common.HexToHash(lockID))
	if err != nil {
		return nil, a.classify(op, err)
	}

	sender := out[0].(common.Address)
	receiver := out[1].(common.Address)
	amount := out[2].(*big.Int)
	hashlock := out[3].([32]byte)
	deadline := out[4].(*big.Int)
	withdrawn := out[5].(bool)
	refunded := out[6].(bool)
	preimage := out[7].([32]byte)

	if sender == (common.Address{}) {
		return nil, ledger.Errorf(ledger.KindNotFound, op, "lock %s not found", lockID)
	}

	lock := &ledger.Lock{
		ID:        lockID,
		Chain:     a.chain,
		Sender:    sender.Hex(),
		Receiver:  receiver.Hex(),
		Amount:    amount.Uint64(),
		Hashlock:  hashlock[:],
		Deadline:  time.Unix(deadline.Int64(), 0),
		Withdrawn: withdrawn,
		Refunded:  refunded,
	}
	if withdrawn {
		lock.Preimage = preimage[:]
	}
	return lock, nil
}

// Contract event shapes for UnpackLog.
type lockCreatedEvent struct {
	LockId   [32]byte
	Sender   common.Address
	Receiver common.Address
	Amount   *big.Int
	Hashlock [32]byte
	Deadline *big.Int
	Raw      types.Log
}

type lockWithdrawnEvent struct {
	LockId   [32]byte
	Preimage [32]byte
	Raw      types.Log
}

type lockRefundedEvent struct {
	LockId [32]byte
	Raw    types.Log
}

// SubscribeLockEvents watches the contract's lock events and streams them as
// chain-agnostic LockEvents until ctx is cancelled.
func (a *Adapter) SubscribeLockEvents(ctx context.Context) (<-chan ledger.LockEvent, error) {
	const op = "evm.SubscribeLockEvents"

	opts := &bind.WatchOpts{Context: ctx}

	createdCh, createdSub, err := a.contract.WatchLogs(opts, "LockCreated")
	if err != nil {
		return nil, a.classify(op, err)
	}
	withdrawnCh, withdrawnSub, err := a.contract.WatchLogs(opts, "LockWithdrawn")
	if err != nil {
		createdSub.Unsubscribe()
		return nil, a.classify(op, err)
	}
	refundedCh, refundedSub, err := a.contract.WatchLogs(opts, "LockRefunded")
	if err != nil {
		createdSub.Unsubscribe()
		withdrawnSub.Unsubscribe()
		return nil, a.classify(op, err)
	}

	out := make(chan ledger.LockEvent, 64)

	go func() {
		defer close(out)
		defer createdSub.Unsubscribe()
		defer withdrawnSub.Unsubscribe()
		defer refundedSub.Unsubscribe()

		for {
			select {
			case vlog := <-createdCh:
				var ev lockCreatedEvent
				if err := a.contract.UnpackLog(&ev, "LockCreated", vlog); err != nil {
					a.log.Warn("unpack LockCreated failed", "err", err)
					continue
				}
				out <- ledger.LockEvent{
					Chain:  a.chain,
					LockID: common.Hash(ev.LockId).Hex(),
					Kind:   ledger.EventLockCreated,
					Height: vlog.BlockNumber,
					TxRef:  ledger.TxRef(vlog.TxHash.Hex()),
				}
			case vlog := <-withdrawnCh:
				var ev lockWithdrawnEvent
				if err := a.contract.UnpackLog(&ev, "LockWithdrawn", vlog); err != nil {
					a.log.Warn("unpack LockWithdrawn failed", "err", err)
					continue
				}
				out <- ledger.LockEvent{
					Chain:    a.chain,
					LockID:   common.Hash(ev.LockId).Hex(),
					Kind:     ledger.EventLockWithdrawn,
					Height:   vlog.BlockNumber,
					TxRef:    ledger.TxRef(vlog.TxHash.Hex()),
					Preimage: append([]byte(nil), ev.Preimage[:]...),
				}
			case vlog := <-refundedCh:
				var ev lockRefundedEvent
				if err := a.contract.UnpackLog(&ev, "LockRefunded", vlog); err != nil {
					a.log.Warn("unpack LockRefunded failed", "err", err)
					continue
				}
				out <- ledger.LockEvent{
					Chain:  a.chain,
					LockID: common.Hash(ev.LockId).Hex(),
					Kind:   ledger.EventLockRefunded,
					Height: vlog.BlockNumber,
					TxRef:  ledger.TxRef(vlog.TxHash.Hex()),
				}
			case err := <-createdSub.Err():
				if err != nil {
					a.log.Error("LockCreated subscription failed", "err", err)
				}
				return
			case err := <-withdrawnSub.Err():
				if err != nil {
					a.log.Error("LockWithdrawn subscription failed", "err", err)
				}
				return
			case err := <-refundedSub.Err():
				if err != nil {
					a.log.Error("LockRefunded subscription failed", "err", err)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// CurrentHeight returns the chain head block number.
func (a *Adapter) CurrentHeight(ctx context.Context) (uint64, error) {
	const op = "evm.CurrentHeight"

	height, err := a.client.BlockNumber(ctx)
	if err != nil {
		return 0, a.classify(op, err)
	}
	return height, nil
}

// TxHeight returns the block number a transaction was mined in.
func (a *Adapter) TxHeight(ctx context.Context, ref ledger.TxRef) (uint64, error) {
	const op = "evm.TxHeight"

	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(string(ref)))
	if err != nil {
		return 0, a.classify(op, err)
	}
	return receipt.BlockNumber.Uint64(), nil
}

func (a *Adapter) newTransactor(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(a.key, a.chainID)
	if err != nil {
		return nil, ledger.Errorf(ledger.KindValidation, "evm.newTransactor", "create transactor: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}

// classify maps go-ethereum errors onto ledger error kinds.
func (a *Adapter) classify(op string, err error) error {
	switch {
	case errors.Is(err, ethereum.NotFound):
		return ledger.NewError(ledger.KindNotFound, op, err)
	case isRevert(err):
		// The contract rejected the call: the lock is in a conflicting
		// state or the inputs failed its checks. The coordinator
		// reconciles by re-reading the lock.
		return ledger.NewError(ledger.KindConflict, op, err)
	default:
		return ledger.NewError(ledger.KindTransient, op, err)
	}
}

func isRevert(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "revert") || strings.Contains(msg, "execution reverted")
}
