// Package treasury handles all blockchain interactions for MNEE transfers.
package treasury

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/treasurer/internal/mnee"
	"github.com/mbd888/treasurer/internal/syncutil"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey = errors.New("treasury: invalid private key")
	ErrInvalidAddress    = errors.New("treasury: invalid address")
	ErrInvalidAmount     = errors.New("treasury: invalid amount")
	ErrTransactionFailed = errors.New("treasury: transaction failed")
	ErrTimeout           = errors.New("treasury: operation timed out")
	ErrRPCConnection     = errors.New("treasury: RPC connection failed")
)

// TransferError wraps transfer failures with the failing operation.
type TransferError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *TransferError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("treasury: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("treasury: %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// rejectionMarkers are node responses that mean the transaction itself is
// bad. Resubmitting an identical payload can never succeed, so these are
// classified permanent.
var rejectionMarkers = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"insufficient funds",
	"intrinsic gas too low",
	"invalid sender",
	"already known",
	"exceeds block gas limit",
}

// IsTransient reports whether err is worth retrying: timeouts and transport
// failures are; node rejections of the transaction payload are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRPCConnection) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	// Unrecognized RPC failures (connection resets, 5xx gateways, malformed
	// responses) default to transient: the reservation is still open and a
	// clean retry is safe until a broadcast succeeds.
	return true
}

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// EthClient abstracts go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Service combines the chain operations the payment flow needs.
type Service interface {
	Address() string
	Balance(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
	PendingSequence(ctx context.Context) (uint64, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*TransferResult, error)
	Close() error
}

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// ERC20 minimal ABI for transfer and balanceOf
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const (
	// DefaultGasLimit for ERC20 transfers when estimation fails
	DefaultGasLimit = uint64(200000)
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for creating a new treasury
type Config struct {
	RPCURL       string
	PrivateKey   string // Hex string, 0x prefix optional
	ChainID      int64
	MNEEContract string
}

// Option configures the treasury
type Option func(*Treasury)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(t *Treasury) {
		t.client = client
	}
}

// TransferResult contains details of a broadcast transfer. Broadcast is the
// terminal success signal; block inclusion is not awaited.
type TransferResult struct {
	TxHash    string
	From      string
	To        string
	Amount    string // Human-readable MNEE amount
	AmountRaw *big.Int
	Nonce     uint64
}

// Treasury signs and broadcasts MNEE transfers from a single signing key.
type Treasury struct {
	client       EthClient
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	mneeContract common.Address
	mneeABI      abi.ABI

	// signerLocks serializes nonce acquisition + signing + broadcast per
	// signing address, so concurrent payments cannot race on a sequence
	// number. Distinct signing identities proceed in parallel.
	signerLocks *syncutil.KeyedMutex
}

// Compile-time interface check
var _ Service = (*Treasury)(nil)

// New creates a new Treasury instance
func New(cfg Config, opts ...Option) (*Treasury, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	t := &Treasury{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID:      big.NewInt(cfg.ChainID),
		mneeContract: common.HexToAddress(cfg.MNEEContract),
		mneeABI:      parsedABI,
		signerLocks:  &syncutil.KeyedMutex{},
	}

	for _, opt := range opts {
		opt(t)
	}

	// Connect to RPC if no client provided
	if t.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		t.client = client
	}

	return t, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if cfg.MNEEContract == "" {
		return fmt.Errorf("MNEE contract address required")
	}
	return nil
}

// Address returns the signing account's address
func (t *Treasury) Address() string {
	return t.address.Hex()
}

// Balance returns the treasury's own MNEE balance in raw units
func (t *Treasury) Balance(ctx context.Context) (*big.Int, error) {
	return t.BalanceOf(ctx, t.address)
}

// BalanceOf returns the MNEE balance of any address in raw units
func (t *Treasury) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	data, err := t.mneeABI.Pack("balanceOf", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := t.client.CallContract(ctx, ethereum.CallMsg{
		To:   &t.mneeContract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	balance := new(big.Int)
	balance.SetBytes(result)
	return balance, nil
}

// PendingSequence returns the next transaction sequence number for the
// signing account. Callers inside a transfer never use this directly;
// Transfer acquires the nonce under the signer lock.
func (t *Treasury) PendingSequence(ctx context.Context) (uint64, error) {
	return t.client.PendingNonceAt(ctx, t.address)
}

// Transfer sends MNEE to a recipient and returns once the transaction is
// broadcast. The whole nonce → sign → broadcast sequence runs inside the
// signing key's critical section.
func (t *Treasury) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*TransferResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", ErrInvalidAmount)
	}

	data, err := t.mneeABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, &TransferError{Op: "pack", Err: err}
	}

	unlock, err := t.signerLocks.Lock(ctx, strings.ToLower(t.address.Hex()))
	if err != nil {
		return nil, &TransferError{Op: "signer_lock", Err: err}
	}
	defer unlock()

	nonce, err := t.client.PendingNonceAt(ctx, t.address)
	if err != nil {
		return nil, &TransferError{Op: "nonce", Err: err}
	}

	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TransferError{Op: "gas_price", Err: err}
	}

	gasLimit, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.address,
		To:    &t.mneeContract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, t.mneeContract, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(t.chainID), t.privateKey)
	if err != nil {
		return nil, &TransferError{Op: "sign", Err: err}
	}

	if err := t.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &TransferError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	return &TransferResult{
		TxHash:    signedTx.Hash().Hex(),
		From:      t.address.Hex(),
		To:        to.Hex(),
		Amount:    mnee.Format(amount),
		AmountRaw: amount,
		Nonce:     nonce,
	}, nil
}

// Close closes the client connection
func (t *Treasury) Close() error {
	if t.client != nil {
		t.client.Close()
	}
	return nil
}
