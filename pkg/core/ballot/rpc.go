package ballot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// erc1271MagicValue is returned by isValidSignature for a valid signature
var erc1271MagicValue = []byte{0x16, 0x26, 0xba, 0x7e}

const erc1271ABI = `[{"type":"function","name":"isValidSignature","stateMutability":"view",
"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],
"outputs":[{"name":"magicValue","type":"bytes4"}]}]`

var erc1271 = mustParseABI(erc1271ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC-1271 ABI: %v", err))
	}
	return parsed
}

// ContractCaller is the subset of an Ethereum JSON-RPC client needed for ERC-1271 checks
type ContractCaller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCOptions configures the remote verifier
type RPCOptions struct {
	// CallTimeout bounds each RPC round-trip
	CallTimeout time.Duration

	// RequestsPerSecond rate-limits RPC calls; zero disables limiting
	RequestsPerSecond float64

	// FailureThreshold is the number of consecutive RPC failures that opens the breaker
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

// RPCVerifier accepts both externally owned accounts and smart-contract wallets.
//
// Signatures are first recovered locally. If that fails and the address holds contract
// code, the contract's ERC-1271 isValidSignature is consulted over JSON-RPC.
type RPCVerifier struct {
	caller  ContractCaller
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewRPCVerifier wraps caller with a rate limiter and circuit breaker
func NewRPCVerifier(caller ContractCaller, opts RPCOptions, logger *zap.Logger) *RPCVerifier {
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}

	settings := gobreaker.Settings{
		Name:    "signature-rpc",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isExecutionRevert(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &RPCVerifier{
		caller:  caller,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: limiter,
		timeout: opts.CallTimeout,
		logger:  logger,
	}
}

// DialRPCVerifier connects to an Ethereum JSON-RPC endpoint. The returned func closes the connection.
func DialRPCVerifier(ctx context.Context, rpcURL string, opts RPCOptions, logger *zap.Logger) (*RPCVerifier, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	return NewRPCVerifier(client, opts, logger), client.Close, nil
}

// Verify implements Verifier
func (v *RPCVerifier) Verify(ctx context.Context, address string, message []byte, signature string) (bool, error) {
	sig, err := DecodeSignature(signature)
	if err != nil {
		return false, nil
	}

	account := common.HexToAddress(address)
	if recovered, err := RecoverAddress(message, sig); err == nil && recovered == account {
		return true, nil
	}

	code, err := v.call(ctx, func(callCtx context.Context) ([]byte, error) {
		return v.caller.CodeAt(callCtx, account, nil)
	})
	if err != nil {
		return false, fmt.Errorf("failed to fetch code for %s: %w", address, err)
	}
	if len(code) == 0 {
		// Plain account and local recovery already failed
		return false, nil
	}

	var hash [32]byte
	copy(hash[:], HashMessage(message))
	data, err := erc1271.Pack("isValidSignature", hash, sig)
	if err != nil {
		return false, fmt.Errorf("failed to encode isValidSignature call: %w", err)
	}

	out, err := v.call(ctx, func(callCtx context.Context) ([]byte, error) {
		return v.caller.CallContract(callCtx, ethereum.CallMsg{To: &account, Data: data}, nil)
	})
	if err != nil {
		// A reverting wallet contract rejects the signature; it is not an outage
		if isExecutionRevert(err) {
			v.logger.Debug("isValidSignature reverted", zap.String("address", address), zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("isValidSignature call for %s failed: %w", address, err)
	}

	return len(out) >= len(erc1271MagicValue) && bytes.Equal(out[:len(erc1271MagicValue)], erc1271MagicValue), nil
}

// call runs fn under the rate limiter, per-call timeout and circuit breaker
func (v *RPCVerifier) call(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx := ctx
	if v.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	res, err := v.breaker.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func isExecutionRevert(err error) bool {
	var dataErr interface{ ErrorData() interface{} }
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
