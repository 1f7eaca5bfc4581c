package ballot

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var walletAddress = common.HexToAddress("0x5afe5afe5afe5afe5afe5afe5afe5afe5afe5afe")

type revertError struct{}

func (revertError) Error() string          { return "execution reverted" }
func (revertError) ErrorData() interface{} { return "0x" }

type fakeCaller struct {
	mu        sync.Mutex
	code      map[common.Address][]byte
	result    []byte
	callErr   error
	codeErr   error
	codeCalls int
	calls     []ethereum.CallMsg
}

func (f *fakeCaller) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeCalls++
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return f.code[account], nil
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func paddedMagic() []byte {
	out := make([]byte, 32)
	copy(out, erc1271MagicValue)
	return out
}

// walletRecord is a ballot claimed by walletAddress but signed by one of its owner keys
func walletRecord(t *testing.T) (string, []byte, string) {
	t.Helper()
	record := signedRecord(t, newKey(t), `{"allocations":[{"m":100}]}`)
	return walletAddress.Hex(), []byte(record.PayloadJSON), record.Signature
}

func TestRPCVerifier_EOASkipsRPC(t *testing.T) {
	caller := &fakeCaller{}
	verifier := NewRPCVerifier(caller, RPCOptions{}, zap.NewNop())
	record := signedRecord(t, newKey(t), `{"allocations":[{"m":100}]}`)

	ok, err := verifier.Verify(context.Background(), record.Address, []byte(record.PayloadJSON), record.Signature)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, caller.codeCalls)
	assert.Empty(t, caller.calls)
}

func TestRPCVerifier_SmartWallet(t *testing.T) {
	caller := &fakeCaller{
		code:   map[common.Address][]byte{walletAddress: {0x60, 0x80}},
		result: paddedMagic(),
	}
	verifier := NewRPCVerifier(caller, RPCOptions{CallTimeout: time.Second}, zap.NewNop())
	address, message, signature := walletRecord(t)

	ok, err := verifier.Verify(context.Background(), address, message, signature)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, caller.calls, 1)
	call := caller.calls[0]
	assert.Equal(t, walletAddress, *call.To)
	assert.True(t, bytes.HasPrefix(call.Data, erc1271.Methods["isValidSignature"].ID))

	args, err := erc1271.Methods["isValidSignature"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	hash := args[0].([32]byte)
	assert.Equal(t, HashMessage(message), hash[:])
}

func TestRPCVerifier_WrongMagic(t *testing.T) {
	caller := &fakeCaller{
		code:   map[common.Address][]byte{walletAddress: {0x60}},
		result: make([]byte, 32),
	}
	verifier := NewRPCVerifier(caller, RPCOptions{}, zap.NewNop())
	address, message, signature := walletRecord(t)

	ok, err := verifier.Verify(context.Background(), address, message, signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRPCVerifier_NoCodeIsInvalid(t *testing.T) {
	caller := &fakeCaller{}
	verifier := NewRPCVerifier(caller, RPCOptions{}, zap.NewNop())
	address, message, signature := walletRecord(t)

	ok, err := verifier.Verify(context.Background(), address, message, signature)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, caller.codeCalls)
	assert.Empty(t, caller.calls)
}

func TestRPCVerifier_RevertIsInvalid(t *testing.T) {
	caller := &fakeCaller{
		code:    map[common.Address][]byte{walletAddress: {0x60}},
		callErr: revertError{},
	}
	verifier := NewRPCVerifier(caller, RPCOptions{}, zap.NewNop())
	address, message, signature := walletRecord(t)

	ok, err := verifier.Verify(context.Background(), address, message, signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRPCVerifier_TransportErrorIsReturned(t *testing.T) {
	caller := &fakeCaller{codeErr: errors.New("connection refused")}
	verifier := NewRPCVerifier(caller, RPCOptions{}, zap.NewNop())
	address, message, signature := walletRecord(t)

	_, err := verifier.Verify(context.Background(), address, message, signature)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRPCVerifier_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	caller := &fakeCaller{codeErr: errors.New("connection refused")}
	verifier := NewRPCVerifier(caller, RPCOptions{FailureThreshold: 2, OpenTimeout: time.Minute}, zap.NewNop())
	address, message, signature := walletRecord(t)

	for i := 0; i < 2; i++ {
		_, err := verifier.Verify(context.Background(), address, message, signature)
		require.Error(t, err)
	}

	_, err := verifier.Verify(context.Background(), address, message, signature)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, caller.codeCalls)
}

func TestRPCVerifier_MalformedSignature(t *testing.T) {
	caller := &fakeCaller{}
	verifier := NewRPCVerifier(caller, RPCOptions{}, zap.NewNop())

	ok, err := verifier.Verify(context.Background(), walletAddress.Hex(), []byte("{}"), "not-hex")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, caller.codeCalls)
}

func TestRPCVerifier_RateLimitHonoursContext(t *testing.T) {
	caller := &fakeCaller{code: map[common.Address][]byte{}}
	verifier := NewRPCVerifier(caller, RPCOptions{RequestsPerSecond: 0.001}, zap.NewNop())
	address, message, signature := walletRecord(t)

	// First call consumes the single burst token
	_, err := verifier.Verify(context.Background(), address, message, signature)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = verifier.Verify(ctx, address, message, signature)
	assert.Error(t, err)
}
