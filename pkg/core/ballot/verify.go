package ballot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/jakechorley/retrofunding/pkg/core/model"
)

// ErrInvalidSignature is returned when a ballot was not signed by its claimed address
var ErrInvalidSignature = errors.New("invalid ballot signature")

// signatureLength is r (32) + s (32) + v (1)
const signatureLength = 65

// Verifier confirms that message was signed by address
type Verifier interface {
	Verify(ctx context.Context, address string, message []byte, signature string) (bool, error)
}

// SignatureError identifies the ballot that failed verification
type SignatureError struct {
	Address string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%v for %s", ErrInvalidSignature, e.Address)
}

func (e *SignatureError) Unwrap() error {
	return ErrInvalidSignature
}

// HashMessage returns the EIP-191 personal message hash of message
func HashMessage(message []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d", len(message))
	h.Write(message)
	return h.Sum(nil)
}

// RecoverAddress recovers the account that produced an EIP-191 signature over message.
// The recovery byte may be 0/1 or 27/28.
func RecoverAddress(message []byte, signature []byte) (common.Address, error) {
	if len(signature) != signatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(signature))
	}

	sig := make([]byte, signatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", signature[64])
	}

	pub, err := crypto.SigToPub(HashMessage(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DecodeSignature parses a 0x-prefixed hex signature
func DecodeSignature(signature string) ([]byte, error) {
	sig := strings.TrimSpace(signature)
	if !strings.HasPrefix(sig, "0x") && !strings.HasPrefix(sig, "0X") {
		sig = "0x" + sig
	}
	return hexutil.Decode(sig)
}

// ECDSAVerifier verifies externally-owned-account signatures locally
type ECDSAVerifier struct{}

// Verify reports whether signature recovers to address. Unparseable signatures are invalid, not errors.
func (ECDSAVerifier) Verify(_ context.Context, address string, message []byte, signature string) (bool, error) {
	sig, err := DecodeSignature(signature)
	if err != nil {
		return false, nil
	}
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		return false, nil
	}
	return recovered == common.HexToAddress(address), nil
}

// VerifyOptions bounds the parallel verification of a batch
type VerifyOptions struct {
	// Concurrency limits in-flight verifications; zero means unlimited
	Concurrency int

	// Timeout is the deadline for the whole batch; zero means none
	Timeout time.Duration
}

// VerifyAll checks every ballot signature against the exact payload bytes.
//
// Any invalid signature fails the whole batch: the first failure cancels outstanding
// checks and is returned. Nothing is returned for the ballots that did verify.
func VerifyAll(ctx context.Context, records []model.BallotRecord, verifier Verifier, opts VerifyOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for _, record := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			ok, err := verifier.Verify(gctx, record.Address, []byte(record.PayloadJSON), record.Signature)
			if err != nil {
				return fmt.Errorf("failed to verify ballot %s: %w", record.Address, err)
			}
			if !ok {
				return &SignatureError{Address: record.Address}
			}
			return nil
		})
	}

	return g.Wait()
}
