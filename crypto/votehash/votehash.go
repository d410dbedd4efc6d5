// Package votehash implements the pure hashing primitives of the
// commit-reveal scheme: salts, nullifiers and vote commitments. All functions
// are side-effect free and total over well-formed inputs; malformed input is
// a caller contract violation reported as types.ErrInvalidInput.
package votehash

import (
	"crypto/rand"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/scrutin-io/scrutin-node/types"
)

const (
	// DigestLen is the byte length of salts, secrets, nullifiers and
	// commitments.
	DigestLen = 32

	// ChoiceTagLen is the fixed width of the encoded choice fed into the
	// commitment hash.
	ChoiceTagLen = 32
)

// Domain separation tags. Keccak over distinct prefixes keeps nullifiers and
// commitments from ever colliding across uses of the same material.
var (
	nullifierDomain  = []byte("scrutin/nullifier/v1")
	commitmentDomain = []byte("scrutin/commitment/v1")
)

// Salt returns 32 bytes from a cryptographically secure source.
func Salt() (types.HexBytes, error) {
	b := make([]byte, DigestLen)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random salt: %w", err)
	}
	return b, nil
}

// Secret returns a fresh 32-byte voter secret. The secret feeds the
// nullifier, so a nullifier cannot be precomputed from voter and session
// identifiers alone.
func Secret() (types.HexBytes, error) {
	return Salt()
}

// Nullifier derives the one-time-use token binding a voter to a session.
// It is deterministic for a fixed (voterID, sessionID, secret) triple, so the
// same voter can reproduce it to detect self-duplication, but it cannot be
// derived without the secret.
func Nullifier(voterID []byte, sessionID types.SessionID, secret []byte) (types.HexBytes, error) {
	if len(voterID) == 0 {
		return nil, fmt.Errorf("%w: empty voter id", types.ErrInvalidInput)
	}
	if err := CheckDigest(secret); err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	return ethcrypto.Keccak256(nullifierDomain, voterID, sessionID.Bytes(), secret), nil
}

// ChoiceTag encodes a choice as a fixed-width, zero-padded tag. Choices
// longer than ChoiceTagLen bytes are rejected.
func ChoiceTag(choice string) ([]byte, error) {
	if choice == "" {
		return nil, fmt.Errorf("%w: empty choice", types.ErrInvalidInput)
	}
	if len(choice) > ChoiceTagLen {
		return nil, fmt.Errorf("%w: choice longer than %d bytes", types.ErrInvalidInput, ChoiceTagLen)
	}
	tag := make([]byte, ChoiceTagLen)
	copy(tag, choice)
	return tag, nil
}

// Commitment hashes the fixed-width choice tag, the salt and the nullifier
// into the value submitted to the ledger. A single-bit change in any input
// changes the output.
func Commitment(choice string, salt, nullifier []byte) (types.HexBytes, error) {
	tag, err := ChoiceTag(choice)
	if err != nil {
		return nil, err
	}
	if err := CheckDigest(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	if err := CheckDigest(nullifier); err != nil {
		return nil, fmt.Errorf("nullifier: %w", err)
	}
	return ethcrypto.Keccak256(commitmentDomain, tag, salt, nullifier), nil
}

// CheckDigest is the structural check for 32-byte values, run before any
// cryptographic operation so malformed input is distinguishable from
// cryptographic failure.
func CheckDigest(b []byte) error {
	if len(b) != DigestLen {
		return fmt.Errorf("%w: expected %d bytes, got %d", types.ErrInvalidInput, DigestLen, len(b))
	}
	return nil
}

// CheckCommitmentFormat validates the shape of a commitment value.
func CheckCommitmentFormat(commitment []byte) error {
	if err := CheckDigest(commitment); err != nil {
		return fmt.Errorf("commitment: %w", err)
	}
	return nil
}
