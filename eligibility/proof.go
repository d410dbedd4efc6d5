package eligibility

import (
	"bytes"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/arbo"

	"github.com/scrutin-io/scrutin-node/types"
)

// bindingDomain separates the proof binding hash from every other keccak use
// in the node.
var bindingDomain = []byte("scrutin/eligibility-binding/v1")

// Proof is a set-membership proof against a published eligibility root,
// tagged with the commitment it was generated for.
type Proof struct {
	Root     types.HexBytes `json:"root"`
	Key      types.HexBytes `json:"key"`
	Value    types.HexBytes `json:"value"`
	Siblings types.HexBytes `json:"siblings"`
	// Binding tags the proof with the commitment it was generated for, so
	// a stored or relayed proof cannot be attached to another commitment
	// by accident. It is computed from public proof fields only: an
	// adversary holding the proof can recompute it for a commitment of
	// their own. Cryptographic non-malleability needs a scheme whose
	// proofs involve voter-held secrets; this one does not claim it.
	Binding types.HexBytes `json:"binding"`
}

// Prover produces eligibility proofs for a voter against a published root.
type Prover interface {
	Prove(voterID []byte, root types.HexBytes, commitment types.HexBytes) (*Proof, error)
}

// Verifier checks eligibility proofs. Implementations must never accept an
// invalid proof: verification failure is reported as
// types.ErrEligibilityRejected.
type Verifier interface {
	VerifyForCommitment(proof *Proof, root types.HexBytes, commitment types.HexBytes) error
}

// MerkleProofScheme is the census-backed Prover/Verifier pair.
type MerkleProofScheme struct {
	censuses *CensusDB
}

var (
	_ Prover   = (*MerkleProofScheme)(nil)
	_ Verifier = (*MerkleProofScheme)(nil)
)

// NewMerkleProofScheme builds the scheme over a census database.
func NewMerkleProofScheme(censuses *CensusDB) *MerkleProofScheme {
	return &MerkleProofScheme{censuses: censuses}
}

// Prove generates a membership proof for voterID against the census with the
// given root, bound to the provided commitment.
func (s *MerkleProofScheme) Prove(voterID []byte, root, commitment types.HexBytes) (*Proof, error) {
	ref, err := s.censuses.ByRoot(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEligibilityRejected, err)
	}
	key, err := VoterKey(voterID)
	if err != nil {
		return nil, err
	}
	value, siblings, err := ref.genProof(key)
	if err != nil {
		return nil, err
	}
	proof := &Proof{
		Root:     append(types.HexBytes(nil), root...),
		Key:      key,
		Value:    value,
		Siblings: siblings,
	}
	proof.Binding = bindProof(proof, commitment)
	return proof, nil
}

// VerifyForCommitment checks the proof against the expected root and the
// commitment it claims to authorize. Any failed check, including a stale
// binding carried over from a different commitment, yields
// types.ErrEligibilityRejected. See the Binding field for what the binding
// check does and does not guarantee.
func (s *MerkleProofScheme) VerifyForCommitment(proof *Proof, root, commitment types.HexBytes) error {
	if proof == nil {
		return fmt.Errorf("%w: nil proof", types.ErrEligibilityRejected)
	}
	if !proof.Root.Equal(root) {
		return fmt.Errorf("%w: proof root does not match session root", types.ErrEligibilityRejected)
	}
	if !bytes.Equal(proof.Binding, bindProof(proof, commitment)) {
		return fmt.Errorf("%w: proof not bound to this commitment", types.ErrEligibilityRejected)
	}
	valid, err := arbo.CheckProof(censusHashFunction, proof.Key, proof.Value, proof.Root, proof.Siblings)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrEligibilityRejected, err)
	}
	if !valid {
		return fmt.Errorf("%w: membership proof does not verify", types.ErrEligibilityRejected)
	}
	return nil
}

func bindProof(proof *Proof, commitment types.HexBytes) types.HexBytes {
	return ethcrypto.Keccak256(bindingDomain, proof.Root, proof.Key, proof.Value, proof.Siblings, commitment)
}
