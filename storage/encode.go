package storage

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeArtifact encodes an artifact into deterministic CBOR. Determinism
// matters for content hashes: the same artifact must always encode to the
// same bytes.
func EncodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

// DecodeArtifact decodes a CBOR-encoded artifact into the provided output
// variable.
func DecodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// EncodeArtifactJSON encodes an artifact into JSON, used for exported audit
// bundles that third parties consume.
func EncodeArtifactJSON(a any) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// DecodeArtifactJSON decodes a JSON-encoded artifact into the provided
// output variable.
func DecodeArtifactJSON(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
