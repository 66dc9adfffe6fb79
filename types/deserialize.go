package types

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerificationKey is a Groth16 verification key in the snarkjs JSON layout.
type VerificationKey struct {
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
	NPublic  int        `json:"nPublic"`
	VkAlpha1 []string   `json:"vk_alpha_1"`
	VkBeta2  [][]string `json:"vk_beta_2"`
	VkGamma2 [][]string `json:"vk_gamma_2"`
	VkDelta2 [][]string `json:"vk_delta_2"`
	IC       [][]string `json:"IC"`
}

func (vk *VerificationKey) Validate() error {
	if vk.Protocol != ProtocolGroth16 {
		return fmt.Errorf("unsupported protocol %q", vk.Protocol)
	}
	if len(vk.IC) != vk.NPublic+1 {
		return fmt.Errorf("expected %d IC points, got %d", vk.NPublic+1, len(vk.IC))
	}
	return nil
}

func ReadVerificationKey(path string) (VerificationKey, error) {
	var vk VerificationKey
	if err := readJSON(path, &vk); err != nil {
		return VerificationKey{}, fmt.Errorf("failed to read verification key: %w", err)
	}
	if err := vk.Validate(); err != nil {
		return VerificationKey{}, fmt.Errorf("invalid verification key %s: %w", path, err)
	}
	return vk, nil
}

func ReadVerificationKeyFromRequest(data []byte) (VerificationKey, error) {
	var vk VerificationKey
	if err := json.Unmarshal(data, &vk); err != nil {
		return VerificationKey{}, err
	}
	return vk, vk.Validate()
}

func ReadProofArtifact(path string) (ProofArtifact, error) {
	var artifact ProofArtifact
	if err := readJSON(path, &artifact); err != nil {
		return ProofArtifact{}, fmt.Errorf("failed to read proof artifact: %w", err)
	}
	return artifact, artifact.Validate()
}

func WriteVerificationKey(path string, vk VerificationKey) error {
	vkFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer vkFile.Close()

	enc := json.NewEncoder(vkFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(vk); err != nil {
		return fmt.Errorf("failed to write verification key: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	jsonFile, err := os.Open(path)
	if err != nil {
		return err
	}

	defer jsonFile.Close()
	rawBytes, err := io.ReadAll(jsonFile)
	if err != nil {
		return err
	}

	return json.Unmarshal(rawBytes, v)
}
