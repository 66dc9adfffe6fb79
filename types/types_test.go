package types

import (
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	err := errorsmod.Wrap(ErrQueryUnavailable, "connection reset")
	require.True(t, IsRetryable(err))
	require.Equal(t, ErrQueryUnavailable, Kind(err))

	wrapped := fmt.Errorf("fetching proof: %w", errorsmod.Wrap(ErrProofNotFound, "pruned"))
	require.False(t, IsRetryable(wrapped))
	require.Equal(t, ErrProofNotFound, Kind(wrapped))

	require.Nil(t, Kind(fmt.Errorf("plain")))
}

func TestAttestationRecord(t *testing.T) {
	require.True(t, AttestationRecord{}.IsZero())

	record := AttestationRecord{AttestationID: 7, LeafDigest: testLeaves(1)[0]}
	require.False(t, record.IsZero())
	require.Equal(t, big.NewInt(7), record.BigID())
}

func testArtifact() ProofArtifact {
	return ProofArtifact{
		Proof: Groth16Proof{
			PiA:      []string{"1", "2", "1"},
			PiB:      [][]string{{"3", "4"}, {"5", "6"}, {"1", "0"}},
			PiC:      []string{"7", "8", "1"},
			Protocol: ProtocolGroth16,
			Curve:    CurveBN128,
		},
		PublicSignals: []*big.Int{big.NewInt(42)},
	}
}

func TestProofArtifactRoundTrip(t *testing.T) {
	artifact := testArtifact()
	require.NoError(t, artifact.Validate())
	require.Equal(t, []string{"42"}, artifact.PublicSignalStrings())

	path := filepath.Join(t.TempDir(), "proof.json")
	require.NoError(t, artifact.Export(path))

	read, err := ReadProofArtifact(path)
	require.NoError(t, err)
	require.Equal(t, artifact.Proof, read.Proof)
	require.Zero(t, artifact.PublicSignals[0].Cmp(read.PublicSignals[0]))
}

func TestProofArtifactValidate(t *testing.T) {
	artifact := testArtifact()
	artifact.Proof.Protocol = "plonk"
	require.ErrorIs(t, artifact.Validate(), ErrInvalidArtifact)

	artifact = testArtifact()
	artifact.Proof.PiB = [][]string{{"1"}}
	require.ErrorIs(t, artifact.Validate(), ErrInvalidArtifact)

	artifact = testArtifact()
	artifact.PublicSignals = []*big.Int{big.NewInt(-1)}
	require.ErrorIs(t, artifact.Validate(), ErrInvalidArtifact)
}

func TestVerificationKeyFile(t *testing.T) {
	vk := VerificationKey{
		Protocol: ProtocolGroth16,
		Curve:    CurveBN128,
		NPublic:  1,
		VkAlpha1: []string{"1", "2", "1"},
		VkBeta2:  [][]string{{"1", "2"}, {"3", "4"}, {"1", "0"}},
		VkGamma2: [][]string{{"1", "2"}, {"3", "4"}, {"1", "0"}},
		VkDelta2: [][]string{{"1", "2"}, {"3", "4"}, {"1", "0"}},
		IC:       [][]string{{"1", "2", "1"}, {"3", "4", "1"}},
	}
	path := filepath.Join(t.TempDir(), "verification_key.json")
	require.NoError(t, WriteVerificationKey(path, vk))

	read, err := ReadVerificationKey(path)
	require.NoError(t, err)
	require.Equal(t, vk, read)

	vk.NPublic = 3
	require.NoError(t, WriteVerificationKey(path, vk))
	_, err = ReadVerificationKey(path)
	require.Error(t, err)
}
