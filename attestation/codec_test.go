package attestation

import (
	"math/big"
	"testing"

	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/stretchr/testify/require"

	"github.com/zpoken/zkv-attestation-relay/types"
)

func testVerificationKey() types.VerificationKey {
	g1 := []string{"1", "2", "1"}
	g2 := [][]string{{"3", "4"}, {"5", "6"}, {"1", "0"}}
	return types.VerificationKey{
		Protocol: types.ProtocolGroth16,
		Curve:    types.CurveBN128,
		NPublic:  1,
		VkAlpha1: g1,
		VkBeta2:  g2,
		VkGamma2: g2,
		VkDelta2: g2,
		IC:       [][]string{g1, g1},
	}
}

func TestLittleEndian(t *testing.T) {
	out := littleEndian(big.NewInt(0x0102))
	require.Len(t, out, fieldSize)
	require.Equal(t, byte(0x02), out[0])
	require.Equal(t, byte(0x01), out[1])
	for _, b := range out[2:] {
		require.Zero(t, b)
	}
}

func TestParseField(t *testing.T) {
	_, err := parseField("-1")
	require.Error(t, err)
	_, err = parseField("0x10")
	require.Error(t, err)
	_, err = parseField(new(big.Int).Lsh(big.NewInt(1), 256).String())
	require.Error(t, err)

	n, err := parseField("42")
	require.NoError(t, err)
	require.Equal(t, int64(42), n.Int64())
}

func TestEncodeProof(t *testing.T) {
	proof := types.Groth16Proof{
		PiA:      []string{"1", "2", "1"},
		PiB:      [][]string{{"3", "4"}, {"5", "6"}, {"1", "0"}},
		PiC:      []string{"7", "8", "1"},
		Protocol: types.ProtocolGroth16,
		Curve:    types.CurveBN128,
	}
	encoded, err := encodeProof(proof)
	require.NoError(t, err)
	require.Equal(t, curveBn254, encoded.Curve)
	require.Len(t, encoded.A, 2*fieldSize)
	require.Len(t, encoded.B, 4*fieldSize)
	require.Len(t, encoded.C, 2*fieldSize)
	// G2 coordinates keep the snarkjs (x0, x1, y0, y1) order
	require.Equal(t, byte(3), encoded.B[0])
	require.Equal(t, byte(6), encoded.B[3*fieldSize])

	proof.PiB = [][]string{{"3"}}
	_, err = encodeProof(proof)
	require.Error(t, err)
}

func TestEncodeVk(t *testing.T) {
	vk := testVerificationKey()
	encoded, err := encodeVk(vk)
	require.NoError(t, err)
	require.Len(t, encoded.GammaAbcG1, 2)

	vk.Curve = "bls12381"
	_, err = encodeVk(vk)
	require.Error(t, err)
}

func TestVkOrHashEncoding(t *testing.T) {
	hash := gstypes.NewH256(make([]byte, 32))
	hash[0] = 0xaa
	out, err := codec.Encode(vkOrHash{IsHash: true, Hash: hash})
	require.NoError(t, err)
	require.Len(t, out, 33)
	require.Equal(t, byte(1), out[0])
	require.Equal(t, byte(0xaa), out[1])

	vk, err := encodeVk(testVerificationKey())
	require.NoError(t, err)
	out, err = codec.Encode(vkOrHash{Vk: vk})
	require.NoError(t, err)
	require.Equal(t, byte(0), out[0])
	require.Equal(t, byte(curveBn254), out[1])
}

func TestEncodePublicSignals(t *testing.T) {
	out, err := encodePublicSignals([]*big.Int{big.NewInt(5)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, byte(5), out[0][0])

	_, err = encodePublicSignals([]*big.Int{nil})
	require.Error(t, err)
}

func TestConvertStatus(t *testing.T) {
	block := gstypes.NewHash([]byte{1, 2, 3})
	status, ok := convertStatus(gstypes.ExtrinsicStatus{IsFinalized: true, AsFinalized: block})
	require.True(t, ok)
	require.Equal(t, StatusFinalized, status.Kind)
	require.Equal(t, block[:], status.Block.Bytes())

	_, ok = convertStatus(gstypes.ExtrinsicStatus{IsBroadcast: true})
	require.False(t, ok)
}
