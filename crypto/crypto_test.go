package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func TestKeccak256EmptyInput(t *testing.T) {
	require.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(Keccak256()))
}

func TestAddressOfKnownKey(t *testing.T) {
	priv, err := PrivKeyFromHex(strings.Repeat("0", 63) + "1")
	require.NoError(t, err)
	require.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", priv.Address())

	pub, err := PubKeyFromHex(priv.Public().Hex())
	require.NoError(t, err)
	require.Equal(t, priv.Address(), pub.Address())
}

func TestPrivKeyRoundTrip(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)
	back, err := PrivKeyFromHex(priv.Hex())
	require.NoError(t, err)
	require.Equal(t, priv.Address(), back.Address())

	_, err = PrivKeyFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", ZeroAddress, true},
		{"0x7E5F4552091A69125D5DFCB7B8C2659029395BDF", "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", true},
		{"7e5f4552091a69125d5dfcb7b8c2659029395bdf", "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", true},
		{"0x1234", "", false},
		{"0xzz5f4552091a69125d5dfcb7b8c2659029395bdf", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeAddress(tt.in)
		if !tt.ok {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}
	require.True(t, IsZeroAddress(""))
	require.True(t, IsZeroAddress(ZeroAddress))
	require.False(t, IsZeroAddress("0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"))
}

func TestSignVerify(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)
	other, _, err := GenerateKeyPair()
	require.NoError(t, err)

	sig := Sign(priv, []byte("block"))
	require.NoError(t, Verify(priv.Address(), []byte("block"), sig))
	require.NoError(t, Verify(strings.ToUpper(priv.Address()[2:]), []byte("block"), sig))
	require.Error(t, Verify(other.Address(), []byte("block"), sig))
	require.Error(t, Verify(priv.Address(), []byte("other"), sig))
	require.Error(t, Verify(priv.Address(), []byte("block"), "zz"))
}

func TestAddressConsent(t *testing.T) {
	referrer, _, err := GenerateKeyPair()
	require.NoError(t, err)
	player, _, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := SignAddressConsent(referrer, player.Address())
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	signer, err := RecoverAddressConsent(player.Address(), sig)
	require.NoError(t, err)
	require.Equal(t, referrer.Address(), signer)

	// 27/28 recovery ids are accepted too.
	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	signer, err = RecoverAddressConsent(player.Address(), legacy)
	require.NoError(t, err)
	require.Equal(t, referrer.Address(), signer)

	// A consent for one player does not vouch for another.
	if signer, err = RecoverAddressConsent(referrer.Address(), sig); err == nil {
		require.NotEqual(t, referrer.Address(), signer)
	}

	bad := append([]byte(nil), sig...)
	bad[64] = 5
	_, err = RecoverAddressConsent(player.Address(), bad)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = RecoverAddressConsent(player.Address(), sig[:64])
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPersonalMessageHashPrefix(t *testing.T) {
	msg := []byte("hello")
	want := Keccak256([]byte("\x19Ethereum Signed Message:\n5hello"))
	require.Equal(t, want, PersonalMessageHash(msg))
}

func TestRecoverRejectsHighS(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)
	digest := Keccak256([]byte("malleable"))
	sig := SignHash(priv, digest)

	signer, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	require.Equal(t, priv.Address(), signer)

	flipped := append([]byte(nil), sig...)
	var s secp256k1.ModNScalar
	s.SetByteSlice(flipped[32:64])
	require.False(t, s.IsOverHalfOrder(), "signer must produce low-s signatures")
	s.Negate()
	b := s.Bytes()
	copy(flipped[32:64], b[:])
	flipped[64] ^= 1

	_, err = RecoverAddress(digest, flipped)
	require.ErrorIs(t, err, ErrInvalidSignature)

	flipped[64] += 27
	_, err = RecoverAddress(digest, flipped)
	require.ErrorIs(t, err, ErrInvalidSignature)
}
