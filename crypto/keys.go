package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// AddressLength is the byte length of an account address.
const AddressLength = 20

// ZeroAddress is the null account. It never owns keys and is rejected
// wherever a real participant is required.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey wraps a secp256k1 public key.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// GenerateKeyPair generates a new secp256k1 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return PrivateKey{key: k}, PublicKey{key: k.PubKey()}, nil
}

// Public derives the public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey{key: priv.key.PubKey()}
}

// Bytes returns the 32-byte scalar.
func (priv PrivateKey) Bytes() []byte {
	return priv.key.Serialize()
}

// Hex returns the hex-encoded private key.
func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv.Bytes())
}

// Address derives the account address of the key's public half.
func (priv PrivateKey) Address() string {
	return priv.Public().Address()
}

// Address returns the 0x-prefixed account address: the last 20 bytes of
// Keccak-256 over the uncompressed public key without its 0x04 prefix.
func (pub PublicKey) Address() string {
	raw := pub.key.SerializeUncompressed()
	h := Keccak256(raw[1:])
	return "0x" + hex.EncodeToString(h[len(h)-AddressLength:])
}

// Hex returns the hex-encoded compressed public key.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub.key.SerializeCompressed())
}

// PubKeyFromHex decodes a hex-encoded compressed or uncompressed public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	k, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse pubkey: %w", err)
	}
	return PublicKey{key: k}, nil
}

// PrivKeyFromHex decodes a hex-encoded 32-byte private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("invalid privkey hex: %w", err)
	}
	return PrivKeyFromBytes(b)
}

// PrivKeyFromBytes wraps a raw 32-byte scalar.
func PrivKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != secp256k1.PrivKeyBytesLen {
		return PrivateKey{}, fmt.Errorf("privkey must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(b))
	}
	return PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// AddressBytes decodes a 0x-prefixed address into its 20 raw bytes.
func AddressBytes(addr string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if len(b) != AddressLength {
		return nil, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	return b, nil
}

// NormalizeAddress validates addr and returns its canonical lowercase form.
// The empty string normalises to ZeroAddress.
func NormalizeAddress(addr string) (string, error) {
	if addr == "" {
		return ZeroAddress, nil
	}
	b, err := AddressBytes(addr)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

// IsZeroAddress reports whether addr is empty or the null account.
func IsZeroAddress(addr string) bool {
	return addr == "" || strings.EqualFold(addr, ZeroAddress)
}
