package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignatureLength is the size of a recoverable [R || S || V] signature.
const SignatureLength = 65

// ErrInvalidSignature is returned when a signature cannot be decoded or
// does not recover to the expected signer.
var ErrInvalidSignature = errors.New("invalid signature")

// SignHash signs a 32-byte digest and returns the [R || S || V] signature
// with V in {0, 1}.
func SignHash(priv PrivateKey, digest []byte) []byte {
	compact := ecdsa.SignCompact(priv.key, digest, false)
	// compact is [27+V || R || S]
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return sig
}

// RecoverAddress returns the address whose key produced sig over digest.
// V may be encoded as 0/1 or 27/28. S must lie in the lower half of the
// curve order, so every message has a single valid signature per key.
func RecoverAddress(digest, sig []byte) (string, error) {
	if len(sig) != SignatureLength {
		return "", fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsOverHalfOrder() {
		return "", fmt.Errorf("%w: s value out of lower half order", ErrInvalidSignature)
	}
	compact := make([]byte, SignatureLength)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return publicKeyAddress(pub), nil
}

func publicKeyAddress(pub *secp256k1.PublicKey) string {
	return PublicKey{key: pub}.Address()
}

// Sign signs data (hashed with SHA-256) and returns a hex signature.
func Sign(priv PrivateKey, data []byte) string {
	return hex.EncodeToString(SignHash(priv, HashBytes(data)))
}

// Verify checks that sigHex over data was produced by the key behind address.
func Verify(address string, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	signer, err := RecoverAddress(HashBytes(data), sig)
	if err != nil {
		return err
	}
	want, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	if signer != want {
		return errors.New("signature verification failed")
	}
	return nil
}

// PersonalMessageHash wraps msg in the "personal sign" prefix convention:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func PersonalMessageHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return Keccak256([]byte(prefix), msg)
}

// AddressConsentHash is the digest a referrer signs to vouch for player:
// the personal-sign hash of keccak256(player address bytes).
func AddressConsentHash(player string) ([]byte, error) {
	raw, err := AddressBytes(player)
	if err != nil {
		return nil, err
	}
	return PersonalMessageHash(Keccak256(raw)), nil
}

// SignAddressConsent produces the referrer signature binding player.
func SignAddressConsent(priv PrivateKey, player string) ([]byte, error) {
	digest, err := AddressConsentHash(player)
	if err != nil {
		return nil, err
	}
	return SignHash(priv, digest), nil
}

// RecoverAddressConsent returns the signer of a consent over player.
func RecoverAddressConsent(player string, sig []byte) (string, error) {
	digest, err := AddressConsentHash(player)
	if err != nil {
		return "", err
	}
	return RecoverAddress(digest, sig)
}
