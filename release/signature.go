package release

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/zeebo/errs"
)

// SignatureError is the error class for signing/verification failures.
var SignatureError = errs.Class("signature")

// PublicKeySize and PrivateKeySize match the Ed25519 key sizes.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// PublicKey is an Ed25519 public key, distributed out-of-band to clients.
type PublicKey [PublicKeySize]byte

// PrivateKey is an Ed25519 private key, exclusively owned by the server.
type PrivateKey [PrivateKeySize]byte

// Signature is a detached Ed25519 signature over a canonical byte sequence.
type Signature [SignatureSize]byte

// String returns the lowercase hex form of the public key.
func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }

// String returns the lowercase hex form of the signature.
func (s Signature) String() string { return hex.EncodeToString(s[:]) }

// ParsePublicKey decodes a lowercase-hex Ed25519 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, SignatureError.Wrap(err)
	}
	if len(b) != PublicKeySize {
		return PublicKey{}, SignatureError.New("public key has wrong length: got %d want %d", len(b), PublicKeySize)
	}
	var k PublicKey
	copy(k[:], b)
	return k, nil
}

// ParsePrivateKey decodes a lowercase-hex Ed25519 private key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, SignatureError.Wrap(err)
	}
	if len(b) != PrivateKeySize {
		return PrivateKey{}, SignatureError.New("private key has wrong length: got %d want %d", len(b), PrivateKeySize)
	}
	var k PrivateKey
	copy(k[:], b)
	return k, nil
}

// ParseSignature decodes a lowercase-hex detached signature.
func ParseSignature(s string) (Signature, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Signature{}, SignatureError.Wrap(err)
	}
	if len(b) != SignatureSize {
		return Signature{}, SignatureError.New("signature has wrong length: got %d want %d", len(b), SignatureSize)
	}
	var sig Signature
	copy(sig[:], b)
	return sig, nil
}

// GenerateKeyPair creates a new Ed25519 keypair using csprng as the entropy
// source. Pass nil to use crypto/rand.Reader.
func GenerateKeyPair(csprng io.Reader) (PrivateKey, PublicKey, error) {
	if csprng == nil {
		csprng = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(csprng)
	if err != nil {
		return PrivateKey{}, PublicKey{}, SignatureError.Wrap(err)
	}
	var privOut PrivateKey
	var pubOut PublicKey
	copy(privOut[:], priv)
	copy(pubOut[:], pub)
	return privOut, pubOut, nil
}

// Sign signs b with the private key, over a fresh buffer. It never hashes
// first; callers decide what canonical bytes mean (spec §4.1).
func Sign(key PrivateKey, b []byte) Signature {
	sig := ed25519.Sign(ed25519.PrivateKey(key[:]), b)
	var out Signature
	copy(out[:], sig)
	return out
}

// Verify reports whether sig is a valid Ed25519 signature of b under the
// given public key. The underlying ed25519.Verify runs in constant time
// with respect to the signature and message contents.
func Verify(key PublicKey, b []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(key[:]), b, sig[:])
}
