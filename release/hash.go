package release

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashSize is the length in bytes of a release Hash (SHA-256).
const HashSize = sha256.Size

// Hash is the SHA-256 digest of a release file in its entirety.
type Hash [HashSize]byte

// HashBytes computes the Hash of b.
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// HashReader computes the Hash of everything read from r.
func HashReader(r io.Reader) (Hash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, Error.Wrap(err)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// String returns the lowercase hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a lowercase-hex 32-byte hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, Error.Wrap(err)
	}
	if len(b) != HashSize {
		return Hash{}, Error.New("hash has wrong length: got %d want %d", len(b), HashSize)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MarshalJSON renders the hash as a JSON hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON parses a JSON hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return Error.New("invalid hash json %q", data)
	}
	parsed, err := ParseHash(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
