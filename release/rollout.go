package release

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// RolloutBytes is the length of a Rollout seed, matching the teacher's own
// rollout seed size.
type RolloutBytes [32]byte

// ParseRolloutBytes decodes a lowercase-hex 32-byte rollout seed.
func ParseRolloutBytes(s string) (RolloutBytes, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return RolloutBytes{}, Error.Wrap(err)
	}
	if len(b) != len(RolloutBytes{}) {
		return RolloutBytes{}, Error.New("rollout seed has wrong length: got %d want %d", len(b), len(RolloutBytes{}))
	}
	var out RolloutBytes
	copy(out[:], b)
	return out, nil
}

// Rollout is a staged-deployment gate: given a seed shared by all clients
// and a per-installation identifier, ShouldUpdate deterministically decides
// whether that installation is inside the rolled-out percentage of the
// population yet. The zero value (Cursor == 0) means "not rolled out to
// anyone"; a Cursor of ^uint32(0) means "rolled out to everyone" and is what
// a catalogue entry gets by default so rollout is opt-in (SPEC_FULL.md §5).
type Rollout struct {
	Seed   RolloutBytes
	Cursor uint32
}

// FullRollout is the default: every installation is eligible immediately.
var FullRollout = Rollout{Cursor: ^uint32(0)}

// PercentageToCursor converts a 0–100 integer percentage to the Cursor value
// that admits approximately that fraction of installations.
func PercentageToCursor(percentage int) uint32 {
	if percentage <= 0 {
		return 0
	}
	if percentage >= 100 {
		return ^uint32(0)
	}
	return uint32(uint64(^uint32(0)) * uint64(percentage) / 100)
}

// ShouldUpdate reports whether the installation identified by id falls
// within the rolled-out population for this Rollout. It hashes the seed and
// the installation id together and compares the first four digest bytes,
// read as a big-endian uint32, against Cursor,
// so the same (seed, id) pair always yields the same answer.
func ShouldUpdate(r Rollout, id []byte) bool {
	if r.Cursor == ^uint32(0) {
		return true
	}
	if r.Cursor == 0 {
		return false
	}
	h := sha256.New()
	h.Write(r.Seed[:])
	h.Write(id)
	sum := h.Sum(nil)
	value := binary.BigEndian.Uint32(sum[:4])
	return value < r.Cursor
}
