// Package release implements the signed release catalogue that the server
// core advertises and the client core consumes: semantic versions, content
// hashes, Ed25519 signatures over their canonical byte forms, and the
// read-only catalogue assembled from them at server startup.
package release

import (
	"github.com/blang/semver/v4"
	"github.com/zeebo/errs"
)

// Error is the class for all release data-model errors.
var Error = errs.Class("release")

// Version is a semantic version, ordered by semver precedence. It is
// immutable once constructed.
type Version struct {
	semver.Version
}

// NewVersion parses a semantic version string. A leading "v" is tolerated.
func NewVersion(s string) (Version, error) {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		s = s[1:]
	}
	parsed, err := semver.Parse(s)
	if err != nil {
		return Version{}, Error.Wrap(err)
	}
	return Version{Version: parsed}, nil
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return v.Compare(Version{}) == 0
}

// Compare returns -1, 0 or 1 comparing v to other by semver precedence.
func (v Version) Compare(other Version) int {
	return v.Version.Compare(other.Version)
}

// String returns the canonical "major.minor.patch[-pre][+build]" form.
func (v Version) String() string {
	return v.Version.String()
}

// MarshalJSON renders the version as a JSON string.
func (v Version) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string into a Version.
func (v *Version) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return Error.New("invalid version json %q", data)
	}
	parsed, err := NewVersion(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// SigningBytes returns the canonical byte sequence signed for a "latest
// version" response: the UTF-8 representation of the version string, with
// no quoting or JSON framing (spec §4.1, §9).
func (v Version) SigningBytes() []byte {
	return []byte(v.String())
}
