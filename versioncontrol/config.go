// Package versioncontrol implements the Server Core (spec §4.3): a
// transport-agnostic Core composing the release catalogue and signature
// primitives into the three logical queries (Latest, HashFor, Release), and
// a thin gorilla/mux HTTP adapter (Peer) over it.
package versioncontrol

import (
	"github.com/zeebo/errs"

	"github.com/relaycore/autoupdate/release"
)

// Error is the error class for Server Core construction and request
// failures.
var Error = errs.Class("versioncontrol")

// Config configures a Core/Peer (spec §3 ServerConfig).
type Config struct {
	// Appname is used both for the release file naming convention
	// "{appname}-{version}" and logging.
	Appname string
	// Address is the "host:port" the Peer's HTTP listener binds to.
	Address string
	// ReleasesDir is the directory containing release files.
	ReleasesDir string
	// Versions maps each advertised version to the hex-encoded SHA-256 of
	// its release file.
	Versions map[string]string
	// PrivateKey signs every response. It is never serialized or logged.
	PrivateKey release.PrivateKey
	// StreamThresholdBytes: files at or below this size may be loaded
	// fully into memory before signing; larger files must be streamed in
	// chunks (spec §4.3 Streaming policy). Zero means "always stream".
	StreamThresholdBytes int64
	// RolloutPercentages optionally staggers specific versions' visibility
	// in the Latest query to a percentage of installations (supplemented
	// feature, SPEC_FULL.md §5). A version absent from this map is fully
	// rolled out from the moment it is configured.
	RolloutPercentages map[string]int
	// RolloutSeed is shared by every entry configured via
	// RolloutPercentages so a given installation gets a consistent cohort
	// assignment across versions. Required if RolloutPercentages is set.
	RolloutSeed release.RolloutBytes
}

func (c Config) parseVersions() (map[string]release.Hash, error) {
	out := make(map[string]release.Hash, len(c.Versions))
	for v, hexHash := range c.Versions {
		h, err := release.ParseHash(hexHash)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out[v] = h
	}
	return out, nil
}

func (c Config) parseRollouts() map[string]release.Rollout {
	if len(c.RolloutPercentages) == 0 {
		return nil
	}
	out := make(map[string]release.Rollout, len(c.RolloutPercentages))
	for v, pct := range c.RolloutPercentages {
		out[v] = release.Rollout{Seed: c.RolloutSeed, Cursor: release.PercentageToCursor(pct)}
	}
	return out
}
