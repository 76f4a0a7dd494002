package versioncontrol

import (
	"io"

	"github.com/relaycore/autoupdate/release"
)

// LatestResponse is the body of a successful Latest query.
type LatestResponse struct {
	Version string `json:"version"`
	// Minimum is the oldest version still considered healthy (supplemented
	// feature, SPEC_FULL.md §5); zero value means "no floor enforced".
	Minimum string `json:"minimum,omitempty"`
}

// HashForResponse is the body of a successful HashFor query.
type HashForResponse struct {
	Version string `json:"version"`
	Hash    string `json:"hash"`
}

// Core implements the three logical queries of spec §4.3, independent of
// any transport. It is safe for concurrent use: the catalogue is immutable
// after construction and signing is a pure function.
type Core struct {
	appname    string
	catalogue  *release.ReleaseCatalogue
	privateKey release.PrivateKey
	minimum    release.Version
	threshold  int64
}

// NewCore validates the configured releases (spec §4.2 startup contract)
// and returns a ready Core. It fails fast — no adapter may observe a
// partially initialised catalogue (testable property 4).
func NewCore(cfg Config) (*Core, error) {
	versions, err := cfg.parseVersions()
	if err != nil {
		return nil, err
	}
	catalogue, err := release.NewCatalogue(cfg.Appname, cfg.ReleasesDir, versions, cfg.parseRollouts())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Core{
		appname:    cfg.Appname,
		catalogue:  catalogue,
		privateKey: cfg.PrivateKey,
		threshold:  cfg.StreamThresholdBytes,
	}, nil
}

// SetMinimum sets the advertised minimum supported version, included in
// Latest responses (supplemented feature).
func (c *Core) SetMinimum(v release.Version) {
	c.minimum = v
}

// Latest answers the "latest version" query, signed over the UTF-8 version
// string (spec §4.1/§4.3). installationID gates staged rollouts (SPEC_FULL.md
// §5): the response is the highest version that installation is eligible
// for, which may trail the true latest while a rollout is in progress. A nil
// or empty installationID is still eligible for any FullRollout entry, which
// is every entry unless RolloutPercentages configured otherwise.
func (c *Core) Latest(installationID []byte) (LatestResponse, release.Signature, error) {
	entry, err := c.catalogue.LatestEligible(installationID)
	if err != nil {
		return LatestResponse{}, release.Signature{}, err
	}
	sig := release.Sign(c.privateKey, entry.Version.SigningBytes())
	resp := LatestResponse{Version: entry.Version.String()}
	if !c.minimum.IsZero() {
		resp.Minimum = c.minimum.String()
	}
	return resp, sig, nil
}

// HashFor answers the "hash for version" query, signed over the raw 32-byte
// hash (spec §4.1/§4.3).
func (c *Core) HashFor(v release.Version) (HashForResponse, release.Signature, error) {
	entry, err := c.catalogue.Entry(v)
	if err != nil {
		return HashForResponse{}, release.Signature{}, err
	}
	sig := release.Sign(c.privateKey, entry.Hash[:])
	return HashForResponse{Version: entry.Version.String(), Hash: entry.Hash.String()}, sig, nil
}

// OpenRelease answers the "release" query: it returns a stream of the
// release file's bytes, its size, and a signature over the hash recorded
// for v, the same hash HashFor advertises. That hash was checked against
// the file when the catalogue was built; the stream is not hashed again
// before it is served, so the signature does not cover later changes to
// the file on disk.
func (c *Core) OpenRelease(v release.Version) (stream io.ReadCloser, size int64, sig release.Signature, err error) {
	entry, err := c.catalogue.Entry(v)
	if err != nil {
		return nil, 0, release.Signature{}, err
	}
	stream, size, err = c.catalogue.OpenStream(v)
	if err != nil {
		return nil, 0, release.Signature{}, err
	}
	sig = release.Sign(c.privateKey, entry.Hash[:])
	return stream, size, sig, nil
}

// StreamThreshold returns the configured streaming threshold in bytes.
func (c *Core) StreamThreshold() int64 {
	return c.threshold
}

// Appname returns the configured application name.
func (c *Core) Appname() string {
	return c.appname
}
