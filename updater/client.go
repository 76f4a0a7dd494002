package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/autoupdate/release"
	"github.com/relaycore/autoupdate/versioncontrol"
)

// ErrNetwork wraps any transport-level failure talking to the server core
// (spec §7: recoverable on next tick).
var ErrNetwork = Error.New("network error")

// ClientConfig configures a Client (spec §3 ClientConfig, the
// server-facing subset of it).
type ClientConfig struct {
	// BaseURL is the server's base URL, ending in "/".
	BaseURL string
	// PublicKey verifies every signed response.
	PublicKey release.PublicKey
	// RequestTimeout bounds each HTTP round-trip; zero means the
	// http.Client's own default.
	RequestTimeout time.Duration
	// InstallationID optionally identifies this installation to the server
	// for staged-rollout gating (SPEC_FULL.md §5); nil is still eligible
	// for any FullRollout release.
	InstallationID []byte
}

// Client is the HTTP-transport half of spec §4.3's contract: it performs
// the three logical queries against a versioncontrol-compatible server and
// verifies every signature before returning a result.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient builds a Client using http.DefaultClient's transport, wrapped
// with cfg.RequestTimeout per request.
func NewClient(log *zap.Logger, cfg ClientConfig) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.RequestTimeout}, log: log}
}

func (c *Client) url(path string) string {
	base := c.cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strings.TrimPrefix(path, "/")
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, wrapNetworkErr(ErrNetwork, err)
	}
	if len(c.cfg.InstallationID) > 0 {
		req.Header.Set(versioncontrol.InstallationIDHeader, string(c.cfg.InstallationID))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapNetworkErr(ErrNetwork, err)
	}
	return resp, nil
}

func wrapNetworkErr(sentinel, wrapped error) error {
	return fmt.Errorf("%w: %w", sentinel, wrapped)
}

// Latest fetches and verifies the current latest version (spec §4.7
// Checking protocol step 1).
func (c *Client) Latest(ctx context.Context) (versioncontrol.LatestResponse, error) {
	resp, err := c.do(ctx, "latest")
	if err != nil {
		return versioncontrol.LatestResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return versioncontrol.LatestResponse{}, httpStatusError(resp)
	}

	var body versioncontrol.LatestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return versioncontrol.LatestResponse{}, wrapNetworkErr(ErrNetwork, err)
	}

	sig, err := release.ParseSignature(resp.Header.Get(versioncontrol.SignatureHeader))
	if err != nil {
		return versioncontrol.LatestResponse{}, ErrSignatureInvalid
	}
	if !release.Verify(c.cfg.PublicKey, []byte(body.Version), sig) {
		return versioncontrol.LatestResponse{}, ErrSignatureInvalid
	}
	return body, nil
}

// IsAllowed reports whether current satisfies resp's advertised minimum
// version (supplemented feature, SPEC_FULL.md §5 minimum-version
// enforcement). A response with no Minimum set always allows.
func (c *Client) IsAllowed(resp versioncontrol.LatestResponse, current release.Version) (bool, error) {
	if resp.Minimum == "" {
		return true, nil
	}
	minimum, err := release.NewVersion(resp.Minimum)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return current.Compare(minimum) >= 0, nil
}

// HashFor fetches and verifies the hash advertised for v (spec §4.7
// Downloading protocol step 1).
func (c *Client) HashFor(ctx context.Context, v release.Version) (release.Hash, release.Signature, error) {
	resp, err := c.do(ctx, "hashes/"+v.String())
	if err != nil {
		return release.Hash{}, release.Signature{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return release.Hash{}, release.Signature{}, httpStatusError(resp)
	}

	var body versioncontrol.HashForResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return release.Hash{}, release.Signature{}, wrapNetworkErr(ErrNetwork, err)
	}

	hash, err := release.ParseHash(body.Hash)
	if err != nil {
		return release.Hash{}, release.Signature{}, ErrSignatureInvalid
	}

	sig, err := release.ParseSignature(resp.Header.Get(versioncontrol.SignatureHeader))
	if err != nil {
		return release.Hash{}, release.Signature{}, ErrSignatureInvalid
	}
	if !release.Verify(c.cfg.PublicKey, hash[:], sig) {
		return release.Hash{}, release.Signature{}, ErrSignatureInvalid
	}
	return hash, sig, nil
}

// OpenRelease streams the release body for v, returning it alongside its
// advertised Content-Length (-1 if absent). The response's signature header
// is not read; the body is checked by the Verification pipeline against the
// hash and signature obtained from HashFor.
func (c *Client) OpenRelease(ctx context.Context, v release.Version) (io.ReadCloser, int64, error) {
	resp, err := c.do(ctx, "releases/"+v.String())
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, 0, httpStatusError(resp)
	}
	return resp.Body, resp.ContentLength, nil
}

func httpStatusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: unknown version", release.ErrUnknownVersion)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: catalogue empty", release.ErrCatalogueEmpty)
	default:
		return wrapNetworkErr(ErrNetwork, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}
