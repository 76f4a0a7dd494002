package versioncontrol_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/autoupdate/release"
	"github.com/relaycore/autoupdate/versioncontrol"
)

func writeRelease(t *testing.T, dir, appname, version string, content []byte) release.Hash {
	t.Helper()
	path := filepath.Join(dir, appname+"-"+version)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return release.HashBytes(content)
}

func testCore(t *testing.T) (*versioncontrol.Core, release.PublicKey) {
	t.Helper()
	dir := t.TempDir()

	h1 := writeRelease(t, dir, "app", "1.0.0", []byte("one"))
	h2 := writeRelease(t, dir, "app", "2.0.0", []byte("two"))

	priv, pub, err := release.GenerateKeyPair(nil)
	require.NoError(t, err)

	core, err := versioncontrol.NewCore(versioncontrol.Config{
		Appname:     "app",
		ReleasesDir: dir,
		Versions: map[string]string{
			"1.0.0": h1.String(),
			"2.0.0": h2.String(),
		},
		PrivateKey: priv,
	})
	require.NoError(t, err)
	return core, pub
}

func TestCore_Latest_SignedCorrectly(t *testing.T) {
	core, pub := testCore(t)

	resp, sig, err := core.Latest(nil)
	require.NoError(t, err)
	require.Equal(t, "2.0.0", resp.Version)
	require.True(t, release.Verify(pub, []byte(resp.Version), sig))
}

func TestCore_Latest_RolloutGatesInstallation(t *testing.T) {
	dir := t.TempDir()
	h1 := writeRelease(t, dir, "app", "1.0.0", []byte("one"))
	h2 := writeRelease(t, dir, "app", "2.0.0", []byte("two"))

	priv, _, err := release.GenerateKeyPair(nil)
	require.NoError(t, err)

	seed := release.RolloutBytes{1, 2, 3}
	core, err := versioncontrol.NewCore(versioncontrol.Config{
		Appname:     "app",
		ReleasesDir: dir,
		Versions: map[string]string{
			"1.0.0": h1.String(),
			"2.0.0": h2.String(),
		},
		PrivateKey:         priv,
		RolloutPercentages: map[string]int{"2.0.0": 0},
		RolloutSeed:        seed,
	})
	require.NoError(t, err)

	resp, _, err := core.Latest([]byte("some-installation"))
	require.NoError(t, err)
	require.Equal(t, "1.0.0", resp.Version, "0 percent rollout of 2.0.0 must fall back to 1.0.0")
}

func TestCore_HashFor_SignedCorrectly(t *testing.T) {
	core, pub := testCore(t)

	v1, err := release.NewVersion("1.0.0")
	require.NoError(t, err)

	resp, sig, err := core.HashFor(v1)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", resp.Version)

	hashBytes, err := release.ParseHash(resp.Hash)
	require.NoError(t, err)
	require.True(t, release.Verify(pub, hashBytes[:], sig))
}

func TestCore_HashFor_UnknownVersion(t *testing.T) {
	core, _ := testCore(t)
	v3, err := release.NewVersion("3.0.0")
	require.NoError(t, err)
	_, _, err = core.HashFor(v3)
	require.ErrorIs(t, err, release.ErrUnknownVersion)
}

func TestCore_OpenRelease_StreamMatchesHash(t *testing.T) {
	core, pub := testCore(t)

	v2, err := release.NewVersion("2.0.0")
	require.NoError(t, err)

	stream, size, sig, err := core.OpenRelease(v2)
	require.NoError(t, err)
	defer stream.Close()
	require.EqualValues(t, len("two"), size)

	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, "two", string(body))

	hash := release.HashBytes(body)
	require.True(t, release.Verify(pub, hash[:], sig))
}

func TestNewCore_FailsFastOnHashMismatch(t *testing.T) {
	dir := t.TempDir()
	writeRelease(t, dir, "app", "1.0.0", []byte("one"))

	priv, _, err := release.GenerateKeyPair(nil)
	require.NoError(t, err)

	wrongHash := release.HashBytes([]byte("not-one"))
	_, err = versioncontrol.NewCore(versioncontrol.Config{
		Appname:     "app",
		ReleasesDir: dir,
		Versions:    map[string]string{"1.0.0": wrongHash.String()},
		PrivateKey:  priv,
	})
	require.Error(t, err)
}
