package release_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/autoupdate/release"
)

func writeRelease(t *testing.T, dir, appname, version string, content []byte) release.Hash {
	t.Helper()
	path := filepath.Join(dir, appname+"-"+version)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return release.HashBytes(content)
}

func TestNewCatalogue_OrderingAndLatest(t *testing.T) {
	dir := t.TempDir()

	h1 := writeRelease(t, dir, "app", "1.0.0", []byte("one"))
	h2 := writeRelease(t, dir, "app", "2.0.0", []byte("two"))
	hrc := writeRelease(t, dir, "app", "1.0.0-rc.1", []byte("rc"))

	cat, err := release.NewCatalogue("app", dir, map[string]release.Hash{
		"1.0.0":      h1,
		"2.0.0":      h2,
		"1.0.0-rc.1": hrc,
	}, nil)
	require.NoError(t, err)

	latest, err := cat.Latest()
	require.NoError(t, err)
	require.Equal(t, "2.0.0", latest.Version.String())

	entries := cat.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "2.0.0", entries[0].Version.String())
	require.Equal(t, "1.0.0", entries[1].Version.String())
	require.Equal(t, "1.0.0-rc.1", entries[2].Version.String())
}

func TestCatalogue_LatestEligible_RespectsRollout(t *testing.T) {
	dir := t.TempDir()
	h1 := writeRelease(t, dir, "app", "1.0.0", []byte("one"))
	h2 := writeRelease(t, dir, "app", "2.0.0", []byte("two"))

	seed := release.RolloutBytes{9, 9, 9}
	cat, err := release.NewCatalogue("app", dir, map[string]release.Hash{
		"1.0.0": h1,
		"2.0.0": h2,
	}, map[string]release.Rollout{
		"2.0.0": {Seed: seed, Cursor: 0},
	})
	require.NoError(t, err)

	entry, err := cat.LatestEligible([]byte("installation-a"))
	require.NoError(t, err)
	require.Equal(t, "1.0.0", entry.Version.String(), "0-cursor rollout excludes everyone, falls back to 1.0.0")

	entries := cat.Entries()
	require.Equal(t, "2.0.0", entries[0].Version.String())
	require.Equal(t, release.FullRollout, entries[1].Rollout, "version absent from rollouts map defaults to FullRollout")
}

func TestNewCatalogue_EmptyFails(t *testing.T) {
	_, err := release.NewCatalogue("app", t.TempDir(), map[string]release.Hash{}, nil)
	require.ErrorIs(t, err, release.ErrCatalogueEmpty)
}

func TestNewCatalogue_MissingFileFails(t *testing.T) {
	dir := t.TempDir()
	_, err := release.NewCatalogue("app", dir, map[string]release.Hash{
		"1.0.0": release.HashBytes([]byte("whatever")),
	}, nil)
	require.Error(t, err)
}

func TestNewCatalogue_HashMismatchFails(t *testing.T) {
	dir := t.TempDir()
	writeRelease(t, dir, "app", "1.0.0", []byte("one"))

	_, err := release.NewCatalogue("app", dir, map[string]release.Hash{
		"1.0.0": release.HashBytes([]byte("not-one")),
	}, nil)
	require.ErrorIs(t, err, release.ErrHashMismatch)
}

func TestCatalogue_HashForUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	h := writeRelease(t, dir, "app", "1.0.0", []byte("one"))

	cat, err := release.NewCatalogue("app", dir, map[string]release.Hash{"1.0.0": h}, nil)
	require.NoError(t, err)

	v2, err := release.NewVersion("2.0.0")
	require.NoError(t, err)
	_, err = cat.HashFor(v2)
	require.ErrorIs(t, err, release.ErrUnknownVersion)
}

func TestCatalogue_OpenStream(t *testing.T) {
	dir := t.TempDir()
	content := []byte("release-bytes")
	h := writeRelease(t, dir, "app", "1.0.0", content)

	cat, err := release.NewCatalogue("app", dir, map[string]release.Hash{"1.0.0": h}, nil)
	require.NoError(t, err)

	v1, err := release.NewVersion("1.0.0")
	require.NoError(t, err)

	r1, size1, err := cat.OpenStream(v1)
	require.NoError(t, err)
	defer r1.Close()
	require.EqualValues(t, len(content), size1)

	// concurrent independent reads are allowed
	r2, _, err := cat.OpenStream(v1)
	require.NoError(t, err)
	defer r2.Close()

	got, err := release.HashReader(r1)
	require.NoError(t, err)
	require.Equal(t, h, got)
}
