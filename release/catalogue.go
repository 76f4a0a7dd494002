package release

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"
)

// CatalogueError is the error class for catalogue construction and lookup
// failures.
var CatalogueError = errs.Class("catalogue")

// Sentinel errors callers can test against with errors.Is.
var (
	ErrCatalogueEmpty    = CatalogueError.New("catalogue empty")
	ErrUnknownVersion    = CatalogueError.New("unknown version")
	ErrFileMissing       = CatalogueError.New("release file missing")
	ErrHashMismatch      = CatalogueError.New("release file hash mismatch")
	ErrNoEligibleRelease = CatalogueError.New("no release eligible for this installation")
)

// ReleaseEntry maps one configured Version to the file holding its bytes and
// the expected Hash of that file, plus an optional staged-rollout policy
// (supplemented feature, see SPEC_FULL.md §5).
type ReleaseEntry struct {
	Version Version
	Path    string
	Hash    Hash
	Rollout Rollout
}

// ReleaseCatalogue is the ordered, read-only sequence of ReleaseEntry sorted
// descending by Version; entries[0] is "latest" when non-empty. It never
// mutates after construction (spec §4.2 invariant).
type ReleaseCatalogue struct {
	appname string
	entries []ReleaseEntry
	byVer   map[string]int
}

// NewCatalogue validates that every (Version, Hash) pair in versions has a
// corresponding, readable, correctly-hashed file under
// releasesDir/"{appname}-{version}", in parallel, and returns the resulting
// catalogue. It returns an error without constructing a partial catalogue if
// any entry fails validation (spec §4.2, testable property 4).
//
// rollouts optionally overrides the staged-rollout policy for specific
// versions; any version not present there defaults to FullRollout, so
// rollout gating is opt-in (SPEC_FULL.md §5).
func NewCatalogue(appname, releasesDir string, versions map[string]Hash, rollouts map[string]Rollout) (*ReleaseCatalogue, error) {
	if len(versions) == 0 {
		return nil, ErrCatalogueEmpty
	}

	entries := make([]ReleaseEntry, 0, len(versions))
	for verStr, expected := range versions {
		ver, err := NewVersion(verStr)
		if err != nil {
			return nil, CatalogueError.Wrap(err)
		}
		rollout, ok := rollouts[verStr]
		if !ok {
			rollout = FullRollout
		}
		entries = append(entries, ReleaseEntry{
			Version: ver,
			Path:    filepath.Join(releasesDir, fmt.Sprintf("%s-%s", appname, ver.String())),
			Hash:    expected,
			Rollout: rollout,
		})
	}

	group, ctx := errgroup.WithContext(context.Background())
	for i := range entries {
		entry := &entries[i]
		group.Go(func() error {
			return validateEntry(ctx, entry)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version.Compare(entries[j].Version) > 0
	})

	byVer := make(map[string]int, len(entries))
	for i, e := range entries {
		byVer[e.Version.String()] = i
	}

	return &ReleaseCatalogue{appname: appname, entries: entries, byVer: byVer}, nil
}

func validateEntry(ctx context.Context, entry *ReleaseEntry) error {
	info, err := os.Stat(entry.Path)
	if err != nil {
		return errs.Combine(ErrFileMissing, CatalogueError.Wrap(err))
	}
	if !info.Mode().IsRegular() {
		return CatalogueError.New("%s: not a regular file", entry.Path)
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return CatalogueError.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	actual, err := HashReader(f)
	if err != nil {
		return CatalogueError.Wrap(err)
	}
	if actual != entry.Hash {
		return errs.Combine(ErrHashMismatch, CatalogueError.New("%s: expected %s, got %s", entry.Path, entry.Hash, actual))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Latest returns the entry with the highest-precedence Version in the
// catalogue.
func (c *ReleaseCatalogue) Latest() (ReleaseEntry, error) {
	if len(c.entries) == 0 {
		return ReleaseEntry{}, ErrCatalogueEmpty
	}
	return c.entries[0], nil
}

// LatestEligible returns the highest-precedence entry whose Rollout admits
// installationID (spec SPEC_FULL.md §5 staged rollout), walking down from
// the true latest until one matches. installationID may be nil; entries at
// FullRollout admit a nil id just as they admit any other.
func (c *ReleaseCatalogue) LatestEligible(installationID []byte) (ReleaseEntry, error) {
	if len(c.entries) == 0 {
		return ReleaseEntry{}, ErrCatalogueEmpty
	}
	for _, e := range c.entries {
		if ShouldUpdate(e.Rollout, installationID) {
			return e, nil
		}
	}
	return ReleaseEntry{}, ErrNoEligibleRelease
}

// Entry looks up the ReleaseEntry for an exact version.
func (c *ReleaseCatalogue) Entry(v Version) (ReleaseEntry, error) {
	idx, ok := c.byVer[v.String()]
	if !ok {
		return ReleaseEntry{}, errs.Combine(ErrUnknownVersion, CatalogueError.New("%s", v))
	}
	return c.entries[idx], nil
}

// HashFor returns the expected Hash of a configured version.
func (c *ReleaseCatalogue) HashFor(v Version) (Hash, error) {
	entry, err := c.Entry(v)
	if err != nil {
		return Hash{}, err
	}
	return entry.Hash, nil
}

// OpenStream opens the release file for reading. The catalogue never caches
// file contents; independent, concurrent reads of the same version are
// allowed since each call opens its own handle.
func (c *ReleaseCatalogue) OpenStream(v Version) (io.ReadCloser, int64, error) {
	entry, err := c.Entry(v)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, 0, CatalogueError.Wrap(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, CatalogueError.Wrap(err)
	}
	return f, info.Size(), nil
}

// Entries returns the full descending-ordered list of entries (read-only
// copy; mutating it does not affect the catalogue).
func (c *ReleaseCatalogue) Entries() []ReleaseEntry {
	out := make([]ReleaseEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
