package updater

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/autoupdate/release"
)

// FailedUpdate records a release that failed its post-install self-check,
// so the updater does not retry-loop forever against a build that is
// hash-valid but broken (SPEC_FULL.md §5, grounded in the teacher's
// failedUpdate/loadLastUpdateFailure/saveLastUpdateFailure).
type FailedUpdate struct {
	Version release.Version
	Date    time.Time
	Failure string
}

func lastFailurePath(stateDir, appname string) string {
	return filepath.Join(stateDir, appname+".last-update-failure.json")
}

// LoadLastFailure reads the last recorded failed update for appname, if
// any. ok is false if no failure has been recorded (or the record is
// unreadable/corrupt, which is treated the same as "none").
func LoadLastFailure(log *zap.Logger, stateDir, appname string) (update FailedUpdate, ok bool) {
	data, err := os.ReadFile(lastFailurePath(stateDir, appname))
	if err != nil {
		return FailedUpdate{}, false
	}
	if err := json.Unmarshal(data, &update); err != nil {
		log.Warn("failed to parse last-update-failure record", zap.Error(err))
		return FailedUpdate{}, false
	}
	return update, true
}

// SaveLastFailure persists update as the last recorded failure for appname.
// A failure to write is logged but not fatal: it only degrades the
// diagnostic, not the update itself.
func SaveLastFailure(log *zap.Logger, stateDir, appname string, update FailedUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Warn("failed to marshal last-update-failure record", zap.Error(err))
		return
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		log.Warn("failed to create updater state directory", zap.Error(err))
		return
	}
	if err := os.WriteFile(lastFailurePath(stateDir, appname), data, 0o644); err != nil {
		log.Warn("failed to persist last-update-failure record", zap.Error(err))
	}
}
