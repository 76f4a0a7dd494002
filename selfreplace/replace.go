// Package selfreplace implements the self-replacement protocol (spec §4.6):
// locating the running executable, making a verified staging file
// executable, atomically swapping it onto the running binary's path, and
// re-executing it. The platform-specific swap/re-exec step lives in
// replace_unix.go and replace_windows.go.
package selfreplace

import (
	"os"

	"github.com/zeebo/errs"
)

// Error is the error class for self-replacement failures.
var Error = errs.Class("selfreplace")

// Sentinel errors (spec §7).
var (
	ErrCannotLocateExecutable = Error.New("cannot locate executable")
	ErrInstallFailed          = Error.New("install failed")
)

// InstallFailedReason distinguishes InstallFailed subkinds (spec §4.6 point
// 3/§9: "surface InstallFailed with a distinguished subkind" for platforms
// that cannot overwrite a running executable).
type InstallFailedReason string

// Known InstallFailedReason values.
const (
	ReasonRenameFailed     InstallFailedReason = "rename_failed"
	ReasonChmodFailed      InstallFailedReason = "chmod_failed"
	ReasonExecFailed       InstallFailedReason = "exec_failed"
	ReasonWindowsExecInUse InstallFailedReason = "windows_exec_in_use"
)

// InstallFailedError carries the distinguished subkind alongside the
// underlying OS error.
type InstallFailedError struct {
	Reason InstallFailedReason
	Err    error
}

func (e *InstallFailedError) Error() string {
	if e.Err != nil {
		return string(e.Reason) + ": " + e.Err.Error()
	}
	return string(e.Reason)
}

func (e *InstallFailedError) Unwrap() error {
	return e.Err
}

// CurrentExecutable resolves the path of the currently running process's
// executable (spec §4.6 point 1).
func CurrentExecutable() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", errs.Combine(ErrCannotLocateExecutable, Error.Wrap(err))
	}
	return path, nil
}

// MakeExecutable sets staged's mode to executable (owner rwx at minimum),
// spec §4.6 point 2.
func MakeExecutable(staged string) error {
	info, err := os.Stat(staged)
	if err != nil {
		return &InstallFailedError{Reason: ReasonChmodFailed, Err: err}
	}
	mode := info.Mode() | 0o700
	if err := os.Chmod(staged, mode); err != nil {
		return &InstallFailedError{Reason: ReasonChmodFailed, Err: err}
	}
	return nil
}
