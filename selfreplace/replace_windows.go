//go:build windows

package selfreplace

// Replace is unimplemented on Windows: the spec deliberately declines to
// guess a workaround for the fact that a running executable's file cannot
// generally be overwritten in place under Windows (spec §4.6 point 3, §9
// Open question). A Windows deployment of this library needs an external
// supervisor (service manager) that restarts the process after it exits
// with ReasonWindowsExecInUse, the way the teacher's own installer wraps
// its updater in a Windows service rather than solving this in-process.
func Replace(staged, current string, argv []string, env []string) error {
	return &InstallFailedError{Reason: ReasonWindowsExecInUse}
}
