package updater

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaycore/autoupdate/internal/sync2"
	"github.com/relaycore/autoupdate/release"
	"github.com/relaycore/autoupdate/selfreplace"
)

// Config configures an Updater (spec §3 ClientConfig).
type Config struct {
	Appname         string
	CurrentVersion  release.Version
	BinaryPath      string
	StateDir        string
	CheckOnStartup  bool
	CheckInterval   time.Duration
	SelfCheckArgs   []string // optional args run against the staged binary before install finalizes
	SelfCheckExpect time.Duration
}

// Updater is the Client Core (spec §4.7): it drives the
// Idle→Checking→UpdateAvailable→Downloading→Installing→PendingRestart→
// Restarting state machine on a timer, publishing every transition to its
// Broadcaster and gating the final restart on the CriticalActionsCounter.
type Updater struct {
	cfg    Config
	log    *zap.Logger
	client *Client

	status   *Broadcaster
	actions  *CriticalActionsCounter
	cycle    *sync2.Cycle
	pipeline *VerifyPipeline

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs an Updater. The returned Updater owns a temp staging
// directory (via its VerifyPipeline) until Close is called.
func New(log *zap.Logger, cfg Config, client *Client) (*Updater, error) {
	pipeline, err := NewVerifyPipeline(log)
	if err != nil {
		return nil, err
	}
	return &Updater{
		cfg:      cfg,
		log:      log,
		client:   client,
		status:   NewBroadcaster(),
		actions:  NewCriticalActionsCounter(),
		cycle:    sync2.NewCycle(cfg.CheckInterval),
		pipeline: pipeline,
	}, nil
}

// Status returns the current Status.
func (u *Updater) Status() Status {
	return u.status.Status()
}

// Subscribe registers a new Status subscriber.
func (u *Updater) Subscribe() *Subscription {
	return u.status.Subscribe()
}

// RegisterAction admits a new critical action (spec §4.4).
func (u *Updater) RegisterAction() (*ActionHandle, bool) {
	return u.actions.Register()
}

// IsSafeToUpdate reports whether it is currently safe to restart.
func (u *Updater) IsSafeToUpdate() bool {
	return u.actions.IsSafeToUpdate()
}

// Run starts the periodic check loop and blocks until ctx is cancelled or
// Close stops the loop; a failed attempt resets to Idle and does not end Run,
// and a successful restart on unix replaces the process image. Dropping the
// updater (calling Close) cancels the current task, cleans the temp
// directory, and stops the timer (spec §4.7 Cancellation).
func (u *Updater) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	u.cancel = cancel

	group, gctx := errgroup.WithContext(ctx)
	u.group = group

	u.cycle.Start(gctx, group, u.tick)
	if u.cfg.CheckOnStartup {
		u.cycle.Trigger()
	}

	return group.Wait()
}

// Close cancels any in-flight attempt, stops the timer and releases the
// staging directory.
func (u *Updater) Close() error {
	if u.cancel != nil {
		u.cancel()
	}
	if u.cycle != nil {
		u.cycle.Close()
	}
	if u.group != nil {
		_ = u.group.Wait()
	}
	return u.pipeline.Close()
}

// tick runs one full check→install attempt. sync2.Cycle never invokes it
// concurrently with itself, and it always returns to Idle (success or
// failure) before returning. The cycle arms its interval timer only after
// tick returns, so no timer fire happens while an attempt is in flight.
func (u *Updater) tick(ctx context.Context) error {
	version, err := u.check(ctx)
	if err != nil {
		u.fail(ErrorKindNetwork, err)
		return nil
	}
	if version.IsZero() {
		u.status.Set(Status{Phase: PhaseIdle})
		return nil
	}

	u.status.Set(Status{Phase: PhaseUpdateAvailable, Version: version})

	stagingPath, err := u.download(ctx, version)
	if err != nil {
		u.fail(classifyDownloadError(err), err)
		return nil
	}

	if err := u.install(ctx, version, stagingPath); err != nil {
		u.fail(ErrorKindInstallFailed, err)
		return nil
	}

	u.status.Set(Status{Phase: PhasePendingRestart, Version: version})
	u.actions.LockForRestart()
	if !u.actions.WaitDrained(ctx) {
		u.fail(ErrorKindCancelled, ctx.Err())
		return nil
	}

	u.status.Set(Status{Phase: PhaseRestarting, Version: version})
	if err := u.restart(version, stagingPath); err != nil {
		u.fail(classifyRestartError(err), err)
		return nil
	}
	return nil
}

func classifyDownloadError(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCancelled
	case errors.Is(err, ErrSignatureInvalid):
		return ErrorKindSignatureInvalid
	case errors.Is(err, ErrHashMismatch):
		return ErrorKindHashMismatch
	default:
		return ErrorKindNetwork
	}
}

// classifyRestartError distinguishes a self-replacement failure that has
// already left the staged binary unusable (fatal to this attempt, not to the
// updater process — spec §7) from an unexpected one.
func classifyRestartError(err error) ErrorKind {
	if errors.Is(err, selfreplace.ErrCannotLocateExecutable) {
		return ErrorKindCannotLocateExecutable
	}
	return ErrorKindInstallFailed
}

func (u *Updater) fail(kind ErrorKind, err error) {
	fields := []zap.Field{zap.Stringer("kind", kind), zap.Error(err)}
	if v := u.status.Status().Version; !v.IsZero() {
		fields = append(fields, zap.String("version", v.String()))
	}
	if kind == ErrorKindNetwork || kind == ErrorKindCancelled {
		u.log.Warn("update attempt failed", fields...)
	} else {
		u.log.Error("update attempt failed", fields...)
	}
	u.status.Set(Status{Phase: PhaseError, ErrorKind: kind, Err: err})
	u.status.Set(Status{Phase: PhaseIdle})
}

// check implements the Checking protocol (spec §4.7): it returns the
// server's advertised latest version if it is strictly newer than
// cfg.CurrentVersion, or the zero Version if not. Two supplemented gates run
// first (SPEC_FULL.md §5): a version matching the last recorded post-install
// failure is never offered again, and a current version below the server's
// advertised minimum forces an update regardless of the latest/current
// comparison.
func (u *Updater) check(ctx context.Context) (release.Version, error) {
	u.status.Set(Status{Phase: PhaseChecking})

	resp, err := u.client.Latest(ctx)
	if err != nil {
		return release.Version{}, err
	}
	latest, err := release.NewVersion(resp.Version)
	if err != nil {
		return release.Version{}, Error.Wrap(err)
	}

	if lastFailure, ok := LoadLastFailure(u.log, u.cfg.StateDir, u.cfg.Appname); ok && lastFailure.Version.Compare(latest) == 0 {
		u.log.Warn("skipping version that previously failed its self-check",
			zap.String("version", latest.String()), zap.String("failure", lastFailure.Failure))
		return release.Version{}, nil
	}

	allowed, err := u.client.IsAllowed(resp, u.cfg.CurrentVersion)
	if err != nil {
		return release.Version{}, err
	}
	if !allowed {
		u.log.Warn("current version is below the server's minimum supported version, forcing update",
			zap.String("current", u.cfg.CurrentVersion.String()), zap.String("minimum", resp.Minimum))
		return latest, nil
	}

	if latest.Compare(u.cfg.CurrentVersion) <= 0 {
		return release.Version{}, nil
	}
	return latest, nil
}

// download implements the Downloading protocol (spec §4.7).
func (u *Updater) download(ctx context.Context, version release.Version) (string, error) {
	u.status.Set(Status{Phase: PhaseDownloading, Version: version, Total: -1})

	hash, sig, err := u.client.HashFor(ctx, version)
	if err != nil {
		return "", err
	}

	body, total, err := u.client.OpenRelease(ctx, version)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	progress := func(have, tot int64) {
		u.status.Set(Status{Phase: PhaseDownloading, Version: version, Have: have, Total: tot})
	}

	return u.pipeline.Verify(ctx, body, total, hash, sig, u.client.cfg.PublicKey, progress)
}

// install implements the Installing transition (spec §4.7): mark the staged
// file executable, optionally self-check it, transition to PendingRestart
// happens in tick after this returns.
func (u *Updater) install(ctx context.Context, version release.Version, stagingPath string) error {
	u.status.Set(Status{Phase: PhaseInstalling, Version: version})

	if err := selfreplace.MakeExecutable(stagingPath); err != nil {
		return err
	}

	if len(u.cfg.SelfCheckArgs) > 0 {
		if err := u.tryRunBinary(ctx, stagingPath); err != nil {
			SaveLastFailure(u.log, u.cfg.StateDir, u.cfg.Appname, FailedUpdate{
				Version: version,
				Date:    time.Now(),
				Failure: err.Error(),
			})
			return Error.Wrap(err)
		}
	}
	return nil
}

// tryRunBinary runs the staged binary with the configured self-check
// arguments and fails if it exits non-zero or times out, catching a
// corrupt-but-hash-valid build before it is ever installed (grounded in the
// teacher's cmd/storagenode-updater.tryRunBinary).
func (u *Updater) tryRunBinary(ctx context.Context, path string) error {
	timeout := u.cfg.SelfCheckExpect
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, u.cfg.SelfCheckArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		u.log.Warn("staged binary failed self-check", zap.Error(err), zap.ByteString("output", output))
		return Error.Wrap(err)
	}
	return nil
}

// restart performs the self-replacement (C6) and, on unix, never returns on
// success because the process image has already been replaced.
func (u *Updater) restart(version release.Version, stagingPath string) error {
	current, err := selfreplace.CurrentExecutable()
	if err != nil {
		return err
	}
	if u.cfg.BinaryPath != "" {
		current = u.cfg.BinaryPath
	}

	u.log.Info("restarting with new version", zap.String("version", version.String()))
	return selfreplace.Replace(stagingPath, current, os.Args, os.Environ())
}
