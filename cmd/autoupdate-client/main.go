// Command autoupdate-client runs the Client Core (spec §4.4-§4.7) against a
// running binary, polling a server, verifying and installing new releases,
// and self-restarting into them. It is a thin wrapper: flag parsing, signal
// handling and status logging only.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaycore/autoupdate/release"
	"github.com/relaycore/autoupdate/updater"
)

var (
	appname        string
	serverAddress  string
	publicKeyHex   string
	binaryLocation string
	currentVersion string
	stateDir       string
	checkInterval  time.Duration
	checkOnStart   bool
	logLevel       string
	installationID string
)

var rootCmd = &cobra.Command{
	Use:   "autoupdate-client",
	Short: "Poll a server for signed releases and self-update in place",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&appname, "appname", "", "application name, must match the server's --appname (required)")
	flags.StringVar(&serverAddress, "server-address", "", "base URL of the autoupdate server, e.g. http://host:8910 (required)")
	flags.StringVar(&publicKeyHex, "public-key", "", "hex-encoded ed25519 public key verifying the server's responses (required)")
	flags.StringVar(&binaryLocation, "binary-location", "", "path of the binary to replace on update; defaults to the running executable")
	flags.StringVar(&currentVersion, "current-version", "", "this process's own version (required)")
	flags.StringVar(&stateDir, "state-dir", "", "directory to persist last-update-failure state in (required)")
	flags.DurationVar(&checkInterval, "check-interval", 6*time.Hour, "interval between update checks")
	flags.BoolVar(&checkOnStart, "check-on-startup", false, "perform one check immediately instead of waiting for the first interval")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&installationID, "installation-id", "", "opaque identifier sent to the server for staged-rollout cohort assignment")

	_ = rootCmd.MarkFlagRequired("appname")
	_ = rootCmd.MarkFlagRequired("server-address")
	_ = rootCmd.MarkFlagRequired("public-key")
	_ = rootCmd.MarkFlagRequired("current-version")
	_ = rootCmd.MarkFlagRequired("state-dir")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log, err := newLogger(logLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	pub, err := release.ParsePublicKey(publicKeyHex)
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}
	version, err := release.NewVersion(currentVersion)
	if err != nil {
		return fmt.Errorf("parsing current version: %w", err)
	}

	client := updater.NewClient(log, updater.ClientConfig{
		BaseURL:        serverAddress,
		PublicKey:      pub,
		RequestTimeout: 30 * time.Second,
		InstallationID: []byte(installationID),
	})

	u, err := updater.New(log, updater.Config{
		Appname:        appname,
		CurrentVersion: version,
		BinaryPath:     binaryLocation,
		StateDir:       stateDir,
		CheckOnStartup: checkOnStart,
		CheckInterval:  checkInterval,
	}, client)
	if err != nil {
		return fmt.Errorf("building updater: %w", err)
	}
	defer func() { _ = u.Close() }()

	logStatusTransitions(log, u.Subscribe())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting update loop",
		zap.String("appname", appname),
		zap.String("current_version", version.String()),
		zap.Duration("check_interval", checkInterval))

	return u.Run(ctx)
}

func logStatusTransitions(log *zap.Logger, sub *updater.Subscription) {
	go func() {
		for s := range sub.C() {
			fields := []zap.Field{zap.Stringer("phase", s.Phase)}
			if !s.Version.IsZero() {
				fields = append(fields, zap.String("version", s.Version.String()))
			}
			if s.Phase == updater.PhaseDownloading {
				fields = append(fields, zap.Int64("have", s.Have), zap.Int64("total", s.Total))
			}
			if s.Phase == updater.PhaseError {
				fields = append(fields, zap.Stringer("error_kind", s.ErrorKind), zap.Error(s.Err))
			}
			log.Info("update status", fields...)
		}
	}()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return cfg.Build()
}
