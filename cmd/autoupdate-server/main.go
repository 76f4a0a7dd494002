// Command autoupdate-server runs a versioncontrol.Peer against a directory
// of release files, demonstrating the Server Core (spec §4.3) as a
// standalone process. It is a thin wrapper: flag parsing and process
// lifecycle only, no logic of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaycore/autoupdate/release"
	"github.com/relaycore/autoupdate/versioncontrol"
)

var (
	appname        string
	address        string
	releasesDir    string
	privateKeyHex  string
	versionPairs   []string
	minimum        string
	logLevel       string
	rolloutPairs   []string
	rolloutSeedHex string
)

var rootCmd = &cobra.Command{
	Use:   "autoupdate-server",
	Short: "Serve signed releases for the autoupdate Client Core to poll",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&appname, "appname", "", "application name; release files are named {appname}-{version} (required)")
	flags.StringVar(&address, "address", "127.0.0.1:8910", "address to listen on")
	flags.StringVar(&releasesDir, "releases-dir", "", "directory containing release files (required)")
	flags.StringVar(&privateKeyHex, "private-key", "", "hex-encoded ed25519 private key used to sign responses (required)")
	flags.StringSliceVar(&versionPairs, "version", nil, "version=hexhash pair; repeatable (required, at least one)")
	flags.StringVar(&minimum, "minimum", "", "oldest version still considered healthy, advertised to clients")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringSliceVar(&rolloutPairs, "rollout", nil, "version=percentage staged-rollout pair; repeatable; a version not listed here is fully rolled out")
	flags.StringVar(&rolloutSeedHex, "rollout-seed", "", "hex-encoded seed shared across every --rollout entry; required if --rollout is set")

	_ = rootCmd.MarkFlagRequired("appname")
	_ = rootCmd.MarkFlagRequired("releases-dir")
	_ = rootCmd.MarkFlagRequired("private-key")
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

	versions, err := parseVersionPairs(versionPairs)
	if err != nil {
		return err
	}

	privKey, err := release.ParsePrivateKey(privateKeyHex)
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	rolloutPercentages, rolloutSeed, err := parseRolloutPairs(rolloutPairs, rolloutSeedHex)
	if err != nil {
		return err
	}

	cfg := versioncontrol.Config{
		Appname:            appname,
		Address:            address,
		ReleasesDir:        releasesDir,
		Versions:           versions,
		PrivateKey:         privKey,
		RolloutPercentages: rolloutPercentages,
		RolloutSeed:        rolloutSeed,
	}

	peer, err := versioncontrol.New(log, cfg)
	if err != nil {
		return fmt.Errorf("starting server core: %w", err)
	}
	if minimum != "" {
		peer.Core().SetMinimum(mustParseMinimum(minimum))
	}

	log.Info("listening", zap.String("address", peer.Addr()), zap.String("appname", appname))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return peer.Run(ctx)
}

func parseVersionPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one --version=hexhash pair is required")
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		version, hash, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --version value %q, want version=hexhash", p)
		}
		out[version] = hash
	}
	return out, nil
}

func parseRolloutPairs(pairs []string, seedHex string) (map[string]int, release.RolloutBytes, error) {
	if len(pairs) == 0 {
		return nil, release.RolloutBytes{}, nil
	}
	if seedHex == "" {
		return nil, release.RolloutBytes{}, fmt.Errorf("--rollout-seed is required when --rollout is set")
	}
	seed, err := release.ParseRolloutBytes(seedHex)
	if err != nil {
		return nil, release.RolloutBytes{}, fmt.Errorf("parsing rollout seed: %w", err)
	}
	out := make(map[string]int, len(pairs))
	for _, p := range pairs {
		version, pctStr, ok := strings.Cut(p, "=")
		if !ok {
			return nil, release.RolloutBytes{}, fmt.Errorf("malformed --rollout value %q, want version=percentage", p)
		}
		pct, err := strconv.Atoi(pctStr)
		if err != nil {
			return nil, release.RolloutBytes{}, fmt.Errorf("malformed --rollout percentage %q: %w", p, err)
		}
		out[version] = pct
	}
	return out, seed, nil
}

func mustParseMinimum(s string) release.Version {
	v, err := release.NewVersion(s)
	if err != nil {
		return release.Version{}
	}
	return v
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return cfg.Build()
}
