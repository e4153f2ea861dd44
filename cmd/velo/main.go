package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/velo-pm/velo/internal/buildinfo"
	"github.com/velo-pm/velo/internal/formula"
	"github.com/velo-pm/velo/internal/vlog"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
	globalFlag  bool
)

// globalCtx is canceled on SIGINT/SIGTERM. Commands performing network or
// filesystem work that should stop promptly on Ctrl-C take it as the
// context.Context argument.
var globalCtx context.Context
var globalCancel context.CancelFunc

var rootCmd = &cobra.Command{
	Use:   "velo",
	Short: "A per-user package manager for precompiled Homebrew bottles",
	Long: `velo installs precompiled Homebrew bottles into a private,
per-user prefix with no elevated privileges.

Inside a project directory with a velo.toml manifest, velo installs into
that project's own .velo prefix; elsewhere it uses the global
~/.velo prefix.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output (INFO level)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output (includes timestamps and source locations)")
	rootCmd.PersistentFlags().BoolVar(&globalFlag, "global", false, "Use the global ~/.velo prefix even inside a project directory")

	rootCmd.PersistentPreRun = initLogger

	rootCmd.Version = buildinfo.Version()

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(updateCmd)
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived %s, canceling operation...\n", sig)
		globalCancel()

		<-sigChan
		fmt.Fprintln(os.Stderr, "Forced exit")
		exitWithCode(ExitCancelled)
	}()

	if err := rootCmd.Execute(); err != nil {
		if globalCtx.Err() == context.Canceled {
			exitWithCode(ExitCancelled)
		}
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
}

// initLogger configures the package-wide logger from verbosity flags and
// environment variables, flags taking precedence.
func initLogger(cmd *cobra.Command, args []string) {
	level := determineLogLevel()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug})
	vlog.SetDefault(vlog.New(handler))

	if level == slog.LevelDebug {
		fmt.Fprintln(os.Stderr, "[DEBUG MODE] Output may contain file paths and URLs. Do not share publicly.")
	}
}

func determineLogLevel() slog.Level {
	if debugFlag {
		return slog.LevelDebug
	}
	if verboseFlag {
		return slog.LevelInfo
	}
	if quietFlag {
		return slog.LevelError
	}

	if isTruthy(os.Getenv("VELO_DEBUG")) {
		return slog.LevelDebug
	}
	if isTruthy(os.Getenv("VELO_VERBOSE")) {
		return slog.LevelInfo
	}
	if isTruthy(os.Getenv("VELO_QUIET")) {
		return slog.LevelError
	}

	return slog.LevelWarn
}

func isTruthy(s string) bool {
	s = strings.ToLower(s)
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// detectHost snapshots the running machine's architecture and macOS
// major version once per process. kern.osproductversion is the sysctl
// macOS itself uses to back sw_vers -productVersion.
func detectHost() formula.Host {
	hostOnce.Do(func() { hostSnapshot = probeHost() })
	return hostSnapshot
}

var (
	hostOnce     sync.Once
	hostSnapshot formula.Host
)

func probeHost() formula.Host {
	h := formula.Host{Arch: formula.ArchX86_64, OSMajor: 0}
	if runtime.GOARCH == "arm64" {
		h.Arch = formula.ArchArm64
	}

	if v, err := unix.Sysctl("kern.osproductversion"); err == nil {
		if major := parseMajor(v); major > 0 {
			h.OSMajor = major
		}
	}
	return h
}

func parseMajor(version string) int {
	parts := strings.SplitN(version, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	return major
}
