package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/velo-pm/velo/internal/errmsg"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/scope"
	"github.com/velo-pm/velo/internal/tapindex"
	"github.com/velo-pm/velo/internal/verrors"
	"github.com/velo-pm/velo/internal/vlog"
)

var jsonFlag bool

// printInfo prints an informational message unless quiet mode is enabled.
func printInfo(a ...interface{}) {
	if !quietFlag {
		fmt.Println(a...)
	}
}

// printInfof prints a formatted informational message unless quiet mode
// is enabled.
func printInfof(format string, a ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, a...)
	}
}

// printError prints err with its errmsg suggestion, or as a JSON envelope
// when --json was passed.
func printError(err error) {
	if jsonFlag {
		resp := struct {
			Status   string `json:"status"`
			Message  string `json:"message"`
			ExitCode int    `json:"exit_code"`
		}{Status: "error", Message: err.Error(), ExitCode: classifyError(err)}
		printJSON(resp)
		return
	}
	fmt.Fprintln(os.Stderr, errmsg.Format(err))
}

// printJSON marshals v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
		exitWithCode(ExitGeneral)
	}
}

// classifyError maps a velo error to its exit code via verrors.Kind.
func classifyError(err error) int {
	var verr *verrors.Error
	if errors.As(err, &verr) {
		switch verr.Kind {
		case verrors.KindNotFound:
			return ExitNotFound
		case verrors.KindNetwork, verrors.KindTimeout, verrors.KindDNS, verrors.KindConnection, verrors.KindTLS, verrors.KindRateLimit:
			return ExitNetwork
		case verrors.KindCycle, verrors.KindConflict:
			return ExitDependencyFailed
		case verrors.KindLockfileDrift:
			return ExitLockDrift
		case verrors.KindAlreadyInstalled, verrors.KindSymlinkConflict, verrors.KindExtraction, verrors.KindChecksumMismatch, verrors.KindLockBusy:
			return ExitInstallFailed
		}
	}
	return ExitGeneral
}

// handleError prints err and exits with its classified code.
func handleError(err error) {
	printError(err)
	exitWithCode(classifyError(err))
}

// resolveLayout picks the project-local Layout unless --global was
// passed.
func resolveLayout() (*layout.Layout, error) {
	return scope.PathLayout(!globalFlag)
}

// currentProjectContext returns the project context for the cwd, if any,
// ignoring it entirely when --global was passed.
func currentProjectContext() (*scope.ProjectContext, bool, error) {
	if globalFlag {
		return nil, false, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, false, err
	}
	return scope.FindProjectContext(cwd)
}

// loadOrBuildIndex loads the persisted tap index, rebuilding it from the
// tap trees on disk if there is no usable cache.
func loadOrBuildIndex(l *layout.Layout) (*tapindex.Index, error) {
	idx := tapindex.New(l, vlog.Default())
	ok, err := idx.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := idx.BuildFullIndex(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// tapForFormula derives the "org/repo" tap name a formula file was
// indexed from, given its absolute path under Layout.Taps().
func tapForFormula(l *layout.Layout, formulaPath string) string {
	rel, err := filepath.Rel(l.Taps(), formulaPath)
	if err != nil {
		return ""
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
