// Package errmsg turns verrors.Error values into user-facing messages
// with an actionable suggestion line, the way a CLI's top-level error
// handler should.
package errmsg

import (
	"errors"
	"fmt"

	"github.com/velo-pm/velo/internal/verrors"
)

// Format renders err for display to a terminal user, appending a
// suggestion when one is known for the error's Kind.
func Format(err error) string {
	var verr *verrors.Error
	if errors.As(err, &verr) {
		if suggestion := suggestionFor(verr.Kind); suggestion != "" {
			return fmt.Sprintf("%s\n  %s", verr.Error(), suggestion)
		}
		return verr.Error()
	}
	return err.Error()
}

func suggestionFor(kind verrors.Kind) string {
	switch kind {
	case verrors.KindRateLimit:
		return "Wait a few minutes before trying again"
	case verrors.KindTimeout:
		return "Check your internet connection and try again"
	case verrors.KindDNS:
		return "Check your DNS settings and internet connection"
	case verrors.KindConnection:
		return "The registry may be down or blocked"
	case verrors.KindTLS:
		return "There may be a certificate issue; check your system clock"
	case verrors.KindNotFound:
		return "Verify the formula name and tap are correct"
	case verrors.KindChecksumMismatch:
		return "Re-run with a clean download cache; the mirror may be serving stale content"
	case verrors.KindAccessDenied:
		return "This registry or bottle requires credentials velo does not have"
	case verrors.KindLockBusy:
		return "Another velo process is already installing; wait for it to finish"
	case verrors.KindCycle:
		return "The formula's dependency graph has a cycle; report this upstream"
	case verrors.KindConflict:
		return "Remove the dependent packages first, or pass --force"
	case verrors.KindAlreadyInstalled:
		return "Pass --force to reinstall over the existing version"
	case verrors.KindSymlinkConflict:
		return "Remove the conflicting file from bin/ and re-run the install"
	case verrors.KindExtraction:
		return "The archive may be corrupt; re-run to re-download it"
	case verrors.KindNotInProjectContext:
		return "Run this inside a project with a manifest, or pass --global"
	case verrors.KindLockfileDrift:
		return "Run install without --frozen to update the lockfile, or resolve the drift manually"
	default:
		return ""
	}
}
