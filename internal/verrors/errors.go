// Package verrors defines the typed error taxonomy shared across velo's
// components, so callers can branch on error kind with errors.As instead
// of matching message strings.
package verrors

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Kind classifies an Error for dispatch by callers and formatters.
type Kind int

const (
	// KindNetwork is a generic network-related failure.
	KindNetwork Kind = iota
	// KindNotFound indicates a formula, bottle, or tap entry does not exist.
	KindNotFound
	// KindParse indicates a formula file could not be parsed.
	KindParse
	// KindValidation indicates a value failed a structural check (a
	// formula name, a version string, a checksum).
	KindValidation
	// KindRateLimit indicates the registry returned HTTP 429.
	KindRateLimit
	// KindTimeout indicates a request exceeded its deadline.
	KindTimeout
	// KindDNS indicates DNS resolution failed.
	KindDNS
	// KindConnection indicates the connection was refused or reset.
	KindConnection
	// KindTLS indicates a TLS/certificate error.
	KindTLS
	// KindChecksumMismatch indicates a downloaded bottle failed SHA-256
	// verification.
	KindChecksumMismatch
	// KindAccessDenied indicates the registry returned HTTP 401/403/404; this
	// is terminal and must not be retried.
	KindAccessDenied
	// KindCycle indicates a dependency cycle was detected.
	KindCycle
	// KindLockBusy indicates another process holds the package lock.
	KindLockBusy
	// KindConflict indicates an installed package conflicts with a
	// requested operation (e.g. removing a package others depend on).
	KindConflict
	// KindAlreadyInstalled indicates a Cellar entry already exists and
	// force was not requested.
	KindAlreadyInstalled
	// KindSymlinkConflict indicates a non-symlink file blocks bin/ symlink
	// creation.
	KindSymlinkConflict
	// KindExtraction indicates a bottle archive could not be extracted.
	KindExtraction
	// KindNotInProjectContext indicates an operation needed a project
	// manifest but none was found walking upward from the cwd.
	KindNotInProjectContext
	// KindLockfileDrift indicates a --frozen install found the lockfile
	// missing or out of sync with the project manifest.
	KindLockfileDrift
)

// Error is velo's structured error type. It wraps an underlying error
// (if any) with a Kind for dispatch and an optional Package/Operation
// for diagnostics.
type Error struct {
	Kind      Kind
	Operation string // e.g. "install", "resolve", "download"
	Package   string // formula name the error concerns, if any
	Message   string
	Err       error
}

func (e *Error) Error() string {
	prefix := "velo"
	if e.Operation != "" {
		prefix = e.Operation
	}
	if e.Package != "" {
		prefix = fmt.Sprintf("%s %s", prefix, e.Package)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the operation that produced this error is
// worth retrying with backoff.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindConnection, KindRateLimit, KindDNS:
		return true
	default:
		return false
	}
}

// New constructs an Error of the given kind.
func New(kind Kind, operation, pkg, message string) *Error {
	return &Error{Kind: kind, Operation: operation, Package: pkg, Message: message}
}

// Wrap constructs an Error with an underlying cause, classifying network
// causes automatically the way ClassifyNetworkError does.
func Wrap(err error, operation, pkg, message string) *Error {
	return &Error{Kind: ClassifyNetworkError(err), Operation: operation, Package: pkg, Message: message, Err: err}
}

// ClassifyNetworkError inspects err and returns the most specific Kind,
// unwrapping through context, DNS, TLS, net.OpError, and url.Error causes.
func ClassifyNetworkError(err error) Kind {
	if err == nil {
		return KindNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindNetwork
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return KindTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return KindTimeout
		}
		var innerDNS *net.DNSError
		if errors.As(opErr.Err, &innerDNS) {
			return KindDNS
		}
		return KindConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return KindTimeout
		}
		msg := urlErr.Err.Error()
		if strings.Contains(msg, "certificate") || strings.Contains(msg, "tls") || strings.Contains(msg, "x509") {
			return KindTLS
		}
		return ClassifyNetworkError(urlErr.Err)
	}

	return KindNetwork
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
