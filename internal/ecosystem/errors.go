package ecosystem

import (
	"errors"
	"fmt"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// Install stages, used to report which step of an install failed.
const (
	StageParse   = "parse"
	StageInstall = "install"
	StageLocate  = "locate"
)

// InstallError is a structured ecosystem-plugin failure. Transient marks
// network-class errors that are worth exactly one retry; everything else is
// terminal.
type InstallError struct {
	Ecosystem     descriptor.Ecosystem
	Stage         string
	StderrExcerpt string
	Transient     bool
	Err           error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("%s install failed at stage %s", e.Ecosystem, e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.StderrExcerpt != "" {
		msg += fmt.Sprintf(" (stderr: %s)", e.StderrExcerpt)
	}
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }

// ExecutableNotFoundError reports that an install completed but produced
// nothing runnable. Distinct from InstallError: the toolchain succeeded,
// the package is broken.
type ExecutableNotFoundError struct {
	Ecosystem descriptor.Ecosystem
	Package   string
	Searched  []string
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("no executable found for %s package %q (searched %s)",
		e.Ecosystem, e.Package, strings.Join(e.Searched, ", "))
}

// transientMarkers are stderr substrings that indicate a network-class
// failure rather than a bad package.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"timed out",
	"timeout",
	"network is unreachable",
	"temporary failure",
	"econnreset",
	"etimedout",
	"socket hang up",
	"tls handshake",
	"503",
	"502",
}

// terminalMarkers override transient classification: a package that does not
// exist will not appear on retry.
var terminalMarkers = []string{
	"404",
	"not found",
	"no matching version",
	"could not find",
	"no such package",
	"does not exist",
}

// ClassifyStderr decides whether an install failure looks transient from
// its captured stderr. Terminal markers win over transient ones.
func ClassifyStderr(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, m := range terminalMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is an InstallError marked transient.
func IsTransient(err error) bool {
	var ie *InstallError
	return errors.As(err, &ie) && ie.Transient
}
