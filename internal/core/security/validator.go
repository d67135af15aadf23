// Package security contains the pure validation functions that stand between
// registry-scraped install strings and any process spawn. Inputs are rejected
// outright, never escaped: an install command that needs escaping is an
// install command this system refuses to run.
package security

import (
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// Field length ceilings. Name matches the npm registry's own 214-character
// package-name limit; the rest are generous but bounded.
const (
	MaxNameLength    = 214
	MaxVersionLength = 64
	MaxArgLength     = 256
	MaxCommandLength = 1024
)

// shellMetachars are the characters that indicate an attempt to smuggle
// shell syntax through a descriptor field. Spawns always use argv vectors,
// so these are never legitimate.
const shellMetachars = ";|&$`><\n\r\x00"

// allowedLaunchers is the closed set of binaries the orchestrator may ever
// spawn for an install. Nothing from a descriptor is ever used as argv[0].
var allowedLaunchers = map[string]struct{}{
	"npx":     {},
	"npm":     {},
	"pipx":    {},
	"python3": {},
	"cargo":   {},
	"go":      {},
	"git":     {},
	"docker":  {},
}

// AllowedLauncher reports whether bin may be used as the argv[0] of an
// install or launch invocation.
func AllowedLauncher(bin string) bool {
	_, ok := allowedLaunchers[bin]
	return ok
}

// nameChar reports whether c may appear in a package name, version, or image
// reference. The class is deliberately narrow: letters, digits, and the
// separators the six ecosystems legitimately use.
func nameChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '.', '_', '@', '/', '-', ':', '=', '^', '~', '+', '#':
		return true
	}
	return false
}

// CheckField validates a single descriptor-derived field against the shared
// character class, the metacharacter set, traversal sequences, and maxLen.
func CheckField(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return &SecurityError{Class: ViolationLengthExceeded, Field: field, Value: truncate(value), Hint: "field too long"}
	}
	if strings.ContainsAny(value, shellMetachars) {
		return &SecurityError{Class: ViolationInvalidCharacters, Field: field, Value: truncate(value), Hint: "shell metacharacter"}
	}
	if strings.Contains(value, "..") {
		return &SecurityError{Class: ViolationPathTraversal, Field: field, Value: truncate(value), Hint: "path traversal sequence"}
	}
	for _, c := range value {
		if !nameChar(c) {
			return &SecurityError{Class: ViolationInvalidCharacters, Field: field, Value: truncate(value)}
		}
	}
	return nil
}

// CheckInstallCommand validates the raw install string before any parsing.
// The string is scraped from third-party metadata and must be treated as
// hostile. Spaces are allowed (they separate argv words); everything else
// follows CheckField rules, and the first word must be an allow-listed
// launcher.
func CheckInstallCommand(command string) error {
	if len(command) > MaxCommandLength {
		return &SecurityError{Class: ViolationLengthExceeded, Field: "install_command", Value: truncate(command)}
	}
	if strings.ContainsAny(command, shellMetachars) {
		return &SecurityError{Class: ViolationInvalidCharacters, Field: "install_command", Value: truncate(command), Hint: "shell metacharacter"}
	}
	words := strings.Fields(command)
	if len(words) == 0 {
		return &SecurityError{Class: ViolationInvalidCharacters, Field: "install_command", Value: "", Hint: "empty command"}
	}
	if !AllowedLauncher(words[0]) {
		return &SecurityError{Class: ViolationDisallowedEcosystem, Field: "install_command", Value: words[0], Hint: "launcher is not allow-listed"}
	}
	for _, w := range words[1:] {
		if err := CheckField("install_command", w, MaxArgLength); err != nil {
			return err
		}
	}
	return nil
}

// ValidateResolved re-checks a plugin-parsed package before it is used to
// build cache keys and install argv. Plugins are trusted code, but their
// inputs are not; this is the last gate before disk and process side
// effects.
func ValidateResolved(res descriptor.ResolvedPackage) error {
	if err := CheckField("name", res.Name, MaxNameLength); err != nil {
		return err
	}
	if strings.HasPrefix(res.Name, "/") || strings.HasPrefix(res.Name, "-") {
		return &SecurityError{Class: ViolationPathTraversal, Field: "name", Value: truncate(res.Name), Hint: "name cannot begin with / or -"}
	}
	if res.Version != "" {
		if err := CheckField("version", res.Version, MaxVersionLength); err != nil {
			return err
		}
	}
	for _, arg := range res.ExtraArgs {
		if err := CheckField("extra_arg", arg, MaxArgLength); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDescriptor runs every install method of a descriptor through the
// command check. A descriptor with any rejected method is rejected whole;
// a malicious method is a malicious descriptor.
func ValidateDescriptor(d descriptor.PackageDescriptor) error {
	if err := CheckField("slug", d.Slug, MaxNameLength); err != nil {
		return err
	}
	for _, m := range d.InstallMethods {
		if err := CheckInstallCommand(m.Command); err != nil {
			return err
		}
	}
	for _, v := range d.RequiredEnvVars {
		if err := CheckField("required_env_var", v, MaxArgLength); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
