package security

import (
	"errors"
	"fmt"
)

// ViolationClass categorizes why an input was rejected.
type ViolationClass string

const (
	ViolationInvalidCharacters   ViolationClass = "invalid_characters"
	ViolationDisallowedEcosystem ViolationClass = "disallowed_ecosystem"
	ViolationLengthExceeded      ViolationClass = "length_exceeded"
	ViolationPathTraversal       ViolationClass = "path_traversal"
)

// SecurityError reports a rejected descriptor field. It is fatal: callers
// never retry it and never execute anything derived from the offending
// input.
type SecurityError struct {
	Class ViolationClass
	Field string
	Value string
	Hint  string
}

func (e *SecurityError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("security violation (%s) in %s %q: %s", e.Class, e.Field, e.Value, e.Hint)
	}
	return fmt.Sprintf("security violation (%s) in %s %q", e.Class, e.Field, e.Value)
}

// IsSecurityError reports whether err is (or wraps) a SecurityError.
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}
