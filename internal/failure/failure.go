// Package failure defines the enumerable failure kinds shared by the archive
// engine. Each condition callers may need to tell apart maps to one Kind, so
// the contain-or-surface decision stays visible at every call boundary.
package failure

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindAlreadyInProgress     Kind = "already_in_progress"
	KindNoToolsSpecified      Kind = "no_tools_specified"
	KindInitFailed            Kind = "init_failed"
	KindArchiveNotFound       Kind = "archive_not_found"
	KindNotCancellable        Kind = "not_cancellable"
	KindFileSizeExceeded      Kind = "file_size_exceeded"
	KindFileExtensionExcluded Kind = "file_extension_excluded"
	KindPackagingFailed       Kind = "packaging_failed"
	KindArtifactMissing       Kind = "artifact_missing"
	KindPermissionDenied      Kind = "permission_denied"
	KindDuplicateArchiver     Kind = "duplicate_archiver"
	KindInvalidArgument       Kind = "invalid_argument"
	KindArchiveInactive       Kind = "archive_inactive"
)

// Error makes a bare Kind usable as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Error is a failure tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against another *Error of the same kind or a bare Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// New builds an Error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether any error in err's chain carries kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}

// KindOf returns the outermost Kind in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}
