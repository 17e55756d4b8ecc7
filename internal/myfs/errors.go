package myfs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies a myfs error independently of whatever caused it, so
// callers (in particular the bridge adapter) can map it onto the right
// errno without string matching.
type Kind int

const (
	// KindOther is the zero value: an error that doesn't fit any of the
	// kinds below.
	KindOther Kind = iota
	KindNoSuchEntry
	KindExists
	KindNoSpace
	KindTooManyOpen
	KindPermissionDenied
	KindBadHandle
	KindNoSuchAddress
	KindNotADirectory
	KindIoError
)

func (k Kind) String() string {
	switch k {
	case KindNoSuchEntry:
		return "no such entry"
	case KindExists:
		return "already exists"
	case KindNoSpace:
		return "no space left"
	case KindTooManyOpen:
		return "too many open files"
	case KindPermissionDenied:
		return "permission denied"
	case KindBadHandle:
		return "bad file handle"
	case KindNoSuchAddress:
		return "no such address"
	case KindNotADirectory:
		return "not a directory"
	case KindIoError:
		return "i/o error"
	default:
		return "error"
	}
}

// Error is the error type returned by every myfs operation. It carries a
// Kind for errno mapping at the bridge boundary and wraps an optional
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("myfs: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("myfs: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, myfs.KindNoSuchEntry) style checks are not needed —
// callers compare against the sentinel errors below instead.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Sentinel errors for errors.Is comparisons against a bare Kind.
var (
	ErrNoSuchEntry      = &Error{Kind: KindNoSuchEntry}
	ErrExists           = &Error{Kind: KindExists}
	ErrNoSpace          = &Error{Kind: KindNoSpace}
	ErrTooManyOpen      = &Error{Kind: KindTooManyOpen}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrBadHandle        = &Error{Kind: KindBadHandle}
	ErrNoSuchAddress    = &Error{Kind: KindNoSuchAddress}
	ErrNotADirectory    = &Error{Kind: KindNotADirectory}
)

// KindOf extracts the Kind of err, walking the wrap chain with
// xerrors.As. Errors that are not *Error report KindIoError, since they
// originate from the underlying container device.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return KindIoError
}
