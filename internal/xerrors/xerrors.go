// Package xerrors declares the error taxonomy of spec section 7: the
// categories a caller at any layer needs to distinguish in order to decide
// whether to retry, tear down a session, or surface a failure to an RPC
// caller.
package xerrors

import "github.com/pkg/errors"

// Kind identifies which of the taxonomy's categories an error belongs to.
type Kind int

const (
	// KindConnect covers TCP connect/bind/accept failure. Retried at a
	// higher level; never fatal to the process.
	KindConnect Kind = iota
	// KindFrame covers length/id disagreement, short reads, unknown
	// message ids. Tears down the offending session only.
	KindFrame
	// KindProtocol covers handshake mismatch and unexpected PIECE
	// index/offset. Same scope as KindFrame.
	KindProtocol
	// KindIntegrity covers a piece SHA-1 mismatch. The piece is reset;
	// the blamed peer is excluded for the retry.
	KindIntegrity
	// KindStore covers a missing info-hash or I/O on the tracker's JSON
	// shard. Surfaced to the RPC caller as "ERROR: ...".
	KindStore
	// KindRing covers an RPC to a Chord neighbour timing out. Swallowed;
	// stabilise will converge on its own.
	KindRing
	// KindUsage covers bad operator input. Printed; the caller's loop
	// continues.
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "ConnectError"
	case KindFrame:
		return "FrameError"
	case KindProtocol:
		return "ProtocolError"
	case KindIntegrity:
		return "IntegrityError"
	case KindStore:
		return "StoreError"
	case KindRing:
		return "RingError"
	case KindUsage:
		return "UsageError"
	default:
		return "UnknownError"
	}
}

// Error is a taxonomy-tagged error. Use New/Wrap to build one, and Is to
// test whether an arbitrary error belongs to a given Kind.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Kind.String() + ": " + e.msg + ": " + e.err.Error()
	}
	return e.Kind.String() + ": " + e.msg
}

func (e *Error) Unwrap() error { return e.err }

// New builds a Kind-tagged error from a message alone.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(err)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: errors.Errorf(format, args...).Error(), err: err}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var tagged *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			tagged = e
			if tagged.Kind == kind {
				return true
			}
			err = e.err
			continue
		}
		break
	}
	return false
}
