// Package errs implements the error-kind taxonomy of spec section 7 shared
// by the journal and both translation layers.
//
// It is modeled on the teacher's *StatusError pattern
// (internal/diskimage/d64_write.go): a small concrete error type carrying a
// machine-checkable classifier plus a human message, instead of a grab-bag
// of sentinel errors compared with ==.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why a core operation failed.
type Kind byte

const (
	// KindIO is a physical read/program/erase failure.
	KindIO Kind = iota
	// KindCorruption is an uncorrectable ECC, a signature mismatch on
	// mount, or a geometry mismatch.
	KindCorruption
	// KindNotFormatted means the medium has no valid format-info/info
	// sector.
	KindNotFormatted
	// KindOutOfSpace means no free NAND block, or a full journal with no
	// overflow callback registered (or one that chose abort).
	KindOutOfSpace
	// KindTransient is a recoverable condition (1-bit ECC correction,
	// fail-safe-erase retry) that the caller need not see as failure.
	KindTransient
	// KindReadOnly means the device (or volume) has latched read-only.
	KindReadOnly
	// KindInvalidArgument is returned without any side effect.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCorruption:
		return "corruption"
	case KindNotFormatted:
		return "not_formatted"
	case KindOutOfSpace:
		return "out_of_space"
	case KindTransient:
		return "transient"
	case KindReadOnly:
		return "read_only"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by journal/nandtl/nortl
// operations.
type Error struct {
	Kind    Kind
	Sector  uint32
	HasSec  bool
	Op      string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.HasSec {
		if e.Message != "" {
			return fmt.Sprintf("%s: sector %d: %s: %s", e.Op, e.Sector, e.Kind, e.Message)
		}
		return fmt.Sprintf("%s: sector %d: %s", e.Op, e.Sector, e.Kind)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, errs.KindIO-shaped-target) match purely on Kind,
// by comparing against another *Error that only sets Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with no associated sector.
func New(op string, kind Kind, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}

// NewSector builds an *Error associated with a specific logical/physical
// sector index.
func NewSector(op string, kind Kind, sector uint32, message string) *Error {
	return &Error{Op: op, Kind: kind, Sector: sector, HasSec: true, Message: message}
}

// Wrap attaches op/kind context to an underlying error (typically from the
// physical layer).
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Wrapped: err, Message: err.Error()}
}

// KindOf returns the Kind carried by err if it is (or wraps) an *Error,
// and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err's classified Kind equals k.
func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
