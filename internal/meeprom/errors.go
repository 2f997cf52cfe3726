package meeprom

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Code is the base outcome of a failed store operation.
type Code uint32

// Values match the firmware status word so Status stays interoperable.
const (
	CodeWriteError      Code = 0x00000001
	CodeEraseError      Code = 0x00000002
	CodeInvalidAddr     Code = 0x00000004
	CodeWriteCheckFail  Code = 0x00000008
	CodeNoData          Code = 0x00000010
	CodeInvalidEntry    Code = 0x00000020
	CodeElementNotEmpty Code = 0x00000040
	CodeAddrMismatch    Code = 0x00000080
	CodeParityError     Code = 0x00000100
	CodeNoPageFound     Code = 0x00000400
	CodePageHeaderError Code = 0x00000800
	CodeInvalidCB       Code = 0x00001000
	CodeInvalidHeader   Code = 0x80000000
)

const (
	statusPageFull uint32 = 0x00000200
	statusTransfer uint32 = 0x40000000
)

var codeNames = map[Code]string{
	CodeWriteError:      "flash program error",
	CodeEraseError:      "flash erase error",
	CodeInvalidAddr:     "invalid address",
	CodeWriteCheckFail:  "write check failed",
	CodeNoData:          "no data",
	CodeInvalidEntry:    "invalid entry address",
	CodeElementNotEmpty: "element not empty",
	CodeAddrMismatch:    "address mismatch",
	CodeParityError:     "parity error",
	CodeNoPageFound:     "no valid page found",
	CodePageHeaderError: "page header set error",
	CodeInvalidCB:       "invalid control block",
	CodeInvalidHeader:   "invalid page header state",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code 0x%08X", uint32(c))
}

// Error is a store failure: a base code plus the secondary conditions that
// happened alongside it.
type Error struct {
	Code Code
	// PageFull is set when the active page ran out of slots during the
	// operation.
	PageFull bool
	// Transfer is set when the failure happened while compacting.
	Transfer bool
	// Err is the driver error behind the failure, if any.
	Err error
}

var (
	ErrWrite           = &Error{Code: CodeWriteError}
	ErrErase           = &Error{Code: CodeEraseError}
	ErrInvalidAddr     = &Error{Code: CodeInvalidAddr}
	ErrWriteCheck      = &Error{Code: CodeWriteCheckFail}
	ErrNoData          = &Error{Code: CodeNoData}
	ErrInvalidEntry    = &Error{Code: CodeInvalidEntry}
	ErrElementNotEmpty = &Error{Code: CodeElementNotEmpty}
	ErrAddrMismatch    = &Error{Code: CodeAddrMismatch}
	ErrParity          = &Error{Code: CodeParityError}
	ErrNoPageFound     = &Error{Code: CodeNoPageFound}
	ErrPageHeader      = &Error{Code: CodePageHeaderError}
	ErrInvalidCB       = &Error{Code: CodeInvalidCB}
	ErrInvalidHeader   = &Error{Code: CodeInvalidHeader}

	// ErrPageFull and ErrTransfer match any Error carrying the flag.
	ErrPageFull = &Error{PageFull: true}
	ErrTransfer = &Error{Transfer: true}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Transfer {
		b.WriteString("page transfer: ")
	}
	b.WriteString(e.Code.String())
	if e.PageFull {
		b.WriteString(" (page full)")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code, or by flag for the flag-only sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != 0 {
		return t.Code == e.Code
	}
	return (t.PageFull && e.PageFull) || (t.Transfer && e.Transfer)
}

// Status returns the error as a firmware status word with the flags OR'd in.
func (e *Error) Status() uint32 {
	s := uint32(e.Code)
	if e.PageFull {
		s |= statusPageFull
	}
	if e.Transfer {
		s |= statusTransfer
	}
	return s
}

func newError(code Code, cause error) *Error {
	return &Error{Code: code, Err: cause}
}

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: errors.Errorf(format, args...)}
}

// asTransfer marks err as a compaction failure.
func asTransfer(err error) error {
	var e *Error
	if errors.As(err, &e) {
		c := *e
		c.Transfer = true
		return &c
	}
	return &Error{Code: CodeWriteError, Transfer: true, Err: err}
}

// withPageFull marks err as having consumed the last slot of the page.
func withPageFull(err error) error {
	var e *Error
	if errors.As(err, &e) {
		c := *e
		c.PageFull = true
		return &c
	}
	return err
}

// Status returns the firmware status word for err; 0 for nil.
func Status(err error) uint32 {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return uint32(CodeWriteError)
}
