// Package errs defines the typed error taxonomy shared by every layer of
// the storage core, from the physical allocator up through the VFS
// adapter. Every layer returns one of these codes instead of swallowing a
// failure; translation to SQLite's integer result codes happens only at
// the VFS boundary (see package vfs).
package errs

import "fmt"

// Code identifies a class of failure a caller may want to branch on.
type Code int

const (
	// OK is the zero value; never wrapped into an Error.
	OK Code = iota

	/// OutOfMemory indicates physical pages or kernel heap exhaustion.
	OutOfMemory
	/// OutOfSpace indicates the device has no free blocks left.
	OutOfSpace
	/// InvalidAlignment is returned when an alignment argument is not a power of two.
	InvalidAlignment
	/// InvalidSize is returned for a zero or otherwise nonsensical size argument.
	InvalidSize
	/// ControllerFatal marks the NVMe controller unusable for the remainder of the session.
	ControllerFatal
	/// Timeout indicates the controller did not reach the expected state in time.
	Timeout
	/// CommandFailed wraps a raw NVMe status code returned by the device.
	CommandFailed
	/// MediaError indicates the device reported a media-level failure (SCT=2, or LbaOutOfRange).
	MediaError
	/// ShortRead indicates a read was truncated because it reached past end-of-file.
	ShortRead
	/// Busy indicates a WAL lock conflict; the caller should retry.
	Busy
	/// Fsync indicates the durability barrier (NVMe Flush) did not complete.
	Fsync
	/// IOErrWrite indicates a plain device write failed, distinct from
	/// Fsync: the write itself was rejected, not the durability barrier.
	IOErrWrite
	/// CantOpen indicates an open without OpenCreate found no matching file.
	CantOpen
	/// Full indicates growth failed because the allocator had no room for the new extent.
	Full
	/// NotFound indicates a lookup (e.g. Access, Delete) found no matching entry.
	NotFound
)

var names = map[Code]string{
	OutOfMemory:       "out of memory",
	OutOfSpace:        "out of space",
	InvalidAlignment:  "invalid alignment",
	InvalidSize:       "invalid size",
	ControllerFatal:   "controller fatal",
	Timeout:           "timeout",
	CommandFailed:     "command failed",
	MediaError:        "media error",
	ShortRead:         "short read",
	Busy:              "busy",
	Fsync:             "fsync failed",
	IOErrWrite:        "device write failed",
	CantOpen:          "cannot open",
	Full:              "full",
	NotFound:          "not found",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("errs.Code(%d)", int(c))
}

// Error is a typed error value carrying a Code and, optionally, an
// underlying cause (e.g. the raw NVMe status or an *os.PathError from the
// file-backed test device).
type Error struct {
	Code   Code
	Status uint16 // raw NVMe status, valid when Code == CommandFailed or MediaError
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	if e.Code == CommandFailed || e.Code == MediaError {
		return fmt.Sprintf("%s (status=%#04x)", e.Code, e.Status)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errs.E(errs.Busy)) style comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// E constructs a bare Error for the given code.
func E(code Code) *Error { return &Error{Code: code} }

// Wrap constructs an Error wrapping cause under the given code.
func Wrap(code Code, cause error) *Error { return &Error{Code: code, Cause: cause} }

// WithStatus constructs a CommandFailed/MediaError with a raw status attached.
func WithStatus(code Code, status uint16) *Error { return &Error{Code: code, Status: status} }
