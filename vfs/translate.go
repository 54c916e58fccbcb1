package vfs

import "hvnos/errs"

// SQLite extended result codes this adapter can produce. Defined here,
// independent of any particular SQLite binding's constant set, per
// spec.md §7: translation from the internal errs.Code taxonomy to
// SQLite's integer codes happens in exactly this one place. Package
// sqlitevfs carries the translated code alongside the error it returns;
// its binding does not pass that code on to SQLite.
type SQLiteCode int

const (
	SQLiteOK               SQLiteCode = 0
	SQLiteError            SQLiteCode = 1
	SQLiteBusy             SQLiteCode = 5
	SQLiteFull             SQLiteCode = 13
	SQLiteCantOpen         SQLiteCode = 14
	SQLiteNotFound         SQLiteCode = 12
	SQLiteIOErr            SQLiteCode = 10
	SQLiteIOErrShortRead   SQLiteCode = 522  // 10 | (2<<8)
	SQLiteIOErrFsync       SQLiteCode = 1034 // 10 | (4<<8)
	SQLiteIOErrRead        SQLiteCode = 266  // 10 | (1<<8)
	SQLiteIOErrWrite       SQLiteCode = 778  // 10 | (3<<8)
)

// Translate maps an error returned by this package into the matching
// SQLite result code. A nil err (or
// one that is not an *errs.Error, which should not occur on this
// path) maps to SQLiteOK/SQLiteError respectively.
func Translate(err error) SQLiteCode {
	if err == nil {
		return SQLiteOK
	}
	e, ok := err.(*errs.Error)
	if !ok {
		return SQLiteError
	}
	switch e.Code {
	case errs.ShortRead:
		return SQLiteIOErrShortRead
	case errs.Busy:
		return SQLiteBusy
	case errs.Fsync:
		return SQLiteIOErrFsync
	case errs.IOErrWrite:
		return SQLiteIOErrWrite
	case errs.CantOpen:
		return SQLiteCantOpen
	case errs.Full, errs.OutOfSpace:
		return SQLiteFull
	case errs.NotFound:
		return SQLiteNotFound
	case errs.MediaError, errs.CommandFailed, errs.ControllerFatal, errs.Timeout:
		return SQLiteIOErr
	default:
		return SQLiteError
	}
}
