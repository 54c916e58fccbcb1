// Package sqlitevfs bridges package vfs's *vfs.FS to a real SQLite
// engine, registering it as a named custom VFS via
// github.com/psanford/sqlite3vfs against the github.com/mattn/go-sqlite3
// cgo driver. This package plays the same role as the original
// implementation's C-FFI sqlite3_vfs/sqlite3_io_methods bridge
// (original_source's kernel/src/sqlite/vfs_bridge.rs), translated from
// hand-written vtable structs into the two plain Go interfaces
// sqlite3vfs defines.
package sqlitevfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/psanford/sqlite3vfs"

	"hvnos/errs"
	"hvnos/vfs"
)

// Name is the VFS name SQLite DSNs reference, e.g.
// "file:heaven.db?vfs=heaven".
const Name = "heaven"

// codedErr carries the SQLite integer code vfs.Translate produced,
// alongside the original error, so a human reading a failed-query
// error has the underlying cause in the text. sqlite3vfs's generated
// C shim does not inspect a returned error any further than err == nil
// per method — each xMethod already maps a non-nil error to that
// operation's own fixed SQLITE_IOERR_* subtype (xSync failure becomes
// IOERR_FSYNC, xWrite failure becomes IOERR_WRITE, and so on) — so
// vfs.SQLiteCode never reaches libsqlite3 through this path; it is
// kept here for logging and errors.Is/Unwrap chains within this
// process, not for delivery to SQLite. The one code sqlite3vfs's shim
// does act on, SQLITE_IOERR_SHORT_READ, is conveyed separately by
// file.ReadAt's io.EOF return below, which is the actual contract its
// xRead shim checks.
type codedErr struct {
	code  vfs.SQLiteCode
	cause error
}

func (e *codedErr) Error() string { return fmt.Sprintf("sqlite code %d: %v", e.code, e.cause) }
func (e *codedErr) Unwrap() error { return e.cause }

func translate(err error) error {
	if err == nil {
		return nil
	}
	return &codedErr{code: vfs.Translate(err), cause: err}
}

// bridge adapts a *vfs.FS to sqlite3vfs.VFS. Every file opened through
// it shares the same underlying block device, allocator, and file
// table — there is exactly one logical filesystem per bridge, matching
// spec.md's single heaven.db namespace.
type bridge struct {
	fs *vfs.FS
}

// Register wires fs as the SQLite VFS named Name. Call once at
// startup, before opening any *sql.DB against it (cmd/heavenfsd does
// this immediately after constructing the vfs.FS).
func Register(fs *vfs.FS) error {
	return sqlite3vfs.RegisterVFS(Name, &bridge{fs: fs})
}

func (b *bridge) Open(name string, flags sqlite3vfs.OpenFlag) (sqlite3vfs.File, sqlite3vfs.OpenFlag, error) {
	var vflags vfs.OpenFlag
	if flags&sqlite3vfs.OpenCreate != 0 {
		vflags |= vfs.OpenCreate
	}
	h, err := b.fs.Open([]byte(name), vflags)
	if err != nil {
		return nil, 0, translate(err)
	}
	return &file{fs: b.fs, h: h}, flags, nil
}

func (b *bridge) Delete(name string, dirSync bool) error {
	return translate(b.fs.Delete([]byte(name)))
}

func (b *bridge) Access(name string, flag sqlite3vfs.AccessFlag) (bool, error) {
	return b.fs.Access([]byte(name)), nil
}

// FullPathname is a no-op here: every name lives in the flat file
// table namespace, there is no directory hierarchy to resolve against,
// matching spec.md's "a single database file" scope.
func (b *bridge) FullPathname(name string) (string, error) {
	return name, nil
}

// file adapts a vfs.Handle to sqlite3vfs.File. h is mutated in place by
// Write/Truncate, matching the way vfs.FS.Write/Truncate take *Handle.
type file struct {
	fs *vfs.FS
	h  vfs.Handle
}

func (f *file) Close() error {
	return translate(f.fs.Close(f.h))
}

// ReadAt honors io.ReaderAt's contract precisely because
// github.com/psanford/sqlite3vfs's xRead shim depends on it: any
// non-io.EOF error is a hard SQLITE_IOERR_READ, and only io.EOF (with
// the valid byte count in n) becomes the expected SQLITE_IOERR_SHORT_READ
// for a read past end-of-file. vfs.FS.Read already zero-fills p on a
// short read, so only the count of genuine file bytes needs computing.
func (f *file) ReadAt(p []byte, off int64) (int, error) {
	err := f.fs.Read(f.h, p, uint64(off))
	if err == nil {
		return len(p), nil
	}
	if errors.Is(err, errs.E(errs.ShortRead)) {
		n := 0
		if uint64(off) < f.h.ByteLength {
			n = int(f.h.ByteLength - uint64(off))
			if n > len(p) {
				n = len(p)
			}
		}
		return n, io.EOF
	}
	return 0, translate(err)
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if err := f.fs.Write(&f.h, p, uint64(off)); err != nil {
		return 0, translate(err)
	}
	return len(p), nil
}

func (f *file) Truncate(size int64) error {
	return translate(f.fs.Truncate(&f.h, uint64(size)))
}

func (f *file) Sync(flags sqlite3vfs.SyncType) error {
	return translate(f.fs.Sync(f.h))
}

func (f *file) FileSize() (int64, error) {
	return int64(f.h.ByteLength), nil
}

// Lock/Unlock delegate to WAL shm lock slot 0 as the
// single-writer rollback journal lock SQLite's legacy (non-WAL)
// locking protocol expects — heaven.db runs in WAL mode (db.Open issues
// PRAGMA journal_mode=WAL right after opening), so this path is only
// exercised during SQLite's own startup probe, never under real
// contention. CheckReservedLock always reports that no reserved lock is
// held.
func (f *file) Lock(elock sqlite3vfs.LockType) error {
	if elock == sqlite3vfs.LockNone {
		return nil
	}
	exclusive := elock >= sqlite3vfs.LockExclusive
	return translate(f.fs.ShmLock(0, 1, exclusive, true))
}

func (f *file) Unlock(elock sqlite3vfs.LockType) error {
	if elock == sqlite3vfs.LockNone {
		return nil
	}
	exclusive := elock >= sqlite3vfs.LockExclusive
	f.fs.ShmLock(0, 1, exclusive, false)
	return nil
}

func (f *file) CheckReservedLock() (bool, error) {
	return false, nil
}

func (f *file) SectorSize() int64 { return int64(f.h.BlockSize) }

func (f *file) DeviceCharacteristics() sqlite3vfs.DeviceCharacteristic {
	return 0
}
