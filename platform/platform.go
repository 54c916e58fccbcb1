// Package platform models the hardware collaborators the storage core
// uses but does not implement: the calibrated clock, the hardware RNG,
// the panic sink, and halt. Every other package in this
// module depends only on these small interfaces, never on a concrete
// bring-up sequence, the same way the teacher kernel hides hardware
// access behind package-level interfaces (mem.Page_i, fs.Disk_i) instead
// of reaching for global hardware state directly.
package platform

import "time"

// Clock supplies the millisecond-since-Julian-epoch timestamps SQLite's
// xCurrentTime VFS method needs, and the wait primitive xSleep uses.
type Clock interface {
	// NowMillis returns milliseconds since the SQLite/Julian epoch,
	// mirroring the CMOS-RTC-derived value spec.md §4.8 describes.
	NowMillis() int64
	// Sleep waits for approximately d. On hardware this is a busy-wait
	// on the calibrated timestamp counter; HostClock calls time.Sleep,
	// and Fake records d and advances its clock without waiting.
	Sleep(d time.Duration)
}

// RNG supplies randomness for SQLite's xRandomness VFS method.
type RNG interface {
	// Fill populates buf with random bytes. HostRNG reads the OS source
	// and zero-fills buf if that read fails; it has no counterpart of
	// the hardware RNG instruction's carry-flag retry loop (spec.md §4.8).
	Fill(buf []byte)
}

// PanicSink receives fatal, unrecoverable conditions (ControllerFatal,
// heap corruption detected via a bad slab header, ...). The production
// implementation halts the machine; tests substitute one that records
// the message and lets the calling goroutine unwind normally.
type PanicSink interface {
	Fatal(msg string)
}

// Halt is one-shot: once called, the caller must not proceed. Modeled
// separately from PanicSink because a clean shutdown (no error) also
// needs to halt the core.
type Halt interface {
	Halt()
}

// Platform bundles the collaborators a booting storage core needs.
type Platform struct {
	Clock Clock
	RNG   RNG
	Sink  PanicSink
	Halt  Halt
}
