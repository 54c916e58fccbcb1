package vfs

import "time"

// CurrentTimeMs returns milliseconds since the SQLite/Julian epoch via
// the platform clock, for xCurrentTimeInt64.
func (f *FS) CurrentTimeMs() int64 { return f.Clock.NowMillis() }

// Sleep waits for d via the platform clock, for xSleep.
func (f *FS) Sleep(d time.Duration) { f.Clock.Sleep(d) }

// Randomness fills buf via the platform RNG, for xRandomness.
func (f *FS) Randomness(buf []byte) { f.RNG.Fill(buf) }
