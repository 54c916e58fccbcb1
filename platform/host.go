package platform

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"
)

// julianEpochOffsetMillis is the offset between the Unix epoch and the
// Julian-day epoch SQLite's xCurrentTime contract expects, expressed in
// milliseconds. SQLite wants milliseconds since noon in Greenwich on
// November 24, 4714 B.C. (proleptic Gregorian calendar); this is the
// standard constant used by every SQLite VFS implementation.
const julianEpochOffsetMillis int64 = 210866760000000

// HostClock implements Clock using the host's wall clock. It stands in
// for the CMOS real-time-clock read spec.md §4.8 describes; on a real
// bring-up this would be replaced with the BCD-aware CMOS reader, but
// the millisecond-since-Julian-epoch contract at the VFS boundary is
// identical either way.
type HostClock struct{}

func (HostClock) NowMillis() int64 {
	return time.Now().UnixMilli() + julianEpochOffsetMillis
}

func (HostClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// HostRNG implements RNG using the OS's cryptographic random source,
// standing in for the hardware RNG instruction spec.md §4.8 describes.
type HostRNG struct{}

func (HostRNG) Fill(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a supported OS does not fail; if it
		// somehow does, zero-fill rather than hand SQLite garbage.
		for i := range buf {
			buf[i] = 0
		}
	}
}

// HostSink implements PanicSink by printing to stderr and exiting the
// process, standing in for the serial-console panic sink plus halt loop.
type HostSink struct{}

func (HostSink) Fatal(msg string) {
	fmt.Fprintln(os.Stderr, "fatal:", msg)
	os.Exit(1)
}

// HostHalt implements Halt by exiting the process cleanly.
type HostHalt struct{}

func (HostHalt) Halt() {
	os.Exit(0)
}

// Host returns a Platform backed by the host operating system, suitable
// for the file-backed block device build (cmd/heavenfsd). Tests use
// their own stubs instead.
func Host() *Platform {
	return &Platform{
		Clock: HostClock{},
		RNG:   HostRNG{},
		Sink:  HostSink{},
		Halt:  HostHalt{},
	}
}
