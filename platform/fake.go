package platform

import "time"

// Fake implements Clock, RNG, PanicSink, and Halt deterministically for
// tests: no wall-clock jitter, no real sleeping, and a record of any
// fatal condition instead of a process exit.
type Fake struct {
	Millis  int64
	seed    uint64
	Fatals  []string
	Halted  bool
	Slept   []time.Duration
}

func NewFake() *Fake {
	return &Fake{Millis: julianEpochOffsetMillis, seed: 0x9e3779b97f4a7c15}
}

func (f *Fake) NowMillis() int64 { return f.Millis }

func (f *Fake) Sleep(d time.Duration) {
	f.Slept = append(f.Slept, d)
	f.Millis += d.Milliseconds()
}

// Fill produces a deterministic xorshift stream rather than real
// entropy, so tests that exercise randomness() are reproducible.
func (f *Fake) Fill(buf []byte) {
	for i := range buf {
		f.seed ^= f.seed << 13
		f.seed ^= f.seed >> 7
		f.seed ^= f.seed << 17
		buf[i] = byte(f.seed)
	}
}

func (f *Fake) Fatal(msg string) { f.Fatals = append(f.Fatals, msg) }

func (f *Fake) Halt() { f.Halted = true }

// Platform returns a *Platform backed by this fake.
func (f *Fake) Platform() *Platform {
	return &Platform{Clock: f, RNG: f, Sink: f, Halt: f}
}
