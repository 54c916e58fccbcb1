package nvme

import "testing"

func TestSubmissionEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := SubmissionEntry{
		Opcode:    OpWrite,
		Flags:     0,
		CommandID: 0x1234,
		NSID:      1,
		MPTR:      0xdead,
		PRP1:      0x1000,
		PRP2:      0x2000,
		CDW10:     [6]uint32{1, 2, 3, 4, 5, 6},
	}
	buf := make([]byte, SubmissionEntrySize)
	e.Encode(buf)
	got := DecodeSubmissionEntry(buf)

	if got.Opcode != e.Opcode || got.CommandID != e.CommandID || got.NSID != e.NSID {
		t.Fatalf("header fields mismatch: got %+v want %+v", got, e)
	}
	if got.PRP1 != e.PRP1 || got.PRP2 != e.PRP2 || got.MPTR != e.MPTR {
		t.Fatalf("address fields mismatch: got %+v want %+v", got, e)
	}
	if got.CDW10 != e.CDW10 {
		t.Fatalf("CDW10 mismatch: got %v want %v", got.CDW10, e.CDW10)
	}
}

func TestCompletionEntryPhaseAndStatusBits(t *testing.T) {
	c := CompletionEntry{StatusPhase: 1} // phase set, status 0
	if !c.Phase() {
		t.Fatal("expected phase bit set")
	}
	if c.Status() != 0 {
		t.Fatalf("expected zero status, got %d", c.Status())
	}

	c2 := CompletionEntry{StatusPhase: (5 << 1) | 0} // phase clear, status 5
	if c2.Phase() {
		t.Fatal("expected phase bit clear")
	}
	if c2.Status() != 5 {
		t.Fatalf("expected status 5, got %d", c2.Status())
	}
	if c2.StatusCodeType() != 5 {
		t.Fatalf("expected SCT 5 (status < 8 fits entirely in SCT), got %d", c2.StatusCodeType())
	}
}

func TestCompletionEntryEncodeDecodeRoundTrip(t *testing.T) {
	c := CompletionEntry{DW0: 0xAABBCCDD, SQHead: 3, SQID: 1, CommandID: 99, StatusPhase: 7}
	buf := make([]byte, CompletionEntrySize)
	encodeCompletion(buf, c)
	got := decodeCompletion(buf)
	if got != c {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, c)
	}
}
