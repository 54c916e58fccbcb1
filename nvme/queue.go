package nvme

import "hvnos/circbuf"

// Doorbell rings a submission or completion doorbell register at the
// given MMIO offset with the given new index value. Real hardware wants
// a compiler fence plus a volatile MMIO store; the production
// implementation (package platform's hardware build, out of scope for
// this hosted module) supplies that. Here it is simply a function value
// so tests can observe exactly when and with what value a doorbell was
// rung.
type Doorbell func(offsetBytes uint32, value uint32)

// QueuePair is one submission ring plus one completion ring sharing a
// size S, with a producer tail, a consumer head, a monotonic command-id
// counter, and the expected-phase bit — spec.md §3/§4.4. The controller
// must never have more than S-1 commands outstanding.
type QueuePair struct {
	QID          uint16
	DoorbellBase uint32 // MMIO offset of this queue's SQ doorbell; CQ is DoorbellBase+stride
	Stride       uint32

	sq *circbuf.Ring
	cq *circbuf.Ring

	nextCID        uint16
	expectedPhase  bool
	outstanding    int
	ring           Doorbell
}

// NewQueuePair wraps the given submission/completion ring backing
// buffers (sized depth*SubmissionEntrySize and depth*CompletionEntrySize
// respectively — typically a DMA buffer's bytes, so the rings live in
// device-visible memory).
func NewQueuePair(qid uint16, sqBuf, cqBuf []byte, depth int, doorbellBase, stride uint32, ring Doorbell) *QueuePair {
	return &QueuePair{
		QID:           qid,
		DoorbellBase:  doorbellBase,
		Stride:        stride,
		sq:            circbuf.New(sqBuf, depth, SubmissionEntrySize),
		cq:            circbuf.New(cqBuf, depth, CompletionEntrySize),
		expectedPhase: true,
		ring:          ring,
	}
}

// Depth returns the number of slots in the queue pair.
func (q *QueuePair) Depth() int { return q.sq.Capacity() }

// Outstanding returns the number of commands submitted but not yet
// completed, used to enforce the S-1 invariant at the call site.
func (q *QueuePair) Outstanding() int { return q.outstanding }

// Submit stamps the next command id into the entry, writes it into the
// current tail slot via a volatile store (here: a plain slice write,
// since there is no compiler to reorder around on this hosted build),
// advances the tail, rings the submission doorbell, and returns the
// command id the caller should watch for in the completion stream.
func (q *QueuePair) Submit(e SubmissionEntry) uint16 {
	if q.outstanding >= q.sq.Capacity()-1 {
		panic("nvme: queue pair depth exceeded")
	}
	cid := q.nextCID
	q.nextCID++
	e.CommandID = cid

	e.Encode(q.sq.TailSlot())
	q.sq.AdvanceTail()
	q.outstanding++

	q.ring(q.DoorbellBase, uint32(q.sq.Tail()))
	return cid
}

// PollCompletion performs one phase-bit check against the head slot. If
// the phase does not match the expected phase there is no new
// completion and it returns false. On a match it advances the head,
// toggles the expected phase on wrap, rings the completion doorbell with
// the new head, and returns the decoded entry.
func (q *QueuePair) PollCompletion() (CompletionEntry, bool) {
	c := decodeCompletion(q.cq.HeadSlot())
	if c.Phase() != q.expectedPhase {
		return CompletionEntry{}, false
	}

	if q.cq.AdvanceHead() {
		q.expectedPhase = !q.expectedPhase
	}
	q.outstanding--

	q.ring(q.DoorbellBase+q.Stride, uint32(q.cq.Head()))
	return c, true
}

// WaitCompletion spin-polls until a new completion arrives, matching
// spec.md §5's "no yield point" discipline: started I/O runs to
// completion or hangs, since there is no scheduler to suspend into.
func (q *QueuePair) WaitCompletion() CompletionEntry {
	for {
		if c, ok := q.PollCompletion(); ok {
			return c
		}
	}
}
