package wayfire

// pendingRequest records what a sent request asked for, so the matching
// reply can be interpreted. The event subscription is flagged explicitly;
// its viewID is NoView only for logging, since a real view may carry that id.
type pendingRequest struct {
	viewID       ViewID
	property     Property
	subscription bool
}

// requestQueue is a FIFO of sent-but-unanswered requests.
//
// The IPC protocol has no request identifiers. Replies are matched purely by
// arrival order, which assumes the compositor answers every request exactly
// once, in order, and never slips an unrelated reply in between. Nothing here
// verifies that; a lost reply shifts every later match by one.
type requestQueue struct {
	items []pendingRequest
	head  int
}

func (q *requestQueue) push(r pendingRequest) {
	q.items = append(q.items, r)
}

// pop removes and returns the oldest request.
func (q *requestQueue) pop() (pendingRequest, bool) {
	if q.head >= len(q.items) {
		return pendingRequest{}, false
	}
	r := q.items[q.head]
	q.items[q.head] = pendingRequest{}
	q.head++

	// Reclaim the backing array once the consumed prefix dominates.
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return r, true
}

func (q *requestQueue) len() int {
	return len(q.items) - q.head
}

func (q *requestQueue) reset() {
	q.items = nil
	q.head = 0
}

// snapshot returns the pending requests oldest first.
func (q *requestQueue) snapshot() []pendingRequest {
	out := make([]pendingRequest, q.len())
	copy(out, q.items[q.head:])
	return out
}
