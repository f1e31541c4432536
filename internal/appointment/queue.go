package appointment

// State is the per-session queue state.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
)

// Queue sequences the bookings requested within one conversation. Pending is
// strictly FIFO; slots never reference each other. Requested is the batch
// size the user declared, finalized bookings included.
type Queue struct {
	Active    *BookingSlot  `json:"active,omitempty"`
	Pending   []BookingSlot `json:"pending,omitempty"`
	Requested int           `json:"requested,omitempty"`
}

// State reports Collecting while any booking is active or queued.
func (q *Queue) State() State {
	if q.Active == nil && len(q.Pending) == 0 {
		return StateIdle
	}
	return StateCollecting
}

// Size counts the active slot plus the pending ones.
func (q *Queue) Size() int {
	n := len(q.Pending)
	if q.Active != nil {
		n++
	}
	return n
}

// Open creates n empty slots: the first becomes active, the rest are queued
// in order. It is a no-op returning false while a booking is already active;
// use Expand for that case.
func (q *Queue) Open(n int) bool {
	if q.Active != nil {
		return false
	}
	if n < 1 {
		n = 1
	}
	q.Requested = n
	q.Active = &BookingSlot{}
	for i := 1; i < n; i++ {
		q.Pending = append(q.Pending, BookingSlot{})
	}
	return true
}

// Expand raises the declared batch size to total and appends one empty
// placeholder per extra booking. A total at or below the declared size is a
// no-op, so repeating the original count after a booking was finalized adds
// nothing. It returns the number of slots added and never shrinks the queue.
func (q *Queue) Expand(total int) int {
	if q.Active == nil {
		if total < 1 || !q.Open(total) {
			return 0
		}
		return total
	}
	declared := q.Requested
	if size := q.Size(); declared < size {
		declared = size
	}
	added := 0
	for ; declared < total; declared++ {
		q.Pending = append(q.Pending, BookingSlot{})
		added++
	}
	q.Requested = declared
	return added
}

// Done counts the bookings of the declared batch that already left the queue.
func (q *Queue) Done() int {
	if n := q.Requested - q.Size(); n > 0 {
		return n
	}
	return 0
}

// Slot returns a pointer to the i-th slot in queue order (0 = active).
func (q *Queue) Slot(i int) *BookingSlot {
	if i == 0 {
		return q.Active
	}
	if i < 0 || i-1 >= len(q.Pending) {
		return nil
	}
	return &q.Pending[i-1]
}

// Advance drops the active slot and promotes the head of Pending. It returns
// false when the queue is now idle.
func (q *Queue) Advance() bool {
	if len(q.Pending) == 0 {
		q.Active = nil
		q.Pending = nil
		q.Requested = 0
		return false
	}
	next := q.Pending[0]
	q.Active = &next
	q.Pending = q.Pending[1:]
	if len(q.Pending) == 0 {
		q.Pending = nil
	}
	return true
}

// Reopen clears fields of the active slot after the booking service refused
// it. With no fields only the preferred time is cleared.
func (q *Queue) Reopen(fields ...Field) {
	if q.Active == nil {
		return
	}
	if len(fields) == 0 {
		fields = []Field{FieldPreferredTime}
	}
	for _, f := range fields {
		q.Active.set(f, "")
	}
}

// Clone returns a deep copy so a turn can be discarded without touching the
// stored queue.
func (q Queue) Clone() Queue {
	out := Queue{Requested: q.Requested}
	if q.Active != nil {
		active := *q.Active
		out.Active = &active
	}
	if len(q.Pending) > 0 {
		out.Pending = append([]BookingSlot(nil), q.Pending...)
	}
	return out
}
