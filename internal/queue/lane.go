package queue

import "sort"

// Lane is the ordered waiting line of a single laboratory. It is not safe for
// concurrent use; callers serialize access per laboratory.
type Lane struct {
	entries []Entry
	index   map[string]int
}

// NewLane returns an empty lane.
func NewLane() *Lane {
	return &Lane{index: make(map[string]int)}
}

// Push appends e at the tail. It returns false when the user already waits.
func (l *Lane) Push(e Entry) bool {
	if _, ok := l.index[e.UserID]; ok {
		return false
	}
	l.entries = append(l.entries, e)
	l.index[e.UserID] = len(l.entries) - 1
	return true
}

// Restore re-inserts a previously popped entry at the place its Seq dictates.
func (l *Lane) Restore(e Entry) bool {
	if _, ok := l.index[e.UserID]; ok {
		return false
	}
	at := sort.Search(len(l.entries), func(i int) bool {
		return e.Before(l.entries[i])
	})
	l.entries = append(l.entries, Entry{})
	copy(l.entries[at+1:], l.entries[at:])
	l.entries[at] = e
	l.reindex(at)
	return true
}

// PopFront removes and returns the head entry.
func (l *Lane) PopFront() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	head := l.entries[0]
	l.entries[0] = Entry{}
	l.entries = l.entries[1:]
	delete(l.index, head.UserID)
	l.reindex(0)
	return head, true
}

// Peek returns the head entry without removing it.
func (l *Lane) Peek() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[0], true
}

// Remove deletes the user's entry wherever it sits.
func (l *Lane) Remove(userID string) (Entry, bool) {
	at, ok := l.index[userID]
	if !ok {
		return Entry{}, false
	}
	removed := l.entries[at]
	l.entries = append(l.entries[:at], l.entries[at+1:]...)
	delete(l.index, userID)
	l.reindex(at)
	return removed, true
}

// Position returns the 1-based rank of the user's entry.
func (l *Lane) Position(userID string) (int, bool) {
	at, ok := l.index[userID]
	if !ok {
		return 0, false
	}
	return at + 1, true
}

// Get returns the user's entry.
func (l *Lane) Get(userID string) (Entry, bool) {
	at, ok := l.index[userID]
	if !ok {
		return Entry{}, false
	}
	return l.entries[at], true
}

// Len reports the number of waiting entries.
func (l *Lane) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the lane in queue order.
func (l *Lane) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Lane) reindex(from int) {
	for i := from; i < len(l.entries); i++ {
		l.index[l.entries[i].UserID] = i
	}
}
