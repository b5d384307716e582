package scheduler

import "container/list"

// terminalLRU keeps the most recent N terminal (completed/failed/cancelled)
// jobs, evicting the oldest once the cap is exceeded. Ported from the
// teacher's bounded in-memory `active` map idea in manager.go, but using
// container/list so eviction order follows completion order rather than
// map iteration order (no third-party LRU in the example pack; see
// DESIGN.md).
type terminalLRU struct {
	cap     int
	order   *list.List
	entries map[string]*list.Element
}

func newTerminalLRU(capacity int) *terminalLRU {
	if capacity <= 0 {
		capacity = 50
	}
	return &terminalLRU{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// add records a terminal job, evicting the least-recently-added entry if
// the cap is exceeded. If a job with the same ID already exists it is
// moved to the front.
func (l *terminalLRU) add(j *DownloadJob) {
	if el, exists := l.entries[j.ID]; exists {
		el.Value = j
		l.order.MoveToFront(el)
		return
	}
	el := l.order.PushFront(j)
	l.entries[j.ID] = el

	for l.order.Len() > l.cap {
		oldest := l.order.Back()
		if oldest == nil {
			break
		}
		l.order.Remove(oldest)
		delete(l.entries, oldest.Value.(*DownloadJob).ID)
	}
}

func (l *terminalLRU) get(id string) (*DownloadJob, bool) {
	el, exists := l.entries[id]
	if !exists {
		return nil, false
	}
	return el.Value.(*DownloadJob), true
}

// recent returns terminal jobs most-recent-first, capped at n (0 means
// all).
func (l *terminalLRU) recent(n int) []*DownloadJob {
	out := make([]*DownloadJob, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*DownloadJob))
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}
