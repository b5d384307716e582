package scheduler

import "github.com/justchokingaround/acquisitiond/internal/catalogerr"

// queue is a FIFO list of pending jobs plus the set of (title, unit) keys
// currently pending or running, enforcing invariant I4: two jobs for the
// same key cannot both be pending/running. Grounded on the teacher's
// Manager.AddToQueue duplicate-episode check in
// internal/downloader/manager.go, generalized from a database lookup to an
// in-memory set since DownloadJob here has no backing table.
type queue struct {
	pending []*DownloadJob
	active  map[string]*DownloadJob // key -> job, for pending and running
}

func newQueue() *queue {
	return &queue{active: make(map[string]*DownloadJob)}
}

// push appends a job to the tail of the FIFO, rejecting it if its key is
// already pending or running.
func (q *queue) push(j *DownloadJob) error {
	key := j.Key()
	if _, exists := q.active[key]; exists {
		return catalogerr.New(catalogerr.Duplicate, "a job for "+key+" is already pending or running")
	}
	q.active[key] = j
	q.pending = append(q.pending, j)
	return nil
}

// pop removes and returns the head of the FIFO. The job remains in active
// (it is now running) until markDone is called.
func (q *queue) pop() (*DownloadJob, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, true
}

// removePending removes a still-pending job by ID without admitting it,
// used by Cancel. Returns false if the job is not in the pending list
// (already admitted or unknown).
func (q *queue) removePending(id string) (*DownloadJob, bool) {
	for i, j := range q.pending {
		if j.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			delete(q.active, j.Key())
			return j, true
		}
	}
	return nil, false
}

// markDone releases the (title, unit) key once a job reaches a terminal
// state, allowing a future job for the same unit to be submitted.
func (q *queue) markDone(j *DownloadJob) {
	delete(q.active, j.Key())
}

func (q *queue) len() int { return len(q.pending) }
