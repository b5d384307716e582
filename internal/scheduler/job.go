package scheduler

import (
	"strconv"
	"time"
)

// Status is a DownloadJob's lifecycle state, per spec.md §3. Monotonic
// except pending -> cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TitleRef identifies the Title a job belongs to, by (kind, name) — the
// same identity the Catalog Store uses, duplicated here so the scheduler
// never needs to import the catalog package.
type TitleRef struct {
	Kind string
	Name string
}

// UnitRef is what a job fetches: either the whole film, or a specific
// (season, episode) pair.
type UnitRef struct {
	Film               bool
	Season             int
	Episode            int
	ProviderEpisodeRef string
}

// Key returns the (title, unit) identity used to enforce invariant I4: two
// jobs for the same (title, unit) cannot both be pending/running.
func (j DownloadJob) Key() string {
	if j.Unit.Film {
		return j.Title.Kind + "|" + j.Title.Name + "|film"
	}
	return j.Title.Kind + "|" + j.Title.Name + "|" + strconv.Itoa(j.Unit.Season) + "x" + strconv.Itoa(j.Unit.Episode)
}

// RunFunc is the unit of work a job executes under a scheduler permit. The
// progress sink reports fractional completion and returns true once the
// job's cancellation has been requested; run_fn decides for itself when
// (and whether) to observe that signal and return early. Closing over
// only what it needs (title, unit, destination) is the explicit
// alternative to the teacher's "current selection held as instance
// fields" shape its own DesignNotes flags for re-architecture.
type RunFunc func(progress func(float64) bool) error

// DownloadJob is the scheduler-owned record for one unit of work.
type DownloadJob struct {
	ID          string
	Title       TitleRef
	Unit        UnitRef
	Status      Status
	Progress    float64
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	runFn           RunFunc
	cancelRequested bool
}

// Snapshot returns a value copy of the job safe to hand to callers outside
// the scheduler's lock.
func (j *DownloadJob) Snapshot() DownloadJob {
	cp := *j
	cp.runFn = nil
	return cp
}
