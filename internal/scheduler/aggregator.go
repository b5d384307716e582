package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// recentCompletionsTail is the number of completed jobs kept in the
// rendered snapshot, per spec.md §4.4.
const recentCompletionsTail = 3

// terminalRetention is how long a terminal job stays visible in the
// aggregator's view before being pruned, per spec.md §4.4.
const terminalRetention = 30 * time.Second

// emitInterval is the minimum spacing between snapshot emissions, per
// spec.md §4.4 ("emissions to the external presenter happen at most
// every ~4s").
const emitInterval = 4 * time.Second

// Aggregator is the single-consumer unified progress view owned by the
// Scheduler: a textual snapshot of all active jobs grouped by kind plus a
// recent-completions tail. Grounded on the teacher's TUI downloads
// rendering idiom in internal/tui/components/downloads/downloads.go
// (per-show grouping, an ASCII/gradient progress bar, status icons), but
// stripped of Bubbletea -- no front-end is in scope here -- down to a
// plain text renderer any consumer can poll or subscribe to.
type Aggregator struct {
	mu         sync.Mutex
	active     map[string]DownloadJob
	completed  []DownloadJob
	lastEmit   time.Time
	lastText   string
	subscriber func(string)
}

func NewAggregator() *Aggregator {
	return &Aggregator{active: make(map[string]DownloadJob)}
}

// Subscribe registers a callback invoked with the rendered snapshot text
// whenever it changes and the emit interval has elapsed. Only one
// subscriber is supported, matching the "single-consumer view" in
// spec.md.
func (a *Aggregator) Subscribe(fn func(string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriber = fn
}

func (a *Aggregator) update(j DownloadJob) {
	a.mu.Lock()
	a.active[j.ID] = j
	a.mu.Unlock()
	a.maybeEmit()
}

func (a *Aggregator) complete(j DownloadJob) {
	a.mu.Lock()
	delete(a.active, j.ID)
	a.completed = append([]DownloadJob{j}, a.completed...)
	if len(a.completed) > recentCompletionsTail {
		a.completed = a.completed[:recentCompletionsTail]
	}
	a.mu.Unlock()
	a.maybeEmit()
}

// Snapshot renders the current view without regard to the emit-interval
// throttle, for callers that want the latest state on demand (e.g. a CLI
// "status" subcommand).
func (a *Aggregator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.render()
}

func (a *Aggregator) maybeEmit() {
	a.mu.Lock()
	a.pruneExpiredLocked()
	text := a.render()
	subscriber := a.subscriber
	changed := text != a.lastText
	due := time.Since(a.lastEmit) >= emitInterval
	if subscriber != nil && changed && due {
		a.lastText = text
		a.lastEmit = time.Now()
	} else {
		subscriber = nil
	}
	a.mu.Unlock()

	if subscriber != nil {
		subscriber(text)
	}
}

func (a *Aggregator) pruneExpiredLocked() {
	kept := a.completed[:0]
	now := time.Now()
	for _, j := range a.completed {
		if j.CompletedAt != nil && now.Sub(*j.CompletedAt) > terminalRetention {
			continue
		}
		kept = append(kept, j)
	}
	a.completed = kept
}

// render must be called with a.mu held. It groups active jobs by kind,
// one line each with a 10-cell ASCII bar, followed by a recent-
// completions tail, matching the {kind, name, details, fraction, bar}
// shape spec.md §4.4 describes.
func (a *Aggregator) render() string {
	byKind := make(map[string][]DownloadJob)
	for _, j := range a.active {
		byKind[j.Title.Kind] = append(byKind[j.Title.Kind], j)
	}

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var b strings.Builder
	if len(a.active) == 0 {
		b.WriteString("no active downloads\n")
	}
	for _, kind := range kinds {
		jobs := byKind[kind]
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].Title.Name < jobs[j].Title.Name })
		fmt.Fprintf(&b, "[%s]\n", kind)
		for _, j := range jobs {
			fmt.Fprintf(&b, "  %-30s %s %s\n", j.Title.Name, bar(j.Progress), unitLabel(j.Unit))
		}
	}

	if len(a.completed) > 0 {
		b.WriteString("recent:\n")
		for _, j := range a.completed {
			fmt.Fprintf(&b, "  %-30s %s %s\n", j.Title.Name, string(j.Status), unitLabel(j.Unit))
		}
	}

	return b.String()
}

// bar renders a 10-cell ASCII progress bar, per spec.md §4.4.
func bar(fraction float64) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*10 + 0.5)
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("#", filled), strings.Repeat("-", 10-filled), fraction*100)
}

func unitLabel(u UnitRef) string {
	if u.Film {
		return "film"
	}
	return fmt.Sprintf("S%02dE%02d", u.Season, u.Episode)
}
