package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func blockingRun(release <-chan struct{}) RunFunc {
	return func(progress func(float64) bool) error {
		progress(0.5)
		<-release
		return nil
	}
}

func TestSubmitAndOverview(t *testing.T) {
	s := New(2, nil)
	defer s.Stop()

	release := make(chan struct{})
	defer close(release)

	id, err := s.Submit(TitleRef{Kind: "anime", Name: "Show"}, UnitRef{Season: 1, Episode: 1}, blockingRun(release))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitForCondition(t, time.Second, func() bool {
		ov := s.Overview()
		return ov.RunningCount == 1
	})

	job, ok := s.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, job.Status)
}

func TestParallelismBoundNeverExceeded(t *testing.T) {
	const parallelism = 2
	s := New(parallelism, nil)
	defer s.Stop()

	var running int32
	var maxObserved int32
	var wg sync.WaitGroup

	release := make(chan struct{})
	defer close(release)

	run := func(progress func(float64) bool) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxObserved)
			if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return nil
	}

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(ep int) {
			defer wg.Done()
			_, err := s.Submit(TitleRef{Kind: "anime", Name: "Show"}, UnitRef{Season: 1, Episode: ep}, run)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	waitForCondition(t, time.Second, func() bool {
		return s.Overview().RunningCount == parallelism
	})

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), parallelism)
}

func TestDuplicateUnitSubmissionRejected(t *testing.T) {
	s := New(1, nil)
	defer s.Stop()

	release := make(chan struct{})
	defer close(release)

	_, err := s.Submit(TitleRef{Kind: "anime", Name: "Show"}, UnitRef{Season: 1, Episode: 1}, blockingRun(release))
	require.NoError(t, err)

	_, err = s.Submit(TitleRef{Kind: "anime", Name: "Show"}, UnitRef{Season: 1, Episode: 1}, blockingRun(release))
	require.Error(t, err)
}

func TestCancelPendingJob(t *testing.T) {
	s := New(1, nil)
	defer s.Stop()

	release := make(chan struct{})
	defer close(release)

	_, err := s.Submit(TitleRef{Kind: "anime", Name: "Busy"}, UnitRef{Season: 1, Episode: 1}, blockingRun(release))
	require.NoError(t, err)

	waitForCondition(t, time.Second, func() bool { return s.Overview().RunningCount == 1 })

	pendingID, err := s.Submit(TitleRef{Kind: "anime", Name: "Queued"}, UnitRef{Season: 1, Episode: 1}, blockingRun(release))
	require.NoError(t, err)

	ok := s.Cancel(pendingID)
	assert.True(t, ok)

	job, found := s.Status(pendingID)
	require.True(t, found)
	assert.Equal(t, StatusCancelled, job.Status)
}

func TestCancelRunningJobSetsCooperativeFlag(t *testing.T) {
	s := New(1, nil)
	defer s.Stop()

	observedCancel := make(chan bool, 1)
	release := make(chan struct{})
	defer close(release)

	run := func(progress func(float64) bool) error {
		progress(0.1)
		<-release
		observedCancel <- progress(0.2)
		return nil
	}

	id, err := s.Submit(TitleRef{Kind: "film", Name: "Movie"}, UnitRef{Film: true}, run)
	require.NoError(t, err)

	waitForCondition(t, time.Second, func() bool { return s.Overview().RunningCount == 1 })

	ok := s.Cancel(id)
	assert.False(t, ok, "running jobs cannot be forcibly cancelled")

	release <- struct{}{}
	select {
	case cancelled := <-observedCancel:
		assert.True(t, cancelled)
	case <-time.After(time.Second):
		t.Fatal("run_fn never observed the cancel-requested flag")
	}
}

func TestJobFailureIsRecordedAndDriverLoopContinues(t *testing.T) {
	s := New(1, nil)
	defer s.Stop()

	failing := func(progress func(float64) bool) error {
		return assert.AnError
	}

	id, err := s.Submit(TitleRef{Kind: "anime", Name: "Flaky"}, UnitRef{Season: 1, Episode: 1}, failing)
	require.NoError(t, err)

	waitForCondition(t, time.Second, func() bool {
		j, ok := s.Status(id)
		return ok && j.Status == StatusFailed
	})

	job, _ := s.Status(id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)

	// The same (title, unit) can be resubmitted once the prior job is terminal.
	id2, err := s.Submit(TitleRef{Kind: "anime", Name: "Flaky"}, UnitRef{Season: 1, Episode: 1}, func(progress func(float64) bool) error {
		return nil
	})
	require.NoError(t, err)
	waitForCondition(t, time.Second, func() bool {
		j, ok := s.Status(id2)
		return ok && j.Status == StatusCompleted
	})
}

func TestPanicInRunFnIsTreatedAsFailure(t *testing.T) {
	s := New(1, nil)
	defer s.Stop()

	panicking := func(progress func(float64) bool) error {
		panic("boom")
	}

	id, err := s.Submit(TitleRef{Kind: "anime", Name: "Panicky"}, UnitRef{Season: 1, Episode: 1}, panicking)
	require.NoError(t, err)

	waitForCondition(t, time.Second, func() bool {
		j, ok := s.Status(id)
		return ok && j.Status == StatusFailed
	})

	job, _ := s.Status(id)
	assert.Contains(t, job.Error, "boom")
}

func TestTerminalLRUEvictsOldest(t *testing.T) {
	l := newTerminalLRU(2)
	j1 := &DownloadJob{ID: "1"}
	j2 := &DownloadJob{ID: "2"}
	j3 := &DownloadJob{ID: "3"}

	l.add(j1)
	l.add(j2)
	l.add(j3)

	_, found := l.get("1")
	assert.False(t, found, "oldest entry should have been evicted")
	_, found = l.get("2")
	assert.True(t, found)
	_, found = l.get("3")
	assert.True(t, found)
}

func TestQueueRejectsDuplicateKey(t *testing.T) {
	q := newQueue()
	j1 := &DownloadJob{ID: "1", Title: TitleRef{Kind: "anime", Name: "X"}, Unit: UnitRef{Season: 1, Episode: 1}}
	j2 := &DownloadJob{ID: "2", Title: TitleRef{Kind: "anime", Name: "X"}, Unit: UnitRef{Season: 1, Episode: 1}}

	require.NoError(t, q.push(j1))
	err := q.push(j2)
	require.Error(t, err)
}

func TestAggregatorRendersActiveAndCompleted(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	a.update(DownloadJob{ID: "1", Title: TitleRef{Kind: "anime", Name: "Show"}, Unit: UnitRef{Season: 1, Episode: 1}, Progress: 0.5})
	text := a.Snapshot()
	assert.Contains(t, text, "Show")
	assert.Contains(t, text, "anime")

	a.complete(DownloadJob{ID: "1", Title: TitleRef{Kind: "anime", Name: "Show"}, Status: StatusCompleted, CompletedAt: &now})
	text = a.Snapshot()
	assert.Contains(t, text, "recent:")
	assert.NotContains(t, text, "[anime]")
}
