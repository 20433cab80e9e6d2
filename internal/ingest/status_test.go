package ingest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore()
	store.Create("job-1", "admin-1", 42)

	j, err := store.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.State != StateQueued {
		t.Errorf("State = %s, want queued", j.State)
	}
	if j.TotalFeatures != 42 {
		t.Errorf("TotalFeatures = %d, want 42", j.TotalFeatures)
	}
	if j.SubmittedBy != "admin-1" {
		t.Errorf("SubmittedBy = %q, want admin-1", j.SubmittedBy)
	}
	if j.CreatedPlotIDs == nil {
		t.Error("CreatedPlotIDs should start as an empty slice, not nil")
	}
	if j.FinishedAt != nil {
		t.Error("FinishedAt should be unset on a fresh job")
	}
}

func TestStore_GetUnknownJob(t *testing.T) {
	if _, err := NewStore().Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := NewStore()
	store.Create("job-1", "admin-1", 10)
	store.Update("job-1", func(j *JobStatus) {
		j.CreatedPlotIDs = append(j.CreatedPlotIDs, uuid.New())
	})

	a, _ := store.Get("job-1")
	a.CreatedPlotIDs[0] = uuid.Nil
	a.FeatureErrors = append(a.FeatureErrors, FeatureError{FeatureIndex: 99})

	b, _ := store.Get("job-1")
	if b.CreatedPlotIDs[0] == uuid.Nil {
		t.Error("mutating a Get result leaked into the store")
	}
	if len(b.FeatureErrors) != 0 {
		t.Error("appending to a Get result leaked into the store")
	}
}

func TestStore_TerminalJobsAreImmutable(t *testing.T) {
	store := NewStore()
	store.Create("job-1", "admin-1", 1)
	store.Update("job-1", func(j *JobStatus) {
		j.State = StateSucceeded
		j.Processed = 1
	})

	j, _ := store.Get("job-1")
	if j.FinishedAt == nil {
		t.Fatal("FinishedAt unset after reaching a terminal state")
	}

	store.Update("job-1", func(j *JobStatus) {
		j.State = StateProcessing
		j.Processed = 999
	})
	j, _ = store.Get("job-1")
	if j.State != StateSucceeded || j.Processed != 1 {
		t.Errorf("terminal job was mutated: state=%s processed=%d", j.State, j.Processed)
	}
}

func TestStore_PruneEvictsOnlyOldTerminalJobs(t *testing.T) {
	store := NewStore()

	store.Create("old-done", "admin-1", 1)
	store.Update("old-done", func(j *JobStatus) { j.State = StateSucceeded })
	store.Create("old-running", "admin-1", 1)
	store.Update("old-running", func(j *JobStatus) { j.State = StateProcessing })
	store.Create("fresh-done", "admin-1", 1)
	store.Update("fresh-done", func(j *JobStatus) { j.State = StateFailed })

	// Age the first two in place.
	past := time.Now().Add(-48 * time.Hour)
	store.mu.Lock()
	store.jobs["old-done"].FinishedAt = &past
	store.jobs["old-running"].UpdatedAt = past
	store.mu.Unlock()

	if removed := store.Prune(24 * time.Hour); removed != 1 {
		t.Fatalf("Prune removed %d jobs, want 1", removed)
	}
	if _, err := store.Get("old-done"); !errors.Is(err, ErrJobNotFound) {
		t.Error("old terminal job should be gone")
	}
	if _, err := store.Get("old-running"); err != nil {
		t.Error("non-terminal job must never be pruned")
	}
	if _, err := store.Get("fresh-done"); err != nil {
		t.Error("terminal job inside the retention window must survive")
	}
}

func TestStore_FailStaleKillsSilentWorkers(t *testing.T) {
	store := NewStore()

	store.Create("stale", "admin-1", 100)
	store.Update("stale", func(j *JobStatus) { j.State = StateProcessing })
	store.Create("active", "admin-1", 100)
	store.Update("active", func(j *JobStatus) { j.State = StateProcessing })
	store.Create("queued", "admin-1", 100)

	past := time.Now().Add(-time.Hour)
	store.mu.Lock()
	store.jobs["stale"].UpdatedAt = past
	store.mu.Unlock()

	if failed := store.FailStale(10 * time.Minute); failed != 1 {
		t.Fatalf("FailStale failed %d jobs, want 1", failed)
	}

	j, _ := store.Get("stale")
	if j.State != StateFailed {
		t.Errorf("stale job state = %s, want failed", j.State)
	}
	if j.Error == nil || j.Error.Reason != ReasonTimeout {
		t.Errorf("stale job error = %+v, want %s", j.Error, ReasonTimeout)
	}
	if j.FinishedAt == nil {
		t.Error("stale job FinishedAt unset")
	}

	if j, _ := store.Get("active"); j.State != StateProcessing {
		t.Errorf("active job state = %s, want processing", j.State)
	}
	if j, _ := store.Get("queued"); j.State != StateQueued {
		t.Errorf("queued job state = %s, want queued", j.State)
	}
}

func TestStore_ConcurrentPollersAndWriter(t *testing.T) {
	store := NewStore()
	store.Create("job-1", "admin-1", 1000)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			store.Update("job-1", func(j *JobStatus) {
				j.Processed = i + 1
				j.CreatedPlotIDs = append(j.CreatedPlotIDs, uuid.New())
			})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				j, err := store.Get("job-1")
				if err != nil {
					t.Errorf("Get: %v", err)
					return
				}
				if len(j.CreatedPlotIDs) != j.Processed {
					t.Errorf("ids/progress out of sync: %d ids, %d processed",
						len(j.CreatedPlotIDs), j.Processed)
					return
				}
			}
		}()
	}
	wg.Wait()
}
