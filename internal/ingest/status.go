package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("ingestion job not found")

type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Whole-job failure reason codes.
const (
	ReasonAllFeaturesInvalid = "ALL_FEATURES_INVALID"
	ReasonRepositoryError    = "REPOSITORY_ERROR"
	ReasonParseError         = "PARSE_ERROR"
	ReasonTimeout            = "TIMEOUT"
)

// JobError is the terminal cause of a failed job.
type JobError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	// Index of the feature being handled when the job died, -1 if not tied
	// to a specific feature.
	FeatureIndex int `json:"feature_index"`
}

// FeatureError records one skipped feature. The per-job list is capped; the
// counters keep the full tally.
type FeatureError struct {
	FeatureIndex int    `json:"feature_index"`
	Reason       string `json:"reason"`
	Message      string `json:"message"`
}

// JobStatus is the pollable record of one ingestion job. Mutated only by
// the single worker goroutine executing the job; read by many pollers.
type JobStatus struct {
	JobID       string      `json:"job_id"`
	State       State       `json:"status"`
	SubmittedBy string      `json:"-"`

	TotalFeatures  int `json:"total_features"`
	Processed      int `json:"processed"`
	InvalidSkipped int `json:"invalid_skipped"`

	CreatedPlotIDs []uuid.UUID    `json:"created_plot_ids"`
	FeatureErrors  []FeatureError `json:"feature_errors,omitempty"`
	Error          *JobError      `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s State) terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Store is the process-wide job registry: one writer per job, many
// concurrent pollers. Injectable so tests get a fresh instance each.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*JobStatus)}
}

func (s *Store) Create(jobID, submittedBy string, totalFeatures int) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &JobStatus{
		JobID:          jobID,
		State:          StateQueued,
		SubmittedBy:    submittedBy,
		TotalFeatures:  totalFeatures,
		CreatedPlotIDs: []uuid.UUID{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Update applies mutator to the job under the write lock. Terminal jobs are
// immutable; updates against them are dropped.
func (s *Store) Update(jobID string, mutator func(*JobStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.State.terminal() {
		return
	}
	mutator(j)
	j.UpdatedAt = time.Now()
	if j.State.terminal() {
		t := j.UpdatedAt
		j.FinishedAt = &t
	}
}

// Get returns a copy of the job's status, so pollers never observe the
// worker's in-place mutations mid-write.
func (s *Store) Get(jobID string) (JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return JobStatus{}, ErrJobNotFound
	}
	out := *j
	out.CreatedPlotIDs = append([]uuid.UUID(nil), j.CreatedPlotIDs...)
	out.FeatureErrors = append([]FeatureError(nil), j.FeatureErrors...)
	return out, nil
}

// Prune evicts terminal jobs older than the retention window. Returns how
// many were removed.
func (s *Store) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if j.State.terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// FailStale force-fails Processing jobs whose worker has not heartbeat
// within timeout, so a dead worker never leaves a job stuck in Processing.
func (s *Store) FailStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := 0
	for _, j := range s.jobs {
		if j.State == StateProcessing && j.UpdatedAt.Before(cutoff) {
			j.State = StateFailed
			j.Error = &JobError{
				Reason:       ReasonTimeout,
				Message:      "worker stopped reporting progress",
				FeatureIndex: -1,
			}
			now := time.Now()
			j.UpdatedAt = now
			j.FinishedAt = &now
			failed++
		}
	}
	return failed
}
