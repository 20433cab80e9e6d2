// Package ingest runs uploaded shapefiles through validation and batch
// plot creation as background jobs, pollable by id while they run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
	"github.com/LandHubTZ/LandHub-Backend/internal/shapefile"
	"github.com/google/uuid"
)

// ErrMissingFiles is the request-shape error for uploads lacking the
// geometry or attribute file. Rejected before any job exists.
var ErrMissingFiles = errors.New("both a geometry (.shp) and an attribute (.dbf) file are required")

// PlotCreator is the slice of the plot repository ingestion needs: one
// atomic batch insert per call.
type PlotCreator interface {
	CreateBatch(ctx context.Context, feats []geo.ValidatedFeature, locationID *uuid.UUID, uploadedBy string) ([]uuid.UUID, error)
}

// UploadBundle carries the raw bytes of one shapefile upload.
type UploadBundle struct {
	SHP []byte
	DBF []byte
	PRJ []byte // optional
}

const (
	defaultBatchSize       = 25
	defaultErrorSampleSize = 50
)

// Runner executes ingestion jobs. Submission is non-blocking: file headers
// are checked synchronously (so malformed uploads fail the request, not a
// job), then a worker goroutine owns the job until it reaches a terminal
// state.
type Runner struct {
	creator         PlotCreator
	store           *Store
	batchSize       int
	errorSampleSize int
}

func NewRunner(creator PlotCreator, store *Store, batchSize, errorSampleSize int) *Runner {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if errorSampleSize <= 0 {
		errorSampleSize = defaultErrorSampleSize
	}
	return &Runner{
		creator:         creator,
		store:           store,
		batchSize:       batchSize,
		errorSampleSize: errorSampleSize,
	}
}

// Submit validates the upload's shape, opens the parser (header corruption
// and record-count mismatch surface here as a synchronous ParseError — no
// job id is issued), registers a Queued job and starts its worker.
func (r *Runner) Submit(bundle UploadBundle, locationID *uuid.UUID, userID string) (string, error) {
	if len(bundle.SHP) == 0 || len(bundle.DBF) == 0 {
		return "", ErrMissingFiles
	}

	parser, err := shapefile.New(bundle.SHP, bundle.DBF, bundle.PRJ)
	if err != nil {
		return "", err
	}

	jobID := uuid.NewString()
	r.store.Create(jobID, userID, parser.Count())
	go r.run(jobID, parser, locationID, userID)

	return jobID, nil
}

// run consumes the feature stream in fixed-size batches. Features failing
// validation are skipped and recorded; each accepted batch is committed
// atomically, after which the new plot ids and progress become visible to
// pollers. Committed batches survive a later failure.
func (r *Runner) run(jobID string, parser *shapefile.Parser, locationID *uuid.UUID, userID string) {
	ctx := context.Background()

	r.store.Update(jobID, func(j *JobStatus) {
		j.State = StateProcessing
	})

	var (
		batch     []geo.ValidatedFeature
		processed int
		invalid   int
	)

	// Progress counts resolved features: committed batches plus skipped
	// invalid ones. Features sitting in an uncommitted batch are not yet
	// visible anywhere, so they are not counted either.
	resolved := func() int { return processed - len(batch) }

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids, err := r.creator.CreateBatch(ctx, batch, locationID, userID)
		if err != nil {
			return err
		}
		batch = batch[:0]
		done := resolved()
		r.store.Update(jobID, func(j *JobStatus) {
			j.CreatedPlotIDs = append(j.CreatedPlotIDs, ids...)
			j.Processed = done
			j.InvalidSkipped = invalid
		})
		return nil
	}

	for {
		f, err := parser.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			r.fail(jobID, failureFrom(err))
			return
		}

		processed++

		v, verr := geo.Validate(f.Geometry, f.Attributes, f.CRS)
		if verr != nil {
			invalid++
			idx := f.Index
			reason, msg := verr.Reason, verr.Message
			done := resolved()
			r.store.Update(jobID, func(j *JobStatus) {
				j.InvalidSkipped = invalid
				j.Processed = done
				if len(j.FeatureErrors) < r.errorSampleSize {
					j.FeatureErrors = append(j.FeatureErrors, FeatureError{
						FeatureIndex: idx,
						Reason:       reason,
						Message:      msg,
					})
				}
			})
			continue
		}

		if v.Title == "" {
			v.Title = fmt.Sprintf("Plot %d", f.Index+1)
		}

		batch = append(batch, *v)
		if len(batch) >= r.batchSize {
			if err := flush(); err != nil {
				r.fail(jobID, JobError{
					Reason:       ReasonRepositoryError,
					Message:      err.Error(),
					FeatureIndex: f.Index,
				})
				return
			}
		}
	}

	if err := flush(); err != nil {
		r.fail(jobID, JobError{
			Reason:       ReasonRepositoryError,
			Message:      err.Error(),
			FeatureIndex: -1,
		})
		return
	}

	if processed > 0 && invalid == processed {
		r.fail(jobID, JobError{
			Reason:       ReasonAllFeaturesInvalid,
			Message:      fmt.Sprintf("all %d features failed validation", processed),
			FeatureIndex: -1,
		})
		return
	}

	done := processed
	r.store.Update(jobID, func(j *JobStatus) {
		j.State = StateSucceeded
		j.Processed = done
		j.InvalidSkipped = invalid
	})
	log.Printf("[ingest] job %s succeeded: %d features, %d skipped", jobID, processed, invalid)
}

func (r *Runner) fail(jobID string, cause JobError) {
	r.store.Update(jobID, func(j *JobStatus) {
		j.State = StateFailed
		j.Error = &cause
	})
	log.Printf("[ingest] job %s failed: %s: %s", jobID, cause.Reason, cause.Message)
}

func failureFrom(err error) JobError {
	var pe *shapefile.ParseError
	if errors.As(err, &pe) {
		return JobError{Reason: pe.Reason, Message: pe.Message, FeatureIndex: pe.RecordIndex}
	}
	return JobError{Reason: ReasonParseError, Message: err.Error(), FeatureIndex: -1}
}
