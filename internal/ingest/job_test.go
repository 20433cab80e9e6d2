package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
	"github.com/LandHubTZ/LandHub-Backend/internal/shapefile"
	"github.com/google/uuid"
)

// --- fixture builders -------------------------------------------------------

// buildSHP assembles a minimal .shp file: each non-nil entry becomes a
// single-ring polygon record, each nil entry a null-shape record.
func buildSHP(t *testing.T, shapes [][]geo.Coord) []byte {
	t.Helper()

	var records []byte
	for i, ring := range shapes {
		var content []byte
		if ring == nil {
			content = binary.LittleEndian.AppendUint32(nil, 0) // null shape
		} else {
			content = binary.LittleEndian.AppendUint32(nil, 5) // polygon
			content = append(content, make([]byte, 32)...)
			content = binary.LittleEndian.AppendUint32(content, 1)
			content = binary.LittleEndian.AppendUint32(content, uint32(len(ring)))
			content = binary.LittleEndian.AppendUint32(content, 0)
			for _, c := range ring {
				content = binary.LittleEndian.AppendUint64(content, math.Float64bits(c.X))
				content = binary.LittleEndian.AppendUint64(content, math.Float64bits(c.Y))
			}
		}
		records = binary.BigEndian.AppendUint32(records, uint32(i+1))
		records = binary.BigEndian.AppendUint32(records, uint32(len(content)/2))
		records = append(records, content...)
	}

	header := make([]byte, 100)
	binary.BigEndian.PutUint32(header[0:4], 9994)
	binary.BigEndian.PutUint32(header[24:28], uint32((100+len(records))/2))
	binary.LittleEndian.PutUint32(header[28:32], 1000)
	binary.LittleEndian.PutUint32(header[32:36], 5)
	return append(header, records...)
}

var dbfFields = []struct {
	name   string
	length int
}{
	{"NAME", 30},
	{"PLOT_NUM", 20},
	{"AREA", 12},
	{"PRICE", 12},
	{"USAGE_TYPE", 12},
}

func buildDBF(t *testing.T, rows [][]string) []byte {
	t.Helper()
	return buildDBFDeleted(t, rows, nil)
}

// buildDBFDeleted is buildDBF with per-row deletion flags.
func buildDBFDeleted(t *testing.T, rows [][]string, deleted []bool) []byte {
	t.Helper()

	recordSize := 1
	for _, f := range dbfFields {
		recordSize += f.length
	}
	headerSize := 32 + 32*len(dbfFields) + 1

	out := make([]byte, 32)
	out[0] = 0x03
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(rows)))
	binary.LittleEndian.PutUint16(out[8:10], uint16(headerSize))
	binary.LittleEndian.PutUint16(out[10:12], uint16(recordSize))

	for _, f := range dbfFields {
		desc := make([]byte, 32)
		copy(desc[0:11], f.name)
		desc[11] = 'C'
		desc[16] = byte(f.length)
		out = append(out, desc...)
	}
	out = append(out, 0x0D)

	for i, r := range rows {
		flag := byte(' ')
		if i < len(deleted) && deleted[i] {
			flag = '*'
		}
		out = append(out, flag)
		for j, f := range dbfFields {
			cell := make([]byte, f.length)
			for k := range cell {
				cell[k] = ' '
			}
			if j < len(r) {
				copy(cell, r[j])
			}
			out = append(out, cell...)
		}
	}
	return append(out, 0x1A)
}

const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]]]`

// unitSquare is a valid CCW ring near the given lon/lat origin.
func unitSquare(origin float64) []geo.Coord {
	return []geo.Coord{
		{X: origin, Y: origin},
		{X: origin + 0.01, Y: origin},
		{X: origin + 0.01, Y: origin + 0.01},
		{X: origin, Y: origin + 0.01},
		{X: origin, Y: origin},
	}
}

func attrs(name string) []string {
	return []string{name, "", "450.5", "25000000", "Residential"}
}

// bundleOf builds an upload where valid features are unit squares and invalid
// ones are null shapes, interleaved valid-first.
func bundleOf(t *testing.T, valid, invalid int) UploadBundle {
	t.Helper()
	var shapes [][]geo.Coord
	var rows [][]string
	for i := 0; i < valid; i++ {
		shapes = append(shapes, unitSquare(float64(i)*0.1))
		rows = append(rows, attrs(fmt.Sprintf("Plot %d", i+1)))
	}
	for i := 0; i < invalid; i++ {
		shapes = append(shapes, nil)
		rows = append(rows, attrs(fmt.Sprintf("Bad %d", i+1)))
	}
	return UploadBundle{
		SHP: buildSHP(t, shapes),
		DBF: buildDBF(t, rows),
		PRJ: []byte(wgs84PRJ),
	}
}

// --- fake repository --------------------------------------------------------

type fakeCreator struct {
	batches   [][]geo.ValidatedFeature
	failOn    int // 1-based call number to fail at, 0 = never
	callCount int
}

func (f *fakeCreator) CreateBatch(_ context.Context, feats []geo.ValidatedFeature, _ *uuid.UUID, _ string) ([]uuid.UUID, error) {
	f.callCount++
	if f.failOn > 0 && f.callCount >= f.failOn {
		return nil, errors.New("connection reset by peer")
	}
	batch := append([]geo.ValidatedFeature(nil), feats...)
	f.batches = append(f.batches, batch)
	ids := make([]uuid.UUID, len(feats))
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids, nil
}

func (f *fakeCreator) created() int {
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

// waitTerminal polls the store until the job reaches a terminal state.
func waitTerminal(t *testing.T, store *Store, jobID string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := store.Get(jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.State.terminal() {
			return j
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return JobStatus{}
}

// --- tests ------------------------------------------------------------------

func TestRunner_MixedValidityPartialSuccess(t *testing.T) {
	creator := &fakeCreator{}
	store := NewStore()
	runner := NewRunner(creator, store, 4, 50)

	jobID, err := runner.Submit(bundleOf(t, 10, 5), nil, "admin-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j := waitTerminal(t, store, jobID)
	if j.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded (error: %+v)", j.State, j.Error)
	}
	if j.TotalFeatures != 15 {
		t.Errorf("TotalFeatures = %d, want 15", j.TotalFeatures)
	}
	if j.Processed != 15 {
		t.Errorf("Processed = %d, want 15", j.Processed)
	}
	if j.InvalidSkipped != 5 {
		t.Errorf("InvalidSkipped = %d, want 5", j.InvalidSkipped)
	}
	if len(j.CreatedPlotIDs) != 10 {
		t.Errorf("CreatedPlotIDs = %d, want 10", len(j.CreatedPlotIDs))
	}
	if len(j.FeatureErrors) != 5 {
		t.Errorf("FeatureErrors = %d, want 5", len(j.FeatureErrors))
	}
	for _, fe := range j.FeatureErrors {
		if fe.Reason != geo.ReasonMalformedGeometry {
			t.Errorf("feature %d reason = %s, want %s", fe.FeatureIndex, fe.Reason, geo.ReasonMalformedGeometry)
		}
	}
	if creator.created() != 10 {
		t.Errorf("repository received %d features, want 10", creator.created())
	}
}

func TestRunner_DeletedRowsExcludedFromTotals(t *testing.T) {
	creator := &fakeCreator{}
	store := NewStore()
	runner := NewRunner(creator, store, 4, 50)

	// Four records in the files, one soft-deleted. The deleted row should
	// never show up in any counter: a successful run reports processed equal
	// to total.
	shapes := [][]geo.Coord{unitSquare(0), unitSquare(0.1), unitSquare(0.2), unitSquare(0.3)}
	rows := [][]string{attrs("Plot A"), attrs("Plot B"), attrs("Plot C"), attrs("Plot D")}
	bundle := UploadBundle{
		SHP: buildSHP(t, shapes),
		DBF: buildDBFDeleted(t, rows, []bool{false, true, false, false}),
		PRJ: []byte(wgs84PRJ),
	}

	jobID, err := runner.Submit(bundle, nil, "admin-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j := waitTerminal(t, store, jobID)
	if j.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded (error: %+v)", j.State, j.Error)
	}
	if j.TotalFeatures != 3 {
		t.Errorf("TotalFeatures = %d, want 3", j.TotalFeatures)
	}
	if j.Processed != 3 {
		t.Errorf("Processed = %d, want 3", j.Processed)
	}
	if j.InvalidSkipped != 0 {
		t.Errorf("InvalidSkipped = %d, want 0", j.InvalidSkipped)
	}
	if creator.created() != 3 {
		t.Errorf("repository received %d features, want 3", creator.created())
	}
}

func TestRunner_AllInvalidFails(t *testing.T) {
	creator := &fakeCreator{}
	store := NewStore()
	runner := NewRunner(creator, store, 0, 0)

	jobID, err := runner.Submit(bundleOf(t, 0, 4), nil, "admin-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j := waitTerminal(t, store, jobID)
	if j.State != StateFailed {
		t.Fatalf("state = %s, want failed", j.State)
	}
	if j.Error == nil || j.Error.Reason != ReasonAllFeaturesInvalid {
		t.Fatalf("error = %+v, want %s", j.Error, ReasonAllFeaturesInvalid)
	}
	if len(j.CreatedPlotIDs) != 0 {
		t.Errorf("CreatedPlotIDs = %d, want 0", len(j.CreatedPlotIDs))
	}
	if creator.callCount != 0 {
		t.Errorf("repository was called %d times, want 0", creator.callCount)
	}
}

func TestRunner_NoPRJStillIngestsPlausibleCoordinates(t *testing.T) {
	creator := &fakeCreator{}
	store := NewStore()
	runner := NewRunner(creator, store, 25, 50)

	bundle := bundleOf(t, 3, 0)
	bundle.PRJ = nil

	jobID, err := runner.Submit(bundle, nil, "admin-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j := waitTerminal(t, store, jobID)
	if j.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded (error: %+v)", j.State, j.Error)
	}
	if len(j.CreatedPlotIDs) != 3 {
		t.Errorf("CreatedPlotIDs = %d, want 3", len(j.CreatedPlotIDs))
	}
}

func TestRunner_CommittedBatchesSurviveRepositoryFailure(t *testing.T) {
	creator := &fakeCreator{failOn: 2}
	store := NewStore()
	runner := NewRunner(creator, store, 2, 50)

	jobID, err := runner.Submit(bundleOf(t, 5, 0), nil, "admin-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j := waitTerminal(t, store, jobID)
	if j.State != StateFailed {
		t.Fatalf("state = %s, want failed", j.State)
	}
	if j.Error == nil || j.Error.Reason != ReasonRepositoryError {
		t.Fatalf("error = %+v, want %s", j.Error, ReasonRepositoryError)
	}
	// First batch of 2 was committed before the failure and stays visible.
	if len(j.CreatedPlotIDs) != 2 {
		t.Errorf("CreatedPlotIDs = %d, want 2", len(j.CreatedPlotIDs))
	}
	if j.Processed != 2 {
		t.Errorf("Processed = %d, want 2", j.Processed)
	}
}

func TestRunner_ErrorSampleCapped(t *testing.T) {
	creator := &fakeCreator{}
	store := NewStore()
	runner := NewRunner(creator, store, 25, 3)

	jobID, err := runner.Submit(bundleOf(t, 2, 7), nil, "admin-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j := waitTerminal(t, store, jobID)
	if j.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded (error: %+v)", j.State, j.Error)
	}
	if len(j.FeatureErrors) != 3 {
		t.Errorf("FeatureErrors = %d, want the cap of 3", len(j.FeatureErrors))
	}
	if j.InvalidSkipped != 7 {
		t.Errorf("InvalidSkipped = %d, want the full tally of 7", j.InvalidSkipped)
	}
}

func TestRunner_DefaultTitleFromFeatureIndex(t *testing.T) {
	creator := &fakeCreator{}
	store := NewStore()
	runner := NewRunner(creator, store, 25, 50)

	bundle := UploadBundle{
		SHP: buildSHP(t, [][]geo.Coord{unitSquare(0)}),
		DBF: buildDBF(t, [][]string{{"", "", "100", "5000", "commercial"}}),
		PRJ: []byte(wgs84PRJ),
	}

	jobID, err := runner.Submit(bundle, nil, "admin-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j := waitTerminal(t, store, jobID)
	if j.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded (error: %+v)", j.State, j.Error)
	}
	if creator.created() != 1 {
		t.Fatalf("repository received %d features, want 1", creator.created())
	}
	got := creator.batches[0][0]
	if got.Title != "Plot 1" {
		t.Errorf("Title = %q, want %q", got.Title, "Plot 1")
	}
	if got.UsageType != geo.UsageCommercial {
		t.Errorf("UsageType = %q, want %q", got.UsageType, geo.UsageCommercial)
	}
}

func TestRunner_MissingFilesRejectedSynchronously(t *testing.T) {
	runner := NewRunner(&fakeCreator{}, NewStore(), 25, 50)

	if _, err := runner.Submit(UploadBundle{DBF: []byte{1}}, nil, "admin-1"); !errors.Is(err, ErrMissingFiles) {
		t.Errorf("missing shp: got %v, want ErrMissingFiles", err)
	}
	if _, err := runner.Submit(UploadBundle{SHP: []byte{1}}, nil, "admin-1"); !errors.Is(err, ErrMissingFiles) {
		t.Errorf("missing dbf: got %v, want ErrMissingFiles", err)
	}
}

func TestRunner_CountMismatchRejectedSynchronously(t *testing.T) {
	store := NewStore()
	runner := NewRunner(&fakeCreator{}, store, 25, 50)

	bundle := UploadBundle{
		SHP: buildSHP(t, [][]geo.Coord{unitSquare(0), unitSquare(1)}),
		DBF: buildDBF(t, [][]string{attrs("only one row")}),
	}

	_, err := runner.Submit(bundle, nil, "admin-1")
	var pe *shapefile.ParseError
	if !errors.As(err, &pe) || pe.Reason != shapefile.ReasonFileCountMismatch {
		t.Fatalf("got %v, want synchronous %s", err, shapefile.ReasonFileCountMismatch)
	}
}
