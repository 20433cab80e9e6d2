// Package shapefile reads an uploaded geometry/attribute file pair
// (.shp + .dbf, optionally .prj) as a forward-only stream of raw features.
// Geometry record i pairs with attribute row i; the formats guarantee
// matching order, and the parser verifies matching counts up front.
package shapefile

import (
	"fmt"
	"io"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
)

// ParseError reason codes.
const (
	ReasonCorruptHeader     = "CORRUPT_HEADER"
	ReasonFileCountMismatch = "FILE_COUNT_MISMATCH"
	ReasonCorruptRecord     = "CORRUPT_RECORD"
)

type ParseError struct {
	Reason  string
	Message string
	// Index of the offending record for mid-stream failures, -1 otherwise.
	RecordIndex int
}

func (e *ParseError) Error() string {
	if e.RecordIndex >= 0 {
		return fmt.Sprintf("%s: record %d: %s", e.Reason, e.RecordIndex, e.Message)
	}
	return e.Reason + ": " + e.Message
}

func corruptHeader(format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: ReasonCorruptHeader, Message: fmt.Sprintf(format, args...), RecordIndex: -1}
}

func corruptRecord(index int, format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: ReasonCorruptRecord, Message: fmt.Sprintf(format, args...), RecordIndex: index}
}

// RawFeature is one geometry record paired with its attribute row, untouched
// by validation.
type RawFeature struct {
	Index      int
	Geometry   geo.RawGeometry
	Attributes map[string]string
	CRS        geo.CRS
}

// Parser streams features out of an in-memory shapefile pair. It is
// forward-only and non-restartable; re-processing means constructing a new
// Parser from the source bytes.
type Parser struct {
	shp   *shpFile
	dbf   *dbfTable
	crs   geo.CRS
	count int // live features, deleted rows excluded
	raw   int // records in the files, deleted rows included

	offset int // byte offset of the next .shp record
	index  int // next feature index
}

// New parses both file headers, verifies the record counts match, and
// classifies the CRS hint from the optional .prj bytes. Header corruption
// and count mismatch fail here, before any feature is produced.
func New(shpBytes, dbfBytes, prjBytes []byte) (*Parser, error) {
	shp, err := parseSHP(shpBytes)
	if err != nil {
		return nil, err
	}
	dbf, err := parseDBF(dbfBytes)
	if err != nil {
		return nil, err
	}

	count, err := shp.countRecords()
	if err != nil {
		return nil, err
	}
	if count != dbf.recordCount {
		return nil, &ParseError{
			Reason:      ReasonFileCountMismatch,
			Message:     fmt.Sprintf("geometry file has %d records, attribute file has %d", count, dbf.recordCount),
			RecordIndex: -1,
		}
	}

	return &Parser{
		shp:    shp,
		dbf:    dbf,
		crs:    detectCRS(prjBytes),
		count:  count - dbf.deletedCount(),
		raw:    count,
		offset: shpHeaderLen,
	}, nil
}

// Count returns the number of features Next will produce. Rows flagged
// deleted in the attribute file are excluded, so a fully-consumed stream
// yields exactly Count features.
func (p *Parser) Count() int { return p.count }

// CRS returns the coordinate reference system hint for all features.
func (p *Parser) CRS() geo.CRS { return p.crs }

// Next returns the next feature, or io.EOF once the stream is exhausted.
// Rows flagged deleted in the attribute file are skipped along with their
// geometry records.
func (p *Parser) Next() (*RawFeature, error) {
	for {
		if p.index >= p.raw {
			return nil, io.EOF
		}
		idx := p.index

		content, next, err := p.shp.record(p.offset, idx)
		if err != nil {
			return nil, err
		}
		attrs, deleted, err := p.dbf.record(idx)
		if err != nil {
			return nil, err
		}
		p.offset = next
		p.index++

		if deleted {
			continue
		}

		g, err := decodeGeometry(content, idx)
		if err != nil {
			return nil, err
		}
		return &RawFeature{
			Index:      idx,
			Geometry:   g,
			Attributes: attrs,
			CRS:        p.crs,
		}, nil
	}
}
