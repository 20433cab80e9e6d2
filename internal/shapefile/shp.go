package shapefile

import (
	"encoding/binary"
	"math"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
)

// .shp main file layout, per the ESRI shapefile technical description:
// a 100-byte header (mixed big/little endian), then a sequence of records,
// each an 8-byte big-endian record header followed by little-endian content.
const (
	shpFileCode  = 9994
	shpVersion   = 1000
	shpHeaderLen = 100
)

// Shape type codes relevant to this pipeline.
const (
	shapeNull    = 0
	shapePolygon = 5
)

type shpFile struct {
	data      []byte
	dataLen   int // declared file length in bytes
	shapeType int32
}

func parseSHP(data []byte) (*shpFile, error) {
	if len(data) < shpHeaderLen {
		return nil, corruptHeader("geometry file is %d bytes, header needs %d", len(data), shpHeaderLen)
	}
	if code := int32(binary.BigEndian.Uint32(data[0:4])); code != shpFileCode {
		return nil, corruptHeader("geometry file code %d, want %d", code, shpFileCode)
	}
	if v := int32(binary.LittleEndian.Uint32(data[28:32])); v != shpVersion {
		return nil, corruptHeader("geometry file version %d, want %d", v, shpVersion)
	}

	// File length is recorded in 16-bit words, header included.
	declared := int(binary.BigEndian.Uint32(data[24:28])) * 2
	if declared < shpHeaderLen || declared > len(data) {
		return nil, corruptHeader("geometry file declares %d bytes but %d are present", declared, len(data))
	}

	return &shpFile{
		data:      data,
		dataLen:   declared,
		shapeType: int32(binary.LittleEndian.Uint32(data[32:36])),
	}, nil
}

// countRecords hops over record headers without decoding geometry, so the
// record count is known up front for pairing checks and job progress totals.
func (f *shpFile) countRecords() (int, error) {
	off := shpHeaderLen
	n := 0
	for off < f.dataLen {
		if off+8 > f.dataLen {
			return 0, corruptHeader("record %d header truncated", n+1)
		}
		contentLen := int(binary.BigEndian.Uint32(f.data[off+4:off+8])) * 2
		off += 8 + contentLen
		if off > f.dataLen {
			return 0, corruptHeader("record %d content truncated", n+1)
		}
		n++
	}
	return n, nil
}

// record returns the content bytes of the record starting at off, plus the
// offset of the next record.
func (f *shpFile) record(off, index int) ([]byte, int, error) {
	if off+8 > f.dataLen {
		return nil, 0, corruptRecord(index, "record header truncated")
	}
	contentLen := int(binary.BigEndian.Uint32(f.data[off+4:off+8])) * 2
	next := off + 8 + contentLen
	if next > f.dataLen {
		return nil, 0, corruptRecord(index, "record content truncated")
	}
	return f.data[off+8 : next], next, nil
}

// decodeGeometry converts one record's content into a RawGeometry. Only the
// polygon and null shape types are decoded into rings; everything else is
// tagged unsupported and left for the validator to reject.
func decodeGeometry(content []byte, index int) (geo.RawGeometry, error) {
	if len(content) < 4 {
		return geo.RawGeometry{}, corruptRecord(index, "missing shape type")
	}
	shape := int32(binary.LittleEndian.Uint32(content[0:4]))

	switch shape {
	case shapeNull:
		return geo.RawGeometry{Kind: geo.KindNull}, nil
	case shapePolygon:
		rings, err := decodePolygon(content, index)
		if err != nil {
			return geo.RawGeometry{}, err
		}
		return geo.RawGeometry{Kind: geo.KindPolygon, Rings: rings}, nil
	default:
		return geo.RawGeometry{Kind: geo.KindUnsupported}, nil
	}
}

func decodePolygon(content []byte, index int) ([]geo.Ring, error) {
	// shape type (4) + bounding box (32) + numParts (4) + numPoints (4)
	if len(content) < 44 {
		return nil, corruptRecord(index, "polygon record truncated at counts")
	}
	numParts := int(binary.LittleEndian.Uint32(content[36:40]))
	numPoints := int(binary.LittleEndian.Uint32(content[40:44]))
	if numParts <= 0 || numPoints <= 0 {
		return nil, corruptRecord(index, "polygon record declares %d parts, %d points", numParts, numPoints)
	}

	need := 44 + numParts*4 + numPoints*16
	if len(content) < need {
		return nil, corruptRecord(index, "polygon record is %d bytes, needs %d", len(content), need)
	}

	parts := make([]int, numParts+1)
	for i := 0; i < numParts; i++ {
		parts[i] = int(binary.LittleEndian.Uint32(content[44+i*4 : 48+i*4]))
	}
	parts[numParts] = numPoints

	pointsOff := 44 + numParts*4
	rings := make([]geo.Ring, 0, numParts)
	for i := 0; i < numParts; i++ {
		start, end := parts[i], parts[i+1]
		if start < 0 || end > numPoints || start >= end {
			return nil, corruptRecord(index, "polygon part %d has invalid range [%d, %d)", i, start, end)
		}
		ring := make(geo.Ring, 0, end-start)
		for j := start; j < end; j++ {
			off := pointsOff + j*16
			ring = append(ring, geo.Coord{
				X: math.Float64frombits(binary.LittleEndian.Uint64(content[off : off+8])),
				Y: math.Float64frombits(binary.LittleEndian.Uint64(content[off+8 : off+16])),
			})
		}
		rings = append(rings, ring)
	}
	return rings, nil
}
