package geo

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SRID for WGS84 lon/lat, the only coordinate reference system plots are
// stored in.
const SRID = 4326

// CRS is the parser's best guess at the coordinate reference system of an
// uploaded file, derived from the optional .prj companion.
type CRS int

const (
	CRSUnknown    CRS = iota // no .prj supplied
	CRSGeographic            // .prj declares a geographic (lon/lat) system
	CRSProjected             // .prj declares a projected system
)

// Geometry kinds surfaced by the shapefile parser. Only polygons survive
// validation; the rest exist so rejections can name what they saw.
const (
	KindNull        = "null"
	KindPolygon     = "polygon"
	KindUnsupported = "unsupported"
)

type Coord struct {
	X float64 // longitude
	Y float64 // latitude
}

type Ring []Coord

// Closed reports whether the ring's first and last coordinates coincide
// within floating tolerance.
func (r Ring) Closed() bool {
	if len(r) < 2 {
		return false
	}
	first, last := r[0], r[len(r)-1]
	return math.Abs(first.X-last.X) < 1e-9 && math.Abs(first.Y-last.Y) < 1e-9
}

// SignedArea computes the shoelace area of the ring in coordinate units.
// Positive for counter-clockwise winding.
func (r Ring) SignedArea() float64 {
	if len(r) < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < len(r)-1; i++ {
		sum += r[i].X*r[i+1].Y - r[i+1].X*r[i].Y
	}
	return sum / 2
}

// Reversed returns a copy of the ring with opposite winding.
func (r Ring) Reversed() Ring {
	out := make(Ring, len(r))
	for i, c := range r {
		out[len(r)-1-i] = c
	}
	return out
}

// RawGeometry is a feature's geometry exactly as read from the source file,
// prior to any validation.
type RawGeometry struct {
	Kind  string
	Rings []Ring
}

// Polygon is a validated plot boundary: outer ring first, then holes.
// It maps onto a PostGIS geometry(Polygon,4326) column: values go out as
// EWKT and come back as hex-encoded EWKB.
type Polygon struct {
	Rings []Ring
}

func (p Polygon) Outer() Ring {
	if len(p.Rings) == 0 {
		return nil
	}
	return p.Rings[0]
}

// Value implements driver.Valuer. PostGIS parses EWKT text input natively.
func (p Polygon) Value() (driver.Value, error) {
	if len(p.Rings) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SRID=%d;POLYGON(", SRID)
	for i, ring := range p.Rings {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for j, c := range ring {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(c.X, 'f', -1, 64))
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(c.Y, 'f', -1, 64))
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String(), nil
}

// Scan implements sql.Scanner for the hex EWKB representation PostGIS
// returns for geometry columns.
func (p *Polygon) Scan(src interface{}) error {
	if src == nil {
		p.Rings = nil
		return nil
	}

	var raw string
	switch v := src.(type) {
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("geo: cannot scan %T into Polygon", src)
	}

	data, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("geo: decode EWKB hex: %w", err)
	}
	rings, err := decodeEWKBPolygon(data)
	if err != nil {
		return err
	}
	p.Rings = rings
	return nil
}

const (
	ewkbSRIDFlag = 0x20000000
	ewkbZFlag    = 0x80000000
	ewkbMFlag    = 0x40000000
	wkbPolygon   = 3
)

func decodeEWKBPolygon(data []byte) ([]Ring, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("geo: EWKB too short (%d bytes)", len(data))
	}

	var order binary.ByteOrder = binary.BigEndian
	if data[0] == 1 {
		order = binary.LittleEndian
	}
	data = data[1:]

	typ := order.Uint32(data)
	data = data[4:]

	if typ&(ewkbZFlag|ewkbMFlag) != 0 {
		return nil, fmt.Errorf("geo: Z/M geometries not supported")
	}
	if typ&ewkbSRIDFlag != 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("geo: EWKB truncated at SRID")
		}
		data = data[4:] // SRID is fixed schema-side, nothing to keep
	}
	if typ&^uint32(ewkbSRIDFlag) != wkbPolygon {
		return nil, fmt.Errorf("geo: unexpected WKB type %d, want polygon", typ&^uint32(ewkbSRIDFlag))
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("geo: EWKB truncated at ring count")
	}
	numRings := int(order.Uint32(data))
	data = data[4:]

	rings := make([]Ring, 0, numRings)
	for i := 0; i < numRings; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("geo: EWKB truncated at ring %d", i)
		}
		numPoints := int(order.Uint32(data))
		data = data[4:]

		if len(data) < numPoints*16 {
			return nil, fmt.Errorf("geo: EWKB truncated in ring %d coordinates", i)
		}
		ring := make(Ring, numPoints)
		for j := 0; j < numPoints; j++ {
			ring[j] = Coord{
				X: math.Float64frombits(order.Uint64(data)),
				Y: math.Float64frombits(order.Uint64(data[8:])),
			}
			data = data[16:]
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// geoJSONPolygon is the wire shape for the HTTP surface.
type geoJSONPolygon struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

func (p Polygon) MarshalJSON() ([]byte, error) {
	coords := make([][][]float64, len(p.Rings))
	for i, ring := range p.Rings {
		coords[i] = make([][]float64, len(ring))
		for j, c := range ring {
			coords[i][j] = []float64{c.X, c.Y}
		}
	}
	return json.Marshal(geoJSONPolygon{Type: "Polygon", Coordinates: coords})
}

func (p *Polygon) UnmarshalJSON(data []byte) error {
	var gj geoJSONPolygon
	if err := json.Unmarshal(data, &gj); err != nil {
		return err
	}
	if gj.Type != "" && gj.Type != "Polygon" {
		return fmt.Errorf("geo: unexpected GeoJSON type %q", gj.Type)
	}
	rings := make([]Ring, len(gj.Coordinates))
	for i, rc := range gj.Coordinates {
		ring := make(Ring, len(rc))
		for j, pair := range rc {
			if len(pair) < 2 {
				return fmt.Errorf("geo: coordinate %d of ring %d has %d values", j, i, len(pair))
			}
			ring[j] = Coord{X: pair[0], Y: pair[1]}
		}
		rings[i] = ring
	}
	p.Rings = rings
	return nil
}
