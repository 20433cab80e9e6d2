package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Plot usage categories. Unrecognized input falls back to Residential.
const (
	UsageResidential  = "Residential"
	UsageCommercial   = "Commercial"
	UsageIndustrial   = "Industrial"
	UsageAgricultural = "Agricultural"
)

var usageTypes = []string{UsageResidential, UsageCommercial, UsageIndustrial, UsageAgricultural}

// Validation failure reason codes.
const (
	ReasonMalformedGeometry        = "MALFORMED_GEOMETRY"
	ReasonDegenerateGeometry       = "DEGENERATE_GEOMETRY"
	ReasonMissingProjection        = "MISSING_PROJECTION"
	ReasonMissingRequiredAttribute = "MISSING_REQUIRED_ATTRIBUTE"
	ReasonOutOfBoundsCoordinate    = "OUT_OF_BOUNDS_COORDINATE"
)

type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Reason + ": " + e.Message
}

func invalid(reason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ValidatedFeature is a feature that passed geometry and attribute checks,
// coerced to the plot schema and ready for batch insertion.
type ValidatedFeature struct {
	Geometry    Polygon
	Title       string
	Description string
	PlotNumber  string
	AreaSqm     float64
	Price       decimal.Decimal
	UsageType   string
}

// Attribute names expected in the DBF companion file. DBF caps field names
// at 10 characters, hence DESCRIPT.
const (
	attrName        = "NAME"
	attrDescription = "DESCRIPT"
	attrPlotNumber  = "PLOT_NUM"
	attrArea        = "AREA"
	attrPrice       = "PRICE"
	attrUsageType   = "USAGE_TYPE"
)

// Validate checks a raw feature's geometry and attributes and, on success,
// returns it normalized: outer ring counter-clockwise, holes clockwise,
// attributes coerced to the plot schema. Pure; no side effects.
func Validate(g RawGeometry, attrs map[string]string, crs CRS) (*ValidatedFeature, *ValidationError) {
	if g.Kind != KindPolygon {
		return nil, invalid(ReasonMalformedGeometry, "geometry type %q is not a polygon", g.Kind)
	}
	if len(g.Rings) == 0 {
		return nil, invalid(ReasonMalformedGeometry, "polygon has no rings")
	}

	for i, ring := range g.Rings {
		if len(ring) < 4 {
			return nil, invalid(ReasonMalformedGeometry, "ring %d has %d points, need at least 4", i, len(ring))
		}
		if !ring.Closed() {
			return nil, invalid(ReasonMalformedGeometry, "ring %d is not closed", i)
		}
		for j, c := range ring {
			if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
				return nil, invalid(ReasonMalformedGeometry, "ring %d point %d is not finite", i, j)
			}
		}
	}

	outer := g.Rings[0]
	if hasDuplicateEdges(outer) {
		return nil, invalid(ReasonDegenerateGeometry, "outer ring repeats consecutive points")
	}
	if selfIntersects(outer) {
		return nil, invalid(ReasonMalformedGeometry, "outer ring is self-intersecting")
	}
	if math.Abs(outer.SignedArea()) < 1e-12 {
		return nil, invalid(ReasonDegenerateGeometry, "outer ring has zero area")
	}

	if err := checkCRS(g.Rings, crs); err != nil {
		return nil, err
	}

	price, err := requiredDecimal(attrs, attrPrice)
	if err != nil {
		return nil, err
	}
	area, err := requiredFloat(attrs, attrArea)
	if err != nil {
		return nil, err
	}

	return &ValidatedFeature{
		Geometry:    normalizeWinding(g.Rings),
		Title:       normalizeTitle(attrs[attrName]),
		Description: strings.TrimSpace(attrs[attrDescription]),
		PlotNumber:  strings.TrimSpace(attrs[attrPlotNumber]),
		AreaSqm:     area,
		Price:       price,
		UsageType:   normalizeUsage(attrs[attrUsageType]),
	}, nil
}

func inBounds(c Coord) bool {
	return c.X >= -180 && c.X <= 180 && c.Y >= -90 && c.Y <= 90
}

// checkCRS enforces the projection rules: a declared geographic system gets
// strict lon/lat bounds, a missing .prj is accepted only when every vertex
// already fits lon/lat bounds, and a projected system is rejected outright
// since this pipeline does no reprojection.
func checkCRS(rings []Ring, crs CRS) *ValidationError {
	switch crs {
	case CRSProjected:
		return invalid(ReasonMissingProjection, "projection file required for non-geographic input")
	case CRSGeographic:
		for i, ring := range rings {
			for j, c := range ring {
				if !inBounds(c) {
					return invalid(ReasonOutOfBoundsCoordinate,
						"ring %d point %d (%g, %g) outside longitude/latitude bounds", i, j, c.X, c.Y)
				}
			}
		}
	default: // no .prj: assume WGS84 only if the coordinates plausibly are
		for _, ring := range rings {
			for _, c := range ring {
				if !inBounds(c) {
					return invalid(ReasonMissingProjection,
						"coordinates exceed longitude/latitude bounds and no projection file was supplied")
				}
			}
		}
	}
	return nil
}

// normalizeWinding rewrites rings so the outer ring runs counter-clockwise
// and holes clockwise.
func normalizeWinding(rings []Ring) Polygon {
	out := make([]Ring, len(rings))
	for i, ring := range rings {
		area := ring.SignedArea()
		switch {
		case i == 0 && area < 0:
			out[i] = ring.Reversed()
		case i > 0 && area > 0:
			out[i] = ring.Reversed()
		default:
			out[i] = ring
		}
	}
	return Polygon{Rings: out}
}

func hasDuplicateEdges(ring Ring) bool {
	for i := 0; i < len(ring)-1; i++ {
		if math.Abs(ring[i].X-ring[i+1].X) < 1e-12 && math.Abs(ring[i].Y-ring[i+1].Y) < 1e-12 {
			return true
		}
	}
	return false
}

// selfIntersects runs a pairwise segment crossing test over non-adjacent
// edges of the ring. O(n²), fine for cadastral parcel outlines; full
// topology repair is out of scope.
func selfIntersects(ring Ring) bool {
	n := len(ring) - 1 // closing point duplicates the first
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue // first and last edges share the start vertex
			}
			if segmentsCross(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, q1, q2 Coord) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(a, b, c Coord) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func requiredDecimal(attrs map[string]string, key string) (decimal.Decimal, *ValidationError) {
	raw := strings.TrimSpace(attrs[key])
	if raw == "" {
		return decimal.Zero, invalid(ReasonMissingRequiredAttribute, "attribute %s is required", key)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalid(ReasonMissingRequiredAttribute, "attribute %s is not numeric: %q", key, raw)
	}
	if !d.IsPositive() {
		return decimal.Zero, invalid(ReasonMissingRequiredAttribute, "attribute %s must be positive, got %s", key, d)
	}
	return d, nil
}

func requiredFloat(attrs map[string]string, key string) (float64, *ValidationError) {
	raw := strings.TrimSpace(attrs[key])
	if raw == "" {
		return 0, invalid(ReasonMissingRequiredAttribute, "attribute %s is required", key)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid(ReasonMissingRequiredAttribute, "attribute %s is not numeric: %q", key, raw)
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, invalid(ReasonMissingRequiredAttribute, "attribute %s must be positive, got %g", key, f)
	}
	return f, nil
}

func normalizeUsage(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, u := range usageTypes {
		if strings.EqualFold(raw, u) {
			return u
		}
	}
	return UsageResidential
}

var titleCaser = cases.Title(language.English)

// normalizeTitle trims the DBF NAME field. Cadastral exports frequently ship
// names in all caps, which get re-cased for display.
func normalizeTitle(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ""
	}
	if name == strings.ToUpper(name) && name != strings.ToLower(name) {
		return titleCaser.String(strings.ToLower(name))
	}
	return name
}
