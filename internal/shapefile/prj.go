package shapefile

import (
	"strings"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
)

// detectCRS classifies the optional .prj companion (WKT CRS text). The
// parser only needs to know whether coordinates can be treated as lon/lat;
// full CRS parsing and reprojection are out of scope.
func detectCRS(prj []byte) geo.CRS {
	if len(prj) == 0 {
		return geo.CRSUnknown
	}
	wkt := strings.ToUpper(string(prj))
	switch {
	case strings.Contains(wkt, "PROJCS"):
		return geo.CRSProjected
	case strings.Contains(wkt, "GEOGCS") || strings.Contains(wkt, "GEOGCRS"):
		return geo.CRSGeographic
	default:
		return geo.CRSUnknown
	}
}
