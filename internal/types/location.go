// README: Opaque location descriptors and route estimates shared by modules.
package types

import (
	"strconv"
	"strings"
	"time"
)

type Point struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Location is either free text, a coordinate pair, or both. The ride core never
// interprets it beyond checking that something was supplied.
type Location struct {
	Address string `json:"address,omitempty" bson:"address,omitempty"`
	Point   *Point `json:"point,omitempty" bson:"point,omitempty"`
}

func (l Location) IsZero() bool {
	return strings.TrimSpace(l.Address) == "" && l.Point == nil
}

// Query renders the location the way map providers accept it.
func (l Location) Query() string {
	if l.Point != nil {
		return strconv.FormatFloat(l.Point.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(l.Point.Lng, 'f', -1, 64)
	}
	return strings.TrimSpace(l.Address)
}

type RouteEstimate struct {
	DistanceText string        `json:"distance_text" bson:"distance_text"`
	DistanceM    int           `json:"distance_m" bson:"distance_m"`
	Duration     time.Duration `json:"duration" bson:"duration"`
}
