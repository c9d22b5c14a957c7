// README: Offline route estimate from great-circle distance, used when no Maps key is configured.
package maps

import (
	"context"
	"fmt"
	"math"
	"time"

	"rideshare/internal/types"
)

const (
	earthRadiusKm = 6371.0
	// Urban average including stops.
	defaultSpeedKmh = 30.0
)

type StraightLineEstimator struct {
	SpeedKmh float64
}

// EstimateRoute needs coordinates on both ends; address-only locations yield ErrNoRoute.
func (e StraightLineEstimator) EstimateRoute(_ context.Context, pickup, dropoff types.Location) (*types.RouteEstimate, error) {
	if pickup.Point == nil || dropoff.Point == nil {
		return nil, ErrNoRoute
	}
	speed := e.SpeedKmh
	if speed <= 0 {
		speed = defaultSpeedKmh
	}
	km := haversineKm(pickup.Point.Lat, pickup.Point.Lng, dropoff.Point.Lat, dropoff.Point.Lng)
	return &types.RouteEstimate{
		DistanceText: fmt.Sprintf("%.1f km", km),
		DistanceM:    int(math.Round(km * 1000)),
		Duration:     time.Duration(km / speed * float64(time.Hour)).Round(time.Second),
	}, nil
}

// haversineKm returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(lat1))*math.Cos(degreesToRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
