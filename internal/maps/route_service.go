// README: Google Maps Directions client that estimates ride routes.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"rideshare/internal/types"
)

const estimateTimeout = 3 * time.Second

var ErrNoRoute = errors.New("no route found")

type directionsAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client directionsAPI
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// EstimateRoute returns driving distance and duration between two ride
// locations. Coordinates are preferred over addresses when both are set.
func (s *RouteService) EstimateRoute(ctx context.Context, pickup, dropoff types.Location) (*types.RouteEstimate, error) {
	origin, destination := pickup.Query(), dropoff.Query()
	if origin == "" || destination == "" {
		return nil, ErrNoRoute
	}

	ctx, cancel := context.WithTimeout(ctx, estimateTimeout)
	defer cancel()

	routes, _, err := s.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return &types.RouteEstimate{
		DistanceText: leg.Distance.HumanReadable,
		DistanceM:    leg.Distance.Meters,
		Duration:     leg.Duration,
	}, nil
}
