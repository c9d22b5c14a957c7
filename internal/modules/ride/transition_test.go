package ride

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"rideshare/internal/types"
)

var (
	testNow   = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	riderA    = Actor{ID: "rider-a", Role: RoleRider}
	riderB    = Actor{ID: "rider-b", Role: RoleRider}
	driverX   = Actor{ID: "driver-x", Role: RoleDriver}
	driverY   = Actor{ID: "driver-y", Role: RoleDriver}
	pickupA   = types.Location{Address: "A"}
	dropoffB  = types.Location{Address: "B"}
	validTrip = Input{Pickup: pickupA, Dropoff: dropoffB}
)

func rideAt(t *testing.T, status Status) *Ride {
	t.Helper()
	r, err := NewRide("ride-1", riderA, validTrip, testNow)
	if err != nil {
		t.Fatalf("new ride: %v", err)
	}
	r.Version = 1
	steps := map[Status][]Transition{
		StatusRequested:  nil,
		StatusAccepted:   {TransitionAccept},
		StatusInProgress: {TransitionAccept, TransitionStart},
		StatusCompleted:  {TransitionAccept, TransitionStart, TransitionComplete},
		StatusCancelled:  {TransitionCancel},
	}
	for _, tr := range steps[status] {
		actor := driverX
		if tr == TransitionCancel {
			actor = riderA
		}
		next, err := Apply(r, tr, actor, Input{}, testNow)
		if err != nil {
			t.Fatalf("apply %s: %v", tr, err)
		}
		next.Version = r.Version + 1
		r = next
	}
	return r
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusRequested, StatusAccepted}:   true,
		{StatusRequested, StatusCancelled}:  true,
		{StatusAccepted, StatusInProgress}:  true,
		{StatusAccepted, StatusCancelled}:   true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusCancelled}: true,
	}
	all := []Status{StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestNewRide(t *testing.T) {
	r, err := NewRide("ride-1", riderA, Input{Pickup: types.Location{Address: "  A  "}, Dropoff: dropoffB, Notes: " gate 3 "}, testNow)
	if err != nil {
		t.Fatalf("new ride: %v", err)
	}
	if r.Status != StatusRequested || r.RiderID != riderA.ID || r.DriverID != nil {
		t.Fatalf("unexpected ride: %+v", r)
	}
	if r.Pickup.Address != "A" || r.Notes != "gate 3" {
		t.Fatalf("expected trimmed fields, got %q %q", r.Pickup.Address, r.Notes)
	}
	if !r.RequestedAt.Equal(testNow) || r.Version != 0 {
		t.Fatalf("unexpected timestamps/version: %+v", r)
	}
}

func TestNewRideValidation(t *testing.T) {
	cases := map[string]Input{
		"missing pickup":  {Dropoff: dropoffB},
		"blank pickup":    {Pickup: types.Location{Address: "   "}, Dropoff: dropoffB},
		"missing dropoff": {Pickup: pickupA},
		"bad latitude":    {Pickup: types.Location{Point: &types.Point{Lat: 91}}, Dropoff: dropoffB},
		"bad longitude":   {Pickup: pickupA, Dropoff: types.Location{Point: &types.Point{Lng: -181}}},
		"long notes":      {Pickup: pickupA, Dropoff: dropoffB, Notes: strings.Repeat("n", maxNotesLen+1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRide("ride-1", riderA, in, testNow)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestNewRideAcceptsPointOnly(t *testing.T) {
	in := Input{
		Pickup:  types.Location{Point: &types.Point{Lat: 25.03, Lng: 121.56}},
		Dropoff: types.Location{Point: &types.Point{Lat: 25.05, Lng: 121.52}},
	}
	if _, err := NewRide("ride-1", riderA, in, testNow); err != nil {
		t.Fatalf("expected point-only locations to be valid: %v", err)
	}
}

func TestApplyLegalPath(t *testing.T) {
	r := rideAt(t, StatusRequested)
	later := testNow.Add(time.Minute)

	accepted, err := Apply(r, TransitionAccept, driverX, Input{}, later)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != StatusAccepted || !accepted.IsDriver(driverX.ID) || accepted.AcceptedAt == nil {
		t.Fatalf("unexpected accepted ride: %+v", accepted)
	}
	if r.Status != StatusRequested || r.DriverID != nil {
		t.Fatalf("Apply modified its input")
	}

	started, err := Apply(accepted, TransitionStart, driverX, Input{}, later)
	if err != nil || started.Status != StatusInProgress || started.StartedAt == nil {
		t.Fatalf("start: %+v %v", started, err)
	}

	fare := 18.75
	done, err := Apply(started, TransitionComplete, driverX, Input{Fare: &fare}, later)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.Fare == nil || *done.Fare != fare || done.CompletedAt == nil {
		t.Fatalf("unexpected completed ride: %+v", done)
	}
	fare = 1
	if *done.Fare != 18.75 {
		t.Fatalf("fare aliased caller input")
	}
	if !done.RequestedAt.Equal(testNow) || !done.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected timestamps: %+v", done)
	}
}

func TestApplyRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		from Status
		tr   Transition
	}{
		{StatusRequested, TransitionStart},
		{StatusRequested, TransitionComplete},
		{StatusAccepted, TransitionComplete},
		{StatusInProgress, TransitionStart},
		{StatusCompleted, TransitionCancel},
		{StatusCompleted, TransitionStart},
		{StatusCancelled, TransitionCancel},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.tr), func(t *testing.T) {
			r := rideAt(t, tc.from)
			_, err := Apply(r, tc.tr, driverX, Input{}, testNow)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.From != tc.from {
				t.Fatalf("expected TransitionError from %s, got %v", tc.from, err)
			}
		})
	}
}

func TestApplyLateAcceptIsConflict(t *testing.T) {
	for _, from := range []Status{StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled} {
		r := rideAt(t, from)
		_, err := Apply(r, TransitionAccept, driverY, Input{}, testNow)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("accept from %s: expected conflict, got %v", from, err)
		}
		if errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("accept from %s: conflict must not also read as invalid transition", from)
		}
	}
}

func TestApplyCancelFromEveryActiveStatus(t *testing.T) {
	for _, from := range []Status{StatusRequested, StatusAccepted, StatusInProgress} {
		r := rideAt(t, from)
		next, err := Apply(r, TransitionCancel, riderA, Input{Reason: "  late  "}, testNow)
		if err != nil {
			t.Fatalf("cancel from %s: %v", from, err)
		}
		if next.Status != StatusCancelled || next.CancelReason != "late" || next.CancelledAt == nil {
			t.Fatalf("unexpected cancelled ride: %+v", next)
		}
	}
}

func TestApplyFareValidation(t *testing.T) {
	r := rideAt(t, StatusInProgress)
	for _, f := range []float64{-1, math.NaN(), math.Inf(1)} {
		fare := f
		if _, err := Apply(r, TransitionComplete, driverX, Input{Fare: &fare}, testNow); !errors.Is(err, ErrValidation) {
			t.Fatalf("fare %v: expected validation error, got %v", f, err)
		}
	}
	done, err := Apply(r, TransitionComplete, driverX, Input{}, testNow)
	if err != nil || done.Fare != nil {
		t.Fatalf("expected completion without fare, got %+v %v", done, err)
	}
}

func TestApplyStateCheckedBeforePayload(t *testing.T) {
	r := rideAt(t, StatusRequested)
	fare := -5.0
	_, err := Apply(r, TransitionComplete, driverX, Input{Fare: &fare}, testNow)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition before fare validation, got %v", err)
	}
}

func TestApplyUnknownTransition(t *testing.T) {
	r := rideAt(t, StatusRequested)
	for _, tr := range []Transition{"teleport", TransitionRequest} {
		if _, err := Apply(r, tr, driverX, Input{}, testNow); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tr, err)
		}
	}
}
