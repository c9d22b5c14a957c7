// README: Ride state machine; pure decisions, no I/O.
package ride

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"rideshare/internal/types"
)

type Transition string

const (
	TransitionRequest  Transition = "request"
	TransitionAccept   Transition = "accept"
	TransitionStart    Transition = "start"
	TransitionComplete Transition = "complete"
	TransitionCancel   Transition = "cancel"
)

const maxNotesLen = 500

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

var transitionTargets = map[Transition]Status{
	TransitionRequest:  StatusRequested,
	TransitionAccept:   StatusAccepted,
	TransitionStart:    StatusInProgress,
	TransitionComplete: StatusCompleted,
	TransitionCancel:   StatusCancelled,
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Target returns the status a transition leads to.
func (t Transition) Target() (Status, bool) {
	s, ok := transitionTargets[t]
	return s, ok
}

// Input carries the payload fields a transition may apply.
type Input struct {
	Pickup  types.Location
	Dropoff types.Location
	Notes   string
	Fare    *float64
	Reason  string
}

// NewRide decides the request transition: a fresh ride owned by the actor.
// The returned ride has version 0; the store assigns the first version on insert.
func NewRide(id types.ID, actor Actor, in Input, now time.Time) (*Ride, error) {
	if err := validateLocation("pickup", in.Pickup); err != nil {
		return nil, err
	}
	if err := validateLocation("dropoff", in.Dropoff); err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(in.Notes)
	if utf8.RuneCountInString(notes) > maxNotesLen {
		return nil, &ValidationError{Field: "notes", Reason: "too long"}
	}
	pickup, dropoff := in.Pickup, in.Dropoff
	pickup.Address = strings.TrimSpace(pickup.Address)
	dropoff.Address = strings.TrimSpace(dropoff.Address)

	r := &Ride{
		ID:          id,
		RiderID:     actor.ID,
		Pickup:      pickup,
		Dropoff:     dropoff,
		Status:      StatusRequested,
		Notes:       notes,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	return r.Clone(), nil
}

// Apply decides a transition on an existing ride. It returns a new ride value
// carrying the fields to persist, or a rejection. cur is never modified.
func Apply(cur *Ride, tr Transition, actor Actor, in Input, now time.Time) (*Ride, error) {
	to, ok := tr.Target()
	if !ok || tr == TransitionRequest {
		return nil, &ValidationError{Field: "transition", Reason: "unknown transition " + string(tr)}
	}
	// Accept is a claim: once the ride has left requested, some other caller
	// already won it, so a late accept is a lost race.
	if tr == TransitionAccept && (cur.Status != StatusRequested || cur.DriverID != nil) {
		return nil, fmt.Errorf("%w: ride already %s", ErrConflict, cur.Status)
	}
	if !CanTransition(cur.Status, to) {
		return nil, &TransitionError{Transition: tr, From: cur.Status, To: to}
	}

	next := cur.Clone()
	next.Status = to
	next.UpdatedAt = now
	switch tr {
	case TransitionAccept:
		d := actor.ID
		next.DriverID = &d
		next.AcceptedAt = &now
	case TransitionStart:
		next.StartedAt = &now
	case TransitionComplete:
		if in.Fare != nil {
			f := *in.Fare
			if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
				return nil, &ValidationError{Field: "fare", Reason: "must be a non-negative number"}
			}
			next.Fare = &f
		}
		next.CompletedAt = &now
	case TransitionCancel:
		reason := strings.TrimSpace(in.Reason)
		if utf8.RuneCountInString(reason) > maxNotesLen {
			return nil, &ValidationError{Field: "reason", Reason: "too long"}
		}
		next.CancelReason = reason
		next.CancelledAt = &now
	}
	return next, nil
}

func validateLocation(field string, l types.Location) error {
	if l.IsZero() {
		return &ValidationError{Field: field, Reason: "required"}
	}
	if p := l.Point; p != nil {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return &ValidationError{Field: field, Reason: "coordinates out of range"}
		}
	}
	return nil
}
