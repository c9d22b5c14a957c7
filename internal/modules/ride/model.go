// README: Ride aggregate, actor identity, and status definitions.
package ride

import (
	"time"

	"rideshare/internal/types"
)

type Status string

const (
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

func (r Role) Valid() bool {
	return r == RoleRider || r == RoleDriver
}

// Actor is an already-authenticated caller. The core trusts it as given.
type Actor struct {
	ID   types.ID
	Role Role
}

type Ride struct {
	ID           types.ID             `json:"id" bson:"_id"`
	RiderID      types.ID             `json:"rider_id" bson:"rider_id"`
	DriverID     *types.ID            `json:"driver_id,omitempty" bson:"driver_id,omitempty"`
	Pickup       types.Location       `json:"pickup" bson:"pickup"`
	Dropoff      types.Location       `json:"dropoff" bson:"dropoff"`
	Status       Status               `json:"status" bson:"status"`
	Fare         *float64             `json:"fare,omitempty" bson:"fare,omitempty"`
	Notes        string               `json:"notes,omitempty" bson:"notes,omitempty"`
	CancelReason string               `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	Estimate     *types.RouteEstimate `json:"estimate,omitempty" bson:"estimate,omitempty"`
	RequestedAt  time.Time            `json:"requested_at" bson:"requested_at"`
	AcceptedAt   *time.Time           `json:"accepted_at,omitempty" bson:"accepted_at,omitempty"`
	StartedAt    *time.Time           `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CancelledAt  *time.Time           `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at" bson:"updated_at"`
	Version      int64                `json:"version" bson:"version"`
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.DriverID != nil {
		d := *r.DriverID
		c.DriverID = &d
	}
	if r.Fare != nil {
		f := *r.Fare
		c.Fare = &f
	}
	if r.Estimate != nil {
		e := *r.Estimate
		c.Estimate = &e
	}
	if r.Pickup.Point != nil {
		p := *r.Pickup.Point
		c.Pickup.Point = &p
	}
	if r.Dropoff.Point != nil {
		p := *r.Dropoff.Point
		c.Dropoff.Point = &p
	}
	c.AcceptedAt = copyTime(r.AcceptedAt)
	c.StartedAt = copyTime(r.StartedAt)
	c.CompletedAt = copyTime(r.CompletedAt)
	c.CancelledAt = copyTime(r.CancelledAt)
	return &c
}

func (r *Ride) IsDriver(id types.ID) bool {
	return r.DriverID != nil && *r.DriverID == id
}

// Involves reports whether the actor sits on the ride in the seat their role names.
func (r *Ride) Involves(a Actor) bool {
	switch a.Role {
	case RoleRider:
		return r.RiderID == a.ID
	case RoleDriver:
		return r.IsDriver(a.ID)
	}
	return false
}

// Event is one committed transition, recorded with the write and fanned out after it.
type Event struct {
	RideID     types.ID   `json:"ride_id" bson:"ride_id"`
	Transition Transition `json:"transition" bson:"transition"`
	FromStatus Status     `json:"from_status,omitempty" bson:"from_status,omitempty"`
	ToStatus   Status     `json:"to_status" bson:"to_status"`
	ActorID    types.ID   `json:"actor_id" bson:"actor_id"`
	ActorRole  Role       `json:"actor_role" bson:"actor_role"`
	Version    int64      `json:"version" bson:"version"`
	Reason     string     `json:"reason,omitempty" bson:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
