// README: Ride store backed by PostgreSQL; version-guarded UPDATE plus audit row in one tx.
package ride

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rideshare/internal/types"
)

const rideColumns = `
	id, rider_id, driver_id, pickup, dropoff, status, fare, notes, cancel_reason, estimate,
	requested_at, accepted_at, started_at, completed_at, cancelled_at, updated_at, version`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ConditionalSave(ctx context.Context, r *Ride, expectedVersion int64, ev Event) (*Ride, error) {
	saved := r.Clone()
	saved.Version = expectedVersion + 1
	ev.Version = saved.Version

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var affected int64
		if expectedVersion == 0 {
			tag, err := tx.Exec(ctx, `
				INSERT INTO rides (`+rideColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
				ON CONFLICT (id) DO NOTHING`,
				string(saved.ID),
				string(saved.RiderID),
				toStringPtr(saved.DriverID),
				saved.Pickup,
				saved.Dropoff,
				string(saved.Status),
				saved.Fare,
				saved.Notes,
				saved.CancelReason,
				saved.Estimate,
				saved.RequestedAt,
				saved.AcceptedAt,
				saved.StartedAt,
				saved.CompletedAt,
				saved.CancelledAt,
				saved.UpdatedAt,
				saved.Version,
			)
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()
		} else {
			// Immutable columns (rider, pickup, dropoff, notes, requested_at) are never rewritten.
			tag, err := tx.Exec(ctx, `
				UPDATE rides
				SET driver_id = $3,
				    status = $4,
				    fare = $5,
				    cancel_reason = $6,
				    estimate = $7,
				    accepted_at = $8,
				    started_at = $9,
				    completed_at = $10,
				    cancelled_at = $11,
				    updated_at = $12,
				    version = $13
				WHERE id = $1 AND version = $2`,
				string(saved.ID),
				expectedVersion,
				toStringPtr(saved.DriverID),
				string(saved.Status),
				saved.Fare,
				saved.CancelReason,
				saved.Estimate,
				saved.AcceptedAt,
				saved.StartedAt,
				saved.CompletedAt,
				saved.CancelledAt,
				saved.UpdatedAt,
				saved.Version,
			)
			if err != nil {
				return err
			}
			affected = tag.RowsAffected()
		}
		if affected != 1 {
			return s.missOrConflict(ctx, tx, saved.ID, expectedVersion)
		}
		return appendEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *PostgresStore) ListByParticipant(ctx context.Context, actorID types.ID, role Role) ([]*Ride, error) {
	var column string
	switch role {
	case RoleRider:
		column = "rider_id"
	case RoleDriver:
		column = "driver_id"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	rows, err := s.db.Query(ctx, `SELECT `+rideColumns+` FROM rides WHERE `+column+` = $1
		ORDER BY requested_at DESC, id DESC`, string(actorID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) missOrConflict(ctx context.Context, tx pgx.Tx, id types.ID, expectedVersion int64) error {
	if expectedVersion == 0 {
		return ErrVersionConflict
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func appendEvent(ctx context.Context, tx pgx.Tx, e Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, transition, from_status, to_status, actor_id, actor_role, version, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.RideID),
		string(e.Transition),
		toStatusPtr(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorID),
		string(e.ActorRole),
		e.Version,
		e.Reason,
		e.CreatedAt,
	)
	return err
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var id, riderID, status string
	var driverID sql.NullString
	var fare sql.NullFloat64
	var estimate *types.RouteEstimate
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&id, &riderID, &driverID, &r.Pickup, &r.Dropoff, &status, &fare, &r.Notes, &r.CancelReason, &estimate,
		&r.RequestedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.ID = types.ID(id)
	r.RiderID = types.ID(riderID)
	r.Status = Status(status)
	r.Estimate = estimate
	if driverID.Valid {
		d := types.ID(driverID.String)
		r.DriverID = &d
	}
	if fare.Valid {
		f := fare.Float64
		r.Fare = &f
	}
	r.AcceptedAt = toTimePtr(acceptedAt)
	r.StartedAt = toTimePtr(startedAt)
	r.CompletedAt = toTimePtr(completedAt)
	r.CancelledAt = toTimePtr(cancelledAt)
	return &r, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toStatusPtr(s Status) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
