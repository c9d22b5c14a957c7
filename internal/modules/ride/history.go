// README: History query listing the rides an actor took part in.
package ride

import (
	"context"
	"time"
)

type HistoryQuery struct {
	store Store
}

func NewHistoryQuery(store Store) *HistoryQuery {
	return &HistoryQuery{store: store}
}

// List returns the actor's rides, most recently requested first. Riders see
// rides they requested, drivers see rides assigned to them. An actor with no
// rides gets an empty, non-nil slice.
func (q *HistoryQuery) List(ctx context.Context, actor Actor) ([]*Ride, error) {
	if actor.ID == "" {
		return nil, &ValidationError{Field: "actor_id", Reason: "required"}
	}
	if !actor.Role.Valid() {
		return nil, &ValidationError{Field: "role", Reason: "must be rider or driver"}
	}

	start := time.Now()
	rides, err := q.store.ListByParticipant(ctx, actor.ID, actor.Role)
	storeDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, storeError(err)
	}

	out := make([]*Ride, 0, len(rides))
	for _, r := range rides {
		if r.Involves(actor) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return out, nil
}
