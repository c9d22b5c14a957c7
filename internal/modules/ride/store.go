// README: Persistence contract for rides plus an in-memory implementation.
package ride

import (
	"context"
	"sort"
	"sync"

	"rideshare/internal/types"
)

// Store is the only place ride state is shared. Implementations must make
// ConditionalSave atomic: either the ride and its event are both committed at
// expectedVersion+1, or nothing is.
type Store interface {
	// Get returns ErrNotFound when no ride has the id.
	Get(ctx context.Context, id types.ID) (*Ride, error)
	// ConditionalSave inserts r when expectedVersion is 0 and otherwise replaces
	// the stored ride only if its version still equals expectedVersion. A lost
	// race returns ErrVersionConflict. The returned ride carries the new version.
	ConditionalSave(ctx context.Context, r *Ride, expectedVersion int64, ev Event) (*Ride, error)
	// ListByParticipant returns rides where actorID is the rider (RoleRider) or
	// the driver (RoleDriver), most recently requested first.
	ListByParticipant(ctx context.Context, actorID types.ID, role Role) ([]*Ride, error)
}

// MemoryStore keeps rides in process. The mutex stands in for the atomicity a
// database gives the other stores.
type MemoryStore struct {
	mu     sync.Mutex
	rides  map[types.ID]*Ride
	events map[types.ID][]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[types.ID]*Ride),
		events: make(map[types.ID][]Event),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ConditionalSave(ctx context.Context, r *Ride, expectedVersion int64, ev Event) (*Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.rides[r.ID]
	switch {
	case expectedVersion == 0 && ok:
		return nil, ErrVersionConflict
	case expectedVersion != 0 && !ok:
		return nil, ErrNotFound
	case ok && cur.Version != expectedVersion:
		return nil, ErrVersionConflict
	}

	saved := r.Clone()
	saved.Version = expectedVersion + 1
	m.rides[r.ID] = saved
	ev.Version = saved.Version
	m.events[r.ID] = append(m.events[r.ID], ev)
	return saved.Clone(), nil
}

func (m *MemoryStore) ListByParticipant(ctx context.Context, actorID types.ID, role Role) ([]*Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Ride, 0)
	for _, r := range m.rides {
		if r.Involves(Actor{ID: actorID, Role: role}) {
			out = append(out, r.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Events returns the recorded transitions of a ride in commit order.
func (m *MemoryStore) Events(id types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[id]...)
}

func sortNewestFirst(rides []*Ride) {
	sort.SliceStable(rides, func(i, j int) bool {
		a, b := rides[i], rides[j]
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.After(b.RequestedAt)
		}
		return a.ID > b.ID
	})
}
