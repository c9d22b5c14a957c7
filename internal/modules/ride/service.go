// README: Ride service authorizes, decides, and commits transitions through the store's conditional write.
package ride

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"rideshare/internal/types"
)

const publishTimeout = 5 * time.Second

// RouteEstimator annotates new rides with a travel estimate. Failures never block a request.
type RouteEstimator interface {
	EstimateRoute(ctx context.Context, pickup, dropoff types.Location) (*types.RouteEstimate, error)
}

// Deps are the optional collaborators of a Service. Zero values disable the
// feature or fall back to a default.
type Deps struct {
	Publisher Publisher
	Estimator RouteEstimator
	Logger    *logrus.Entry
	Clock     func() time.Time
	NewID     func() types.ID
}

type Service struct {
	store     Store
	history   *HistoryQuery
	publisher Publisher
	estimator RouteEstimator
	log       *logrus.Entry
	now       func() time.Time
	newID     func() types.ID
}

func NewService(store Store, deps Deps) *Service {
	s := &Service{
		store:     store,
		history:   NewHistoryQuery(store),
		publisher: deps.Publisher,
		estimator: deps.Estimator,
		log:       deps.Logger,
		now:       deps.Clock,
		newID:     deps.NewID,
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("component", "ride")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	if s.newID == nil {
		s.newID = types.NewID
	}
	return s
}

type RequestCommand struct {
	Pickup  types.Location
	Dropoff types.Location
	Notes   string
}

type AcceptCommand struct {
	RideID types.ID
}

type StartCommand struct {
	RideID types.ID
}

type CompleteCommand struct {
	RideID types.ID
	Fare   *float64
}

type CancelCommand struct {
	RideID types.ID
	Reason string
}

func (s *Service) Request(ctx context.Context, actor Actor, cmd RequestCommand) (*Ride, error) {
	const tr = TransitionRequest
	if err := Authorize(actor, tr, nil); err != nil {
		return nil, s.reject(string(tr), actor, "", err)
	}
	r, err := NewRide(s.newID(), actor, Input{Pickup: cmd.Pickup, Dropoff: cmd.Dropoff, Notes: cmd.Notes}, s.now())
	if err != nil {
		return nil, s.reject(string(tr), actor, "", err)
	}
	if s.estimator != nil {
		est, err := s.estimator.EstimateRoute(ctx, r.Pickup, r.Dropoff)
		if err != nil {
			s.log.WithError(err).WithField("ride_id", r.ID).Debug("route estimate unavailable")
		} else {
			r.Estimate = est
		}
	}
	return s.commit(ctx, actor, tr, nil, r)
}

func (s *Service) Accept(ctx context.Context, actor Actor, cmd AcceptCommand) (*Ride, error) {
	return s.transition(ctx, actor, TransitionAccept, cmd.RideID, Input{})
}

func (s *Service) Start(ctx context.Context, actor Actor, cmd StartCommand) (*Ride, error) {
	return s.transition(ctx, actor, TransitionStart, cmd.RideID, Input{})
}

func (s *Service) Complete(ctx context.Context, actor Actor, cmd CompleteCommand) (*Ride, error) {
	return s.transition(ctx, actor, TransitionComplete, cmd.RideID, Input{Fare: cmd.Fare})
}

func (s *Service) Cancel(ctx context.Context, actor Actor, cmd CancelCommand) (*Ride, error) {
	return s.transition(ctx, actor, TransitionCancel, cmd.RideID, Input{Reason: cmd.Reason})
}

// Get returns a ride the actor is allowed to see.
func (s *Service) Get(ctx context.Context, actor Actor, id types.ID) (*Ride, error) {
	if id == "" {
		return nil, s.reject("view", actor, id, &ValidationError{Field: "ride_id", Reason: "required"})
	}
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, s.reject("view", actor, id, err)
	}
	if !CanView(actor, r) {
		return nil, s.reject("view", actor, id, forbidden(actor, "view"))
	}
	return r, nil
}

// History lists the actor's rides, newest first.
func (s *Service) History(ctx context.Context, actor Actor) ([]*Ride, error) {
	rides, err := s.history.List(ctx, actor)
	if err != nil {
		return nil, s.reject("history", actor, "", err)
	}
	return rides, nil
}

func (s *Service) transition(ctx context.Context, actor Actor, tr Transition, id types.ID, in Input) (*Ride, error) {
	if id == "" {
		return nil, s.reject(string(tr), actor, id, &ValidationError{Field: "ride_id", Reason: "required"})
	}
	cur, err := s.load(ctx, id)
	if err != nil {
		return nil, s.reject(string(tr), actor, id, err)
	}
	if err := Authorize(actor, tr, cur); err != nil {
		return nil, s.reject(string(tr), actor, id, err)
	}
	next, err := Apply(cur, tr, actor, in, s.now())
	if err != nil {
		return nil, s.reject(string(tr), actor, id, err)
	}
	return s.commit(ctx, actor, tr, cur, next)
}

// commit writes next only if the stored ride is still at cur's version.
// cur is nil for a fresh ride.
func (s *Service) commit(ctx context.Context, actor Actor, tr Transition, cur, next *Ride) (*Ride, error) {
	var (
		from     Status
		expected int64
	)
	if cur != nil {
		from, expected = cur.Status, cur.Version
	}
	ev := Event{
		RideID:     next.ID,
		Transition: tr,
		FromStatus: from,
		ToStatus:   next.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		CreatedAt:  next.UpdatedAt,
	}
	if tr == TransitionCancel {
		ev.Reason = next.CancelReason
	}

	start := time.Now()
	saved, err := s.store.ConditionalSave(ctx, next, expected, ev)
	storeDuration.WithLabelValues("conditional_save").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.reject(string(tr), actor, next.ID, storeError(err))
	}
	ev.Version = saved.Version

	transitionsTotal.WithLabelValues(string(tr), "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"transition": tr,
		"ride_id":    saved.ID,
		"actor_id":   actor.ID,
		"status":     saved.Status,
		"version":    saved.Version,
	}).Debug("ride transition committed")

	s.publish(ctx, ev)
	return saved, nil
}

func (s *Service) load(ctx context.Context, id types.ID) (*Ride, error) {
	start := time.Now()
	r, err := s.store.Get(ctx, id)
	storeDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, storeError(err)
	}
	return r, nil
}

// publish announces a committed transition. The transition already happened,
// so a failed publish is logged and counted but never returned.
func (s *Service) publish(ctx context.Context, ev Event) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, ev); err != nil {
		publishFailures.Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"ride_id":    ev.RideID,
			"transition": ev.Transition,
			"version":    ev.Version,
		}).Warn("publish ride event failed")
	}
}

// reject records a refused operation and returns err unchanged.
func (s *Service) reject(op string, actor Actor, id types.ID, err error) error {
	kind := KindOf(err)
	transitionsTotal.WithLabelValues(op, string(kind)).Inc()
	entry := s.log.WithFields(logrus.Fields{
		"op":         op,
		"ride_id":    id,
		"actor_id":   actor.ID,
		"actor_role": actor.Role,
		"kind":       kind,
	})
	switch kind {
	case KindForbidden:
		entry.WithField("security", true).Warn("ride operation denied")
	case KindStoreUnavailable:
		entry.WithError(err).Error("ride store unavailable")
	case KindUnknown:
		entry.WithError(err).Error("unexpected ride error")
	case KindConflict:
		entry.Info("ride transition lost a concurrent race")
	default:
		entry.WithError(err).Debug("ride operation rejected")
	}
	return err
}
