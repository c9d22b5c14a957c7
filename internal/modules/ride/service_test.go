package ride

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"rideshare/internal/types"
)

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestService(store Store, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return testNow }
	}
	return NewService(store, deps)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// hookStore runs beforeSave once, just before the next conditional write.
type hookStore struct {
	*MemoryStore
	beforeSave func()
}

func (h *hookStore) ConditionalSave(ctx context.Context, r *Ride, expectedVersion int64, ev Event) (*Ride, error) {
	if f := h.beforeSave; f != nil {
		h.beforeSave = nil
		f()
	}
	return h.MemoryStore.ConditionalSave(ctx, r, expectedVersion, ev)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, types.ID) (*Ride, error) {
	return nil, errors.New("connection reset by peer")
}

func (brokenStore) ConditionalSave(context.Context, *Ride, int64, Event) (*Ride, error) {
	return nil, errors.New("connection reset by peer")
}

func (brokenStore) ListByParticipant(context.Context, types.ID, Role) ([]*Ride, error) {
	return nil, errors.New("connection reset by peer")
}

type fixedEstimator struct {
	est *types.RouteEstimate
	err error
}

func (f fixedEstimator) EstimateRoute(context.Context, types.Location, types.Location) (*types.RouteEstimate, error) {
	return f.est, f.err
}

func mustRequest(t *testing.T, svc *Service, actor Actor) *Ride {
	t.Helper()
	r, err := svc.Request(context.Background(), actor, RequestCommand{Pickup: pickupA, Dropoff: dropoffB})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return r
}

func TestServiceFullLifecycle(t *testing.T) {
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, Deps{Publisher: pub})
	ctx := context.Background()

	r := mustRequest(t, svc, riderA)
	if r.Status != StatusRequested || r.Version != 1 || r.ID == "" {
		t.Fatalf("unexpected requested ride: %+v", r)
	}

	r, err := svc.Accept(ctx, driverX, AcceptCommand{RideID: r.ID})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if r.Status != StatusAccepted || !r.IsDriver(driverX.ID) || r.Version != 2 {
		t.Fatalf("unexpected accepted ride: %+v", r)
	}

	if r, err = svc.Start(ctx, driverX, StartCommand{RideID: r.ID}); err != nil {
		t.Fatalf("start: %v", err)
	}
	fare := 22.0
	if r, err = svc.Complete(ctx, driverX, CompleteCommand{RideID: r.ID, Fare: &fare}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != StatusCompleted || r.Version != 4 || *r.Fare != 22 {
		t.Fatalf("unexpected completed ride: %+v", r)
	}

	events := store.Events(r.ID)
	want := []Transition{TransitionRequest, TransitionAccept, TransitionStart, TransitionComplete}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Transition != want[i] || ev.Version != int64(i+1) {
			t.Fatalf("event %d: %+v", i, ev)
		}
	}
	if events[0].FromStatus != "" || events[1].FromStatus != StatusRequested || events[1].ActorID != driverX.ID {
		t.Fatalf("unexpected event detail: %+v", events[:2])
	}

	published := pub.Events()
	if len(published) != 4 || published[3].Version != 4 || published[3].ToStatus != StatusCompleted {
		t.Fatalf("unexpected published events: %+v", published)
	}
}

func TestServiceConcurrentAcceptSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, Deps{})
	r := mustRequest(t, svc, riderA)

	const drivers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []types.ID
		losers  = map[Kind]int{}
	)
	start := make(chan struct{})
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := Actor{ID: types.ID(fmt.Sprintf("driver-%02d", i)), Role: RoleDriver}
			<-start
			_, err := svc.Accept(context.Background(), actor, AcceptCommand{RideID: r.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, actor.ID)
				return
			}
			losers[KindOf(err)]++
		}(i)
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	if losers[KindConflict] != drivers-1 {
		t.Fatalf("unexpected loser kinds: %v", losers)
	}
	got, err := store.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsDriver(winners[0]) || got.Version != 2 {
		t.Fatalf("store disagrees with winner: %+v", got)
	}
	if n := len(store.Events(r.ID)); n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
}

func TestServiceLateAcceptIsConflict(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, Deps{})
	ctx := context.Background()
	r := mustRequest(t, svc, riderA)

	if _, err := svc.Accept(ctx, driverX, AcceptCommand{RideID: r.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := svc.Accept(ctx, driverY, AcceptCommand{RideID: r.ID})
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict for late accept, got %v", err)
	}
	if _, err := svc.Accept(ctx, driverX, AcceptCommand{RideID: r.ID}); KindOf(err) != KindConflict {
		t.Fatalf("expected conflict when winner accepts again, got %v", err)
	}

	cancelled := mustRequest(t, svc, riderB)
	if _, err := svc.Cancel(ctx, riderB, CancelCommand{RideID: cancelled.ID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Accept(ctx, driverY, AcceptCommand{RideID: cancelled.ID}); KindOf(err) != KindConflict {
		t.Fatalf("expected conflict accepting a cancelled ride, got %v", err)
	}

	got, _ := store.Get(ctx, r.ID)
	if !got.IsDriver(driverX.ID) || got.Version != 2 {
		t.Fatalf("late accept changed the ride: %+v", got)
	}
}

func TestServiceLostRaceIsConflict(t *testing.T) {
	store := &hookStore{MemoryStore: NewMemoryStore()}
	svc := newTestService(store, Deps{})
	r := mustRequest(t, svc, riderA)

	store.beforeSave = func() {
		if _, err := svc.Accept(context.Background(), driverX, AcceptCommand{RideID: r.ID}); err != nil {
			t.Errorf("competing accept: %v", err)
		}
	}
	_, err := svc.Cancel(context.Background(), riderA, CancelCommand{RideID: r.ID})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := store.Get(context.Background(), r.ID)
	if got.Status != StatusAccepted || got.Version != 2 {
		t.Fatalf("losing write leaked: %+v", got)
	}
}

func TestServiceAuthorizationBeforeState(t *testing.T) {
	svc := newTestService(NewMemoryStore(), Deps{})
	ctx := context.Background()
	r := mustRequest(t, svc, riderA)
	if _, err := svc.Cancel(ctx, riderA, CancelCommand{RideID: r.ID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := svc.Accept(ctx, riderA, AcceptCommand{RideID: r.ID})
	if KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden for rider accept on cancelled ride, got %v", err)
	}
	_, err = svc.Cancel(ctx, riderB, CancelCommand{RideID: r.ID})
	if KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden for stranger cancel, got %v", err)
	}
	_, err = svc.Request(ctx, driverX, RequestCommand{})
	if KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden before validation for driver request, got %v", err)
	}
}

func TestServiceDoubleCancel(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, Deps{})
	ctx := context.Background()
	r := mustRequest(t, svc, riderA)

	if _, err := svc.Cancel(ctx, riderA, CancelCommand{RideID: r.ID, Reason: "plans changed"}); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	_, err := svc.Cancel(ctx, riderA, CancelCommand{RideID: r.ID})
	if KindOf(err) != KindInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	got, _ := store.Get(ctx, r.ID)
	if got.Version != 2 || got.CancelReason != "plans changed" {
		t.Fatalf("second cancel changed the ride: %+v", got)
	}
}

func TestServiceRejectionLeavesStoreUntouched(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, Deps{})
	ctx := context.Background()
	r := mustRequest(t, svc, riderA)
	if _, err := svc.Accept(ctx, driverX, AcceptCommand{RideID: r.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	before, _ := store.Get(ctx, r.ID)

	attempts := []func() error{
		func() error { _, err := svc.Accept(ctx, driverY, AcceptCommand{RideID: r.ID}); return err },
		func() error { _, err := svc.Start(ctx, driverY, StartCommand{RideID: r.ID}); return err },
		func() error { _, err := svc.Complete(ctx, driverX, CompleteCommand{RideID: r.ID}); return err },
		func() error { _, err := svc.Cancel(ctx, riderB, CancelCommand{RideID: r.ID}); return err },
	}
	for i, attempt := range attempts {
		if err := attempt(); err == nil {
			t.Fatalf("attempt %d unexpectedly succeeded", i)
		}
	}
	after, _ := store.Get(ctx, r.ID)
	if after.Version != before.Version || after.Status != before.Status || len(store.Events(r.ID)) != 2 {
		t.Fatalf("rejected attempts changed the ride: before=%+v after=%+v", before, after)
	}
}

func TestServiceNotFoundAndValidation(t *testing.T) {
	svc := newTestService(NewMemoryStore(), Deps{})
	ctx := context.Background()

	if _, err := svc.Accept(ctx, driverX, AcceptCommand{RideID: "missing"}); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Start(ctx, driverX, StartCommand{}); KindOf(err) != KindValidation {
		t.Fatalf("expected validation for empty id, got %v", err)
	}
	if _, err := svc.Request(ctx, riderA, RequestCommand{Pickup: pickupA}); KindOf(err) != KindValidation {
		t.Fatalf("expected validation for missing dropoff, got %v", err)
	}
}

func TestServiceStoreUnavailable(t *testing.T) {
	svc := newTestService(brokenStore{}, Deps{})
	ctx := context.Background()

	if _, err := svc.Accept(ctx, driverX, AcceptCommand{RideID: "ride-1"}); KindOf(err) != KindStoreUnavailable {
		t.Fatalf("expected store unavailable on read, got %v", err)
	}
	if _, err := svc.Request(ctx, riderA, RequestCommand{Pickup: pickupA, Dropoff: dropoffB}); KindOf(err) != KindStoreUnavailable {
		t.Fatalf("expected store unavailable on write, got %v", err)
	}
	if _, err := svc.History(ctx, riderA); KindOf(err) != KindStoreUnavailable {
		t.Fatalf("expected store unavailable on list, got %v", err)
	}
}

func TestServiceCancelledContext(t *testing.T) {
	svc := newTestService(NewMemoryStore(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Request(ctx, riderA, RequestCommand{Pickup: pickupA, Dropoff: dropoffB})
	if KindOf(err) != KindStoreUnavailable || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected store unavailable wrapping context.Canceled, got %v", err)
	}
}

func TestServicePublishFailureDoesNotFailTransition(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(NewMemoryStore(), Deps{Publisher: pub})

	before := testutil.ToFloat64(publishFailures)
	r := mustRequest(t, svc, riderA)
	if r.Status != StatusRequested {
		t.Fatalf("unexpected ride: %+v", r)
	}
	if got := testutil.ToFloat64(publishFailures) - before; got != 1 {
		t.Fatalf("expected one publish failure counted, got %v", got)
	}
}

func TestServiceRouteEstimate(t *testing.T) {
	est := &types.RouteEstimate{DistanceText: "3 km", DistanceM: 3000, Duration: 9 * time.Minute}
	svc := newTestService(NewMemoryStore(), Deps{Estimator: fixedEstimator{est: est}})
	r := mustRequest(t, svc, riderA)
	if r.Estimate == nil || r.Estimate.DistanceM != 3000 {
		t.Fatalf("expected estimate on ride, got %+v", r.Estimate)
	}

	svc = newTestService(NewMemoryStore(), Deps{Estimator: fixedEstimator{err: errors.New("quota")}})
	r = mustRequest(t, svc, riderA)
	if r.Estimate != nil {
		t.Fatalf("expected no estimate when the estimator fails")
	}
}

func TestServiceGet(t *testing.T) {
	svc := newTestService(NewMemoryStore(), Deps{})
	ctx := context.Background()
	r := mustRequest(t, svc, riderA)

	if _, err := svc.Get(ctx, riderA, r.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(ctx, driverY, r.ID); err != nil {
		t.Fatalf("driver get on open ride: %v", err)
	}
	if _, err := svc.Get(ctx, riderB, r.ID); KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Accept(ctx, driverX, AcceptCommand{RideID: r.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Get(ctx, driverY, r.ID); KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden once assigned, got %v", err)
	}
}

func TestServiceTransitionMetrics(t *testing.T) {
	svc := newTestService(NewMemoryStore(), Deps{})
	ok := transitionsTotal.WithLabelValues(string(TransitionRequest), "ok")
	denied := transitionsTotal.WithLabelValues(string(TransitionRequest), string(KindForbidden))
	okBefore, deniedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(denied)

	mustRequest(t, svc, riderA)
	_, _ = svc.Request(context.Background(), driverX, RequestCommand{Pickup: pickupA, Dropoff: dropoffB})

	if testutil.ToFloat64(ok)-okBefore != 1 || testutil.ToFloat64(denied)-deniedBefore != 1 {
		t.Fatalf("unexpected metric deltas")
	}
}

func TestServiceRejectLogMessages(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	svc := newTestService(NewMemoryStore(), Deps{Logger: logrus.NewEntry(log)})

	cases := []struct {
		err   error
		level logrus.Level
		msg   string
	}{
		{fmt.Errorf("%w: dial tcp", ErrStoreUnavailable), logrus.ErrorLevel, "ride store unavailable"},
		{errors.New("boom"), logrus.ErrorLevel, "unexpected ride error"},
		{forbidden(riderA, "accept"), logrus.WarnLevel, "ride operation denied"},
		{fmt.Errorf("%w: ride already accepted", ErrConflict), logrus.InfoLevel, "ride transition lost a concurrent race"},
	}
	for _, tc := range cases {
		hook.Reset()
		if got := svc.reject("accept", driverX, "ride-1", tc.err); got != tc.err {
			t.Fatalf("reject must return the error unchanged, got %v", got)
		}
		entry := hook.LastEntry()
		if entry == nil || entry.Level != tc.level || entry.Message != tc.msg {
			t.Fatalf("%v: expected %s %q, got %+v", tc.err, tc.level, tc.msg, entry)
		}
	}
}
