// README: Ride store backed by Redis; WATCH/MULTI compare-and-swap with sorted-set participant indexes.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"rideshare/internal/types"
)

const (
	rideKeyPrefix   = "ride:%s"
	eventsKeyPrefix = "ride:%s:events"
	riderIndexKey   = "rides:rider:%s"
	driverIndexKey  = "rides:driver:%s"
)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	raw, err := s.redis.Get(ctx, rideKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRide(raw)
}

func (s *RedisStore) ConditionalSave(ctx context.Context, r *Ride, expectedVersion int64, ev Event) (*Ride, error) {
	saved := r.Clone()
	saved.Version = expectedVersion + 1
	ev.Version = saved.Version

	body, err := json.Marshal(saved)
	if err != nil {
		return nil, err
	}
	evBody, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	key := rideKey(saved.ID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			if expectedVersion != 0 {
				return ErrNotFound
			}
		case err != nil:
			return err
		default:
			if expectedVersion == 0 {
				return ErrVersionConflict
			}
			cur, err := decodeRide(raw)
			if err != nil {
				return err
			}
			if cur.Version != expectedVersion {
				return ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			pipe.RPush(ctx, eventsKey(saved.ID), evBody)
			score := float64(saved.RequestedAt.UnixMilli())
			pipe.ZAdd(ctx, fmt.Sprintf(riderIndexKey, saved.RiderID), redis.Z{Score: score, Member: string(saved.ID)})
			if saved.DriverID != nil {
				pipe.ZAdd(ctx, fmt.Sprintf(driverIndexKey, *saved.DriverID), redis.Z{Score: score, Member: string(saved.ID)})
			}
			return nil
		})
		return err
	}

	err = s.redis.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *RedisStore) ListByParticipant(ctx context.Context, actorID types.ID, role Role) ([]*Ride, error) {
	var index string
	switch role {
	case RoleRider:
		index = fmt.Sprintf(riderIndexKey, actorID)
	case RoleDriver:
		index = fmt.Sprintf(driverIndexKey, actorID)
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	ids, err := s.redis.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Ride, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rideKey(types.ID(id))
	}
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decodeRide([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out, nil
}

// Events returns the recorded transitions of a ride in commit order.
func (s *RedisStore) Events(ctx context.Context, id types.ID) ([]Event, error) {
	vals, err := s.redis.LRange(ctx, eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(vals))
	for _, v := range vals {
		var e Event
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeRide(raw []byte) (*Ride, error) {
	var r Ride
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode ride: %w", err)
	}
	return &r, nil
}

func rideKey(id types.ID) string {
	return fmt.Sprintf(rideKeyPrefix, string(id))
}

func eventsKey(id types.ID) string {
	return fmt.Sprintf(eventsKeyPrefix, string(id))
}
