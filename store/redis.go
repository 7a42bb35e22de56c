package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/wordquiz/config"
	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
)

const (
	roomTTL   = 24 * time.Hour
	ledgerTTL = 24 * time.Hour
)

func roomKey(id string) string { return "quiz:room:" + id }
func roomChannel(id string) string { return "quiz:room:" + id + ":events" }
func answersKey(id string, r int) string { return fmt.Sprintf("quiz:%s:answers:%d", id, r) }
func closedKey(id string, r int) string { return fmt.Sprintf("quiz:%s:closed:%d", id, r) }
func roundsKey(id string) string { return "quiz:" + id + ":rounds" }
func ledgerChannel(id string) string { return "quiz:" + id + ":ledger" }
func kickRedisKey(room, p string) string { return "quiz:kick:" + room + ":" + p }
func kickChannel(room, p string) string { return "quiz:kick:" + room + ":" + p + ":events" }

// RedisStore shares room state between server instances. Room writes use
// WATCH/MULTI so a write only commits against the version it read.
type RedisStore struct {
	client *redis.Client
	ledger *redisLedger
	kicks  *redisKickBox
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		ledger: &redisLedger{client: client},
		kicks:  &redisKickBox{client: client},
	}
}

func (s *RedisStore) Ledger() Ledger { return s.ledger }
func (s *RedisStore) Kicks() KickBox { return s.kicks }

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Ping is used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, room *models.Room) error {
	stored := room.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, roomKey(room.ID), data, roomTTL).Result()
	if err != nil {
		return gameerr.Transient(err)
	}
	if !ok {
		return gameerr.ErrCodeCollision
	}
	room.Version = stored.Version
	s.publish(ctx, roomChannel(room.ID), RoomEvent{RoomID: room.ID, Room: stored})
	return nil
}

func (s *RedisStore) Get(ctx context.Context, roomID string) (*models.Room, error) {
	return getRoom(ctx, s.client, roomID)
}

type roomGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRoom(ctx context.Context, c roomGetter, roomID string) (*models.Room, error) {
	data, err := c.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gameerr.ErrRoomNotFound
	}
	if err != nil {
		return nil, gameerr.Transient(err)
	}
	var r models.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &r, nil
}

func (s *RedisStore) Update(ctx context.Context, roomID string, fn MutateFunc) (*models.Room, error) {
	key := roomKey(roomID)

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		var (
			result  *models.Room
			changed bool
			deleted bool
			fnErr   error
		)

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := getRoom(ctx, tx, roomID)
			if err != nil {
				fnErr = err
				return err
			}

			next := current.Clone()
			switch ferr := fn(next); {
			case errors.Is(ferr, ErrNoChange):
				result = current
				return nil
			case errors.Is(ferr, ErrDeleteRoom):
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				deleted = err == nil
				return err
			case ferr != nil:
				fnErr = ferr
				return ferr
			}

			next.ID = roomID
			next.Version = current.Version + 1
			data, err := json.Marshal(next)
			if err != nil {
				fnErr = err
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, roomTTL)
				return nil
			})
			if err == nil {
				result, changed = next, true
			}
			return err
		}, key)

		switch {
		case fnErr != nil:
			return nil, fnErr
		case errors.Is(err, redis.TxFailedErr):
			logger.Log.Debugf("room %s: write raced, retrying (attempt %d)", roomID, attempt)
			continue
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, gameerr.Transient(err)
		case deleted:
			s.publish(ctx, roomChannel(roomID), RoomEvent{RoomID: roomID, Deleted: true})
			return nil, nil
		}

		if changed {
			s.publish(ctx, roomChannel(roomID), RoomEvent{RoomID: roomID, Room: result})
		}
		return result.Clone(), nil
	}
	return nil, gameerr.Transient(ErrContention)
}

func (s *RedisStore) Delete(ctx context.Context, roomID string) error {
	n, err := s.client.Del(ctx, roomKey(roomID)).Result()
	if err != nil {
		return gameerr.Transient(err)
	}
	if n > 0 {
		s.publish(ctx, roomChannel(roomID), RoomEvent{RoomID: roomID, Deleted: true})
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, roomID string) (<-chan RoomEvent, error) {
	ps, err := subscribe(ctx, s.client, roomChannel(roomID))
	if err != nil {
		return nil, err
	}

	room, err := s.Get(ctx, roomID)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan RoomEvent, subscriberBuffer)
	out <- RoomEvent{RoomID: roomID, Room: room}
	go forward(ctx, ps, out)
	return out, nil
}

func (s *RedisStore) publish(ctx context.Context, channel string, v any) {
	publish(ctx, s.client, channel, v)
}

type redisLedger struct {
	client *redis.Client
}

func (l *redisLedger) Put(ctx context.Context, roomID string, a models.Answer) (bool, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return false, err
	}

	key := answersKey(roomID, a.RoundIndex)
	inserted, err := l.client.HSetNX(ctx, key, a.PlayerID, data).Result()
	if err != nil {
		return false, gameerr.Transient(err)
	}
	if !inserted {
		return false, nil
	}

	pipe := l.client.Pipeline()
	pipe.Expire(ctx, key, ledgerTTL)
	pipe.SAdd(ctx, roundsKey(roomID), a.RoundIndex)
	pipe.Expire(ctx, roundsKey(roomID), ledgerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.Warnf("room %s: failed to set ledger ttl: %v", roomID, err)
	}

	publish(ctx, l.client, ledgerChannel(roomID), LedgerEvent{RoomID: roomID, Round: a.RoundIndex, PlayerID: a.PlayerID})
	return true, nil
}

func (l *redisLedger) Get(ctx context.Context, roomID string, round int, playerID string) (*models.Answer, error) {
	data, err := l.client.HGet(ctx, answersKey(roomID, round), playerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, gameerr.Transient(err)
	}
	var a models.Answer
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	return &a, nil
}

func (l *redisLedger) Answers(ctx context.Context, roomID string, round int) ([]models.Answer, error) {
	entries, err := l.client.HGetAll(ctx, answersKey(roomID, round)).Result()
	if err != nil {
		return nil, gameerr.Transient(err)
	}

	out := make([]models.Answer, 0, len(entries))
	for playerID, raw := range entries {
		var a models.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			logger.Log.Warnf("room %s round %d: skipping undecodable answer of %s: %v", roomID, round, playerID, err)
			continue
		}
		out = append(out, a)
	}
	sortAnswers(out)
	return out, nil
}

func (l *redisLedger) MarkClosed(ctx context.Context, roomID string, round int) (bool, error) {
	first, err := l.client.SetNX(ctx, closedKey(roomID, round), time.Now().UTC().Format(time.RFC3339Nano), ledgerTTL).Result()
	if err != nil {
		return false, gameerr.Transient(err)
	}
	if first {
		l.client.SAdd(ctx, roundsKey(roomID), round)
		publish(ctx, l.client, ledgerChannel(roomID), LedgerEvent{RoomID: roomID, Round: round, Closed: true})
	}
	return first, nil
}

func (l *redisLedger) IsClosed(ctx context.Context, roomID string, round int) (bool, error) {
	n, err := l.client.Exists(ctx, closedKey(roomID, round)).Result()
	if err != nil {
		return false, gameerr.Transient(err)
	}
	return n > 0, nil
}

func (l *redisLedger) Clear(ctx context.Context, roomID string) error {
	members, err := l.client.SMembers(ctx, roundsKey(roomID)).Result()
	if err != nil {
		return gameerr.Transient(err)
	}

	rounds := make([]int, 0, len(members))
	for _, m := range members {
		if r, err := strconv.Atoi(m); err == nil {
			rounds = append(rounds, r)
		}
	}
	sort.Ints(rounds)

	keys := []string{roundsKey(roomID)}
	for _, r := range rounds {
		keys = append(keys, answersKey(roomID, r), closedKey(roomID, r))
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return gameerr.Transient(err)
	}
	publish(ctx, l.client, ledgerChannel(roomID), LedgerEvent{RoomID: roomID, Round: -1, Cleared: true})
	return nil
}

func (l *redisLedger) Subscribe(ctx context.Context, roomID string) (<-chan LedgerEvent, error) {
	ps, err := subscribe(ctx, l.client, ledgerChannel(roomID))
	if err != nil {
		return nil, err
	}
	out := make(chan LedgerEvent, subscriberBuffer)
	go forward(ctx, ps, out)
	return out, nil
}

type redisKickBox struct {
	client *redis.Client
}

func (k *redisKickBox) Put(ctx context.Context, sig models.KickSignal, ttl time.Duration) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	if err := k.client.Set(ctx, kickRedisKey(sig.RoomID, sig.PlayerID), data, ttl).Err(); err != nil {
		return gameerr.Transient(err)
	}
	publish(ctx, k.client, kickChannel(sig.RoomID, sig.PlayerID), sig)
	return nil
}

func decodeKick(data []byte, err error) (*models.KickSignal, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, gameerr.Transient(err)
	}
	var sig models.KickSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("decode kick signal: %w", err)
	}
	return &sig, nil
}

func (k *redisKickBox) Peek(ctx context.Context, roomID, playerID string) (*models.KickSignal, error) {
	return decodeKick(k.client.Get(ctx, kickRedisKey(roomID, playerID)).Bytes())
}

func (k *redisKickBox) Take(ctx context.Context, roomID, playerID string) (*models.KickSignal, error) {
	return decodeKick(k.client.GetDel(ctx, kickRedisKey(roomID, playerID)).Bytes())
}

func (k *redisKickBox) Subscribe(ctx context.Context, roomID, playerID string) (<-chan models.KickSignal, error) {
	ps, err := subscribe(ctx, k.client, kickChannel(roomID, playerID))
	if err != nil {
		return nil, err
	}

	out := make(chan models.KickSignal, subscriberBuffer)
	pending, err := k.Peek(ctx, roomID, playerID)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	if pending != nil {
		out <- *pending
	}
	go forward(ctx, ps, out)
	return out, nil
}

func subscribe(ctx context.Context, client *redis.Client, channel string) (*redis.PubSub, error) {
	ps := client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so nothing published after
	// this call returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, gameerr.Transient(err)
	}
	return ps, nil
}

func publish(ctx context.Context, client *redis.Client, channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("encode %s event: %v", channel, err)
		return
	}
	if err := client.Publish(ctx, channel, data).Err(); err != nil {
		logger.Log.Warnf("publish to %s failed: %v", channel, err)
	}
}

// forward decodes pub/sub payloads into out until ctx ends, then closes
// the subscription and out.
func forward[T any](ctx context.Context, ps *redis.PubSub, out chan T) {
	defer close(out)
	defer ps.Close()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var v T
			if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
				logger.Log.Warnf("decode %s event: %v", msg.Channel, err)
				continue
			}
			offer(out, v)
		}
	}
}
