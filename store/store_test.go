package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/models"
)

type backend struct {
	name  string
	store Store
}

func backends(t *testing.T) []backend {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return []backend{
		{"memory", NewMemoryStore()},
		{"redis", NewRedisStoreFromClient(client)},
	}
}

func newRoom(id string) *models.Room {
	return &models.Room{
		ID:         id,
		Host:       "p1",
		MaxPlayers: 4,
		Players:    []models.Player{{ID: "p1", Nickname: "Ada", IsHost: true}},
		Status:     models.StatusWaiting,
		Settings:   models.DefaultSettings(),
	}
}

func TestRoomStore_CreateAndGet(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			room := newRoom("ABCDEF")

			require.NoError(t, b.store.Create(ctx, room))
			assert.Equal(t, int64(1), room.Version)

			err := b.store.Create(ctx, newRoom("ABCDEF"))
			assert.ErrorIs(t, err, gameerr.ErrCodeCollision)

			got, err := b.store.Get(ctx, "ABCDEF")
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Players[0].Nickname)

			_, err = b.store.Get(ctx, "NOPE")
			assert.ErrorIs(t, err, gameerr.ErrRoomNotFound)
		})
	}
}

func TestRoomStore_Update(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.store.Create(ctx, newRoom("ROOMAA")))

			updated, err := b.store.Update(ctx, "ROOMAA", func(r *models.Room) error {
				r.Players = append(r.Players, models.Player{ID: "p2", Nickname: "Bob"})
				return nil
			})
			require.NoError(t, err)
			assert.Len(t, updated.Players, 2)
			assert.Equal(t, int64(2), updated.Version)

			same, err := b.store.Update(ctx, "ROOMAA", func(r *models.Room) error {
				r.Players = nil
				return ErrNoChange
			})
			require.NoError(t, err)
			assert.Len(t, same.Players, 2)
			assert.Equal(t, int64(2), same.Version)

			boom := errors.New("boom")
			_, err = b.store.Update(ctx, "ROOMAA", func(r *models.Room) error { return boom })
			assert.ErrorIs(t, err, boom)

			_, err = b.store.Update(ctx, "MISSIN", func(r *models.Room) error { return nil })
			assert.ErrorIs(t, err, gameerr.ErrRoomNotFound)

			gone, err := b.store.Update(ctx, "ROOMAA", func(r *models.Room) error { return ErrDeleteRoom })
			require.NoError(t, err)
			assert.Nil(t, gone)

			_, err = b.store.Get(ctx, "ROOMAA")
			assert.ErrorIs(t, err, gameerr.ErrRoomNotFound)
		})
	}
}

func TestRoomStore_ConcurrentUpdatesAllLand(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.store.Create(ctx, newRoom("RACERS")))

			const writers = 8
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := b.store.Update(ctx, "RACERS", func(r *models.Room) error {
						r.Players = append(r.Players, models.Player{ID: fmt.Sprintf("w%d", i)})
						return nil
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			got, err := b.store.Get(ctx, "RACERS")
			require.NoError(t, err)
			assert.Len(t, got.Players, writers+1)
			assert.Equal(t, int64(writers+1), got.Version)
		})
	}
}

func TestRoomStore_Subscribe(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			require.NoError(t, b.store.Create(ctx, newRoom("SUBSCR")))

			events, err := b.store.Subscribe(ctx, "SUBSCR")
			require.NoError(t, err)

			first := receive(t, events)
			require.NotNil(t, first.Room)
			assert.Equal(t, int64(1), first.Room.Version)

			_, err = b.store.Update(ctx, "SUBSCR", func(r *models.Room) error {
				r.Status = models.StatusPlaying
				return nil
			})
			require.NoError(t, err)

			second := receive(t, events)
			require.NotNil(t, second.Room)
			assert.Equal(t, models.StatusPlaying, second.Room.Status)

			require.NoError(t, b.store.Delete(ctx, "SUBSCR"))
			assert.True(t, receive(t, events).Deleted)
		})
	}
}

func TestLedger_WriteOnce(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := b.store.Ledger()

			first := models.Answer{RoundIndex: 0, PlayerID: "p1", Answer: "elma", Correct: true, ElapsedTime: 3}
			ok, err := ledger.Put(ctx, "LEDGER", first)
			require.NoError(t, err)
			assert.True(t, ok)

			second := first
			second.Answer = "armut"
			ok, err = ledger.Put(ctx, "LEDGER", second)
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := ledger.Get(ctx, "LEDGER", 0, "p1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "elma", got.Answer)

			missing, err := ledger.Get(ctx, "LEDGER", 1, "p1")
			require.NoError(t, err)
			assert.Nil(t, missing)

			_, err = ledger.Put(ctx, "LEDGER", models.Answer{RoundIndex: 0, PlayerID: "p2"})
			require.NoError(t, err)

			list, err := ledger.Answers(ctx, "LEDGER", 0)
			require.NoError(t, err)
			assert.Len(t, list, 2)
		})
	}
}

func TestLedger_MarkClosedOnce(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := b.store.Ledger()

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				wins  int
				tries = 10
			)
			for i := 0; i < tries; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					first, err := ledger.MarkClosed(ctx, "CLOSED", 2)
					assert.NoError(t, err)
					if first {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)

			closed, err := ledger.IsClosed(ctx, "CLOSED", 2)
			require.NoError(t, err)
			assert.True(t, closed)
		})
	}
}

func TestLedger_Clear(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := b.store.Ledger()

			_, err := ledger.Put(ctx, "CLEARS", models.Answer{RoundIndex: 0, PlayerID: "p1"})
			require.NoError(t, err)
			_, err = ledger.Put(ctx, "CLEARS", models.Answer{RoundIndex: 3, PlayerID: "p1"})
			require.NoError(t, err)
			_, err = ledger.MarkClosed(ctx, "CLEARS", 0)
			require.NoError(t, err)
			_, err = ledger.Put(ctx, "OTHERS", models.Answer{RoundIndex: 0, PlayerID: "p1"})
			require.NoError(t, err)

			require.NoError(t, ledger.Clear(ctx, "CLEARS"))

			for _, round := range []int{0, 3} {
				list, err := ledger.Answers(ctx, "CLEARS", round)
				require.NoError(t, err)
				assert.Empty(t, list)
			}
			closed, err := ledger.IsClosed(ctx, "CLEARS", 0)
			require.NoError(t, err)
			assert.False(t, closed)

			other, err := ledger.Answers(ctx, "OTHERS", 0)
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestLedger_Subscribe(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			events, err := b.store.Ledger().Subscribe(ctx, "WATCHS")
			require.NoError(t, err)

			_, err = b.store.Ledger().Put(ctx, "WATCHS", models.Answer{RoundIndex: 1, PlayerID: "p9"})
			require.NoError(t, err)

			ev := receive(t, events)
			assert.Equal(t, 1, ev.Round)
			assert.Equal(t, "p9", ev.PlayerID)
		})
	}
}

func TestKickBox_TakeConsumesOnce(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			kicks := b.store.Kicks()
			sig := models.KickSignal{RoomID: "KICKED", PlayerID: "p2", KickedBy: "p1", KickedAt: time.Now().UTC()}

			require.NoError(t, kicks.Put(ctx, sig, time.Minute))

			peeked, err := kicks.Peek(ctx, "KICKED", "p2")
			require.NoError(t, err)
			require.NotNil(t, peeked)
			assert.Equal(t, "p1", peeked.KickedBy)

			taken, err := kicks.Take(ctx, "KICKED", "p2")
			require.NoError(t, err)
			require.NotNil(t, taken)

			again, err := kicks.Take(ctx, "KICKED", "p2")
			require.NoError(t, err)
			assert.Nil(t, again)
		})
	}
}

func TestKickBox_Subscribe(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			kicks := b.store.Kicks()

			ch, err := kicks.Subscribe(ctx, "KICKSU", "p3")
			require.NoError(t, err)

			require.NoError(t, kicks.Put(ctx, models.KickSignal{RoomID: "KICKSU", PlayerID: "p3", KickedBy: "p1"}, time.Minute))
			got := receive(t, ch)
			assert.Equal(t, "p3", got.PlayerID)
		})
	}
}

func TestMemoryKickBox_Expires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.kicks.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, s.Kicks().Put(ctx, models.KickSignal{RoomID: "R", PlayerID: "p"}, time.Second))

	now = now.Add(2 * time.Second)
	sig, err := s.Kicks().Peek(ctx, "R", "p")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestRedisKickBox_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStoreFromClient(client)

	ctx := context.Background()
	require.NoError(t, s.Kicks().Put(ctx, models.KickSignal{RoomID: "R", PlayerID: "p"}, time.Second))

	mr.FastForward(2 * time.Second)
	sig, err := s.Kicks().Peek(ctx, "R", "p")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestMemoryStore_UnsubscribeOnCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Create(ctx, newRoom("CANCEL")))

	events, err := s.Subscribe(ctx, "CANCEL")
	require.NoError(t, err)
	assert.Equal(t, 1, s.roomEv.count("CANCEL"))

	cancel()
	assert.Eventually(t, func() bool { return s.roomEv.count("CANCEL") == 0 }, time.Second, 5*time.Millisecond)

	for range events {
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}
