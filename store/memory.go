package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/models"
)

type roundKey struct {
	room  string
	round int
}

// MemoryStore keeps everything in process. Writes are serialized by a
// single mutex, so Update never has to retry.
type MemoryStore struct {
	mu     sync.Mutex
	rooms  map[string]*models.Room
	roomEv *hub[RoomEvent]

	ledger *memoryLedger
	kicks  *memoryKickBox
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:  make(map[string]*models.Room),
		roomEv: newHub[RoomEvent](),
		ledger: &memoryLedger{
			answers: make(map[roundKey]map[string]models.Answer),
			closed:  make(map[roundKey]bool),
			events:  newHub[LedgerEvent](),
		},
		kicks: &memoryKickBox{
			signals: make(map[string]memoryKick),
			events:  newHub[models.KickSignal](),
			now:     time.Now,
		},
	}
}

func (s *MemoryStore) Ledger() Ledger { return s.ledger }
func (s *MemoryStore) Kicks() KickBox { return s.kicks }
func (s *MemoryStore) Close() error   { return nil }

func (s *MemoryStore) Create(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.ID]; ok {
		return gameerr.ErrCodeCollision
	}
	stored := room.Clone()
	stored.Version = 1
	s.rooms[room.ID] = stored
	room.Version = stored.Version
	s.roomEv.publish(room.ID, RoomEvent{RoomID: room.ID, Room: stored.Clone()})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, roomID string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, gameerr.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, roomID string, fn MutateFunc) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rooms[roomID]
	if !ok {
		return nil, gameerr.ErrRoomNotFound
	}

	next := current.Clone()
	switch err := fn(next); {
	case errors.Is(err, ErrNoChange):
		return current.Clone(), nil
	case errors.Is(err, ErrDeleteRoom):
		delete(s.rooms, roomID)
		s.roomEv.publish(roomID, RoomEvent{RoomID: roomID, Deleted: true})
		return nil, nil
	case err != nil:
		return nil, err
	}

	next.ID = roomID
	next.Version = current.Version + 1
	s.rooms[roomID] = next
	s.roomEv.publish(roomID, RoomEvent{RoomID: roomID, Room: next.Clone()})
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil
	}
	delete(s.rooms, roomID)
	s.roomEv.publish(roomID, RoomEvent{RoomID: roomID, Deleted: true})
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, roomID string) (<-chan RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, gameerr.ErrRoomNotFound
	}
	return s.roomEv.subscribe(ctx, roomID, RoomEvent{RoomID: roomID, Room: r.Clone()}), nil
}

type memoryLedger struct {
	mu      sync.Mutex
	answers map[roundKey]map[string]models.Answer
	closed  map[roundKey]bool
	events  *hub[LedgerEvent]
}

func (l *memoryLedger) Put(ctx context.Context, roomID string, a models.Answer) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := roundKey{roomID, a.RoundIndex}
	if l.answers[k] == nil {
		l.answers[k] = make(map[string]models.Answer)
	}
	if _, exists := l.answers[k][a.PlayerID]; exists {
		return false, nil
	}
	l.answers[k][a.PlayerID] = a
	l.events.publish(roomID, LedgerEvent{RoomID: roomID, Round: a.RoundIndex, PlayerID: a.PlayerID})
	return true, nil
}

func (l *memoryLedger) Get(ctx context.Context, roomID string, round int, playerID string) (*models.Answer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.answers[roundKey{roomID, round}][playerID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (l *memoryLedger) Answers(ctx context.Context, roomID string, round int) ([]models.Answer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.answers[roundKey{roomID, round}]
	out := make([]models.Answer, 0, len(entries))
	for _, a := range entries {
		out = append(out, a)
	}
	sortAnswers(out)
	return out, nil
}

func (l *memoryLedger) MarkClosed(ctx context.Context, roomID string, round int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := roundKey{roomID, round}
	if l.closed[k] {
		return false, nil
	}
	l.closed[k] = true
	l.events.publish(roomID, LedgerEvent{RoomID: roomID, Round: round, Closed: true})
	return true, nil
}

func (l *memoryLedger) IsClosed(ctx context.Context, roomID string, round int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed[roundKey{roomID, round}], nil
}

func (l *memoryLedger) Clear(ctx context.Context, roomID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k := range l.answers {
		if k.room == roomID {
			delete(l.answers, k)
		}
	}
	for k := range l.closed {
		if k.room == roomID {
			delete(l.closed, k)
		}
	}
	l.events.publish(roomID, LedgerEvent{RoomID: roomID, Round: -1, Cleared: true})
	return nil
}

func (l *memoryLedger) Subscribe(ctx context.Context, roomID string) (<-chan LedgerEvent, error) {
	return l.events.subscribe(ctx, roomID), nil
}

type memoryKick struct {
	sig     models.KickSignal
	expires time.Time
}

type memoryKickBox struct {
	mu      sync.Mutex
	signals map[string]memoryKick
	events  *hub[models.KickSignal]
	now     func() time.Time
}

func kickKey(roomID, playerID string) string { return roomID + ":" + playerID }

func (k *memoryKickBox) Put(ctx context.Context, sig models.KickSignal, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := kickKey(sig.RoomID, sig.PlayerID)
	k.signals[key] = memoryKick{sig: sig, expires: k.now().Add(ttl)}
	k.events.publish(key, sig)
	return nil
}

func (k *memoryKickBox) live(key string) (*models.KickSignal, bool) {
	entry, ok := k.signals[key]
	if !ok {
		return nil, false
	}
	if !k.now().Before(entry.expires) {
		delete(k.signals, key)
		return nil, false
	}
	sig := entry.sig
	return &sig, true
}

func (k *memoryKickBox) Peek(ctx context.Context, roomID, playerID string) (*models.KickSignal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sig, _ := k.live(kickKey(roomID, playerID))
	return sig, nil
}

func (k *memoryKickBox) Take(ctx context.Context, roomID, playerID string) (*models.KickSignal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := kickKey(roomID, playerID)
	sig, ok := k.live(key)
	if ok {
		delete(k.signals, key)
	}
	return sig, nil
}

func (k *memoryKickBox) Subscribe(ctx context.Context, roomID, playerID string) (<-chan models.KickSignal, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := kickKey(roomID, playerID)
	if sig, ok := k.live(key); ok {
		return k.events.subscribe(ctx, key, *sig), nil
	}
	return k.events.subscribe(ctx, key), nil
}

func sortAnswers(list []models.Answer) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].SubmittedAt.Before(list[j].SubmittedAt)
		}
		return list[i].PlayerID < list[j].PlayerID
	})
}
