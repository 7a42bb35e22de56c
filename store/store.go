// Package store is the persistence boundary for live game state: the room
// record, the per-round answer ledger, and kick signals. Two backends
// share the same semantics: MemoryStore for a single node and RedisStore
// for state shared between server instances.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/wordquiz/models"
)

var (
	// ErrNoChange returned from a MutateFunc commits nothing; Update then
	// returns the latest committed room.
	ErrNoChange = errors.New("store: no change")
	// ErrDeleteRoom returned from a MutateFunc deletes the room.
	ErrDeleteRoom = errors.New("store: delete room")
	// ErrContention is wrapped as transient when a write keeps losing
	// the optimistic race.
	ErrContention = errors.New("store: too much write contention")
)

// maxUpdateAttempts bounds the optimistic retry loop of Update.
const maxUpdateAttempts = 16

// MutateFunc edits a private copy of the latest committed room. It may be
// invoked several times when concurrent writers race, so it must be a pure
// function of its argument.
type MutateFunc func(room *models.Room) error

// RoomEvent is delivered to room subscribers. Room is nil when Deleted.
type RoomEvent struct {
	RoomID  string       `json:"roomId"`
	Room    *models.Room `json:"room,omitempty"`
	Deleted bool         `json:"deleted"`
}

// LedgerEvent is published whenever the ledger of a room changes.
type LedgerEvent struct {
	RoomID   string `json:"roomId"`
	Round    int    `json:"round"`
	PlayerID string `json:"playerId,omitempty"`
	Closed   bool   `json:"closed,omitempty"`
	Cleared  bool   `json:"cleared,omitempty"`
}

// RoomStore holds the authoritative room records.
type RoomStore interface {
	// Create fails with gameerr.ErrCodeCollision if the id is taken.
	Create(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, roomID string) (*models.Room, error)
	// Update applies fn to the latest version and commits only if no
	// other write landed in between, re-running fn otherwise. A nil room
	// with a nil error means fn deleted the room.
	Update(ctx context.Context, roomID string, fn MutateFunc) (*models.Room, error)
	Delete(ctx context.Context, roomID string) error
	// Subscribe sends the current snapshot first and then every committed
	// change until ctx is done. Slow readers only see the latest state.
	Subscribe(ctx context.Context, roomID string) (<-chan RoomEvent, error)
}

// Ledger stores answers. An entry for (room, round, player) is written at
// most once and never modified.
type Ledger interface {
	// Put inserts a unless an entry exists; inserted reports which.
	Put(ctx context.Context, roomID string, a models.Answer) (inserted bool, err error)
	Get(ctx context.Context, roomID string, round int, playerID string) (*models.Answer, error)
	Answers(ctx context.Context, roomID string, round int) ([]models.Answer, error)
	// MarkClosed records that a round closed; first is true for exactly
	// one caller per (room, round).
	MarkClosed(ctx context.Context, roomID string, round int) (first bool, err error)
	IsClosed(ctx context.Context, roomID string, round int) (bool, error)
	// Clear drops every answer and close marker of the room.
	Clear(ctx context.Context, roomID string) error
	Subscribe(ctx context.Context, roomID string) (<-chan LedgerEvent, error)
}

// KickBox holds one pending kick signal per (room, player).
type KickBox interface {
	Put(ctx context.Context, sig models.KickSignal, ttl time.Duration) error
	// Peek returns the pending signal or nil.
	Peek(ctx context.Context, roomID, playerID string) (*models.KickSignal, error)
	// Take returns and removes the pending signal, or nil.
	Take(ctx context.Context, roomID, playerID string) (*models.KickSignal, error)
	Subscribe(ctx context.Context, roomID, playerID string) (<-chan models.KickSignal, error)
}

// Store bundles the three boundaries so a backend can be passed around
// as one value.
type Store interface {
	RoomStore
	Ledger() Ledger
	Kicks() KickBox
	Close() error
}
