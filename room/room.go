// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/wordquiz/events"
	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/monitor"
	"github.com/wfunc/wordquiz/policy"
	"github.com/wfunc/wordquiz/retry"
	"github.com/wfunc/wordquiz/store"
)

const (
	MinPlayers     = 2
	MinWordCount   = 1
	MaxWordCount   = 100
	MinTimePerWord = 5
	MaxTimePerWord = 120
)

// Coordinator 管理房间生命周期: creation, roster changes, host migration,
// settings and the status transitions of a session. Every mutation runs
// inside RoomStore.Update against the latest committed room, so intent
// decided from a stale snapshot is re-validated at write time.
type Coordinator struct {
	rooms   store.RoomStore
	ledger  store.Ledger
	kicks   KickNotifier
	builder WordBuilder

	policy    policy.NicknamePolicy
	publisher events.Publisher
	monitor   *monitor.Monitor
	retry     retry.Policy
	now       func() time.Time
	newCode   func() string

	codeAttempts    int
	maxPlayersLimit int
	kickHold        time.Duration

	hooksMu  sync.RWMutex
	finished []FinishedHook
}

type Option func(*Coordinator)

func WithPolicy(p policy.NicknamePolicy) Option { return func(c *Coordinator) { c.policy = p } }

func WithPublisher(p events.Publisher) Option { return func(c *Coordinator) { c.publisher = p } }

func WithMonitor(m *monitor.Monitor) Option { return func(c *Coordinator) { c.monitor = m } }

func WithRetry(p retry.Policy) Option { return func(c *Coordinator) { c.retry = p } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithCodeGenerator(gen func() string) Option { return func(c *Coordinator) { c.newCode = gen } }

// WithLimits sets how many codes CreateRoom tries and the largest room
// size a host may ask for.
func WithLimits(codeAttempts, maxPlayers int) Option {
	return func(c *Coordinator) {
		if codeAttempts > 0 {
			c.codeAttempts = codeAttempts
		}
		if maxPlayers >= MinPlayers {
			c.maxPlayersLimit = maxPlayers
		}
	}
}

// WithKickHold sets how long a kicked player stays out when they never
// read their kick notice.
func WithKickHold(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.kickHold = d
		}
	}
}

func NewCoordinator(rooms store.RoomStore, ledger store.Ledger, kicks KickNotifier, builder WordBuilder, opts ...Option) *Coordinator {
	c := &Coordinator{
		rooms:           rooms,
		ledger:          ledger,
		kicks:           kicks,
		builder:         builder,
		publisher:       events.NopPublisher{},
		retry:           retry.DefaultPolicy,
		now:             time.Now,
		newCode:         RandomCode,
		codeAttempts:    5,
		maxPlayersLimit: 10,
		kickHold:        10 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnFinished registers a hook for rooms whose final scores were revealed.
func (c *Coordinator) OnFinished(h FinishedHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.finished = append(c.finished, h)
}

func (c *Coordinator) fireFinished(ctx context.Context, r *models.Room) {
	c.hooksMu.RLock()
	hooks := append([]FinishedHook(nil), c.finished...)
	c.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, r.Clone())
	}
}

// update runs fn through the store with transient-failure retries and
// records the outcome under op.
func (c *Coordinator) update(ctx context.Context, op, roomID string, fn store.MutateFunc) (*models.Room, error) {
	r, err := retry.Value(ctx, c.retry, func() (*models.Room, error) {
		return c.rooms.Update(ctx, roomID, fn)
	}, c.monitor.StoreRetry)
	c.monitor.RoomOp(op, err)
	return r, err
}

// touch refreshes activity and the single host invariant; every committed
// mutation goes through it.
func (c *Coordinator) touch(r *models.Room) {
	r.EnsureHost()
	r.LastActivity = c.now().UTC()
	r.PruneKicks(r.LastActivity)
}

func (c *Coordinator) emit(ctx context.Context, t events.Type, roomID, playerID string, data map[string]any) {
	events.Emit(ctx, c.publisher, events.New(t, roomID, playerID, data))
}

func requireHost(r *models.Room, a Actor) error {
	if a.system {
		return nil
	}
	if !r.IsHost(a.playerID) {
		return gameerr.ErrNotHost
	}
	return nil
}

// GetRoom returns the latest committed room.
func (c *Coordinator) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return retry.Value(ctx, c.retry, func() (*models.Room, error) {
		return c.rooms.Get(ctx, roomID)
	}, c.monitor.StoreRetry)
}

// Subscribe streams committed snapshots of the room.
func (c *Coordinator) Subscribe(ctx context.Context, roomID string) (<-chan store.RoomEvent, error) {
	return c.rooms.Subscribe(ctx, roomID)
}

// CreateRoom allocates a fresh code and stores a waiting room whose only
// player is the host. A nil settings means the defaults.
func (c *Coordinator) CreateRoom(ctx context.Context, hostID, nickname string, maxPlayers int, settings *models.Settings) (*models.Room, error) {
	if hostID == "" {
		return nil, fmt.Errorf("%w: player id is required", gameerr.ErrInvalid)
	}
	if maxPlayers < MinPlayers || maxPlayers > c.maxPlayersLimit {
		return nil, fmt.Errorf("%w: maxPlayers must be between %d and %d", gameerr.ErrInvalid, MinPlayers, c.maxPlayersLimit)
	}
	nick, err := policy.Check(ctx, c.policy, nickname)
	if err != nil {
		return nil, err
	}

	s := models.DefaultSettings()
	if settings != nil {
		if err := ValidateSettings(*settings); err != nil {
			return nil, err
		}
		s = settings.Clone()
	}

	now := c.now().UTC()
	for attempt := 1; attempt <= c.codeAttempts; attempt++ {
		r := &models.Room{
			ID:           c.newCode(),
			Host:         hostID,
			HostNickname: nick,
			MaxPlayers:   maxPlayers,
			Players:      []models.Player{{ID: hostID, Nickname: nick, IsHost: true}},
			Status:       models.StatusWaiting,
			Settings:     s,
			CreatedAt:    now,
			LastActivity: now,
		}

		err = retry.Do(ctx, c.retry, func() error { return c.rooms.Create(ctx, r) }, c.monitor.StoreRetry)
		if errors.Is(err, gameerr.ErrCodeCollision) {
			logger.Log.Infof("room code %s already in use, retrying (%d/%d)", r.ID, attempt, c.codeAttempts)
			continue
		}
		c.monitor.RoomOp("create", err)
		if err != nil {
			return nil, err
		}

		logger.Log.Infof("room %s created by %s (max %d players)", r.ID, hostID, maxPlayers)
		c.emit(ctx, events.RoomCreated, r.ID, hostID, map[string]any{"maxPlayers": maxPlayers})
		return r.Clone(), nil
	}

	c.monitor.RoomOp("create", gameerr.ErrCodeCollision)
	return nil, gameerr.ErrCodeCollision
}

// JoinRoom adds playerID, or renames it in place when already present.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, playerID, nickname string) (*models.Room, error) {
	nick, err := policy.Check(ctx, c.policy, nickname)
	if err != nil {
		c.monitor.RoomOp("join", err)
		return nil, err
	}

	var joined bool
	r, err := c.update(ctx, "join", roomID, func(r *models.Room) error {
		joined = false
		if r.NicknameTaken(nick, playerID) {
			return gameerr.ErrNicknameTaken
		}

		if i := r.PlayerIndex(playerID); i >= 0 {
			if r.Players[i].Nickname == nick {
				return store.ErrNoChange
			}
			r.Players[i].Nickname = nick
			c.touch(r)
			return nil
		}

		if r.KickHeld(playerID, c.now().UTC()) {
			return gameerr.ErrKickPending
		}
		if r.Status == models.StatusPlaying {
			return gameerr.ErrWrongStatus
		}
		if len(r.Players) >= r.MaxPlayers {
			return gameerr.ErrRoomFull
		}
		r.Players = append(r.Players, models.Player{ID: playerID, Nickname: nick})
		joined = true
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		logger.Log.Infof("room %s: %s joined as %q", roomID, playerID, nick)
		c.emit(ctx, events.PlayerJoined, roomID, playerID, map[string]any{"nickname": nick})
	}
	return r, nil
}

// LeaveRoom removes playerID. The host's authority passes to the earliest
// remaining player; a sole player leaving deletes the room. Leaving a room
// one is not in changes nothing. A nil room means it was deleted.
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID, playerID string) (*models.Room, error) {
	var (
		left    bool
		oldHost string
	)
	r, err := c.update(ctx, "leave", roomID, func(r *models.Room) error {
		left, oldHost = false, r.Host
		if !r.HasPlayer(playerID) {
			return store.ErrNoChange
		}
		left = true
		if len(r.Players) == 1 {
			return store.ErrDeleteRoom
		}
		r.RemovePlayer(playerID)
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !left {
		return r, nil
	}

	c.emit(ctx, events.PlayerLeft, roomID, playerID, nil)
	if r == nil {
		logger.Log.Infof("room %s: last player %s left, room deleted", roomID, playerID)
		c.cleanup(ctx, roomID)
		return nil, nil
	}

	logger.Log.Infof("room %s: %s left", roomID, playerID)
	if oldHost == playerID {
		logger.Log.Infof("room %s: host moved from %s to %s", roomID, playerID, r.Host)
		c.emit(ctx, events.HostChanged, roomID, r.Host, map[string]any{"previous": playerID})
	}
	return r, nil
}

func (c *Coordinator) cleanup(ctx context.Context, roomID string) {
	if err := retry.Do(ctx, c.retry, func() error { return c.ledger.Clear(ctx, roomID) }); err != nil {
		logger.Log.Warnf("room %s: clearing answers after delete failed: %v", roomID, err)
	}
	c.emit(ctx, events.RoomDeleted, roomID, "", nil)
}

// KickPlayer removes targetID on the host's request. The removal and the
// hold that keeps the target out commit together; the kick notice is
// written once they have. Until the target reads it, JoinRoom refuses them.
func (c *Coordinator) KickPlayer(ctx context.Context, roomID, hostID, targetID string) (*models.Room, error) {
	at := c.now().UTC()
	r, err := c.update(ctx, "kick", roomID, func(r *models.Room) error {
		if err := checkKick(r, hostID, targetID); err != nil {
			return err
		}
		r.RemovePlayer(targetID)
		r.HoldKick(targetID, at.Add(c.kickHold))
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Infof("room %s: %s kicked by %s", roomID, targetID, hostID)
	c.emit(ctx, events.PlayerKicked, roomID, targetID, map[string]any{"kickedBy": hostID})

	err = retry.Do(ctx, c.retry, func() error {
		return c.kicks.NotifyKicked(ctx, roomID, targetID, hostID, at)
	}, c.monitor.StoreRetry)
	if err != nil {
		// No notice will ever be read, so the hold goes with it.
		logger.Log.Warnf("room %s: kick notice for %s not written: %v", roomID, targetID, err)
		released, rerr := c.ReleaseKick(ctx, roomID, targetID)
		if rerr != nil {
			logger.Log.Warnf("room %s: lifting kick hold for %s: %v", roomID, targetID, rerr)
			return r, nil
		}
		return released, nil
	}
	return r, nil
}

// ConsumeKick hands targetID the notice addressed to them and lifts the
// hold, after which they may join again. A nil signal means there was
// no notice.
func (c *Coordinator) ConsumeKick(ctx context.Context, roomID, playerID string) (*models.KickSignal, error) {
	sig, err := retry.Value(ctx, c.retry, func() (*models.KickSignal, error) {
		return c.kicks.Consume(ctx, roomID, playerID)
	}, c.monitor.StoreRetry)
	if err != nil || sig == nil {
		return nil, err
	}
	if _, err := c.ReleaseKick(ctx, roomID, playerID); err != nil {
		return sig, err
	}
	return sig, nil
}

// ReleaseKick lifts the hold on playerID once their notice was delivered
// some other way. A deleted room has nothing to release.
func (c *Coordinator) ReleaseKick(ctx context.Context, roomID, playerID string) (*models.Room, error) {
	r, err := c.update(ctx, "release_kick", roomID, func(r *models.Room) error {
		if !r.ReleaseKick(playerID) {
			return store.ErrNoChange
		}
		return nil
	})
	if errors.Is(err, gameerr.ErrRoomNotFound) {
		return nil, nil
	}
	return r, err
}

func checkKick(r *models.Room, hostID, targetID string) error {
	if err := requireHost(r, PlayerActor(hostID)); err != nil {
		return err
	}
	if targetID == hostID {
		return gameerr.ErrCannotKickSelf
	}
	if !r.HasPlayer(targetID) {
		return gameerr.ErrPlayerNotFound
	}
	return nil
}

// ValidateSettings checks ranges and that the chosen word source has
// enough content.
func ValidateSettings(s models.Settings) error {
	if s.WordCount < MinWordCount || s.WordCount > MaxWordCount {
		return fmt.Errorf("%w: wordCount must be between %d and %d", gameerr.ErrInvalidSettings, MinWordCount, MaxWordCount)
	}
	if s.TimePerWord < MinTimePerWord || s.TimePerWord > MaxTimePerWord {
		return fmt.Errorf("%w: timePerWord must be between %d and %d", gameerr.ErrInvalidSettings, MinTimePerWord, MaxTimePerWord)
	}
	switch s.WordSource {
	case models.SourceCategories:
		if len(s.SelectedCategories) == 0 {
			return fmt.Errorf("%w: select at least one category", gameerr.ErrInvalidSettings)
		}
	case models.SourceCustom:
		if len(s.CustomWords) < s.WordCount {
			return fmt.Errorf("%w: %d custom words given, %d needed", gameerr.ErrInvalidSettings, len(s.CustomWords), s.WordCount)
		}
	default:
		return fmt.Errorf("%w: unknown word source %q", gameerr.ErrInvalidSettings, s.WordSource)
	}
	return nil
}

// UpdateSettings replaces the settings while the room is waiting.
func (c *Coordinator) UpdateSettings(ctx context.Context, roomID, hostID string, s models.Settings) (*models.Room, error) {
	if err := ValidateSettings(s); err != nil {
		c.monitor.RoomOp("settings", err)
		return nil, err
	}

	r, err := c.update(ctx, "settings", roomID, func(r *models.Room) error {
		if err := requireHost(r, PlayerActor(hostID)); err != nil {
			return err
		}
		if r.Status != models.StatusWaiting {
			return gameerr.ErrWrongStatus
		}
		if r.Settings.Equal(s) {
			return store.ErrNoChange
		}
		r.Settings = s.Clone()
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, events.SettingsChanged, roomID, hostID, nil)
	return r, nil
}

// UpdateNickname renames a member, keeping nicknames unique per room.
func (c *Coordinator) UpdateNickname(ctx context.Context, roomID, playerID, nickname string) (*models.Room, error) {
	nick, err := policy.Check(ctx, c.policy, nickname)
	if err != nil {
		c.monitor.RoomOp("nickname", err)
		return nil, err
	}

	return c.update(ctx, "nickname", roomID, func(r *models.Room) error {
		i := r.PlayerIndex(playerID)
		if i < 0 {
			return gameerr.ErrPlayerNotFound
		}
		if r.NicknameTaken(nick, playerID) {
			return gameerr.ErrNicknameTaken
		}
		if r.Players[i].Nickname == nick {
			return store.ErrNoChange
		}
		r.Players[i].Nickname = nick
		c.touch(r)
		return nil
	})
}
