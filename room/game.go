package room

import (
	"context"
	"errors"

	"github.com/wfunc/wordquiz/events"
	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/retry"
	"github.com/wfunc/wordquiz/store"
)

// errSettingsMoved means the settings changed between building the word
// list and committing it; the list is rebuilt.
var errSettingsMoved = errors.New("settings changed while building words")

const buildAttempts = 3

func checkCanPlay(r *models.Room, hostID string, from ...models.RoomStatus) error {
	if err := requireHost(r, PlayerActor(hostID)); err != nil {
		return err
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return gameerr.ErrWrongStatus
	}
	if len(r.Players) < MinPlayers {
		return gameerr.ErrNotEnoughPlayers
	}
	return nil
}

// begin builds a word list for the latest settings and commits a fresh
// session onto the room. reset zeroes every score (restart).
func (c *Coordinator) begin(ctx context.Context, op, roomID, hostID string, reset bool, from ...models.RoomStatus) (*models.Room, error) {
	for attempt := 0; attempt < buildAttempts; attempt++ {
		current, err := c.GetRoom(ctx, roomID)
		if err != nil {
			c.monitor.RoomOp(op, err)
			return nil, err
		}
		if err := checkCanPlay(current, hostID, from...); err != nil {
			c.monitor.RoomOp(op, err)
			return nil, err
		}

		list := c.builder.Build(ctx, current.Settings)
		if len(list) == 0 {
			c.monitor.RoomOp(op, gameerr.ErrSupplyUnavailable)
			return nil, gameerr.ErrSupplyUnavailable
		}

		if err := retry.Do(ctx, c.retry, func() error { return c.ledger.Clear(ctx, roomID) }, c.monitor.StoreRetry); err != nil {
			c.monitor.RoomOp(op, err)
			return nil, err
		}

		r, err := c.update(ctx, op, roomID, func(r *models.Room) error {
			if err := checkCanPlay(r, hostID, from...); err != nil {
				return err
			}
			if !r.Settings.Equal(current.Settings) {
				return errSettingsMoved
			}
			r.Words = append([]models.Word(nil), list...)
			r.Status = models.StatusPlaying
			r.CurrentRound = 0
			r.ShowScores = false
			r.GameStartTime = c.now().UTC()
			if reset {
				for i := range r.Players {
					r.Players[i].Score = 0
				}
			}
			c.touch(r)
			return nil
		})
		if errors.Is(err, errSettingsMoved) {
			continue
		}
		return r, err
	}
	return nil, gameerr.Transient(errSettingsMoved)
}

// StartGame moves a waiting room with at least two players into play.
func (c *Coordinator) StartGame(ctx context.Context, roomID, hostID string) (*models.Room, error) {
	r, err := c.begin(ctx, "start", roomID, hostID, false, models.StatusWaiting)
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("room %s: game started with %d words and %d players", roomID, len(r.Words), len(r.Players))
	c.emit(ctx, events.GameStarted, roomID, hostID, map[string]any{"words": len(r.Words), "players": len(r.Players)})
	return r, nil
}

// RestartGame draws a fresh word list with the same settings, zeroes the
// scores and clears every answer.
func (c *Coordinator) RestartGame(ctx context.Context, roomID, hostID string) (*models.Room, error) {
	r, err := c.begin(ctx, "restart", roomID, hostID, true, models.StatusPlaying, models.StatusEnded)
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("room %s: game restarted", roomID)
	c.emit(ctx, events.GameRestarted, roomID, hostID, nil)
	return r, nil
}

// ReturnToLobby sends a playing or ended room back to waiting so the host
// can change settings. Scores are zeroed for the next session.
func (c *Coordinator) ReturnToLobby(ctx context.Context, roomID, hostID string) (*models.Room, error) {
	r, err := c.update(ctx, "lobby", roomID, func(r *models.Room) error {
		if err := requireHost(r, PlayerActor(hostID)); err != nil {
			return err
		}
		if r.Status == models.StatusWaiting {
			return store.ErrNoChange
		}
		r.Status = models.StatusWaiting
		r.Words = nil
		r.CurrentRound = 0
		r.ShowScores = false
		for i := range r.Players {
			r.Players[i].Score = 0
		}
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, events.ReturnedToLobby, roomID, hostID, nil)
	return r, nil
}

// CommitRound adds roundScores onto the committed scores and moves to the
// next round in one write. It is a no-op once the room has moved past
// round, so repeated calls never count a round twice.
func (c *Coordinator) CommitRound(ctx context.Context, roomID string, actor Actor, round int, roundScores map[string]int) (*models.Room, error) {
	var committed bool
	r, err := c.update(ctx, "commit_round", roomID, func(r *models.Room) error {
		committed = false
		if err := requireHost(r, actor); err != nil {
			return err
		}
		if r.Status != models.StatusPlaying || r.CurrentRound != round {
			return store.ErrNoChange
		}
		for i := range r.Players {
			r.Players[i].Score += roundScores[r.Players[i].ID]
		}
		r.CurrentRound++
		committed = true
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if committed {
		c.emit(ctx, events.RoundAdvanced, roomID, actor.ID(), map[string]any{"round": round, "next": r.CurrentRound})
	}
	return r, nil
}

// FinishGame ends a room whose every round has been committed and reveals
// the final scores.
func (c *Coordinator) FinishGame(ctx context.Context, roomID string, actor Actor) (*models.Room, error) {
	var finished bool
	r, err := c.update(ctx, "finish", roomID, func(r *models.Room) error {
		finished = false
		if err := requireHost(r, actor); err != nil {
			return err
		}
		if r.Status == models.StatusEnded && r.ShowScores {
			return store.ErrNoChange
		}
		if r.Status != models.StatusPlaying {
			return gameerr.ErrWrongStatus
		}
		if !r.AllRoundsCommitted() {
			return gameerr.ErrRoundOpen
		}
		r.Status = models.StatusEnded
		r.ShowScores = true
		finished = true
		c.touch(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if finished {
		logger.Log.Infof("room %s: game finished", roomID)
		c.emit(ctx, events.GameFinished, roomID, actor.ID(), map[string]any{"players": len(r.Players)})
		c.fireFinished(ctx, r)
	}
	return r, nil
}
