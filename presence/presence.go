// Package presence delivers kick notices to the removed player. A notice
// is addressed to exactly one player, is consumed at most once, and
// clears itself after a TTL if the player never comes back to read it.
package presence

import (
	"context"
	"time"

	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/store"
)

type Channel struct {
	box store.KickBox
	ttl time.Duration
}

func NewChannel(box store.KickBox, ttl time.Duration) *Channel {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Channel{box: box, ttl: ttl}
}

// NotifyKicked writes the signal for targetID.
func (c *Channel) NotifyKicked(ctx context.Context, roomID, targetID, kickedBy string, at time.Time) error {
	sig := models.KickSignal{RoomID: roomID, PlayerID: targetID, KickedBy: kickedBy, KickedAt: at}
	if err := c.box.Put(ctx, sig, c.ttl); err != nil {
		return err
	}
	logger.Log.Infof("room %s: kick notice for %s from %s", roomID, targetID, kickedBy)
	return nil
}

// Pending reports whether an unconsumed notice exists.
func (c *Channel) Pending(ctx context.Context, roomID, playerID string) (bool, error) {
	sig, err := c.box.Peek(ctx, roomID, playerID)
	return sig != nil, err
}

// Consume returns the notice and deletes it; nil when there is none.
func (c *Channel) Consume(ctx context.Context, roomID, playerID string) (*models.KickSignal, error) {
	return c.box.Take(ctx, roomID, playerID)
}

// Watch streams notices addressed to playerID. Each notice is consumed
// as it is delivered, so a second watcher never sees the same one.
func (c *Channel) Watch(ctx context.Context, roomID, playerID string) (<-chan models.KickSignal, error) {
	raw, err := c.box.Subscribe(ctx, roomID, playerID)
	if err != nil {
		return nil, err
	}

	out := make(chan models.KickSignal, 1)
	go func() {
		defer close(out)
		for range raw {
			sig, err := c.box.Take(ctx, roomID, playerID)
			if err != nil {
				logger.Log.Warnf("room %s: consume kick notice for %s: %v", roomID, playerID, err)
				continue
			}
			if sig == nil {
				continue
			}
			select {
			case out <- *sig:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
