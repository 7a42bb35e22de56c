package room

import (
	"context"
	"time"

	"github.com/wfunc/wordquiz/models"
)

// WordBuilder produces the word list for a session. It must not fail;
// content problems are absorbed by falling back to built-in words.
type WordBuilder interface {
	Build(ctx context.Context, settings models.Settings) []models.Word
}

// KickNotifier is the presence channel as seen by the coordinator.
type KickNotifier interface {
	NotifyKicked(ctx context.Context, roomID, targetID, kickedBy string, at time.Time) error
	Consume(ctx context.Context, roomID, playerID string) (*models.KickSignal, error)
}

// FinishedHook is called once for every room that reaches the ended state
// with scores revealed.
type FinishedHook func(ctx context.Context, room *models.Room)
