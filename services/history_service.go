// services/history_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/persistence"
	"github.com/wfunc/wordquiz/room"
)

// ErrArchiveDisabled is returned by lookups when no archive is configured.
var ErrArchiveDisabled = fmt.Errorf("%w: game history is disabled", gameerr.ErrNotFound)

// HistoryService 对局历史: archives finished games and serves player
// statistics. A nil archive turns recording into a no-op.
type HistoryService struct {
	archive persistence.Archive
	now     func() time.Time
}

func NewHistoryService(archive persistence.Archive) *HistoryService {
	return &HistoryService{archive: archive, now: time.Now}
}

// Rank orders players by score, keeping join order between equal
// scores. Equal scores share a rank (1, 1, 3).
func Rank(players []models.Player) []models.PlayerOutcome {
	sorted := append([]models.Player(nil), players...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	out := make([]models.PlayerOutcome, len(sorted))
	for i, p := range sorted {
		rank := i + 1
		if i > 0 && p.Score == sorted[i-1].Score {
			rank = out[i-1].Rank
		}
		out[i] = models.PlayerOutcome{PlayerID: p.ID, Nickname: p.Nickname, Score: p.Score, Rank: rank}
	}
	return out
}

// RecordFinishedGame ranks the final scores of r and archives them.
func (s *HistoryService) RecordFinishedGame(ctx context.Context, r *models.Room) error {
	if s.archive == nil || r == nil {
		return nil
	}
	record := models.GameRecord{
		RoomID:     r.ID,
		WordCount:  len(r.Words),
		Players:    Rank(r.Players),
		StartedAt:  r.GameStartTime,
		FinishedAt: s.now().UTC(),
	}
	if err := s.archive.SaveGameRecord(ctx, record); err != nil {
		return fmt.Errorf("archive game of room %s: %w", r.ID, err)
	}
	logger.Log.Infof("room %s: archived game with %d players", r.ID, len(record.Players))
	return nil
}

// Hook adapts RecordFinishedGame to the coordinator's finished hook.
// Archiving is best effort; failures are logged.
func (s *HistoryService) Hook() room.FinishedHook {
	return func(ctx context.Context, r *models.Room) {
		if err := s.RecordFinishedGame(ctx, r); err != nil {
			logger.Log.Warnf("%v", err)
		}
	}
}

// PlayerStats returns the archived totals of playerID.
func (s *HistoryService) PlayerStats(ctx context.Context, playerID string) (*models.PlayerStats, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.PlayerStats(ctx, playerID)
}

// Leaderboard returns the top players by total score.
func (s *HistoryService) Leaderboard(ctx context.Context, limit int) ([]models.PlayerStats, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.Leaderboard(ctx, limit)
}
