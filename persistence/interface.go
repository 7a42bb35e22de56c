// persistence/interface.go
package persistence

import (
	"context"
	"fmt"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/models"
)

// Archive 对局归档接口. Finished games and per-player totals live here;
// live rooms never touch it.
type Archive interface {
	SaveGameRecord(ctx context.Context, record models.GameRecord) error
	PlayerStats(ctx context.Context, playerID string) (*models.PlayerStats, error)
	Leaderboard(ctx context.Context, limit int) ([]models.PlayerStats, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("%w: record not found", gameerr.ErrNotFound)
)
