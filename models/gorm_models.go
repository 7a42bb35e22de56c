// models/gorm_models.go
package models

import (
	"time"
)

// GameRecordModel 已结束对局的归档
type GameRecordModel struct {
	ID         uint      `gorm:"primaryKey"`
	RoomID     string    `gorm:"index;not null"`
	WordCount  int       `gorm:"not null"`
	Players    string    `gorm:"type:jsonb;not null"` // []PlayerOutcome
	WinnerID   string    `gorm:"index"`
	StartedAt  time.Time
	FinishedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (GameRecordModel) TableName() string { return "game_records" }

// PlayerStatModel 玩家累计统计, one row per player id.
type PlayerStatModel struct {
	PlayerID    string `gorm:"primaryKey"`
	Nickname    string
	GamesPlayed int   `gorm:"default:0"`
	Wins        int   `gorm:"default:0"`
	TotalScore  int64 `gorm:"default:0"`
	BestScore   int   `gorm:"default:0"`
	UpdatedAt   time.Time
}

func (PlayerStatModel) TableName() string { return "player_stats" }

// WordModel 词库条目
type WordModel struct {
	ID       uint   `gorm:"primaryKey"`
	English  string `gorm:"not null;uniqueIndex:idx_word_pair"`
	Turkish  string `gorm:"not null;uniqueIndex:idx_word_pair"`
	Category string `gorm:"index;not null"`
}

func (WordModel) TableName() string { return "words" }
