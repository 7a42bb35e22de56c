// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/wordquiz/config"
	"github.com/wfunc/wordquiz/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(cfg config.PostgresConfig) (*GormPostgreSQL, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
	return Open(postgres.Open(dsn))
}

// Open wraps any gorm dialector, migrates the schema and tunes the pool.
func Open(dialector gorm.Dialector) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return &GormPostgreSQL{db: db}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GameRecordModel{},
		&models.PlayerStatModel{},
		&models.WordModel{},
	)
}

// SaveGameRecord 保存游戏记录 and folds every outcome into the players'
// running totals, in one transaction.
func (p *GormPostgreSQL) SaveGameRecord(ctx context.Context, record models.GameRecord) error {
	players, err := json.Marshal(record.Players)
	if err != nil {
		return fmt.Errorf("encode players: %w", err)
	}

	row := models.GameRecordModel{
		RoomID:     record.RoomID,
		WordCount:  record.WordCount,
		Players:    string(players),
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
	}
	for _, o := range record.Players {
		if o.Rank == 1 {
			row.WinnerID = o.PlayerID
			break
		}
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, o := range record.Players {
			if err := upsertStats(tx, o, record.FinishedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertStats(tx *gorm.DB, o models.PlayerOutcome, at time.Time) error {
	wins := 0
	if o.Rank == 1 {
		wins = 1
	}
	stat := models.PlayerStatModel{
		PlayerID:    o.PlayerID,
		Nickname:    o.Nickname,
		GamesPlayed: 1,
		Wins:        wins,
		TotalScore:  int64(o.Score),
		BestScore:   o.Score,
		UpdatedAt:   at,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"nickname":     gorm.Expr("EXCLUDED.nickname"),
			"games_played": gorm.Expr("player_stats.games_played + 1"),
			"wins":         gorm.Expr("player_stats.wins + EXCLUDED.wins"),
			"total_score":  gorm.Expr("player_stats.total_score + EXCLUDED.total_score"),
			"best_score":   gorm.Expr("GREATEST(player_stats.best_score, EXCLUDED.best_score)"),
			"updated_at":   gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(&stat).Error
}

// PlayerStats 玩家统计
func (p *GormPostgreSQL) PlayerStats(ctx context.Context, playerID string) (*models.PlayerStats, error) {
	var row models.PlayerStatModel
	if err := p.db.WithContext(ctx).Where("player_id = ?", playerID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	stats := toStats(row)
	return &stats, nil
}

// Leaderboard returns the best players by total score.
func (p *GormPostgreSQL) Leaderboard(ctx context.Context, limit int) ([]models.PlayerStats, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []models.PlayerStatModel
	err := p.db.WithContext(ctx).
		Order("total_score DESC").
		Order("wins DESC").
		Order("player_id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.PlayerStats, 0, len(rows))
	for _, r := range rows {
		out = append(out, toStats(r))
	}
	return out, nil
}

func toStats(r models.PlayerStatModel) models.PlayerStats {
	return models.PlayerStats{
		PlayerID:    r.PlayerID,
		Nickname:    r.Nickname,
		GamesPlayed: r.GamesPlayed,
		Wins:        r.Wins,
		TotalScore:  r.TotalScore,
		BestScore:   r.BestScore,
	}
}

// WordsByCategories loads the word bank entries of the given categories.
func (p *GormPostgreSQL) WordsByCategories(ctx context.Context, categories []string) ([]models.Word, error) {
	var rows []models.WordModel
	if err := p.db.WithContext(ctx).Where("category IN ?", categories).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Word, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Word{English: r.English, Turkish: r.Turkish, Category: r.Category})
	}
	return out, nil
}

// SeedWords inserts words that are not in the bank yet.
func (p *GormPostgreSQL) SeedWords(ctx context.Context, words []models.Word) (int64, error) {
	if len(words) == 0 {
		return 0, nil
	}
	rows := make([]models.WordModel, 0, len(words))
	for _, w := range words {
		rows = append(rows, models.WordModel{English: w.English, Turkish: w.Turkish, Category: w.Category})
	}
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 100)
	return res.RowsAffected, res.Error
}

// Ping checks that the database answers.
func (p *GormPostgreSQL) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Archive = (*GormPostgreSQL)(nil)
