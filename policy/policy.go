// Package policy decides whether a nickname may be used.
package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "github.com/lib/pq"

	"github.com/wfunc/wordquiz/config"
	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
)

const MaxNicknameLength = 20

// NicknamePolicy is consulted on join and on nickname change.
type NicknamePolicy interface {
	IsBlacklisted(ctx context.Context, nickname string) (bool, error)
}

// ValidateNickname trims nickname and checks its length.
func ValidateNickname(nickname string) (string, error) {
	n := strings.TrimSpace(nickname)
	if n == "" || utf8.RuneCountInString(n) > MaxNicknameLength {
		return "", gameerr.ErrInvalidNickname
	}
	return n, nil
}

// Check validates nickname and consults p. Lookup failures let the
// nickname through.
func Check(ctx context.Context, p NicknamePolicy, nickname string) (string, error) {
	n, err := ValidateNickname(nickname)
	if err != nil {
		return "", err
	}
	if p == nil {
		return n, nil
	}
	banned, err := p.IsBlacklisted(ctx, n)
	if err != nil {
		logger.Log.Warnf("nickname blacklist lookup failed for %q, allowing: %v", n, err)
		return n, nil
	}
	if banned {
		return "", gameerr.ErrNicknameRejected
	}
	return n, nil
}

// StaticBlacklist is an in-memory, case-insensitive word list.
type StaticBlacklist map[string]struct{}

func NewStaticBlacklist(words ...string) StaticBlacklist {
	b := make(StaticBlacklist, len(words))
	for _, w := range words {
		b[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return b
}

func (b StaticBlacklist) IsBlacklisted(_ context.Context, nickname string) (bool, error) {
	_, ok := b[strings.ToLower(strings.TrimSpace(nickname))]
	return ok, nil
}

// PostgresBlacklist looks nicknames up in the nickname_blacklist table.
type PostgresBlacklist struct {
	db *sql.DB
}

func NewPostgresBlacklist(db *sql.DB) *PostgresBlacklist {
	return &PostgresBlacklist{db: db}
}

// OpenPostgres opens and pings a lib/pq connection.
func OpenPostgres(cfg config.PostgresConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (b *PostgresBlacklist) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS nickname_blacklist (
			nickname VARCHAR(64) PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create nickname_blacklist table: %w", err)
	}
	return nil
}

func (b *PostgresBlacklist) IsBlacklisted(ctx context.Context, nickname string) (bool, error) {
	query := `SELECT 1 FROM nickname_blacklist WHERE nickname = $1`

	var one int
	err := b.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(nickname))).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *PostgresBlacklist) Add(ctx context.Context, nickname string) error {
	query := `INSERT INTO nickname_blacklist (nickname) VALUES ($1) ON CONFLICT DO NOTHING`
	_, err := b.db.ExecContext(ctx, query, strings.ToLower(strings.TrimSpace(nickname)))
	return err
}
