// models/models.go
package models

import (
	"strings"
	"time"
)

// RoomStatus is the lifecycle status of a room.
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusPlaying RoomStatus = "playing"
	StatusEnded   RoomStatus = "ended"
)

// WordSource selects where a session's words come from.
type WordSource string

const (
	SourceCategories WordSource = "categories"
	SourceCustom     WordSource = "custom"
)

// Player is a member of a room.
type Player struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	IsHost   bool   `json:"isHost"`
	Score    int    `json:"score"`
}

// Word is one quiz item. IsEnglish fixes which side is shown as the
// prompt; the other side is the accepted answer.
type Word struct {
	English   string `json:"english"`
	Turkish   string `json:"turkish"`
	IsEnglish bool   `json:"isEnglish"`
	Category  string `json:"category,omitempty"`
}

// Prompt returns the side of the word shown to players.
func (w Word) Prompt() string {
	if w.IsEnglish {
		return w.English
	}
	return w.Turkish
}

// WordPair is a custom vocabulary entry before a prompt side is chosen.
type WordPair struct {
	Turkish string `json:"turkish"`
	English string `json:"english"`
}

// Settings are editable by the host while the room is waiting and frozen
// once play starts.
type Settings struct {
	WordCount          int        `json:"wordCount"`
	TimePerWord        int        `json:"timePerWord"` // seconds
	WordSource         WordSource `json:"wordSource"`
	SelectedCategories []string   `json:"selectedCategories"`
	CustomWords        []WordPair `json:"customWords"`
}

// DefaultSettings mirrors what a freshly created room starts with.
func DefaultSettings() Settings {
	return Settings{
		WordCount:          15,
		TimePerWord:        15,
		WordSource:         SourceCategories,
		SelectedCategories: []string{"Beginner"},
		CustomWords:        []WordPair{},
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.SelectedCategories = append([]string(nil), s.SelectedCategories...)
	out.CustomWords = append([]WordPair(nil), s.CustomWords...)
	return out
}

// Equal reports whether two settings values are identical.
func (s Settings) Equal(o Settings) bool {
	if s.WordCount != o.WordCount || s.TimePerWord != o.TimePerWord || s.WordSource != o.WordSource {
		return false
	}
	if len(s.SelectedCategories) != len(o.SelectedCategories) || len(s.CustomWords) != len(o.CustomWords) {
		return false
	}
	for i := range s.SelectedCategories {
		if s.SelectedCategories[i] != o.SelectedCategories[i] {
			return false
		}
	}
	for i := range s.CustomWords {
		if s.CustomWords[i] != o.CustomWords[i] {
			return false
		}
	}
	return true
}

// Room is the durable shared record of one game session. Version is
// bumped by the store on every committed write.
type Room struct {
	ID            string     `json:"id"`
	Host          string     `json:"host"`
	HostNickname  string     `json:"hostNickname"`
	MaxPlayers    int        `json:"maxPlayers"`
	Players       []Player   `json:"players"`
	Status        RoomStatus `json:"status"`
	Settings      Settings   `json:"settings"`
	CurrentRound  int        `json:"currentRound"`
	Words         []Word     `json:"words,omitempty"`
	ShowScores    bool       `json:"showScores"`
	CreatedAt     time.Time  `json:"createdAt"`
	GameStartTime time.Time  `json:"gameStartTime,omitempty"`
	LastActivity  time.Time  `json:"lastActivity"`
	Version       int64      `json:"version"`

	// Kicked holds removed players out until they read their kick notice
	// or the hold lapses at the recorded time.
	Kicked map[string]time.Time `json:"kicked,omitempty"`
}

// Clone returns a deep copy so mutations never leak into shared snapshots.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	out.Players = append([]Player(nil), r.Players...)
	out.Words = append([]Word(nil), r.Words...)
	out.Settings = r.Settings.Clone()
	if r.Kicked != nil {
		out.Kicked = make(map[string]time.Time, len(r.Kicked))
		for id, until := range r.Kicked {
			out.Kicked[id] = until
		}
	}
	return &out
}

// PlayerIndex returns the position of playerID in join order, or -1.
func (r *Room) PlayerIndex(playerID string) int {
	for i, p := range r.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// Player returns the member with the given id.
func (r *Room) Player(playerID string) (Player, bool) {
	if i := r.PlayerIndex(playerID); i >= 0 {
		return r.Players[i], true
	}
	return Player{}, false
}

// HasPlayer reports membership.
func (r *Room) HasPlayer(playerID string) bool {
	return r.PlayerIndex(playerID) >= 0
}

// IsHost reports whether playerID currently holds host authority.
func (r *Room) IsHost(playerID string) bool {
	return playerID != "" && r.Host == playerID
}

// NicknameTaken reports a case-insensitive clash with any member other
// than playerID.
func (r *Room) NicknameTaken(nickname, playerID string) bool {
	for _, p := range r.Players {
		if p.ID != playerID && strings.EqualFold(p.Nickname, nickname) {
			return true
		}
	}
	return false
}

// CurrentWord returns the word of the current round while playing.
func (r *Room) CurrentWord() (Word, bool) {
	if r.Status != StatusPlaying || r.CurrentRound < 0 || r.CurrentRound >= len(r.Words) {
		return Word{}, false
	}
	return r.Words[r.CurrentRound], true
}

// IsLastRound reports whether round is the final word of the session.
func (r *Room) IsLastRound(round int) bool {
	return round == len(r.Words)-1
}

// AllRoundsCommitted reports whether every round's score has been
// written, which is the precondition for revealing final scores.
func (r *Room) AllRoundsCommitted() bool {
	return len(r.Words) > 0 && r.CurrentRound >= len(r.Words)
}

// RemovePlayer drops playerID and returns whether it was present.
func (r *Room) RemovePlayer(playerID string) bool {
	i := r.PlayerIndex(playerID)
	if i < 0 {
		return false
	}
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	return true
}

// HoldKick keeps playerID from joining again until until.
func (r *Room) HoldKick(playerID string, until time.Time) {
	if r.Kicked == nil {
		r.Kicked = make(map[string]time.Time)
	}
	r.Kicked[playerID] = until
}

// KickHeld reports whether playerID is still held out at now.
func (r *Room) KickHeld(playerID string, now time.Time) bool {
	until, ok := r.Kicked[playerID]
	return ok && now.Before(until)
}

// ReleaseKick lifts the hold on playerID and returns whether there was one.
func (r *Room) ReleaseKick(playerID string) bool {
	if _, ok := r.Kicked[playerID]; !ok {
		return false
	}
	delete(r.Kicked, playerID)
	if len(r.Kicked) == 0 {
		r.Kicked = nil
	}
	return true
}

// PruneKicks drops holds that lapsed before now.
func (r *Room) PruneKicks(now time.Time) {
	for id, until := range r.Kicked {
		if !now.Before(until) {
			delete(r.Kicked, id)
		}
	}
	if len(r.Kicked) == 0 {
		r.Kicked = nil
	}
}

// EnsureHost re-establishes the single-host invariant: room.Host must be
// a member and be the only player flagged IsHost. When the recorded host
// is gone, authority moves to the earliest remaining player.
func (r *Room) EnsureHost() {
	if len(r.Players) == 0 {
		return
	}
	if !r.HasPlayer(r.Host) {
		r.Host = r.Players[0].ID
	}
	for i := range r.Players {
		r.Players[i].IsHost = r.Players[i].ID == r.Host
		if r.Players[i].IsHost {
			r.HostNickname = r.Players[i].Nickname
		}
	}
}

// Answer is a ledger entry. It is written once per (room, round, player)
// and never modified.
type Answer struct {
	RoundIndex  int       `json:"roundIndex"`
	PlayerID    string    `json:"playerId"`
	Answer      string    `json:"answer"`
	ElapsedTime int       `json:"elapsedTime"` // seconds
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// PlayerResult is one row of a round's results.
type PlayerResult struct {
	PlayerID          string `json:"playerId"`
	Nickname          string `json:"nickname"`
	Answer            string `json:"answer"`
	Correct           bool   `json:"correct"`
	ElapsedTime       int    `json:"elapsedTime"`
	RoundScore        int    `json:"roundScore"`
	UpdatedTotalScore int    `json:"updatedTotalScore"`
}

// RoundResult is derived once a round closes; it is not persisted.
type RoundResult struct {
	RoomID        string         `json:"roomId"`
	Round         int            `json:"round"`
	Word          Word           `json:"word"`
	CorrectAnswer string         `json:"correctAnswer"`
	Players       []PlayerResult `json:"players"`
	LastRound     bool           `json:"lastRound"`
	ClosedAt      time.Time      `json:"closedAt"`
}

// KickSignal tells one player they were removed from a room.
type KickSignal struct {
	RoomID   string    `json:"roomId"`
	PlayerID string    `json:"playerId"`
	KickedBy string    `json:"kickedBy"`
	KickedAt time.Time `json:"kickedAt"`
}

// GameRecord is the archived outcome of a finished session.
type GameRecord struct {
	RoomID     string          `json:"room_id"`
	WordCount  int             `json:"word_count"`
	Players    []PlayerOutcome `json:"players"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// PlayerOutcome is a player's final standing in an archived game.
type PlayerOutcome struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// PlayerStats aggregates archived games for one player.
type PlayerStats struct {
	PlayerID    string `json:"player_id"`
	Nickname    string `json:"nickname"`
	GamesPlayed int    `json:"games_played"`
	Wins        int    `json:"wins"`
	TotalScore  int64  `json:"total_score"`
	BestScore   int    `json:"best_score"`
}
