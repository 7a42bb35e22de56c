package round

import (
	"time"

	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/scoring"
)

// BuildResult derives the round result from the room and the round's
// ledger entries. Players are listed in join order; a player without an
// entry is shown with an empty, wrong answer. When the room has already
// moved past round, the committed score already contains the round.
func BuildResult(r *models.Room, round int, answers []models.Answer, closedAt time.Time) models.RoundResult {
	byPlayer := make(map[string]models.Answer, len(answers))
	for _, a := range answers {
		byPlayer[a.PlayerID] = a
	}

	var word models.Word
	if round >= 0 && round < len(r.Words) {
		word = r.Words[round]
	}
	maxTime := r.Settings.TimePerWord
	committed := r.CurrentRound > round

	res := models.RoundResult{
		RoomID:        r.ID,
		Round:         round,
		Word:          word,
		CorrectAnswer: scoring.ExpectedAnswer(word),
		LastRound:     r.IsLastRound(round),
		ClosedAt:      closedAt,
		Players:       make([]models.PlayerResult, 0, len(r.Players)),
	}
	for _, p := range r.Players {
		a, ok := byPlayer[p.ID]
		if !ok {
			a = models.Answer{PlayerID: p.ID, ElapsedTime: maxTime}
		}
		pts := scoring.Score(a.Correct, a.ElapsedTime, maxTime)
		total := p.Score + pts
		if committed {
			total = p.Score
		}
		res.Players = append(res.Players, models.PlayerResult{
			PlayerID:          p.ID,
			Nickname:          p.Nickname,
			Answer:            a.Answer,
			Correct:           a.Correct,
			ElapsedTime:       a.ElapsedTime,
			RoundScore:        pts,
			UpdatedTotalScore: total,
		})
	}
	return res
}

// memberScores computes round points for current members only.
func memberScores(r *models.Room, answers []models.Answer) map[string]int {
	members := make([]models.Answer, 0, len(answers))
	for _, a := range answers {
		if r.HasPlayer(a.PlayerID) {
			members = append(members, a)
		}
	}
	return scoring.RoundScores(members, r.Settings.TimePerWord)
}

// answeredMembers counts entries that belong to current members, so a
// player who left or was kicked no longer counts toward completion.
func answeredMembers(r *models.Room, answers []models.Answer) int {
	n := 0
	for _, a := range answers {
		if r.HasPlayer(a.PlayerID) {
			n++
		}
	}
	return n
}
