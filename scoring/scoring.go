// Package scoring turns a submitted answer into a correctness verdict and
// a round score.
package scoring

import (
	"strings"

	"github.com/wfunc/wordquiz/models"
)

const (
	// CorrectBase is awarded for any correct answer.
	CorrectBase = 100
	// SpeedBonusPerSecond is added per unused second of the round.
	SpeedBonusPerSecond = 10
)

// Score returns the points for one answer. Wrong answers score zero; a
// correct answer scores CorrectBase plus a bonus for every second left.
func Score(correct bool, elapsed, maxTime int) int {
	if !correct {
		return 0
	}
	left := maxTime - elapsed
	if left < 0 {
		left = 0
	}
	return CorrectBase + left*SpeedBonusPerSecond
}

// Normalize trims surrounding whitespace and lowercases.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ExpectedAnswer is the side of w the player has to type.
func ExpectedAnswer(w models.Word) string {
	if w.IsEnglish {
		return w.Turkish
	}
	return w.English
}

// IsCorrect compares answer with the expected side of w. Blank answers
// are never correct.
func IsCorrect(answer string, w models.Word) bool {
	got := Normalize(answer)
	if got == "" {
		return false
	}
	return got == Normalize(ExpectedAnswer(w))
}

// RoundScores maps each answering player to the points earned this round.
func RoundScores(answers []models.Answer, maxTime int) map[string]int {
	out := make(map[string]int, len(answers))
	for _, a := range answers {
		out[a.PlayerID] = Score(a.Correct, a.ElapsedTime, maxTime)
	}
	return out
}
