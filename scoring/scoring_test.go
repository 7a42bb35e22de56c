package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wfunc/wordquiz/models"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name    string
		correct bool
		elapsed int
		max     int
		want    int
	}{
		{"fast correct", true, 3, 15, 220},
		{"wrong", false, 3, 15, 0},
		{"correct at buzzer", true, 15, 15, 100},
		{"late correct is floored", true, 20, 15, 100},
		{"instant correct", true, 0, 15, 250},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Score(c.correct, c.elapsed, c.max))
		})
	}
}

func TestIsCorrect(t *testing.T) {
	english := models.Word{English: "apple", Turkish: "elma", IsEnglish: true}
	turkish := models.Word{English: "apple", Turkish: "elma", IsEnglish: false}

	assert.True(t, IsCorrect("  ELMA ", english))
	assert.False(t, IsCorrect("apple", english))
	assert.True(t, IsCorrect("Apple", turkish))
	assert.False(t, IsCorrect("", english))
	assert.False(t, IsCorrect("   ", english))
}

func TestIsCorrect_UnicodeLowercase(t *testing.T) {
	w := models.Word{English: "teacher", Turkish: "öğretmen", IsEnglish: true}
	assert.True(t, IsCorrect("ÖĞRETMEN", w))
}

func TestRoundScores(t *testing.T) {
	got := RoundScores([]models.Answer{
		{PlayerID: "a", Correct: true, ElapsedTime: 5},
		{PlayerID: "b", Correct: false, ElapsedTime: 1},
	}, 10)

	assert.Equal(t, map[string]int{"a": 150, "b": 0}, got)
}
