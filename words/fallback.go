package words

import (
	"math/rand"

	"github.com/wfunc/wordquiz/models"
)

var builtin = []models.Word{
	{English: "apple", Turkish: "elma", Category: "Beginner"},
	{English: "book", Turkish: "kitap", Category: "Beginner"},
	{English: "car", Turkish: "araba", Category: "Beginner"},
	{English: "house", Turkish: "ev", Category: "Beginner"},
	{English: "water", Turkish: "su", Category: "Beginner"},
	{English: "computer", Turkish: "bilgisayar", Category: "Elementary"},
	{English: "school", Turkish: "okul", Category: "Elementary"},
	{English: "friend", Turkish: "arkadaş", Category: "Elementary"},
	{English: "family", Turkish: "aile", Category: "Elementary"},
	{English: "teacher", Turkish: "öğretmen", Category: "Elementary"},
	{English: "university", Turkish: "üniversite", Category: "Pre-Intermediate"},
	{English: "experience", Turkish: "deneyim", Category: "Pre-Intermediate"},
	{English: "knowledge", Turkish: "bilgi", Category: "Pre-Intermediate"},
	{English: "opportunity", Turkish: "fırsat", Category: "Pre-Intermediate"},
	{English: "development", Turkish: "gelişim", Category: "Pre-Intermediate"},
	{English: "environment", Turkish: "çevre", Category: "Intermediate"},
	{English: "responsibility", Turkish: "sorumluluk", Category: "Intermediate"},
	{English: "achievement", Turkish: "başarı", Category: "Intermediate"},
	{English: "relationship", Turkish: "ilişki", Category: "Intermediate"},
	{English: "communication", Turkish: "iletişim", Category: "Intermediate"},
	{English: "sustainability", Turkish: "sürdürülebilirlik", Category: "YDT-YDS"},
	{English: "implementation", Turkish: "uygulama", Category: "YDT-YDS"},
	{English: "infrastructure", Turkish: "altyapı", Category: "YDT-YDS"},
	{English: "phenomenon", Turkish: "fenomen", Category: "YDT-YDS"},
	{English: "controversy", Turkish: "tartışma", Category: "YDT-YDS"},
}

// BuiltinSize is the number of entries in the built-in table.
func BuiltinSize() int { return len(builtin) }

// Builtin returns a copy of the built-in table, used to seed an empty
// word bank.
func Builtin() []models.Word { return append([]models.Word(nil), builtin...) }

// Fallback returns up to count shuffled words from the built-in table,
// each with a random prompt side. It is used whenever the supply cannot
// provide a list.
func Fallback(count int, rng *rand.Rand) []models.Word {
	out := append([]models.Word(nil), builtin...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if count < len(out) {
		out = out[:count]
	}
	for i := range out {
		out[i].IsEnglish = rng.Intn(2) == 0
	}
	return out
}
