// Package words produces the vocabulary list for a game session.
package words

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
)

// Categories are the difficulty bands players can pick from.
var Categories = []string{"Beginner", "Elementary", "Pre-Intermediate", "Intermediate", "YDT-YDS"}

// IsCategory reports whether name is a known band.
func IsCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Supply fetches vocabulary for the selected categories. Implementations
// may return fewer than count words, or fail with gameerr.ErrSupplyUnavailable.
type Supply interface {
	FetchWords(ctx context.Context, categories []string, count int) ([]models.Word, error)
}

// Catalog is a backing word store, queried by category.
type Catalog interface {
	WordsByCategories(ctx context.Context, categories []string) ([]models.Word, error)
}

// CatalogSupply serves words out of a Catalog.
type CatalogSupply struct {
	catalog Catalog
	rng     *rand.Rand
}

func NewCatalogSupply(catalog Catalog, rng *rand.Rand) *CatalogSupply {
	return &CatalogSupply{catalog: catalog, rng: rng}
}

func (s *CatalogSupply) FetchWords(ctx context.Context, categories []string, count int) ([]models.Word, error) {
	all, err := s.catalog.WordsByCategories(ctx, categories)
	if err != nil {
		return nil, gameerr.SupplyUnavailable(err)
	}
	if len(all) == 0 {
		return nil, gameerr.SupplyUnavailable(fmt.Errorf("no words for %v", categories))
	}

	s.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if len(all) > count {
		all = all[:count]
	}
	for i := range all {
		all[i].IsEnglish = s.rng.Intn(2) == 0
	}
	return all, nil
}

// Builder assembles the word list for StartGame. Build never fails: any
// supply error is logged and replaced by the built-in table.
type Builder struct {
	supply Supply
	rng    *rand.Rand
}

// NewBuilder returns a Builder. supply may be nil, in which case category
// sessions always use the built-in table.
func NewBuilder(supply Supply, rng *rand.Rand) *Builder {
	return &Builder{supply: supply, rng: rng}
}

func (b *Builder) Build(ctx context.Context, s models.Settings) []models.Word {
	count := s.WordCount
	if count <= 0 {
		count = models.DefaultSettings().WordCount
	}

	if s.WordSource == models.SourceCustom {
		return FetchCustomWords(s.CustomWords, count, b.rng)
	}

	if b.supply != nil {
		list, err := b.supply.FetchWords(ctx, s.SelectedCategories, count)
		if err == nil && len(list) > 0 {
			return list
		}
		if err != nil {
			logger.Log.Warnf("word supply failed for %v, using built-in words: %v", s.SelectedCategories, err)
		}
	}
	return Fallback(count, b.rng)
}

// FetchCustomWords samples count entries from the host's pairs, giving
// each a random prompt side. Missing entries are filled from the
// built-in table without repeating a word already chosen.
func FetchCustomWords(pairs []models.WordPair, count int, rng *rand.Rand) []models.Word {
	out := make([]models.Word, 0, count)
	seen := make(map[string]bool, count)
	for _, p := range pairs {
		key := strings.ToLower(p.English)
		if seen[key] || strings.TrimSpace(p.English) == "" || strings.TrimSpace(p.Turkish) == "" {
			continue
		}
		seen[key] = true
		out = append(out, models.Word{English: p.English, Turkish: p.Turkish, Category: "Custom"})
	}

	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > count {
		out = out[:count]
	}
	for i := range out {
		out[i].IsEnglish = rng.Intn(2) == 0
	}

	if len(out) < count {
		for _, w := range Fallback(len(builtin), rng) {
			if len(out) == count {
				break
			}
			if seen[strings.ToLower(w.English)] {
				continue
			}
			seen[strings.ToLower(w.English)] = true
			out = append(out, w)
		}
	}
	return out
}

// ParseCustomWords reads one "turkish:english" pair per line. Blank and
// malformed lines are skipped.
func ParseCustomWords(text string) []models.WordPair {
	var out []models.WordPair
	for _, line := range strings.Split(text, "\n") {
		tr, en, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		tr, en = strings.TrimSpace(tr), strings.TrimSpace(en)
		if tr == "" || en == "" {
			continue
		}
		out = append(out, models.WordPair{Turkish: tr, English: en})
	}
	return out
}
