package words

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/models"
)

type MockSupply struct {
	mock.Mock
}

func (m *MockSupply) FetchWords(ctx context.Context, categories []string, count int) ([]models.Word, error) {
	args := m.Called(ctx, categories, count)
	list, _ := args.Get(0).([]models.Word)
	return list, args.Error(1)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) WordsByCategories(ctx context.Context, categories []string) ([]models.Word, error) {
	args := m.Called(ctx, categories)
	list, _ := args.Get(0).([]models.Word)
	return list, args.Error(1)
}

func TestFallback(t *testing.T) {
	got := Fallback(10, NewRand(1))
	assert.Len(t, got, 10)

	all := Fallback(100, NewRand(1))
	assert.Len(t, all, BuiltinSize())

	seen := map[string]bool{}
	for _, w := range all {
		assert.False(t, seen[w.English], "duplicate %s", w.English)
		seen[w.English] = true
		assert.True(t, IsCategory(w.Category))
	}
}

func TestBuilder_FallsBackOnSupplyError(t *testing.T) {
	supply := new(MockSupply)
	supply.On("FetchWords", mock.Anything, []string{"Beginner"}, 5).
		Return(nil, gameerr.SupplyUnavailable(errors.New("db down")))

	b := NewBuilder(supply, NewRand(7))
	list := b.Build(context.Background(), models.Settings{
		WordCount:          5,
		WordSource:         models.SourceCategories,
		SelectedCategories: []string{"Beginner"},
	})

	assert.Len(t, list, 5)
	supply.AssertExpectations(t)
}

func TestBuilder_FallsBackOnEmptyList(t *testing.T) {
	supply := new(MockSupply)
	supply.On("FetchWords", mock.Anything, mock.Anything, 3).Return([]models.Word{}, nil)

	list := NewBuilder(supply, NewRand(7)).Build(context.Background(), models.Settings{WordCount: 3})
	assert.Len(t, list, 3)
}

func TestBuilder_UsesSupply(t *testing.T) {
	want := []models.Word{{English: "cat", Turkish: "kedi", IsEnglish: true}}
	supply := new(MockSupply)
	supply.On("FetchWords", mock.Anything, mock.Anything, 1).Return(want, nil)

	list := NewBuilder(supply, NewRand(7)).Build(context.Background(), models.Settings{WordCount: 1})
	assert.Equal(t, want, list)
}

func TestBuilder_NilSupply(t *testing.T) {
	list := NewBuilder(nil, NewRand(3)).Build(context.Background(), models.DefaultSettings())
	assert.Len(t, list, 15)
}

func TestFetchCustomWords_FillsFromBuiltin(t *testing.T) {
	pairs := []models.WordPair{
		{Turkish: "kedi", English: "cat"},
		{Turkish: "elma", English: "apple"},
	}

	list := FetchCustomWords(pairs, 6, NewRand(11))
	require.Len(t, list, 6)

	seen := map[string]bool{}
	for _, w := range list {
		assert.False(t, seen[w.English], "duplicate %s", w.English)
		seen[w.English] = true
	}
	assert.True(t, seen["cat"])
	assert.True(t, seen["apple"])
}

func TestFetchCustomWords_Samples(t *testing.T) {
	pairs := ParseCustomWords("kedi:cat\nköpek:dog\nkuş:bird\nbalık:fish")
	list := FetchCustomWords(pairs, 2, NewRand(5))
	assert.Len(t, list, 2)
	for _, w := range list {
		assert.Equal(t, "Custom", w.Category)
	}
}

func TestParseCustomWords(t *testing.T) {
	got := ParseCustomWords("kedi:cat\n\nbroken line\n :dog\n  ev : house  \n")
	assert.Equal(t, []models.WordPair{
		{Turkish: "kedi", English: "cat"},
		{Turkish: "ev", English: "house"},
	}, got)
}

func TestCatalogSupply(t *testing.T) {
	catalog := new(MockCatalog)
	catalog.On("WordsByCategories", mock.Anything, []string{"Beginner"}).Return([]models.Word{
		{English: "a", Turkish: "x"}, {English: "b", Turkish: "y"}, {English: "c", Turkish: "z"},
	}, nil)

	got, err := NewCatalogSupply(catalog, NewRand(1)).FetchWords(context.Background(), []string{"Beginner"}, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCatalogSupply_EmptyIsUnavailable(t *testing.T) {
	catalog := new(MockCatalog)
	catalog.On("WordsByCategories", mock.Anything, mock.Anything).Return(nil, nil)

	_, err := NewCatalogSupply(catalog, NewRand(1)).FetchWords(context.Background(), []string{"YDT-YDS"}, 2)
	assert.ErrorIs(t, err, gameerr.ErrSupplyUnavailable)
}
