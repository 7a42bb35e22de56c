package round

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/wordquiz/events"
	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/presence"
	"github.com/wfunc/wordquiz/retry"
	"github.com/wfunc/wordquiz/room"
	"github.com/wfunc/wordquiz/state"
	"github.com/wfunc/wordquiz/store"
	"github.com/wfunc/wordquiz/timer"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixedWords []models.Word

func (w fixedWords) Build(_ context.Context, s models.Settings) []models.Word {
	n := s.WordCount
	if n > len(w) {
		n = len(w)
	}
	return append([]models.Word(nil), w[:n]...)
}

var quizWords = fixedWords{
	{English: "apple", Turkish: "elma", IsEnglish: false},
	{English: "book", Turkish: "kitap", IsEnglish: true},
	{English: "cat", Turkish: "kedi", IsEnglish: false},
}

type fixture struct {
	store    *store.MemoryStore
	coord    *room.Coordinator
	sched    *Scheduler
	recorder *events.Recorder

	mu      sync.Mutex
	results []models.RoundResult
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	f := &fixture{store: st, recorder: events.NewRecorder(0)}

	noRetry := retry.Policy{MaxAttempts: 1}
	f.coord = room.NewCoordinator(st, st.Ledger(), presence.NewChannel(st.Kicks(), time.Minute), quizWords,
		room.WithRetry(noRetry), room.WithPublisher(f.recorder))

	timers := timer.NewManager(time.Millisecond)
	t.Cleanup(timers.Stop)

	base := []Option{WithTimings(time.Hour, 0), WithRetry(noRetry), WithPublisher(f.recorder)}
	f.sched = NewScheduler(f.coord, st.Ledger(), timers, append(base, opts...)...)
	f.sched.OnResult(func(res models.RoundResult) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.results = append(f.results, res)
	})
	t.Cleanup(f.sched.Stop)
	return f
}

// game creates a room hosted by "A" with the given players joined and
// starts it with wordCount words.
func (f *fixture) game(t *testing.T, wordCount int, players ...string) *models.Room {
	t.Helper()
	ctx := context.Background()
	settings := models.DefaultSettings()
	settings.WordCount = wordCount
	settings.TimePerWord = 10

	r, err := f.coord.CreateRoom(ctx, "A", "Alice", 4, &settings)
	require.NoError(t, err)
	for _, p := range players {
		_, err = f.coord.JoinRoom(ctx, r.ID, p, "nick-"+p)
		require.NoError(t, err)
	}
	require.NoError(t, f.sched.Track(ctx, r.ID))
	r, err = f.coord.StartGame(ctx, r.ID, "A")
	require.NoError(t, err)
	return r
}

func (f *fixture) current(t *testing.T, roomID string) *models.Room {
	t.Helper()
	r, err := f.coord.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	return r
}

func (f *fixture) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func (f *fixture) closedEvents() int {
	n := 0
	for _, typ := range f.recorder.Types() {
		if typ == events.RoundClosed {
			n++
		}
	}
	return n
}

func TestSubmitAnswer_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 2, "B")

	_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "stranger", "apple", 1)
	assert.ErrorIs(t, err, gameerr.ErrPlayerNotFound)

	_, err = f.sched.SubmitAnswer(ctx, r.ID, 1, "A", "kitap", 1)
	assert.ErrorIs(t, err, gameerr.ErrRoundNotCurrent)

	_, err = f.sched.SubmitAnswer(ctx, "NOPE00", 0, "A", "apple", 1)
	assert.ErrorIs(t, err, gameerr.ErrRoomNotFound)

	a, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "  Apple ", 99)
	require.NoError(t, err)
	assert.True(t, a.Correct)
	assert.Equal(t, 10, a.ElapsedTime)

	again, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "wrong", 1)
	assert.ErrorIs(t, err, gameerr.ErrDuplicateAnswer)
	require.NotNil(t, again)
	assert.Equal(t, "  Apple ", again.Answer)
	assert.True(t, again.Correct)

	b, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "B", "", -4)
	require.NoError(t, err)
	assert.False(t, b.Correct)
	assert.Zero(t, b.ElapsedTime)
}

func TestSubmitAnswer_RequiresRunningGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.coord.CreateRoom(ctx, "A", "Alice", 4, nil)
	require.NoError(t, err)
	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "apple", 1)
	assert.ErrorIs(t, err, gameerr.ErrWrongStatus)
}

func TestScheduler_SingleRoundGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 1, "B")

	_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "apple", 3)
	require.NoError(t, err)
	assert.Equal(t, state.Collecting, f.sched.Phase(r.ID))

	// B's countdown ran out: the client submits an empty answer at the limit.
	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "B", "", 10)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.AwaitingFinal }, waitFor, tick)

	res, ok := f.sched.Result(r.ID)
	require.True(t, ok)
	assert.True(t, res.LastRound)
	assert.Equal(t, "apple", res.CorrectAnswer)
	require.Len(t, res.Players, 2)
	assert.Equal(t, 170, res.Players[0].RoundScore)
	assert.Equal(t, 0, res.Players[1].RoundScore)

	ended, err := f.sched.RevealFinalScores(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
	assert.True(t, ended.ShowScores)

	a, _ := ended.Player("A")
	b, _ := ended.Player("B")
	assert.Equal(t, 170, a.Score)
	assert.Equal(t, 0, b.Score)
	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Finished }, waitFor, tick)
}

func TestScheduler_AutoAdvance(t *testing.T) {
	f := newFixture(t, WithTimings(20*time.Millisecond, 0))
	ctx := context.Background()
	r := f.game(t, 2, "B")

	_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "apple", 0)
	require.NoError(t, err)
	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "B", "pear", 2)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.current(t, r.ID).CurrentRound == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Answering }, waitFor, tick)

	got := f.current(t, r.ID)
	a, _ := got.Player("A")
	b, _ := got.Player("B")
	assert.Equal(t, 200, a.Score)
	assert.Equal(t, 0, b.Score)
	assert.Equal(t, 1, f.resultCount())
}

func TestScheduler_ClosesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 2, "B", "C")

	var wg sync.WaitGroup
	for _, p := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, id, "apple", 1)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Advancing }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.closedEvents())
	assert.Equal(t, 1, f.resultCount())

	closed, err := f.store.Ledger().IsClosed(ctx, r.ID, 0)
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestScheduler_DeadlineFillsMissingAnswers(t *testing.T) {
	f := newFixture(t)
	f.sched.second = time.Millisecond
	ctx := context.Background()
	r := f.game(t, 2, "B")

	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Advancing }, waitFor, tick)

	for _, p := range []string{"A", "B"} {
		entry, err := f.store.Ledger().Get(ctx, r.ID, 0, p)
		require.NoError(t, err)
		require.NotNil(t, entry, p)
		assert.Empty(t, entry.Answer)
		assert.False(t, entry.Correct)
		assert.Equal(t, 10, entry.ElapsedTime)
	}

	ev := f.recorder.Events()
	require.NotEmpty(t, ev)
	assert.Equal(t, events.RoundClosed, ev[len(ev)-1].Type)
	assert.Equal(t, ReasonDeadline, ev[len(ev)-1].Data["reason"])
	assert.Equal(t, 1, f.resultCount())
}

func TestScheduler_KickedPlayerIsNotCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 2, "B", "C")

	_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "apple", 1)
	require.NoError(t, err)
	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "C", "apple", 1)
	require.NoError(t, err)
	_, err = f.coord.KickPlayer(ctx, r.ID, "A", "C")
	require.NoError(t, err)

	assert.Equal(t, state.Collecting, f.sched.Phase(r.ID))

	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "B", "apple", 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Advancing }, waitFor, tick)
	res, ok := f.sched.Result(r.ID)
	require.True(t, ok)
	assert.Len(t, res.Players, 2)
}

func TestScheduler_LeaveCompletesRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 2, "B", "C")

	_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "apple", 1)
	require.NoError(t, err)
	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "B", "apple", 1)
	require.NoError(t, err)
	_, err = f.coord.LeaveRoom(ctx, r.ID, "C")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Advancing }, waitFor, tick)
}

func TestAdvanceRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 2, "B")

	_, err := f.sched.AdvanceRound(ctx, r.ID, "A")
	assert.ErrorIs(t, err, gameerr.ErrRoundOpen)

	for _, p := range []string{"A", "B"} {
		_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, p, "apple", 5)
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Advancing }, waitFor, tick)

	_, err = f.sched.AdvanceRound(ctx, r.ID, "B")
	assert.ErrorIs(t, err, gameerr.ErrNotHost)

	next, err := f.sched.AdvanceRound(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, next.CurrentRound)
	for _, p := range next.Players {
		assert.Equal(t, 150, p.Score, p.ID)
	}
	assert.Equal(t, state.Answering, f.sched.Phase(r.ID))
}

func TestForceCloseRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 2, "B")

	_, err := f.sched.ForceCloseRound(ctx, r.ID, "B")
	assert.ErrorIs(t, err, gameerr.ErrNotHost)

	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "apple", 4)
	require.NoError(t, err)

	next, err := f.sched.ForceCloseRound(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, next.CurrentRound)
	a, _ := next.Player("A")
	assert.Equal(t, 160, a.Score)

	entry, err := f.store.Ledger().Get(ctx, r.ID, 0, "B")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 10, entry.ElapsedTime)

	// Last round: nobody answers, the host closes it and reveals.
	last, err := f.sched.ForceCloseRound(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.True(t, last.AllRoundsCommitted())
	assert.Equal(t, models.StatusPlaying, last.Status)
	assert.Equal(t, state.AwaitingFinal, f.sched.Phase(r.ID))

	_, err = f.sched.ForceCloseRound(ctx, r.ID, "A")
	assert.ErrorIs(t, err, gameerr.ErrWrongStatus)

	ended, err := f.sched.RevealFinalScores(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
}

func TestRevealFinalScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 1, "B")

	_, err := f.sched.RevealFinalScores(ctx, r.ID, "A")
	assert.ErrorIs(t, err, gameerr.ErrRoundOpen)

	_, err = f.sched.RevealFinalScores(ctx, r.ID, "B")
	assert.ErrorIs(t, err, gameerr.ErrNotHost)

	_, err = f.sched.ForceCloseRound(ctx, r.ID, "A")
	require.NoError(t, err)

	first, err := f.sched.RevealFinalScores(ctx, r.ID, "A")
	require.NoError(t, err)
	second, err := f.sched.RevealFinalScores(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
}

func TestScheduler_RestartStartsOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.game(t, 2, "B")

	for _, p := range []string{"A", "B"} {
		_, err := f.sched.SubmitAnswer(ctx, r.ID, 0, p, "apple", 0)
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Advancing }, waitFor, tick)

	restarted, err := f.coord.RestartGame(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Zero(t, restarted.CurrentRound)

	assert.Eventually(t, func() bool { return f.sched.Phase(r.ID) == state.Answering }, waitFor, tick)
	_, ok := f.sched.Result(r.ID)
	assert.False(t, ok)

	_, err = f.sched.SubmitAnswer(ctx, r.ID, 0, "A", "apple", 0)
	assert.NoError(t, err)
}

func TestScheduler_UntracksDeletedRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.coord.CreateRoom(ctx, "A", "Alice", 4, nil)
	require.NoError(t, err)
	require.NoError(t, f.sched.Track(ctx, r.ID))
	require.NoError(t, f.sched.Track(ctx, r.ID))
	assert.Equal(t, 1, f.sched.Tracked())

	_, err = f.coord.LeaveRoom(ctx, r.ID, "A")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.sched.Tracked() == 0 }, waitFor, tick)
	assert.Equal(t, state.Idle, f.sched.Phase(r.ID))
}

func TestBuildResult_CommittedRound(t *testing.T) {
	r := &models.Room{
		ID:           "ROOM01",
		Players:      []models.Player{{ID: "A", Score: 170}, {ID: "B"}},
		Settings:     models.Settings{TimePerWord: 10},
		Words:        []models.Word(quizWords[:1]),
		CurrentRound: 1,
	}
	answers := []models.Answer{{PlayerID: "A", Answer: "apple", Correct: true, ElapsedTime: 3}}

	res := BuildResult(r, 0, answers, time.Now())
	assert.Equal(t, 170, res.Players[0].RoundScore)
	assert.Equal(t, 170, res.Players[0].UpdatedTotalScore)
	assert.Equal(t, 10, res.Players[1].ElapsedTime)
	assert.Zero(t, res.Players[1].UpdatedTotalScore)
}
