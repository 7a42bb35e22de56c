package round

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/wordquiz/events"
	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/monitor"
	"github.com/wfunc/wordquiz/retry"
	"github.com/wfunc/wordquiz/room"
	"github.com/wfunc/wordquiz/scoring"
	"github.com/wfunc/wordquiz/state"
	"github.com/wfunc/wordquiz/store"
	"github.com/wfunc/wordquiz/timer"
)

// Close reasons reported to metrics and events.
const (
	ReasonComplete = "complete"
	ReasonDeadline = "deadline"
	ReasonForced   = "forced"
)

const (
	defaultAdvanceDelay = 10 * time.Second
	defaultAnswerGrace  = 2 * time.Second
	callbackTimeout     = 10 * time.Second
)

// Rooms is the part of the room coordinator the scheduler drives.
type Rooms interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	Subscribe(ctx context.Context, roomID string) (<-chan store.RoomEvent, error)
	CommitRound(ctx context.Context, roomID string, actor room.Actor, round int, roundScores map[string]int) (*models.Room, error)
	FinishGame(ctx context.Context, roomID string, actor room.Actor) (*models.Room, error)
}

// ResultListener receives every round result this node freezes.
type ResultListener func(res models.RoundResult)

// PhaseListener receives every phase change of a tracked room.
type PhaseListener func(roomID string, from, to state.Phase)

type Option func(*Scheduler)

func WithPublisher(p events.Publisher) Option { return func(s *Scheduler) { s.publisher = p } }

func WithMonitor(m *monitor.Monitor) Option { return func(s *Scheduler) { s.monitor = m } }

func WithRetry(p retry.Policy) Option { return func(s *Scheduler) { s.retry = p } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithTimings sets the auto-advance countdown and the grace added to
// timePerWord before the server closes a round on its own.
func WithTimings(advanceDelay, answerGrace time.Duration) Option {
	return func(s *Scheduler) {
		if advanceDelay >= 0 {
			s.advanceDelay = advanceDelay
		}
		if answerGrace >= 0 {
			s.answerGrace = answerGrace
		}
	}
}

// Scheduler 回合调度. It watches each tracked room, closes the current
// round exactly once when every member answered or the deadline passed,
// and advances rounds on the host's behalf. Every decision is re-derived
// from the shared store, so several nodes may track the same room.
type Scheduler struct {
	rooms        Rooms
	ledger       store.Ledger
	timers       *timer.Manager
	publisher    events.Publisher
	monitor      *monitor.Monitor
	retry        retry.Policy
	now          func() time.Time
	advanceDelay time.Duration
	answerGrace  time.Duration
	second       time.Duration // length of one unit of timePerWord

	mu       sync.RWMutex
	tracked  map[string]*tracker
	onResult []ResultListener
	onPhase  []PhaseListener
}

func NewScheduler(rooms Rooms, ledger store.Ledger, timers *timer.Manager, opts ...Option) *Scheduler {
	s := &Scheduler{
		rooms:        rooms,
		ledger:       ledger,
		timers:       timers,
		publisher:    events.NopPublisher{},
		retry:        retry.DefaultPolicy,
		now:          time.Now,
		advanceDelay: defaultAdvanceDelay,
		answerGrace:  defaultAnswerGrace,
		second:       time.Second,
		tracked:      make(map[string]*tracker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnResult registers l for every frozen round result.
func (s *Scheduler) OnResult(l ResultListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = append(s.onResult, l)
}

// OnPhase registers l for phase changes.
func (s *Scheduler) OnPhase(l PhaseListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPhase = append(s.onPhase, l)
}

// Track starts watching roomID until the room is deleted, Untrack or
// Stop. Tracking an already tracked room does nothing. ctx only scopes
// the setup.
func (s *Scheduler) Track(ctx context.Context, roomID string) error {
	_, err := s.ensure(ctx, roomID)
	return err
}

func (s *Scheduler) ensure(ctx context.Context, roomID string) (*tracker, error) {
	s.mu.Lock()
	if t, ok := s.tracked[roomID]; ok {
		s.mu.Unlock()
		return t, nil
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := newTracker(roomID, cancel)
	for _, p := range []state.Phase{state.Idle, state.Answering, state.Collecting, state.RoundClosed, state.Advancing, state.AwaitingFinal, state.Finished} {
		t.machine.OnEnter(p, t.record)
	}
	s.tracked[roomID] = t
	s.mu.Unlock()

	roomCh, err := s.rooms.Subscribe(wctx, roomID)
	if err != nil {
		s.untrack(t)
		return nil, err
	}
	ledgerCh, err := s.ledger.Subscribe(wctx, roomID)
	if err != nil {
		s.untrack(t)
		return nil, err
	}
	logger.Log.Debugf("round scheduler: tracking room %s", roomID)
	go s.watch(wctx, t, roomCh, ledgerCh)
	return t, nil
}

// Untrack stops watching roomID and cancels its timers.
func (s *Scheduler) Untrack(roomID string) {
	s.mu.RLock()
	t := s.tracked[roomID]
	s.mu.RUnlock()
	if t != nil {
		s.untrack(t)
	}
}

// Stop untracks every room.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	all := make([]*tracker, 0, len(s.tracked))
	for _, t := range s.tracked {
		all = append(all, t)
	}
	s.mu.RUnlock()
	for _, t := range all {
		s.untrack(t)
	}
}

func (s *Scheduler) untrack(t *tracker) {
	s.mu.Lock()
	if s.tracked[t.roomID] == t {
		delete(s.tracked, t.roomID)
	}
	s.mu.Unlock()

	t.cancel()
	s.timers.CancelPrefix(timerPrefix(t.roomID))

	t.mu.Lock()
	t.machine.Reset(state.Idle)
	s.release(t)
}

func (s *Scheduler) lookup(roomID string) *tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracked[roomID]
}

// Tracked is the number of rooms this scheduler watches.
func (s *Scheduler) Tracked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracked)
}

// Result returns the latest frozen result of the room.
func (s *Scheduler) Result(roomID string) (*models.RoundResult, bool) {
	t := s.lookup(roomID)
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return nil, false
	}
	res := *t.result
	res.Players = append([]models.PlayerResult(nil), t.result.Players...)
	return &res, true
}

// Phase reports the round phase of the room; untracked rooms are idle.
func (s *Scheduler) Phase(roomID string) state.Phase {
	t := s.lookup(roomID)
	if t == nil {
		return state.Idle
	}
	return t.machine.Current()
}

func (s *Scheduler) watch(ctx context.Context, t *tracker, roomCh <-chan store.RoomEvent, ledgerCh <-chan store.LedgerEvent) {
	defer s.untrack(t)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-roomCh:
			if !ok || ev.Deleted || ev.Room == nil {
				return
			}
			t.mu.Lock()
			s.sync(ctx, t, ev.Room, ReasonComplete)
			s.release(t)
		case ev, ok := <-ledgerCh:
			if !ok {
				return
			}
			if ev.Cleared {
				continue
			}
			s.refresh(ctx, t, ReasonComplete)
		}
	}
}

// refresh re-reads the room and re-evaluates it.
func (s *Scheduler) refresh(ctx context.Context, t *tracker, reason string) {
	t.mu.Lock()
	defer s.release(t)

	r, err := s.rooms.GetRoom(ctx, t.roomID)
	if err != nil {
		if gameerr.KindOf(err) != gameerr.KindNotFound {
			logger.Log.Warnf("round scheduler: reading room %s: %v", t.roomID, err)
		}
		return
	}
	s.sync(ctx, t, r, reason)
}

// release unlocks t and delivers what was recorded while it was held.
func (s *Scheduler) release(t *tracker) {
	phases, results := t.phases, t.results
	t.phases, t.results = nil, nil
	t.mu.Unlock()

	s.mu.RLock()
	phaseLs := append([]PhaseListener(nil), s.onPhase...)
	resultLs := append([]ResultListener(nil), s.onResult...)
	s.mu.RUnlock()

	for _, p := range phases {
		for _, l := range phaseLs {
			l(t.roomID, p.from, p.to)
		}
	}
	for _, res := range results {
		for _, l := range resultLs {
			l(res)
		}
	}
}

// sync brings the tracker in line with a room snapshot. Snapshots older
// than one already seen are ignored. t.mu is held.
func (s *Scheduler) sync(ctx context.Context, t *tracker, r *models.Room, reason string) {
	if r.Version < t.version {
		return
	}
	t.version = r.Version
	switch r.Status {
	case models.StatusWaiting:
		s.timers.CancelPrefix(timerPrefix(t.roomID))
		t.reset(time.Time{})
		t.enter(state.Idle)
		return
	case models.StatusEnded:
		s.timers.CancelPrefix(timerPrefix(t.roomID))
		t.enter(state.Finished)
		return
	}

	if !r.GameStartTime.Equal(t.session) {
		s.timers.CancelPrefix(timerPrefix(t.roomID))
		t.reset(r.GameStartTime)
		t.machine.Reset(state.Idle)
	}
	if r.AllRoundsCommitted() {
		s.timers.CancelPrefix(timerPrefix(t.roomID))
		t.enter(state.AwaitingFinal)
		return
	}
	if r.CurrentRound != t.round {
		s.open(t, r)
	}
	s.evaluate(ctx, t, r, reason, true)
}

// open starts answering the room's current round.
func (s *Scheduler) open(t *tracker, r *models.Room) {
	if !t.closedAt.IsZero() {
		s.monitor.ObserveAdvanceLatency(s.now().Sub(t.closedAt))
		t.closedAt = time.Time{}
	}
	t.round = r.CurrentRound
	t.result = nil
	s.timers.Cancel(advanceKey(t.roomID))
	t.enter(state.Answering)

	round, session := r.CurrentRound, r.GameStartTime
	wait := time.Duration(r.Settings.TimePerWord)*s.second + s.answerGrace
	s.timers.Schedule(deadlineKey(t.roomID), wait, func() { s.expire(t, round, session) })
}

// evaluate closes the current round when it is complete, or when another
// node already closed it. auto schedules what follows a close; callers
// that advance on their own pass false. t.mu is held.
func (s *Scheduler) evaluate(ctx context.Context, t *tracker, r *models.Room, reason string, auto bool) {
	if r.Status != models.StatusPlaying || r.CurrentRound >= len(r.Words) {
		return
	}
	round := r.CurrentRound
	if t.result != nil && t.result.Round == round {
		return
	}

	closed, err := s.ledger.IsClosed(ctx, r.ID, round)
	if err != nil {
		logger.Log.Warnf("round scheduler: room %s round %d: %v", r.ID, round, err)
		return
	}
	first := false
	if !closed {
		answers, err := s.answers(ctx, r.ID, round)
		if err != nil {
			logger.Log.Warnf("round scheduler: room %s round %d: %v", r.ID, round, err)
			return
		}
		if answeredMembers(r, answers) < len(r.Players) {
			if len(answers) > 0 && t.machine.Current() == state.Answering {
				t.enter(state.Collecting)
			}
			return
		}
		first, err = retry.Value(ctx, s.retry, func() (bool, error) {
			return s.ledger.MarkClosed(ctx, r.ID, round)
		}, s.monitor.StoreRetry)
		if err != nil {
			logger.Log.Warnf("round scheduler: closing room %s round %d: %v", r.ID, round, err)
			return
		}
	}

	answers, err := s.answers(ctx, r.ID, round)
	if err != nil {
		logger.Log.Warnf("round scheduler: room %s round %d: %v", r.ID, round, err)
		return
	}
	closedAt := s.now().UTC()
	res := BuildResult(r, round, answers, closedAt)
	t.result = &res
	t.closedAt = closedAt
	t.results = append(t.results, res)
	s.timers.Cancel(deadlineKey(t.roomID))
	t.enter(state.RoundClosed)

	if !first {
		return
	}
	logger.Log.Infof("room %s: round %d closed (%s)", r.ID, round, reason)
	s.monitor.RoundClosed(reason)
	events.Emit(ctx, s.publisher, events.New(events.RoundClosed, r.ID, "", map[string]any{
		"round":  round,
		"reason": reason,
		"last":   res.LastRound,
	}))
	if !auto {
		return
	}

	if res.LastRound {
		if _, err := s.commit(ctx, r, room.SystemActor(), round); err != nil {
			logger.Log.Warnf("room %s: committing last round: %v", r.ID, err)
			return
		}
		t.enter(state.AwaitingFinal)
		return
	}
	t.enter(state.Advancing)
	session := r.GameStartTime
	s.timers.Schedule(advanceKey(t.roomID), s.advanceDelay, func() { s.autoAdvance(t, round, session) })
}

// expire closes a round whose deadline passed, filling empty answers for
// everyone who did not answer.
func (s *Scheduler) expire(t *tracker, round int, session time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	t.mu.Lock()
	defer s.release(t)

	r, err := s.rooms.GetRoom(ctx, t.roomID)
	if err != nil {
		return
	}
	if r.Status != models.StatusPlaying || r.CurrentRound != round || !r.GameStartTime.Equal(session) {
		return
	}
	if err := s.fill(ctx, r, round); err != nil {
		logger.Log.Warnf("room %s: filling round %d: %v", r.ID, round, err)
		return
	}
	s.evaluate(ctx, t, r, ReasonDeadline, true)
}

// autoAdvance is the countdown that advances a closed round on the
// host's behalf.
func (s *Scheduler) autoAdvance(t *tracker, round int, session time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	t.mu.Lock()
	defer s.release(t)

	if !t.session.Equal(session) {
		return
	}
	r, err := s.rooms.GetRoom(ctx, t.roomID)
	if err != nil {
		return
	}
	updated, err := s.advanceClosed(ctx, r, room.SystemActor(), round)
	if err != nil {
		if gameerr.KindOf(err) != gameerr.KindConflict {
			logger.Log.Warnf("room %s: auto advance of round %d: %v", r.ID, round, err)
		}
		return
	}
	s.sync(ctx, t, updated, ReasonComplete)
}

// advanceClosed commits round if the room still sits on it and the round
// closed in the ledger.
func (s *Scheduler) advanceClosed(ctx context.Context, r *models.Room, actor room.Actor, round int) (*models.Room, error) {
	if r.Status != models.StatusPlaying || r.CurrentRound != round {
		return nil, gameerr.ErrRoundNotCurrent
	}
	closed, err := retry.Value(ctx, s.retry, func() (bool, error) {
		return s.ledger.IsClosed(ctx, r.ID, round)
	}, s.monitor.StoreRetry)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, gameerr.ErrRoundOpen
	}
	return s.commit(ctx, r, actor, round)
}

func (s *Scheduler) commit(ctx context.Context, r *models.Room, actor room.Actor, round int) (*models.Room, error) {
	answers, err := s.answers(ctx, r.ID, round)
	if err != nil {
		return nil, err
	}
	return s.rooms.CommitRound(ctx, r.ID, actor, round, memberScores(r, answers))
}

func (s *Scheduler) answers(ctx context.Context, roomID string, round int) ([]models.Answer, error) {
	return retry.Value(ctx, s.retry, func() ([]models.Answer, error) {
		return s.ledger.Answers(ctx, roomID, round)
	}, s.monitor.StoreRetry)
}

// fill writes an empty, wrong answer for every member without an entry.
// Existing entries are never touched.
func (s *Scheduler) fill(ctx context.Context, r *models.Room, round int) error {
	at := s.now().UTC()
	for _, p := range r.Players {
		a := models.Answer{
			RoundIndex:  round,
			PlayerID:    p.ID,
			ElapsedTime: r.Settings.TimePerWord,
			SubmittedAt: at,
		}
		if _, err := retry.Value(ctx, s.retry, func() (bool, error) {
			return s.ledger.Put(ctx, r.ID, a)
		}, s.monitor.StoreRetry); err != nil {
			return err
		}
	}
	return nil
}

// SubmitAnswer records playerID's answer for round. The elapsed time is
// clamped to the round's time limit and correctness is judged against the
// word of that round. A second submission returns the stored entry with
// gameerr.ErrDuplicateAnswer.
func (s *Scheduler) SubmitAnswer(ctx context.Context, roomID string, round int, playerID, text string, elapsed int) (*models.Answer, error) {
	r, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.HasPlayer(playerID) {
		return nil, gameerr.ErrPlayerNotFound
	}
	if r.Status != models.StatusPlaying {
		return nil, gameerr.ErrWrongStatus
	}
	if round != r.CurrentRound || round >= len(r.Words) {
		return nil, gameerr.ErrRoundNotCurrent
	}

	maxTime := r.Settings.TimePerWord
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxTime {
		elapsed = maxTime
	}
	a := models.Answer{
		RoundIndex:  round,
		PlayerID:    playerID,
		Answer:      text,
		ElapsedTime: elapsed,
		Correct:     scoring.IsCorrect(text, r.Words[round]),
		SubmittedAt: s.now().UTC(),
	}

	inserted, err := retry.Value(ctx, s.retry, func() (bool, error) {
		return s.ledger.Put(ctx, roomID, a)
	}, s.monitor.StoreRetry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.ledger.Get(ctx, roomID, round, playerID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			existing = &a
		}
		return existing, gameerr.ErrDuplicateAnswer
	}
	s.monitor.Answer(a.Correct)

	t, err := s.ensure(ctx, roomID)
	if err == nil {
		s.refresh(ctx, t, ReasonComplete)
	}
	return &a, nil
}

// hostRoom loads the room and checks that hostID hosts it and a game is
// running.
func (s *Scheduler) hostRoom(ctx context.Context, roomID, hostID string) (*models.Room, error) {
	r, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.IsHost(hostID) {
		return nil, gameerr.ErrNotHost
	}
	return r, nil
}

// AdvanceRound moves a closed round on without waiting for the
// countdown.
func (s *Scheduler) AdvanceRound(ctx context.Context, roomID, hostID string) (*models.Room, error) {
	if _, err := s.hostRoom(ctx, roomID, hostID); err != nil {
		return nil, err
	}
	t, err := s.ensure(ctx, roomID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer s.release(t)

	r, err := s.hostRoom(ctx, roomID, hostID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPlaying || r.CurrentRound >= len(r.Words) {
		return nil, gameerr.ErrWrongStatus
	}
	updated, err := s.advanceClosed(ctx, r, room.PlayerActor(hostID), r.CurrentRound)
	if err != nil {
		return nil, err
	}
	s.sync(ctx, t, updated, ReasonComplete)
	return updated, nil
}

// ForceCloseRound closes the current round now: missing answers are
// filled as empty and the round is committed right away. On the last
// round the room then waits for the final reveal.
func (s *Scheduler) ForceCloseRound(ctx context.Context, roomID, hostID string) (*models.Room, error) {
	if _, err := s.hostRoom(ctx, roomID, hostID); err != nil {
		return nil, err
	}
	t, err := s.ensure(ctx, roomID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer s.release(t)

	r, err := s.hostRoom(ctx, roomID, hostID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPlaying || r.CurrentRound >= len(r.Words) {
		return nil, gameerr.ErrWrongStatus
	}
	round := r.CurrentRound
	if err := s.fill(ctx, r, round); err != nil {
		return nil, err
	}
	s.evaluate(ctx, t, r, ReasonForced, false)

	updated, err := s.advanceClosed(ctx, r, room.PlayerActor(hostID), round)
	if err != nil {
		return nil, err
	}
	s.sync(ctx, t, updated, ReasonComplete)
	return updated, nil
}

// RevealFinalScores ends the game, committing the last round first if it
// closed but was not committed yet.
func (s *Scheduler) RevealFinalScores(ctx context.Context, roomID, hostID string) (*models.Room, error) {
	r, err := s.hostRoom(ctx, roomID, hostID)
	if err != nil {
		return nil, err
	}
	if r.Status == models.StatusEnded && r.ShowScores {
		return r, nil
	}
	if r.Status != models.StatusPlaying {
		return nil, gameerr.ErrWrongStatus
	}
	t, err := s.ensure(ctx, roomID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer s.release(t)

	r, err = s.hostRoom(ctx, roomID, hostID)
	if err != nil {
		return nil, err
	}
	if r.Status == models.StatusPlaying && !r.AllRoundsCommitted() {
		if !r.IsLastRound(r.CurrentRound) {
			return nil, gameerr.ErrRoundOpen
		}
		if r, err = s.advanceClosed(ctx, r, room.PlayerActor(hostID), r.CurrentRound); err != nil {
			return nil, err
		}
	}
	updated, err := s.rooms.FinishGame(ctx, roomID, room.PlayerActor(hostID))
	if err != nil {
		return nil, err
	}
	s.sync(ctx, t, updated, ReasonComplete)
	return updated, nil
}
