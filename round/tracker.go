package round

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/state"
)

type phaseChange struct {
	from, to state.Phase
}

// tracker is the per-room view of one scheduler. Every field below mu is
// guarded by it; phases and results queue up while mu is held and are
// delivered by Scheduler.release.
type tracker struct {
	roomID  string
	cancel  context.CancelFunc
	machine *state.Machine

	mu       sync.Mutex
	version  int64
	session  time.Time
	round    int
	result   *models.RoundResult
	closedAt time.Time
	phases   []phaseChange
	results  []models.RoundResult
}

func newTracker(roomID string, cancel context.CancelFunc) *tracker {
	return &tracker{
		roomID:  roomID,
		cancel:  cancel,
		machine: state.NewRoundMachine(),
		round:   -1,
	}
}

// record is the machine's enter hook; it runs with mu held.
func (t *tracker) record(from, to state.Phase) {
	t.phases = append(t.phases, phaseChange{from: from, to: to})
}

// enter moves the machine to p. A tracker that starts mid-game or missed
// snapshots may not have a declared edge to p; it jumps there instead.
func (t *tracker) enter(p state.Phase) {
	if t.machine.Current() == p {
		return
	}
	if err := t.machine.ChangeState(p); err != nil {
		logger.Log.Debugf("room %s: %s -> %s not declared, resetting", t.roomID, t.machine.Current(), p)
		t.machine.Reset(p)
	}
}

// reset forgets the previous game session.
func (t *tracker) reset(session time.Time) {
	t.session = session
	t.round = -1
	t.result = nil
	t.closedAt = time.Time{}
}

func timerPrefix(roomID string) string { return "round:" + roomID + ":" }

func deadlineKey(roomID string) string { return timerPrefix(roomID) + "deadline" }

func advanceKey(roomID string) string { return timerPrefix(roomID) + "advance" }
