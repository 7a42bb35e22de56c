package server

import (
	"github.com/wfunc/wordquiz/models"
)

// RoomView is the room as players see it: the word list stays on the
// server and only the prompt of the current round is shown.
type RoomView struct {
	*models.Room
	Prompt      string `json:"prompt,omitempty"`
	TotalRounds int    `json:"totalRounds"`
}

func viewRoom(r *models.Room) *RoomView {
	if r == nil {
		return nil
	}
	v := &RoomView{Room: r.Clone(), TotalRounds: len(r.Words)}
	if r.Status == models.StatusPlaying {
		if w, ok := r.CurrentWord(); ok {
			v.Prompt = w.Prompt()
		}
	}
	v.Room.Words = nil
	v.Room.Kicked = nil
	return v
}
