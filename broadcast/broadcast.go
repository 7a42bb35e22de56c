// broadcast/broadcast.go
package broadcast

import (
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/session"
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomID, msgType string, payload any) int
	BroadcastToAll(msgType string, payload any) int
	BroadcastToPlayers(playerIDs []string, msgType string, payload any) int
}

// RoomBroadcaster 基于房间的广播器 over this node's sessions. Each
// method returns how many sessions the message reached.
type RoomBroadcaster struct {
	sessionManager *session.Manager
}

func NewRoomBroadcaster(sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{sessionManager: sessionManager}
}

func (b *RoomBroadcaster) BroadcastToRoom(roomID, msgType string, payload any) int {
	return send(b.sessionManager.GetByRoom(roomID), msgType, payload)
}

func (b *RoomBroadcaster) BroadcastToAll(msgType string, payload any) int {
	return send(b.sessionManager.All(), msgType, payload)
}

func (b *RoomBroadcaster) BroadcastToPlayers(playerIDs []string, msgType string, payload any) int {
	n := 0
	for _, id := range playerIDs {
		n += send(b.sessionManager.GetByPlayerID(id), msgType, payload)
	}
	return n
}

func send(sessions []*session.Session, msgType string, payload any) int {
	n := 0
	for _, s := range sessions {
		if err := s.Send(msgType, payload); err != nil {
			// 发送失败: the read loop notices the dead socket and cleans up.
			logger.Log.Debugf("send %s to session %s failed: %v", msgType, s.ID, err)
			continue
		}
		n++
	}
	return n
}
