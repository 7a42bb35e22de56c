// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/wordquiz/network"
)

// Session is one live socket of a player bound to a room.
type Session struct {
	ID         string
	Conn       network.Connection
	PlayerID   string
	Nickname   string
	RoomID     string
	CreatedAt  time.Time
	lastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *Session) Send(msgType string, payload any) error {
	s.Touch()
	return s.Conn.Send(msgType, payload)
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器, indexed by id, by room and by player.
type Manager struct {
	sessions map[string]*Session
	byRoom   map[string]map[string]*Session
	byPlayer map[string]map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byRoom:   make(map[string]map[string]*Session),
		byPlayer: make(map[string]map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
	index(m.byRoom, session.RoomID, session)
	index(m.byPlayer, session.PlayerID, session)
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	unindex(m.byRoom, session.RoomID, sessionID)
	unindex(m.byPlayer, session.PlayerID, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) GetByPlayerID(playerID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return collect(m.byPlayer[playerID])
}

func (m *Manager) GetByRoom(roomID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return collect(m.byRoom[roomID])
}

// All returns every session.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return collect(m.sessions)
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Rooms is the number of rooms with at least one local session.
func (m *Manager) Rooms() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.byRoom)
}

func index(idx map[string]map[string]*Session, key string, s *Session) {
	if key == "" {
		return
	}
	if idx[key] == nil {
		idx[key] = make(map[string]*Session)
	}
	idx[key][s.ID] = s
}

func unindex(idx map[string]map[string]*Session, key, sessionID string) {
	if set, ok := idx[key]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

func collect(set map[string]*Session) []*Session {
	result := make([]*Session, 0, len(set))
	for _, s := range set {
		result = append(result, s)
	}
	return result
}
