package server

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wfunc/wordquiz/auth"
	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/network"
	"github.com/wfunc/wordquiz/session"
)

// kickGrace is how long a removed player's socket waits for the kick
// pump before closing.
const kickGrace = time.Second

// handleWebSocket upgrades a member of ?room= to a live socket.
func (s *GameServer) handleWebSocket(c *gin.Context) {
	claims := claimsFrom(c)
	roomID := c.Query("room")
	if roomID == "" {
		badRequest(c, errors.New("room is required"))
		return
	}
	r, err := s.deps.Rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !r.HasPlayer(claims.PlayerID) {
		writeError(c, gameerr.ErrPlayerNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn), claims, roomID)
}

func (s *GameServer) handleConnection(wsConn *network.WSConnection, claims *auth.Claims, roomID string) {
	sess := session.NewSession(uuid.New().String(), wsConn)
	sess.PlayerID = claims.PlayerID
	sess.Nickname = claims.Nickname
	sess.RoomID = roomID
	s.sessionManager.Add(sess)
	s.deps.Monitor.IncOnlinePlayers()
	s.deps.Monitor.SetActiveRooms(s.sessionManager.Rooms())

	logger.Log.Infof("New connection from %s, session ID: %s, player %s in room %s",
		wsConn.RemoteAddr(), sess.GetID(), sess.PlayerID, roomID)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.deps.Monitor.DecOnlinePlayers()
		s.deps.Monitor.SetActiveRooms(s.sessionManager.Rooms())
		wsConn.Close()
	}()

	if err := s.deps.Rounds.Track(ctx, roomID); err != nil {
		logger.Log.Warnf("room %s: track rounds: %v", roomID, err)
	}
	if res, ok := s.deps.Rounds.Result(roomID); ok {
		sess.Send(network.MsgTypeRoundResult, res)
	}

	kicked := make(chan struct{})
	if err := s.pumpKicks(ctx, sess, kicked); err != nil {
		logger.Log.Warnf("room %s: watch kicks for %s: %v", roomID, sess.PlayerID, err)
	}
	if err := s.pumpRoom(ctx, sess, kicked); err != nil {
		sess.Send(network.MsgTypeError, errorPayload(err))
		return
	}

	wsConn.SetHeartbeat(s.heartbeat)
	go s.keepalive(ctx, wsConn)

	limiter := rate.NewLimiter(rate.Limit(s.messageRate), s.messageBurst)
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		env, err := wsConn.ReadEnvelope()
		if errors.Is(err, network.ErrMalformed) {
			sess.Send(network.MsgTypeError, errorPayload(err))
			continue
		}
		if err != nil {
			return
		}
		sess.Touch()
		s.deps.Monitor.IncMessagesReceived()
		if !limiter.Allow() {
			sess.Send(network.MsgTypeError, network.ErrorPayload{Kind: "rate_limited", Message: "too many messages"})
			continue
		}
		if !s.handleMessage(ctx, sess, env) {
			return
		}
	}
}

// pumpRoom forwards room snapshots. A player who is no longer a member
// gets the pending kick notice, if any, and the socket is closed. kicked
// is closed once the kick pump has delivered a notice itself.
func (s *GameServer) pumpRoom(ctx context.Context, sess *session.Session, kicked <-chan struct{}) error {
	events, err := s.deps.Rooms.Subscribe(ctx, sess.RoomID)
	if err != nil {
		return err
	}
	go func() {
		for ev := range events {
			if ev.Deleted || ev.Room == nil {
				sess.Send(network.MsgTypeRoomDeleted, gin.H{"roomId": sess.RoomID})
				sess.Close()
				return
			}
			if !ev.Room.HasPlayer(sess.PlayerID) {
				if !s.sendKick(ctx, sess) {
					select {
					case <-kicked:
					case <-ctx.Done():
					case <-time.After(kickGrace):
					}
				}
				sess.Close()
				return
			}
			sess.Send(network.MsgTypeRoomState, viewRoom(ev.Room))
		}
	}()
	return nil
}

// sendKick consumes and sends the pending notice; false when there was none.
func (s *GameServer) sendKick(ctx context.Context, sess *session.Session) bool {
	sig, err := s.deps.Rooms.ConsumeKick(ctx, sess.RoomID, sess.PlayerID)
	if err != nil {
		logger.Log.Warnf("room %s: consume kick notice for %s: %v", sess.RoomID, sess.PlayerID, err)
		return false
	}
	if sig == nil {
		return false
	}
	sess.Send(network.MsgTypeKicked, sig)
	return true
}

// pumpKicks delivers notices written while the socket is open.
func (s *GameServer) pumpKicks(ctx context.Context, sess *session.Session, kicked chan<- struct{}) error {
	kicks, err := s.deps.Kicks.Watch(ctx, sess.RoomID, sess.PlayerID)
	if err != nil {
		return err
	}
	go func() {
		if sig, ok := <-kicks; ok {
			sess.Send(network.MsgTypeKicked, sig)
			s.releaseKick(sess)
			close(kicked)
			sess.Close()
		}
	}()
	return nil
}

// releaseKick lets a player who was handed their notice over the socket
// join again.
func (s *GameServer) releaseKick(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := s.deps.Rooms.ReleaseKick(ctx, sess.RoomID, sess.PlayerID); err != nil {
		logger.Log.Warnf("room %s: lifting kick hold for %s: %v", sess.RoomID, sess.PlayerID, err)
	}
}

func (s *GameServer) keepalive(ctx context.Context, conn *network.WSConnection) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

// handleMessage runs one client request. It returns false when the socket
// should close.
func (s *GameServer) handleMessage(ctx context.Context, sess *session.Session, env *network.Envelope) bool {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var err error
	switch env.Type {
	case network.MsgTypePing:
		sess.Send(network.MsgTypePong, nil)
	case network.MsgTypeSubmitAnswer:
		var p network.SubmitAnswerPayload
		if err = env.Bind(&p); err != nil {
			err = errors.Join(network.ErrMalformed, err)
			break
		}
		var a *models.Answer
		a, err = s.deps.Rounds.SubmitAnswer(ctx, sess.RoomID, p.Round, sess.PlayerID, p.Answer, p.ElapsedTime)
		if err == nil {
			sess.Send(network.MsgTypeAnswer, a)
		}
	case network.MsgTypeAdvanceRound:
		_, err = s.deps.Rounds.AdvanceRound(ctx, sess.RoomID, sess.PlayerID)
	case network.MsgTypeForceClose:
		_, err = s.deps.Rounds.ForceCloseRound(ctx, sess.RoomID, sess.PlayerID)
	case network.MsgTypeReveal:
		_, err = s.deps.Rounds.RevealFinalScores(ctx, sess.RoomID, sess.PlayerID)
	case network.MsgTypeLeaveRoom:
		if _, err = s.deps.Rooms.LeaveRoom(ctx, sess.RoomID, sess.PlayerID); err == nil {
			return false
		}
	default:
		logger.Log.Infof("Unknown message type: %s", env.Type)
		err = errors.Join(network.ErrMalformed, errors.New("unknown type "+env.Type))
	}
	if err != nil {
		sess.Send(network.MsgTypeError, errorPayload(err))
	}
	return true
}

func errorPayload(err error) network.ErrorPayload {
	kind := string(gameerr.KindOf(err))
	if errors.Is(err, network.ErrMalformed) {
		kind = "malformed"
	}
	return network.ErrorPayload{Kind: kind, Message: err.Error()}
}
