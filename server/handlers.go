package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/policy"
	"github.com/wfunc/wordquiz/words"
)

type sessionRequest struct {
	Nickname string `json:"nickname" binding:"required"`
	PlayerID string `json:"playerId"`
}

// settingsRequest accepts settings plus the "turkish:english" text form
// of a custom word list.
type settingsRequest struct {
	models.Settings
	CustomWordsText string `json:"customWordsText"`
}

func (r *settingsRequest) toSettings() models.Settings {
	s := r.Settings.Clone()
	if r.CustomWordsText != "" {
		s.CustomWords = words.ParseCustomWords(r.CustomWordsText)
	}
	return s
}

type createRoomRequest struct {
	Nickname   string           `json:"nickname"`
	MaxPlayers int              `json:"maxPlayers" binding:"required"`
	Settings   *settingsRequest `json:"settings"`
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

type kickRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
}

type answerRequest struct {
	Round       *int   `json:"round" binding:"required"`
	Answer      string `json:"answer"`
	ElapsedTime int    `json:"elapsedTime"`
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// respondRoom writes the player's view of r.
func respondRoom(c *gin.Context, status int, r *models.Room) {
	if r == nil {
		c.JSON(status, gin.H{"deleted": true})
		return
	}
	c.JSON(status, viewRoom(r))
}

func (s *GameServer) handleCreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	nickname, err := policy.ValidateNickname(req.Nickname)
	if err != nil {
		writeError(c, err)
		return
	}
	token, claims, err := s.deps.Issuer.Issue(req.PlayerID, nickname)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":     token,
		"playerId":  claims.PlayerID,
		"nickname":  claims.Nickname,
		"expiresAt": claims.ExpiresAt.Time,
	})
}

func (s *GameServer) handleCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": words.Categories})
}

// track makes this node schedule rounds for roomID.
func (s *GameServer) track(ctx context.Context, roomID string) {
	if err := s.deps.Rounds.Track(ctx, roomID); err != nil {
		logger.Log.Warnf("room %s: track rounds: %v", roomID, err)
	}
}

func (s *GameServer) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims := claimsFrom(c)
	nickname := req.Nickname
	if nickname == "" {
		nickname = claims.Nickname
	}
	var settings *models.Settings
	if req.Settings != nil {
		st := req.Settings.toSettings()
		settings = &st
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	r, err := s.deps.Rooms.CreateRoom(ctx, claims.PlayerID, nickname, req.MaxPlayers, settings)
	if err != nil {
		writeError(c, err)
		return
	}
	s.track(ctx, r.ID)
	respondRoom(c, http.StatusCreated, r)
}

func (s *GameServer) handleGetRoom(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	r, err := s.deps.Rooms.GetRoom(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, r)
}

func (s *GameServer) handleJoinRoom(c *gin.Context) {
	var req nicknameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims := claimsFrom(c)
	nickname := req.Nickname
	if nickname == "" {
		nickname = claims.Nickname
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	r, err := s.deps.Rooms.JoinRoom(ctx, c.Param("id"), claims.PlayerID, nickname)
	if err != nil {
		writeError(c, err)
		return
	}
	s.track(ctx, r.ID)
	respondRoom(c, http.StatusOK, r)
}

func (s *GameServer) handleLeaveRoom(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	r, err := s.deps.Rooms.LeaveRoom(ctx, c.Param("id"), claimsFrom(c).PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, r)
}

func (s *GameServer) handleKickPlayer(c *gin.Context) {
	var req kickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	r, err := s.deps.Rooms.KickPlayer(ctx, c.Param("id"), claimsFrom(c).PlayerID, req.PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, r)
}

// handleKickNotice hands a removed player the notice addressed to them,
// which also lets them rejoin.
func (s *GameServer) handleKickNotice(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	sig, err := s.deps.Rooms.ConsumeKick(ctx, c.Param("id"), claimsFrom(c).PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no kick notice"})
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *GameServer) handleUpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	r, err := s.deps.Rooms.UpdateSettings(ctx, c.Param("id"), claimsFrom(c).PlayerID, req.toSettings())
	if err != nil {
		writeError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, r)
}

func (s *GameServer) handleUpdateNickname(c *gin.Context) {
	var req nicknameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	r, err := s.deps.Rooms.UpdateNickname(ctx, c.Param("id"), claimsFrom(c).PlayerID, req.Nickname)
	if err != nil {
		writeError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, r)
}

// hostAction runs one of the host's game transitions for the caller.
func (s *GameServer) hostAction(c *gin.Context, fn func(ctx context.Context, roomID, hostID string) (*models.Room, error)) {
	ctx, cancel := requestContext(c)
	defer cancel()
	roomID := c.Param("id")
	s.track(ctx, roomID)
	r, err := fn(ctx, roomID, claimsFrom(c).PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	respondRoom(c, http.StatusOK, r)
}

func (s *GameServer) handleStartGame(c *gin.Context) { s.hostAction(c, s.deps.Rooms.StartGame) }

func (s *GameServer) handleRestartGame(c *gin.Context) { s.hostAction(c, s.deps.Rooms.RestartGame) }

func (s *GameServer) handleReturnToLobby(c *gin.Context) { s.hostAction(c, s.deps.Rooms.ReturnToLobby) }

func (s *GameServer) handleAdvanceRound(c *gin.Context) { s.hostAction(c, s.deps.Rounds.AdvanceRound) }

func (s *GameServer) handleForceCloseRound(c *gin.Context) {
	s.hostAction(c, s.deps.Rounds.ForceCloseRound)
}

func (s *GameServer) handleRevealFinalScores(c *gin.Context) {
	s.hostAction(c, s.deps.Rounds.RevealFinalScores)
}

func (s *GameServer) handleSubmitAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	a, err := s.deps.Rounds.SubmitAnswer(ctx, c.Param("id"), *req.Round, claimsFrom(c).PlayerID, req.Answer, req.ElapsedTime)
	if errors.Is(err, gameerr.ErrDuplicateAnswer) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  err.Error(),
			"kind":   string(gameerr.KindConflict),
			"answer": a,
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *GameServer) handleRoundResult(c *gin.Context) {
	roomID := c.Param("id")
	res, ok := s.deps.Rounds.Result(roomID)
	phase := s.deps.Rounds.Phase(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no round result yet", "phase": phase})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": phase, "result": res})
}

func (s *GameServer) handlePlayerStats(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	stats, err := s.deps.History.PlayerStats(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *GameServer) handleLeaderboard(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 || limit > 100 {
		badRequest(c, errors.New("limit must be between 1 and 100"))
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	board, err := s.deps.History.Leaderboard(ctx, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": board})
}
