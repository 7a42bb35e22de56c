package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wfunc/wordquiz/auth"
	"github.com/wfunc/wordquiz/broadcast"
	"github.com/wfunc/wordquiz/config"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
	"github.com/wfunc/wordquiz/monitor"
	"github.com/wfunc/wordquiz/network"
	"github.com/wfunc/wordquiz/presence"
	"github.com/wfunc/wordquiz/round"
	"github.com/wfunc/wordquiz/room"
	"github.com/wfunc/wordquiz/services"
	"github.com/wfunc/wordquiz/session"
	"github.com/wfunc/wordquiz/state"
)

const (
	defaultHeartbeat = 30 * time.Second
	requestTimeout   = 10 * time.Second
)

// Deps are the services the HTTP and socket handlers drive.
type Deps struct {
	Rooms   *room.Coordinator
	Rounds  *round.Scheduler
	Kicks   *presence.Channel
	History *services.HistoryService
	Issuer  *auth.Issuer
	Monitor *monitor.Monitor
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

type GameServer struct {
	addr           string
	router         *gin.Engine
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	deps           Deps
	sessionManager *session.Manager
	broadcaster    broadcast.Broadcaster
	messageRate    float64
	messageBurst   int
	heartbeat      time.Duration
	mutex          sync.Mutex
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
}

func NewGameServer(cfg config.ServerConfig, game config.GameConfig, deps Deps) *GameServer {
	s := &GameServer{
		addr:           cfg.HTTPAddress,
		deps:           deps,
		sessionManager: session.NewManager(),
		messageRate:    game.WSMessageRate,
		messageBurst:   game.WSMessageBurst,
		heartbeat:      defaultHeartbeat,
		shutdownChan:   make(chan struct{}),
	}
	if s.messageRate <= 0 {
		s.messageRate = 5
	}
	if s.messageBurst <= 0 {
		s.messageBurst = 10
	}

	allowAll := len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*")
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || slices.Contains(cfg.AllowedOrigins, origin)
		},
	}

	s.broadcaster = broadcast.NewRoomBroadcaster(s.sessionManager)
	deps.Rounds.OnResult(func(res models.RoundResult) {
		s.broadcaster.BroadcastToRoom(res.RoomID, network.MsgTypeRoundResult, res)
	})
	deps.Rounds.OnPhase(func(roomID string, from, to state.Phase) {
		s.broadcaster.BroadcastToRoom(roomID, network.MsgTypePhase, network.PhasePayload{
			RoomID: roomID,
			From:   string(from),
			Phase:  string(to),
		})
	})

	s.router = s.routes(cfg.AllowedOrigins, allowAll)
	return s
}

// Handler exposes the router, mostly for tests.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

func (s *GameServer) routes(origins []string, allowAll bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
		MaxAge: 12 * time.Hour,
	}
	if allowAll {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "healthy") })
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(s.deps.Monitor.Handler()))

	api := r.Group("/api")
	api.POST("/session", s.handleCreateSession)
	api.GET("/categories", s.handleCategories)

	authed := api.Group("")
	authed.Use(s.requireAuth())
	{
		authed.POST("/rooms", s.handleCreateRoom)
		authed.GET("/rooms/:id", s.handleGetRoom)
		authed.POST("/rooms/:id/join", s.handleJoinRoom)
		authed.POST("/rooms/:id/leave", s.handleLeaveRoom)
		authed.POST("/rooms/:id/kick", s.handleKickPlayer)
		authed.POST("/rooms/:id/kick-notice", s.handleKickNotice)
		authed.PUT("/rooms/:id/settings", s.handleUpdateSettings)
		authed.PUT("/rooms/:id/nickname", s.handleUpdateNickname)
		authed.POST("/rooms/:id/start", s.handleStartGame)
		authed.POST("/rooms/:id/restart", s.handleRestartGame)
		authed.POST("/rooms/:id/lobby", s.handleReturnToLobby)
		authed.POST("/rooms/:id/answers", s.handleSubmitAnswer)
		authed.POST("/rooms/:id/advance", s.handleAdvanceRound)
		authed.POST("/rooms/:id/force-close", s.handleForceCloseRound)
		authed.POST("/rooms/:id/reveal", s.handleRevealFinalScores)
		authed.GET("/rooms/:id/result", s.handleRoundResult)
		authed.GET("/players/:id/stats", s.handlePlayerStats)
		authed.GET("/leaderboard", s.handleLeaderboard)
	}

	r.GET("/ws", s.requireAuth(), s.handleWebSocket)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func (s *GameServer) Start() error {
	s.mutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpServer
	s.mutex.Unlock()

	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every socket.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	for _, sess := range s.sessionManager.All() {
		sess.Close()
	}

	s.mutex.Lock()
	srv := s.httpServer
	s.mutex.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *GameServer) handleReady(c *gin.Context) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
