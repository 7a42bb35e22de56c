package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/models"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and registers the quiz service.
func NewServer(addr string, svc *QuizService) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s, err := newServer(svc)
	if err != nil {
		listener.Close()
		return nil, err
	}
	s.listener = listener
	s.address = listener.Addr().String()
	return s, nil
}

func newServer(svc *QuizService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("QuizService", svc); err != nil {
		return nil, err
	}
	return &Server{rpc: srv}, nil
}

// Addr is the address actually bound, useful with ":0".
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomReader is the read side of the room coordinator.
type RoomReader interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
}

// StatsReader serves archived player statistics.
type StatsReader interface {
	Leaderboard(ctx context.Context, limit int) ([]models.PlayerStats, error)
}

// QuizService exposes read-only room and leaderboard lookups to
// operator tooling.
type QuizService struct {
	rooms RoomReader
	stats StatsReader
}

func NewQuizService(rooms RoomReader, stats StatsReader) *QuizService {
	return &QuizService{rooms: rooms, stats: stats}
}

type GetRoomArgs struct {
	RoomID string
}

type GetRoomReply struct {
	Room models.Room
}

// GetRoom follows the net/rpc signature: exported method, exported
// arguments, pointer reply, error result.
func (qs *QuizService) GetRoom(args *GetRoomArgs, reply *GetRoomReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	r, err := qs.rooms.GetRoom(ctx, args.RoomID)
	if err != nil {
		return err
	}
	reply.Room = *r
	return nil
}

type LeaderboardArgs struct {
	Limit int
}

type LeaderboardReply struct {
	Players []models.PlayerStats
}

func (qs *QuizService) Leaderboard(args *LeaderboardArgs, reply *LeaderboardReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	players, err := qs.stats.Leaderboard(ctx, args.Limit)
	if err != nil {
		return err
	}
	reply.Players = players
	return nil
}
