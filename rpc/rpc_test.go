package rpc

import (
	"context"
	"net"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/wordquiz/gameerr"
	"github.com/wfunc/wordquiz/models"
)

type MockRooms struct{ mock.Mock }

func (m *MockRooms) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(ctx, roomID)
	r, _ := args.Get(0).(*models.Room)
	return r, args.Error(1)
}

type MockStats struct{ mock.Mock }

func (m *MockStats) Leaderboard(ctx context.Context, limit int) ([]models.PlayerStats, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]models.PlayerStats)
	return out, args.Error(1)
}

func dial(t *testing.T, svc *QuizService) *rpc.Client {
	t.Helper()
	s, err := newServer(svc)
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()
	go s.rpc.ServeConn(serverSide)
	client := rpc.NewClient(clientSide)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestQuizService_GetRoom(t *testing.T) {
	rooms := new(MockRooms)
	rooms.On("GetRoom", mock.Anything, "ABC123").Return(&models.Room{
		ID:      "ABC123",
		Host:    "A",
		Status:  models.StatusWaiting,
		Players: []models.Player{{ID: "A", Nickname: "Alice", IsHost: true}},
	}, nil)
	rooms.On("GetRoom", mock.Anything, "NOPE").Return(nil, gameerr.ErrRoomNotFound)
	client := dial(t, NewQuizService(rooms, new(MockStats)))

	var reply GetRoomReply
	require.NoError(t, client.Call("QuizService.GetRoom", &GetRoomArgs{RoomID: "ABC123"}, &reply))
	assert.Equal(t, "A", reply.Room.Host)
	require.Len(t, reply.Room.Players, 1)
	assert.Equal(t, "Alice", reply.Room.Players[0].Nickname)

	err := client.Call("QuizService.GetRoom", &GetRoomArgs{RoomID: "NOPE"}, &GetRoomReply{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room not found")
	rooms.AssertExpectations(t)
}

func TestQuizService_Leaderboard(t *testing.T) {
	stats := new(MockStats)
	stats.On("Leaderboard", mock.Anything, 3).Return([]models.PlayerStats{
		{PlayerID: "A", Nickname: "Alice", GamesPlayed: 2, Wins: 2, TotalScore: 900, BestScore: 500},
		{PlayerID: "B", Nickname: "Bob", GamesPlayed: 2, TotalScore: 300, BestScore: 200},
	}, nil)
	client := dial(t, NewQuizService(new(MockRooms), stats))

	var reply LeaderboardReply
	require.NoError(t, client.Call("QuizService.Leaderboard", &LeaderboardArgs{Limit: 3}, &reply))
	require.Len(t, reply.Players, 2)
	assert.Equal(t, int64(900), reply.Players[0].TotalScore)
	stats.AssertExpectations(t)
}

func TestServer_StartStop(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", NewQuizService(new(MockRooms), new(MockStats)))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Start()
		close(done)
	}()

	client, err := rpc.Dial("tcp", s.Addr())
	require.NoError(t, err)
	client.Close()

	s.Stop()
	<-done
}
