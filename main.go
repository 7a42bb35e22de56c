package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/wordquiz/auth"
	"github.com/wfunc/wordquiz/config"
	"github.com/wfunc/wordquiz/events"
	"github.com/wfunc/wordquiz/logger"
	"github.com/wfunc/wordquiz/monitor"
	"github.com/wfunc/wordquiz/persistence"
	"github.com/wfunc/wordquiz/policy"
	"github.com/wfunc/wordquiz/presence"
	"github.com/wfunc/wordquiz/retry"
	"github.com/wfunc/wordquiz/room"
	"github.com/wfunc/wordquiz/round"
	"github.com/wfunc/wordquiz/rpc"
	"github.com/wfunc/wordquiz/server"
	"github.com/wfunc/wordquiz/services"
	"github.com/wfunc/wordquiz/store"
	"github.com/wfunc/wordquiz/timer"
	"github.com/wfunc/wordquiz/words"
)

// backend is what main needs from either store implementation.
type backend interface {
	store.RoomStore
	Ledger() store.Ledger
	Kicks() store.KickBox
	Close() error
}

func openStore(cfg *config.Config) (backend, func(context.Context) error, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil, nil
	case "redis":
		rs, err := store.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Ping, nil
	default:
		return nil, nil, errors.New("unknown store driver " + cfg.Store.Driver)
	}
}

func main() {
	// Initialize logger
	logger.Init("info", false)

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()

	st, storePing, err := openStore(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer st.Close()
	logger.Log.Infof("Using %s store.", cfg.Store.Driver)

	ctx := context.Background()
	rng := words.NewRand(time.Now().UnixNano())
	retryPolicy := retry.FromConfig(cfg.Retry)
	mon := monitor.NewMonitor("wordquiz")

	// Initialize Database
	var (
		archive  *persistence.GormPostgreSQL
		supply   words.Supply
		nickname policy.NicknamePolicy = policy.NewStaticBlacklist(cfg.Game.NicknameBlacklist...)
	)
	if cfg.Database.Postgres.Enabled {
		archive, err = persistence.NewGormPostgreSQL(cfg.Database.Postgres)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to database: %v", err)
		}
		defer archive.Close()
		logger.Log.Info("Database connection successful.")

		if n, err := archive.SeedWords(ctx, words.Builtin()); err != nil {
			logger.Log.Warnf("Failed to seed word bank: %v", err)
		} else if n > 0 {
			logger.Log.Infof("Seeded %d words.", n)
		}
		supply = words.NewCatalogSupply(archive, rng)

		db, err := policy.OpenPostgres(cfg.Database.Postgres)
		if err != nil {
			logger.Log.Fatalf("Failed to open blacklist database: %v", err)
		}
		defer db.Close()
		blacklist := policy.NewPostgresBlacklist(db)
		if err := blacklist.InitSchema(ctx); err != nil {
			logger.Log.Fatalf("Failed to prepare nickname blacklist: %v", err)
		}
		for _, n := range cfg.Game.NicknameBlacklist {
			if err := blacklist.Add(ctx, n); err != nil {
				logger.Log.Warnf("Failed to add %q to blacklist: %v", n, err)
			}
		}
		nickname = blacklist
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		rabbit, err := events.NewRabbitMQPublisher(cfg.RabbitMQ)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		publisher = rabbit
	}
	defer publisher.Close()

	kicks := presence.NewChannel(st.Kicks(), cfg.Game.KickTTL)
	rooms := room.NewCoordinator(st, st.Ledger(), kicks, words.NewBuilder(supply, rng),
		room.WithPolicy(nickname),
		room.WithPublisher(publisher),
		room.WithMonitor(mon),
		room.WithRetry(retryPolicy),
		room.WithLimits(cfg.Game.CodeAttempts, cfg.Game.MaxPlayersLimit),
		room.WithKickHold(cfg.Game.KickTTL),
	)

	history := services.NewHistoryService(nil)
	if archive != nil {
		history = services.NewHistoryService(archive)
	}
	rooms.OnFinished(history.Hook())

	timers := timer.NewManager(cfg.Game.TimerResolution)
	defer timers.Stop()
	rounds := round.NewScheduler(rooms, st.Ledger(), timers,
		round.WithPublisher(publisher),
		round.WithMonitor(mon),
		round.WithRetry(retryPolicy),
		round.WithTimings(cfg.Game.AdvanceDelay, cfg.Game.AnswerGrace),
	)
	defer rounds.Stop()

	ready := func(ctx context.Context) error {
		if storePing != nil {
			if err := storePing(ctx); err != nil {
				return err
			}
		}
		if archive != nil {
			return archive.Ping(ctx)
		}
		return nil
	}

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg.Server, cfg.Game, server.Deps{
		Rooms:   rooms,
		Rounds:  rounds,
		Kicks:   kicks,
		History: history,
		Issuer:  auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Monitor: mon,
		Ready:   ready,
	})

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewQuizService(rooms, history))
	if err != nil {
		logger.Log.Fatalf("Failed to start RPC server: %v", err)
	}
	go rpcServer.Start()
	defer rpcServer.Stop()

	// Start Server
	errCh := make(chan error, 1)
	go func() {
		logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
		errCh <- gameServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Log.Infof("Received %s, shutting down.", sig)
	case err := <-errCh:
		if err != nil {
			logger.Log.Errorf("Game server stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("Graceful shutdown failed: %v", err)
	}
}
