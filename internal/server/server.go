package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/bans"
	"github.com/siohaza/shinerelay/internal/callbacks"
	"github.com/siohaza/shinerelay/internal/network"
	"github.com/siohaza/shinerelay/internal/peer"
	"github.com/siohaza/shinerelay/internal/player"
	"github.com/siohaza/shinerelay/internal/shines"
	"github.com/siohaza/shinerelay/internal/storage"
	"github.com/siohaza/shinerelay/pkg/config"
	"github.com/siohaza/shinerelay/pkg/lua"
)

type Server struct {
	config      *config.Config
	network     *network.Listener
	peers       *peer.Registry
	players     *player.Manager
	banManager  *bans.Manager
	bag         *shines.Bag
	store       *storage.Store
	callbacks   *callbacks.CallbackChain
	resync      *shineResync
	luaAPI      *lua.RelayAPI
	luaCommands *lua.CommandManager
	merge       atomic.Bool
	maxPlayers  int
	logger      *zap.Logger
	startTime   time.Time
	ctx         context.Context
	cancel      context.CancelFunc
}

func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:     cfg,
		peers:      peer.NewRegistry(),
		callbacks:  callbacks.NewCallbackChain(),
		maxPlayers: cfg.Server.MaxPlayers,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	srv.merge.Store(cfg.Scenario.MergeEnabled)

	srv.banManager = bans.NewManager(cfg.BanList.File)
	srv.banManager.SetEnabled(cfg.BanList.Enabled)
	ids, err := cfg.BanList.ParsedIDs()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := srv.banManager.Seed(cfg.BanList.Addresses, ids); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to seed ban list: %w", err)
	}
	if err := srv.banManager.Load(); err != nil {
		logger.Warn("failed to load bans", zap.Error(err))
	}

	// interfaces stay nil unless persistence is on
	var persister player.ShinePersister
	var bagStore shines.BagStore
	if cfg.PersistShines.Enabled {
		store, err := storage.Open(cfg.PersistShines.Database)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open shine database: %w", err)
		}
		srv.store = store
		persister = store
		bagStore = store
	}

	srv.players = player.NewManager(persister, logger.Named("players"))

	srv.bag, err = shines.NewBag(bagStore, logger.Named("shines"))
	if err != nil {
		srv.closeStore()
		cancel()
		return nil, fmt.Errorf("failed to load shine bag: %w", err)
	}

	if delay := cfg.PersistShines.ResyncDelayDuration(); delay > 0 {
		srv.resync = newShineResync(srv, delay)
		srv.callbacks.Register(srv.resync)
	}

	if err := srv.loadScripts(); err != nil {
		srv.closeStore()
		cancel()
		return nil, err
	}

	srv.network = network.NewListener(cfg.ListenAddress(), srv.serveConn, logger.Named("network"))

	return srv, nil
}

func (s *Server) Start() error {
	if err := s.network.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.startTime = time.Now()

	s.logger.Info("server started",
		zap.String("name", s.config.Server.Name),
		zap.Stringer("address", s.network.Addr()),
		zap.Int("max_players", s.maxPlayers),
		zap.Bool("merge", s.merge.Load()),
		zap.Bool("persist_shines", s.store != nil),
	)

	return nil
}

func (s *Server) Stop() {
	s.cancel()
	s.network.Stop()

	if s.resync != nil {
		s.resync.stopAll()
	}

	if err := s.banManager.Save(); err != nil {
		s.logger.Warn("failed to save bans", zap.Error(err))
	}

	s.closeStore()

	s.logger.Info("server stopped")
}

func (s *Server) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close shine database", zap.Error(err))
	}
}

// RegisterCallbacks adds hooks fired on join, disconnect and speedrun
// transitions.
func (s *Server) RegisterCallbacks(cb callbacks.Callbacks) {
	s.callbacks.Register(cb)
}

func (s *Server) SetMerge(enabled bool) {
	s.merge.Store(enabled)
}

func (s *Server) MergeEnabled() bool {
	return s.merge.Load()
}

func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// serveConn runs one accepted connection and logs how it ended.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	err := s.HandleConnection(ctx, conn)

	addr := zap.Stringer("addr", conn.RemoteAddr())
	switch {
	case err == nil:
		s.logger.Debug("connection closed", addr)
	case errors.Is(err, ErrPolicyRejected), errors.Is(err, ErrCapacityExceeded):
		s.logger.Info("connection refused", addr, zap.Error(err))
	case errors.Is(err, ErrIO):
		s.logger.Debug("connection dropped", addr, zap.Error(err))
	default:
		s.logger.Warn("connection terminated", addr, zap.Error(err))
	}
}
