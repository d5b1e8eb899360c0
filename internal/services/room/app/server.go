package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/ai"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/dialogue"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/step"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage"
	roomsqlite "github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/storage/sqlite"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/telemetry"
)

// RuntimeConfig configures one authoritative room process.
type RuntimeConfig struct {
	Addr      string
	DBPath    string
	RoomID    string
	ActorID   string
	GraphPath string
	Interval  time.Duration

	// PersistTruthKeys lists the latch-guarded state keys.
	PersistTruthKeys []string

	// OpenAIKey and Model configure the default invoker; Invoker overrides
	// both when set (tests inject fakes through it).
	OpenAIKey string
	Model     string
	Invoker   ai.Invoker

	OnStateChanged func(state.Room)
}

// Server hosts the room loop plus a gRPC health surface for supervision.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *roomsqlite.Store
	loop       *Loop
}

// New wires the room runtime: storage, dialogue graph, model invoker, loop,
// and the health listener.
func New(cfg RuntimeConfig) (*Server, error) {
	if strings.TrimSpace(cfg.RoomID) == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if strings.TrimSpace(cfg.ActorID) == "" {
		return nil, fmt.Errorf("actor id is required")
	}
	addr := cfg.Addr
	if strings.TrimSpace(addr) == "" {
		addr = ":0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openRoomStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	graphData, err := os.ReadFile(cfg.GraphPath)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("read dialogue graph: %w", err)
	}
	graph, err := dialogue.Parse(graphData)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	invoker := cfg.Invoker
	if invoker == nil {
		invoker = ai.NewOpenAIInvoker(ai.OpenAIConfig{
			APIKey:       cfg.OpenAIKey,
			DefaultModel: cfg.Model,
		})
	}

	engine := &step.Engine{
		Graph:            graph,
		Invoker:          invoker,
		PersistTruthKeys: cfg.PersistTruthKeys,
		NewID:            mintID,
		Now:              time.Now,
	}

	initial, err := bootstrapRoom(context.Background(), store, cfg.RoomID, cfg.ActorID)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	loop, err := NewLoop(LoopConfig{
		RoomID:         cfg.RoomID,
		ActorID:        cfg.ActorID,
		Interval:       cfg.Interval,
		Engine:         engine,
		Commands:       store,
		Rooms:          store,
		Directory:      store,
		Telemetry:      telemetry.NewEmitter(store),
		OnStateChanged: cfg.OnStateChanged,
	}, initial)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		loop:       loop,
	}, nil
}

// Addr returns the health listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Loop exposes the running loop for command submission.
func (s *Server) Loop() *Loop {
	if s == nil {
		return nil
	}
	return s.loop
}

// Run creates a server from cfg and serves it until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the loop and the health endpoint until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("room server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- s.loop.Run(loopCtx)
	}()

	select {
	case <-ctx.Done():
		cancelLoop()
		<-loopErr
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		cancelLoop()
		<-loopErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-loopErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("room loop: %w", err)
		}
		return nil
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close room store: %v", err)
		}
	}
}

// bootstrapRoom loads the stored snapshot or seeds a fresh room whose
// authoritative participant is the configured actor.
func bootstrapRoom(ctx context.Context, store *roomsqlite.Store, roomID, actorID string) (state.Room, error) {
	room, err := store.LoadRoom(ctx, roomID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return state.Room{}, err
	}

	room = state.Room{
		ID: roomID,
		Global: state.Global{
			AuthorID:  actorID,
			Values:    map[string]string{},
			Collected: []byte(`{}`),
		},
		PlayerState: map[string]map[string]string{},
	}
	author, dirErr := store.FetchParticipant(ctx, actorID)
	if dirErr != nil {
		if !errors.Is(dirErr, storage.ErrNotFound) {
			return state.Room{}, dirErr
		}
		author = state.Participant{ID: actorID, Name: actorID}
		if saveErr := store.SaveParticipant(ctx, author); saveErr != nil {
			return state.Room{}, saveErr
		}
	}
	room = state.AddPlayer(room, author)
	if err := store.SaveRoom(ctx, room); err != nil {
		return state.Room{}, err
	}
	return room, nil
}

func openRoomStore(path string) (*roomsqlite.Store, error) {
	if strings.TrimSpace(path) == "" {
		path = filepath.Join("data", "room.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := roomsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open room sqlite store: %w", err)
	}
	return store, nil
}
