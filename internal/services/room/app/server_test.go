package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/ai"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/action"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
)

const testGraph = `{
	"name": "warmup",
	"stages": [
		{"id": "A", "flows": [{"name": "main", "steps": [
			{"id": "intro", "type": "systemMessage", "message": "Welcome."},
			{"id": "ask", "type": "requestUserInput", "message": "Say hello.", "save_key": "greeting"},
			{"id": "wait", "type": "requestUserInput", "message": "Now wait."}
		]}]}
	]
}`

func writeGraph(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(testGraph), 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	return path
}

func TestServerServesHealthAndRunsLoop(t *testing.T) {
	changes := make(chan state.Room, 16)
	srv, err := New(RuntimeConfig{
		Addr:      "127.0.0.1:0",
		DBPath:    filepath.Join(t.TempDir(), "room.db"),
		RoomID:    "r1",
		ActorID:   "p1",
		GraphPath: writeGraph(t),
		Interval:  10 * time.Millisecond,
		Invoker: ai.InvokerFunc(func(ctx context.Context, req ai.Request) (ai.Result, error) {
			return ai.Result{Text: "unused"}, nil
		}),
		OnStateChanged: func(room state.Room) {
			select {
			case changes <- room:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		runCancel()
		select {
		case serveErr := <-serveDone:
			if serveErr != nil {
				t.Fatalf("serve: %v", serveErr)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial room server: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := conn.Close(); closeErr != nil {
			t.Fatalf("close gRPC connection: %v", closeErr)
		}
	})

	healthResp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if healthResp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v", healthResp.GetStatus())
	}

	// The loop should walk the graph to the first waiting step on its own.
	waitForStep(t, changes, "ask")

	// A submitted reply advances past the input step.
	if err := srv.Loop().Submit(context.Background(), action.KindSendMessage, "hello engine"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStep(t, changes, "wait")
}

func waitForStep(t *testing.T, changes <-chan state.Room, stepID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case room := <-changes:
			if room.Global.CurStepID == stepID {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for step %q", stepID)
		}
	}
}

func TestServerBootstrapsMissingRoom(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "room.db")
	srv, err := New(RuntimeConfig{
		Addr:      "127.0.0.1:0",
		DBPath:    dbPath,
		RoomID:    "fresh",
		ActorID:   "p1",
		GraphPath: writeGraph(t),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	room := srv.Loop().Current()
	if room.ID != "fresh" || room.Global.AuthorID != "p1" {
		t.Fatalf("bootstrapped room = %+v", room.Global)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(RuntimeConfig{ActorID: "p1"}); err == nil {
		t.Fatal("expected error for missing room id")
	}
	if _, err := New(RuntimeConfig{RoomID: "r1"}); err == nil {
		t.Fatal("expected error for missing actor id")
	}
}
