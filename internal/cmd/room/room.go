// Package room parses room service flags and launches the authoritative loop.
package room

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/ICTLearningSciences/math-meridio-client-sub000/internal/platform/cmd"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/app"
)

// Config holds room command configuration.
type Config struct {
	Port             int           `env:"MERIDIO_ROOM_PORT" envDefault:"8095"`
	DBPath           string        `env:"MERIDIO_ROOM_DB_PATH" envDefault:"data/room.db"`
	RoomID           string        `env:"MERIDIO_ROOM_ID"`
	ActorID          string        `env:"MERIDIO_ROOM_ACTOR_ID"`
	GraphPath        string        `env:"MERIDIO_ROOM_GRAPH_PATH"`
	Interval         time.Duration `env:"MERIDIO_ROOM_INTERVAL" envDefault:"1s"`
	PersistTruthKeys string        `env:"MERIDIO_ROOM_PERSIST_TRUTH_KEYS" envDefault:"viewedSimulation"`
	OpenAIKey        string        `env:"MERIDIO_OPENAI_API_KEY"`
	Model            string        `env:"MERIDIO_ROOM_MODEL" envDefault:"gpt-4o-mini"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The room health server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the room SQLite database")
	fs.StringVar(&cfg.RoomID, "room", cfg.RoomID, "The room id to run the loop for")
	fs.StringVar(&cfg.ActorID, "actor", cfg.ActorID, "The authoritative participant id")
	fs.StringVar(&cfg.GraphPath, "graph", cfg.GraphPath, "Path to the dialogue graph JSON")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Polling period between cycles")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the authoritative room process.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRoom, func(context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			Addr:             fmt.Sprintf(":%d", cfg.Port),
			DBPath:           cfg.DBPath,
			RoomID:           cfg.RoomID,
			ActorID:          cfg.ActorID,
			GraphPath:        cfg.GraphPath,
			Interval:         cfg.Interval,
			PersistTruthKeys: splitKeys(cfg.PersistTruthKeys),
			OpenAIKey:        cfg.OpenAIKey,
			Model:            cfg.Model,
		})
	})
}

func splitKeys(value string) []string {
	var keys []string
	for _, key := range strings.Split(value, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
