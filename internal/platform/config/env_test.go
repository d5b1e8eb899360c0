package config

import "testing"

type testConfig struct {
	RoomID string `env:"MERIDIO_TEST_ROOM_ID" envDefault:"room-default"`
	Period int    `env:"MERIDIO_TEST_PERIOD" envDefault:"1000"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.RoomID != "room-default" {
		t.Fatalf("room id = %q, want %q", cfg.RoomID, "room-default")
	}
	if cfg.Period != 1000 {
		t.Fatalf("period = %d, want 1000", cfg.Period)
	}
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("MERIDIO_TEST_ROOM_ID", "room-42")
	t.Setenv("MERIDIO_TEST_PERIOD", "250")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.RoomID != "room-42" {
		t.Fatalf("room id = %q, want %q", cfg.RoomID, "room-42")
	}
	if cfg.Period != 250 {
		t.Fatalf("period = %d, want 250", cfg.Period)
	}
}
