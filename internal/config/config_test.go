package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsSharedPort(t *testing.T) {
	cfg := Default()
	cfg.Groups.Port = cfg.Tempo.Port
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when tempo and groups share a port")
	}
}

func TestValidateRejectsNonMulticastGroup(t *testing.T) {
	cfg := Default()
	cfg.Tempo.MulticastGroup = "10.0.0.1"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for a non-multicast group address")
	}
}

func TestEnsureCreatesDefaultThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harmonia.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (create): %v", err)
	}
	if !created {
		t.Fatalf("expected created=true on first Ensure")
	}
	if cfg.Tempo.Port != Default().Tempo.Port {
		t.Fatalf("expected default tempo port, got %d", cfg.Tempo.Port)
	}

	cfg2, created2, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (load): %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on second Ensure")
	}
	if cfg2 != cfg {
		t.Fatalf("expected identical config on reload: %+v vs %+v", cfg2, cfg)
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harmonia.json")
	cfg := Default()
	cfg.Groups.Quantum = 0
	if err := Save(path, cfg); err == nil {
		t.Fatalf("expected Save to reject an invalid config")
	}
}
