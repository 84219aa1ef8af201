package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Engine.PipelineWorkers != 4 {
		t.Errorf("PipelineWorkers = %d, want 4", cfg.Engine.PipelineWorkers)
	}
	if cfg.Bus.Backend != "memory" {
		t.Errorf("Bus.Backend = %q, want memory", cfg.Bus.Backend)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := []byte(`
engine:
  replica_id: "7"
  pipeline_workers: 16
bus:
  backend: redis
  redis_dsn: redis://localhost:6379/0
`)
	if err := os.WriteFile(path, yamlBody, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Engine.ReplicaID != "7" {
		t.Errorf("ReplicaID = %q, want 7", cfg.Engine.ReplicaID)
	}
	if cfg.Engine.PipelineWorkers != 16 {
		t.Errorf("PipelineWorkers = %d, want 16", cfg.Engine.PipelineWorkers)
	}
	if cfg.Bus.Backend != "redis" {
		t.Errorf("Bus.Backend = %q, want redis", cfg.Bus.Backend)
	}
}

func TestDatabaseConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "eventcore", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=eventcore sslmode=disable"
	if got := db.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Engine.PipelineWorkers != 4 {
		t.Errorf("expected defaults preserved, got %+v", cfg.Engine)
	}
}
