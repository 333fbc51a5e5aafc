package database

import "testing"

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig("postgres://app:pw@db:5433/live?sslmode=disable", 6)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConns != 6 {
		t.Errorf("max conns = %d, want 6", cfg.MaxConns)
	}
	if cfg.ConnConfig.Host != "db" || cfg.ConnConfig.Database != "live" {
		t.Errorf("dsn not carried: host=%q database=%q", cfg.ConnConfig.Host, cfg.ConnConfig.Database)
	}
}

func TestPoolConfigDriverDefault(t *testing.T) {
	cfg, err := poolConfig("postgres://localhost:5432/live?sslmode=disable", 0)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConns < 1 {
		t.Errorf("max conns = %d, want driver default >= 1", cfg.MaxConns)
	}
}

func TestPoolConfigRejectsBadDSN(t *testing.T) {
	if _, err := poolConfig("postgres://bad dsn with spaces", 4); err == nil {
		t.Fatal("expected parse error")
	}
}
