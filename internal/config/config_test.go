package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.AppPort != 8080 {
		t.Errorf("expected default AppPort 8080, got %d", cfg.AppPort)
	}
	if cfg.EmbeddingDim != 512 {
		t.Errorf("expected default EmbeddingDim 512, got %d", cfg.EmbeddingDim)
	}
	if cfg.MatchThreshold != 0.5 {
		t.Errorf("expected default MatchThreshold 0.5, got %v", cfg.MatchThreshold)
	}
	if cfg.StoreDriver != StoreSQLite {
		t.Errorf("expected default StoreDriver sqlite, got %s", cfg.StoreDriver)
	}
	if cfg.ExtractorTimeout != 10*time.Second {
		t.Errorf("expected default ExtractorTimeout 10s, got %s", cfg.ExtractorTimeout)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("unexpected addr %s", cfg.Addr())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("MATCH_THRESHOLD", "0.45")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.EmbeddingDim != 128 || cfg.MatchThreshold != 0.45 || cfg.StoreDriver != StoreMemory {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"bad threshold": {"MATCH_THRESHOLD", "1.5"},
		"bad dimension": {"EMBEDDING_DIM", "0"},
		"bad driver":    {"STORE_DRIVER", "mongo"},
		"unparsable":    {"APP_PORT", "eighty"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestLoad_AuthRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when auth is enabled without a secret")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestGetCORSAllowedOrigins(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: " https://a.example , ,https://b.example"}
	got := cfg.GetCORSAllowedOrigins()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", got)
	}
	if (&Config{}).GetCORSAllowedOrigins() != nil {
		t.Fatal("expected nil for empty origins")
	}
}
