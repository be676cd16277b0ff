package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "OPEN_DURATION_SECONDS", "ASSESSMENT_DURATION_SECONDS", "GRADE_MAX", "RECONCILE_INTERVAL_SECONDS", "S3_BUCKET", "PANDOC_PATH"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.Tunables.OpenDuration != 14*24*time.Hour {
		t.Fatalf("expected 14 day open duration, got %s", cfg.Tunables.OpenDuration)
	}
	if cfg.Tunables.AssessmentDuration != time.Minute {
		t.Fatalf("expected 60s assessment duration, got %s", cfg.Tunables.AssessmentDuration)
	}
	if cfg.Tunables.GradeMax != 10 {
		t.Fatalf("expected grade max 10, got %d", cfg.Tunables.GradeMax)
	}
	if cfg.S3Bucket != "icvc-s3-uploads" {
		t.Fatalf("expected default bucket, got %q", cfg.S3Bucket)
	}
	if cfg.PandocPath != "pandoc" {
		t.Fatalf("expected pandoc on PATH by default, got %q", cfg.PandocPath)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("OPEN_DURATION_SECONDS", "120")
	t.Setenv("RECONCILE_INTERVAL_SECONDS", "5")
	t.Setenv("GRADE_MAX", "100")
	t.Setenv("S3_SECURE", "false")
	t.Setenv("OPERATOR_IDS", " root, ,ops-2 ")
	cfg := Load()
	if len(cfg.OperatorIDs) != 2 || cfg.OperatorIDs[0] != "root" || cfg.OperatorIDs[1] != "ops-2" {
		t.Fatalf("unexpected operator ids %q", cfg.OperatorIDs)
	}
	if cfg.Tunables.OpenDuration != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", cfg.Tunables.OpenDuration)
	}
	if cfg.Tunables.ReconcileInterval != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.Tunables.ReconcileInterval)
	}
	if cfg.Tunables.GradeMax != 100 {
		t.Fatalf("expected 100, got %d", cfg.Tunables.GradeMax)
	}
	if cfg.S3Secure {
		t.Fatal("expected S3_SECURE=false to disable TLS")
	}
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("ASSESSMENT_DURATION_SECONDS", "soon")
	cfg := Load()
	if cfg.Tunables.AssessmentDuration != time.Minute {
		t.Fatalf("expected fallback for invalid value, got %s", cfg.Tunables.AssessmentDuration)
	}
}
