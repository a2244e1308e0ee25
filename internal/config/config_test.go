package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaultsReportTimezone(t *testing.T) {
	t.Setenv("REPORT_TIMEZONE", "")

	cfg := Load()
	if cfg.ReportTimezone != "Asia/Singapore" {
		t.Fatalf("expected Asia/Singapore default, got %q", cfg.ReportTimezone)
	}
}

func TestLoadRejectsBogusReportCacheTTL(t *testing.T) {
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "nope")

	cfg := Load()
	if cfg.ReportCacheTTLSeconds != 60 {
		t.Fatalf("expected fallback TTL of 60, got %d", cfg.ReportCacheTTLSeconds)
	}
}
