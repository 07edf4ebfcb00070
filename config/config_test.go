package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvFallsBackToDefault(t *testing.T) {
	os.Unsetenv("COND_TEST_VAR")
	if got := getEnv("COND_TEST_VAR", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %q, want fallback", got)
	}
	t.Setenv("COND_TEST_VAR", "set")
	if got := getEnv("COND_TEST_VAR", "fallback"); got != "set" {
		t.Errorf("getEnv() = %q, want set", got)
	}
}

func TestGetEnvIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("COND_TEST_INT", "42")
	if got := getEnvInt("COND_TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	t.Setenv("COND_TEST_INT", "not-a-number")
	if got := getEnvInt("COND_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with bad value = %d, want fallback 7", got)
	}
}

func TestGetEnvSecondsMinutesHours(t *testing.T) {
	t.Setenv("COND_TEST_SECONDS", "5")
	if got := getEnvSeconds("COND_TEST_SECONDS", 99); got != 5*time.Second {
		t.Errorf("getEnvSeconds() = %v, want 5s", got)
	}
	os.Unsetenv("COND_TEST_MINUTES")
	if got := getEnvMinutes("COND_TEST_MINUTES", 10); got != 10*time.Minute {
		t.Errorf("getEnvMinutes() default = %v, want 10m", got)
	}
	t.Setenv("COND_TEST_HOURS", "2")
	if got := getEnvHours("COND_TEST_HOURS", 1); got != 2*time.Hour {
		t.Errorf("getEnvHours() = %v, want 2h", got)
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{}
	if err := cfg.validate(); err == nil {
		t.Error("validate() = nil, want error when DatabaseURL is empty")
	}
	cfg.DatabaseURL = "postgres://localhost/db"
	if err := cfg.validate(); err != nil {
		t.Errorf("validate() error = %v, want nil", err)
	}
}

// chdirTemp switches the working directory to dir for the duration of the
// test, restoring it on cleanup — loadSiteConfigs reads a relative path.
func chdirTemp(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoadSiteConfigsMissingDirIsNotAnError(t *testing.T) {
	chdirTemp(t, t.TempDir())
	cfg := &Config{Sites: make(map[string]*SiteConfig)}
	if err := cfg.loadSiteConfigs(); err != nil {
		t.Errorf("loadSiteConfigs() error = %v, want nil when config/sources is absent", err)
	}
	if len(cfg.Sites) != 0 {
		t.Errorf("Sites = %v, want empty", cfg.Sites)
	}
}

func TestLoadSiteConfigsParsesYAMLFilesKeyedByID(t *testing.T) {
	root := t.TempDir()
	sourcesDir := filepath.Join(root, "config", "sources")
	if err := os.MkdirAll(sourcesDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	suumoYAML := "id: suumo\nname: SUUMO\nbase_url: https://suumo.jp\npriority_index: 1\nrate_limit_ms: 500\narea_codes: [\"13101\", \"13102\"]\n"
	if err := os.WriteFile(filepath.Join(sourcesDir, "suumo.yaml"), []byte(suumoYAML), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	// Non-YAML files in the directory must be ignored.
	if err := os.WriteFile(filepath.Join(sourcesDir, "README.md"), []byte("not yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	chdirTemp(t, root)
	cfg := &Config{Sites: make(map[string]*SiteConfig)}
	if err := cfg.loadSiteConfigs(); err != nil {
		t.Fatalf("loadSiteConfigs() error = %v", err)
	}
	site, ok := cfg.Sites["suumo"]
	if !ok {
		t.Fatal("Sites missing suumo entry")
	}
	if site.Name != "SUUMO" || site.PriorityIndex != 1 || site.RateLimitMS != 500 {
		t.Errorf("parsed site = %+v, want name SUUMO priority_index 1 rate_limit_ms 500", site)
	}
	if len(site.AreaCodes) != 2 || site.AreaCodes[0] != "13101" {
		t.Errorf("AreaCodes = %v, want [13101 13102]", site.AreaCodes)
	}
}

func TestLoadSiteConfigsRejectsMalformedYAML(t *testing.T) {
	root := t.TempDir()
	sourcesDir := filepath.Join(root, "config", "sources")
	if err := os.MkdirAll(sourcesDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(sourcesDir, "broken.yaml"), []byte("id: [unterminated"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	chdirTemp(t, root)
	cfg := &Config{Sites: make(map[string]*SiteConfig)}
	if err := cfg.loadSiteConfigs(); err == nil {
		t.Error("loadSiteConfigs() error = nil, want error for malformed YAML")
	}
}

func TestLoadRequiresDatabaseURLEnv(t *testing.T) {
	chdirTemp(t, t.TempDir())
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want error when DATABASE_URL is unset")
	}
}

func TestLoadAppliesDefaultsWithDatabaseURLSet(t *testing.T) {
	chdirTemp(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/condoreconcile")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ParallelLimit != 3 {
		t.Errorf("ParallelLimit = %d, want default 3", cfg.ParallelLimit)
	}
	if cfg.ScrapingPauseTimeout != 1800*time.Second {
		t.Errorf("ScrapingPauseTimeout = %v, want 1800s", cfg.ScrapingPauseTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}
