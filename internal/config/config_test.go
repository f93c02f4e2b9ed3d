package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so host settings do not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"ENV_NAME", "MYSQL_DSN", "MODEL_API_KEY", "CACHE_BACKEND", "MEMCACHED_ADDRS", "CITIES_SOURCE", "MODELS_BACKEND"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDir_MinimalUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "8080"},
		{"ServiceVersion", cfg.ServiceVersion, "dev"},
		{"MaxBodyBytes", cfg.MaxBodyBytes, int64(64 << 10)},
		{"CitiesSource", cfg.CitiesSource, CitiesSourceCSV},
		{"CitiesPath", cfg.CitiesPath, "data/cities.csv"},
		{"MySQLTable", cfg.MySQLTable, "city_farming_data"},
		{"ModelsBackend", cfg.ModelsBackend, ModelsBackendLocal},
		{"CropModel.Path", cfg.CropModel.Path, "data/models/crop.yaml"},
		{"FertilizerModel.Path", cfg.FertilizerModel.Path, "data/models/fertilizer.yaml"},
		{"ModelTimeout", cfg.ModelTimeout, 2 * time.Second},
		{"ModelVersion", cfg.ModelVersion, "v1"},
		{"CacheBackend", cfg.CacheBackend, CacheBackendInMemory},
		{"CacheTTL", cfg.CacheTTL, 10 * time.Minute},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"CoalesceEnabled", cfg.CoalesceEnabled, true},
		{"ShutdownInFlightCheckInterval", cfg.ShutdownInFlightCheckInterval, 100 * time.Millisecond},
		{"CityMinLength", cfg.CityMinLength, 1},
		{"CityMaxLength", cfg.CityMaxLength, 100},
	}
	for _, c := range checks {
		if !reflect.DeepEqual(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadDir_FullFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, fullEnvYAML)

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.ModelsBackend != ModelsBackendRemote {
		t.Errorf("ModelsBackend = %q, want remote", cfg.ModelsBackend)
	}
	if cfg.CropModel.URL != "http://models:8501/v1/models/crop:predict" {
		t.Errorf("CropModel.URL = %q", cfg.CropModel.URL)
	}
	if cfg.FertilizerModel.HealthURL != "http://models:8501/v1/models/fertilizer" {
		t.Errorf("FertilizerModel.HealthURL = %q", cfg.FertilizerModel.HealthURL)
	}
	if cfg.CacheBackend != CacheBackendNone {
		t.Errorf("CacheBackend = %q, want none", cfg.CacheBackend)
	}
	if cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = true, want false")
	}
	if cfg.CircuitBreakerTimeout != 15*time.Second {
		t.Errorf("CircuitBreakerTimeout = %v, want 15s", cfg.CircuitBreakerTimeout)
	}
	if !reflect.DeepEqual(cfg.Pesticides["rice"], []string{"Tricyclazole"}) {
		t.Errorf("Pesticides[rice] = %v", cfg.Pesticides["rice"])
	}
	if !reflect.DeepEqual(cfg.PesticideDefault, []string{"Neem Oil"}) {
		t.Errorf("PesticideDefault = %v", cfg.PesticideDefault)
	}
	if !reflect.DeepEqual(cfg.TrackedCrops, []string{"rice", "maize"}) {
		t.Errorf("TrackedCrops = %v", cfg.TrackedCrops)
	}
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("ServiceVersion = %q, want 1.2.3", cfg.ServiceVersion)
	}
}

func TestLoadDir_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", " Memcached ")
	t.Setenv("MEMCACHED_ADDRS", "cache-a:11211,cache-b:11211")
	t.Setenv("CITIES_SOURCE", "mysql")
	t.Setenv("MYSQL_DSN", "user:pw@tcp(db:3306)/agri")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.CacheBackend != CacheBackendMemcached {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "cache-a:11211,cache-b:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.CitiesSource != CitiesSourceMySQL {
		t.Errorf("CitiesSource = %q, want mysql", cfg.CitiesSource)
	}
	if cfg.MySQLDSN != "user:pw@tcp(db:3306)/agri" {
		t.Errorf("MySQLDSN = %q", cfg.MySQLDSN)
	}
}

func TestLoadDir_MySQLRequiresDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("CITIES_SOURCE", "mysql")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadDir(dir)
	if err == nil {
		t.Fatal("LoadDir() expected error when mysql source has no DSN, got nil")
	}
	if cfg != nil {
		t.Fatalf("LoadDir() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "MYSQL_DSN") {
		t.Errorf("LoadDir() error = %v, want message containing MYSQL_DSN", err)
	}
}

func TestLoadDir_SecretsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+"cities:\n  source: mysql\n")
	writeSecretsFile(t, dir, "mysql_dsn: from-secrets@tcp(db)/agri\nmodel_api_key: secret-key\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.MySQLDSN != "from-secrets@tcp(db)/agri" {
		t.Errorf("MySQLDSN = %q, want value from secrets file", cfg.MySQLDSN)
	}
	if cfg.ModelAPIKey != "secret-key" {
		t.Errorf("ModelAPIKey = %q, want value from secrets file", cfg.ModelAPIKey)
	}
}

func TestLoadDir_EnvSecretBeatsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODEL_API_KEY", "from-env")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "model_api_key: from-file\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.ModelAPIKey != "from-env" {
		t.Errorf("ModelAPIKey = %q, want from-env", cfg.ModelAPIKey)
	}
}

func TestLoadDir_InvalidSecretsYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "mysql_dsn: [unclosed\n")

	if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "secrets") {
		t.Fatalf("LoadDir() error = %v, want secrets parse error", err)
	}
}

func TestLoadDir_InvalidConfigYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "server: [unclosed\n")

	if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("LoadDir() error = %v, want parse error", err)
	}
}

func TestLoadDir_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := LoadDir(t.TempDir())
	if err == nil {
		t.Fatal("LoadDir() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("LoadDir() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("LoadDir() error = %v, want message about config file not found", err)
	}
}

func TestLoadDir_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{"unknown cache backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"unknown cities source", "cities:\n  source: postgres\n", "cities.source"},
		{"unknown models backend", "models:\n  backend: onnx\n", "models.backend"},
		{"remote without urls", "models:\n  backend: remote\n", "models.crop.url"},
		{"zero model timeout", "models:\n  timeout: \"0s\"\n", "models.timeout"},
		{"bad version", "models:\n  version: \"v 1\"\n", "models.version"},
		{"min above max", "validation:\n  city_min_length: 10\n  city_max_length: 5\n", "city_min_length"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, minimalEnvYAML+tc.extra)
			_, err := LoadDir(dir)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("LoadDir() error = %v, want message containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadDir_RequestTimeoutRaisedAboveModelTimeout(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+"models:\n  timeout: \"8s\"\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.RequestTimeout != 9*time.Second {
		t.Errorf("RequestTimeout = %v, want 9s", cfg.RequestTimeout)
	}
}

func TestLoad_ReadsWorkingDirectory(t *testing.T) {
	clearEnv(t)
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, filepath.Join(dir, "config"), "server:\n  port: \"9090\"\n")
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t)
	root := findProjectRoot(t)

	cfg, err := LoadDir(filepath.Join(root, "config"))
	if err != nil {
		t.Fatalf("LoadDir(project config) error = %v", err)
	}
	if cfg.CitiesSource != CitiesSourceCSV || cfg.ModelsBackend != ModelsBackendLocal {
		t.Errorf("dev config = %s/%s, want csv/local", cfg.CitiesSource, cfg.ModelsBackend)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"not-a-duration", time.Second},
		{"0s", time.Second},
		{"-5s", time.Second},
		{" 250ms ", 250 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := parseDuration(tc.in, time.Second); got != tc.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Second); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

// minimalEnvYAML relies on defaults for every section except server.
const minimalEnvYAML = `
server:
  port: "8080"
`

const fullEnvYAML = `
service:
  version: "1.2.3"
server:
  port: "8081"
request:
  timeout: "5s"
models:
  backend: remote
  timeout: "2s"
  crop:
    url: "http://models:8501/v1/models/crop:predict"
    health_url: "http://models:8501/v1/models/crop"
  fertilizer:
    url: "http://models:8501/v1/models/fertilizer:predict"
    health_url: "http://models:8501/v1/models/fertilizer"
cache:
  backend: none
reliability:
  circuit_breaker:
    timeout: "15s"
  coalesce:
    enabled: false
pesticides:
  default: ["Neem Oil"]
  crops:
    rice: ["Tricyclazole"]
metrics:
  tracked_crops: [rice, maize]
`

// writeEnvFile writes dev.yaml directly into dir.
func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
// Run with -v to see skip reasons.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("loadSecrets_read_error", func(t *testing.T) {
		t.Skip("read-error path (non-IsNotExist) requires simulated ReadFile failure; not worth portability cost")
	})
	t.Run("Load_getwd_error", func(t *testing.T) {
		t.Skip("os.Getwd failure needs a deleted working directory; platform specific")
	})
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
