package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source and backend names accepted in config files and env overrides.
const (
	CitiesSourceCSV   = "csv"
	CitiesSourceMySQL = "mysql"

	ModelsBackendLocal  = "local"
	ModelsBackendRemote = "remote"

	CacheBackendNone      = "none"
	CacheBackendInMemory  = "in_memory"
	CacheBackendMemcached = "memcached"
)

// ModelConfig locates one predictive model. Path is used by the local backend,
// URL and HealthURL by the remote backend.
type ModelConfig struct {
	Path      string
	URL       string
	HealthURL string
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServiceVersion string
	ServerPort     string

	RequestTimeout time.Duration
	MaxBodyBytes   int64

	CitiesSource        string // "csv" or "mysql"
	CitiesPath          string
	MySQLDSN            string
	MySQLTable          string
	MySQLConnectTimeout time.Duration

	ModelsBackend   string // "local" or "remote"
	CropModel       ModelConfig
	FertilizerModel ModelConfig
	ModelTimeout    time.Duration
	ModelAPIKey     string
	// ModelVersion namespaces cached model output so a model swap never serves stale labels.
	ModelVersion string

	CacheBackend          string // "none", "in_memory" or "memcached"
	CacheTTL              time.Duration
	CacheMaxEntries       int
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration
	CircuitBreakerInterval         time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	// Pesticides overrides or extends the built-in crop table; an empty list removes a crop.
	Pesticides       map[string][]string
	PesticideDefault []string

	TrackedCrops []string

	CityMinLength int
	CityMaxLength int
}

type modelFile struct {
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	HealthURL string `yaml:"health_url"`
}

type fileConfig struct {
	Service struct {
		Version string `yaml:"version"`
	} `yaml:"service"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout      string `yaml:"timeout"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"request"`

	Cities struct {
		Source string `yaml:"source"`
		Path   string `yaml:"path"`
		MySQL  struct {
			Table          string `yaml:"table"`
			ConnectTimeout string `yaml:"connect_timeout"`
		} `yaml:"mysql"`
	} `yaml:"cities"`

	Models struct {
		Backend    string    `yaml:"backend"`
		Timeout    string    `yaml:"timeout"`
		Version    string    `yaml:"version"`
		Crop       modelFile `yaml:"crop"`
		Fertilizer modelFile `yaml:"fertilizer"`
	} `yaml:"models"`

	Cache struct {
		Backend    string `yaml:"backend"`
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"max_entries"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
			Interval         string `yaml:"interval"`
		} `yaml:"circuit_breaker"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Pesticides struct {
		Default []string            `yaml:"default"`
		Crops   map[string][]string `yaml:"crops"`
	} `yaml:"pesticides"`

	Metrics struct {
		TrackedCrops []string `yaml:"tracked_crops"`
	} `yaml:"metrics"`

	Validation struct {
		CityMinLength int `yaml:"city_min_length"`
		CityMaxLength int `yaml:"city_max_length"`
	} `yaml:"validation"`
}

type secretsFile struct {
	MySQLDSN    string `yaml:"mysql_dsn"`
	ModelAPIKey string `yaml:"model_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml
// relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(filepath.Join(cwd, "config"))
}

// LoadDir reads {ENV_NAME}.yaml (default dev) and the optional secrets.yaml from dir.
// Secrets come from MYSQL_DSN / MODEL_API_KEY env first, then the secrets file.
func LoadDir(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServiceVersion = strings.TrimSpace(fc.Service.Version)
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.MaxBodyBytes = fc.Request.MaxBodyBytes
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	cfg.CitiesSource = firstNonEmpty(envLower("CITIES_SOURCE"), strings.ToLower(strings.TrimSpace(fc.Cities.Source)), CitiesSourceCSV)
	cfg.CitiesPath = strings.TrimSpace(fc.Cities.Path)
	if cfg.CitiesPath == "" {
		cfg.CitiesPath = "data/cities.csv"
	}
	cfg.MySQLDSN = firstNonEmpty(strings.TrimSpace(os.Getenv("MYSQL_DSN")), sec.MySQLDSN)
	cfg.MySQLTable = strings.TrimSpace(fc.Cities.MySQL.Table)
	if cfg.MySQLTable == "" {
		cfg.MySQLTable = "city_farming_data"
	}
	cfg.MySQLConnectTimeout = parseDuration(fc.Cities.MySQL.ConnectTimeout, 30*time.Second)

	cfg.ModelsBackend = firstNonEmpty(envLower("MODELS_BACKEND"), strings.ToLower(strings.TrimSpace(fc.Models.Backend)), ModelsBackendLocal)
	cfg.CropModel = ModelConfig(fc.Models.Crop)
	cfg.FertilizerModel = ModelConfig(fc.Models.Fertilizer)
	if cfg.CropModel.Path == "" {
		cfg.CropModel.Path = "data/models/crop.yaml"
	}
	if cfg.FertilizerModel.Path == "" {
		cfg.FertilizerModel.Path = "data/models/fertilizer.yaml"
	}
	cfg.ModelTimeout = parseDurationOrZero(fc.Models.Timeout, 2*time.Second)
	cfg.ModelAPIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("MODEL_API_KEY")), sec.ModelAPIKey)
	cfg.ModelVersion = strings.TrimSpace(fc.Models.Version)
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = "v1"
	}

	cfg.CacheBackend = firstNonEmpty(envLower("CACHE_BACKEND"), strings.ToLower(strings.TrimSpace(fc.Cache.Backend)), CacheBackendInMemory)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 10000
	}
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)
	cfg.CircuitBreakerInterval = parseDuration(cb.Interval, 60*time.Second)

	cfg.CoalesceEnabled = true
	if fc.Reliability.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.Coalesce.Timeout, 10*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 5
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.Pesticides = fc.Pesticides.Crops
	cfg.PesticideDefault = fc.Pesticides.Default
	cfg.TrackedCrops = fc.Metrics.TrackedCrops

	cfg.CityMinLength = fc.Validation.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 1
	}
	cfg.CityMaxLength = fc.Validation.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	sec.MySQLDSN = strings.TrimSpace(sec.MySQLDSN)
	sec.ModelAPIKey = strings.TrimSpace(sec.ModelAPIKey)
	return sec, nil
}

func envLower(name string) string {
	return strings.ToLower(strings.TrimSpace(os.Getenv(name)))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// validate performs post-load validation. RequestTimeout is raised above ModelTimeout
// so a model call can finish before the request deadline.
func validate(cfg *Config) error {
	if cfg.ModelTimeout <= 0 {
		return fmt.Errorf("models.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ModelTimeout {
		cfg.RequestTimeout = cfg.ModelTimeout + time.Second
	}

	switch cfg.CitiesSource {
	case CitiesSourceCSV:
		if cfg.CitiesPath == "" {
			return fmt.Errorf("cities.path is required for csv source")
		}
	case CitiesSourceMySQL:
		if cfg.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN required for mysql city source (set env or config/secrets.yaml mysql_dsn)")
		}
	default:
		return fmt.Errorf("cities.source must be csv or mysql, got %q", cfg.CitiesSource)
	}

	switch cfg.ModelsBackend {
	case ModelsBackendLocal:
	case ModelsBackendRemote:
		if cfg.CropModel.URL == "" || cfg.FertilizerModel.URL == "" {
			return fmt.Errorf("models.crop.url and models.fertilizer.url are required for remote backend")
		}
	default:
		return fmt.Errorf("models.backend must be local or remote, got %q", cfg.ModelsBackend)
	}

	switch cfg.CacheBackend {
	case CacheBackendNone, CacheBackendInMemory, CacheBackendMemcached:
	default:
		return fmt.Errorf("cache.backend must be none, in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if !namespacePattern.MatchString(cfg.ModelVersion) {
		return fmt.Errorf("models.version %q must match %s", cfg.ModelVersion, namespacePattern)
	}

	if cfg.PesticideDefault != nil && len(cfg.PesticideDefault) == 0 {
		return fmt.Errorf("pesticides.default must not be empty")
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("validation.city_min_length (%d) exceeds city_max_length (%d)", cfg.CityMinLength, cfg.CityMaxLength)
	}
	return nil
}
