package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding environment variable is absent.
const (
	DefaultListenAddr    = ":8080"
	DefaultCityDBPath    = "data/GeoLite2-City.mmdb"
	DefaultCacheTTL      = 300 * time.Second
	DefaultLogDir        = "logs"
	DefaultFlushInterval = 30 * time.Second
)

// Config holds the runtime settings and gating policy for the engine.
//
// Policy fields (BlockVPNTor, StrictMode, API keys) are read once at startup
// and handed to the components that need them; nothing here is persisted.
type Config struct {
	// ListenAddr is the bind address of the ops HTTP server.
	ListenAddr string

	// CityDBPath is the MaxMind City database used for geo lookups (required).
	CityDBPath string

	// ASNDBPath is the optional MaxMind ASN database. When empty, geo
	// signals carry no ASN details.
	ASNDBPath string

	// BlockVPNTor enables risk contributions from the Tor and VPN signals.
	// When false those signals still annotate matches but score zero.
	BlockVPNTor bool

	// StrictMode lowers the block threshold from 70 to 40.
	StrictMode bool

	// AbuseIPDBKey enables the IP reputation signal. Empty key skips it.
	AbuseIPDBKey string

	// VPNAPIKey enables the remote proxy/hosting lookup stage of the VPN
	// signal. Empty key limits that signal to the local range list.
	VPNAPIKey string

	// CacheTTL is how long a completed analysis stays valid in the cache.
	CacheTTL time.Duration

	// RedisURL selects the Redis-backed analysis cache when set
	// (redis://host:port/db). Empty means in-memory.
	RedisURL string

	// LogDir is where per-day evaluation logs are written.
	LogDir string

	// FlushInterval is the timer driving periodic log flushes.
	FlushInterval time.Duration
}

// Validate checks that the required configuration fields are present.
func (c Config) Validate() error {
	if c.CityDBPath == "" {
		return fmt.Errorf("config: CityDBPath is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: CacheTTL must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: FlushInterval must be positive")
	}
	return nil
}

// LoadFromEnv creates a Config from environment variables:
//
//	REQSHIELD_LISTEN          - ops server bind address (default ":8080")
//	REQSHIELD_GEOIP_CITY_DB   - MaxMind City database path (default "data/GeoLite2-City.mmdb")
//	REQSHIELD_GEOIP_ASN_DB    - optional MaxMind ASN database path
//	REQSHIELD_BLOCK_VPN_TOR   - "true" enables Tor/VPN risk scoring
//	REQSHIELD_STRICT_MODE     - "true" lowers the block threshold to 40
//	REQSHIELD_ABUSEIPDB_KEY   - AbuseIPDB API key (empty disables reputation)
//	REQSHIELD_VPNAPI_KEY      - proxy-check API key (empty disables the remote stage)
//	REQSHIELD_CACHE_TTL       - analysis cache TTL, Go duration (default "300s")
//	REQSHIELD_REDIS_URL       - Redis URL for the analysis cache (empty: in-memory)
//	REQSHIELD_LOG_DIR         - evaluation log directory (default "logs")
//	REQSHIELD_FLUSH_INTERVAL  - log flush timer, Go duration (default "30s")
func LoadFromEnv() Config {
	return configFromEnv()
}

// LoadFromDotEnv loads environment variables from a .env file and then reads
// the Config from them. If the file does not exist it silently falls back to
// the current process environment.
func LoadFromDotEnv(filenames ...string) Config {
	// godotenv.Load does NOT override existing env vars.
	_ = godotenv.Load(filenames...)
	return configFromEnv()
}

func configFromEnv() Config {
	return Config{
		ListenAddr:    envOr("REQSHIELD_LISTEN", DefaultListenAddr),
		CityDBPath:    envOr("REQSHIELD_GEOIP_CITY_DB", DefaultCityDBPath),
		ASNDBPath:     os.Getenv("REQSHIELD_GEOIP_ASN_DB"),
		BlockVPNTor:   envBool("REQSHIELD_BLOCK_VPN_TOR"),
		StrictMode:    envBool("REQSHIELD_STRICT_MODE"),
		AbuseIPDBKey:  os.Getenv("REQSHIELD_ABUSEIPDB_KEY"),
		VPNAPIKey:     os.Getenv("REQSHIELD_VPNAPI_KEY"),
		CacheTTL:      envDuration("REQSHIELD_CACHE_TTL", DefaultCacheTTL),
		RedisURL:      os.Getenv("REQSHIELD_REDIS_URL"),
		LogDir:        envOr("REQSHIELD_LOG_DIR", DefaultLogDir),
		FlushInterval: envDuration("REQSHIELD_FLUSH_INTERVAL", DefaultFlushInterval),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
