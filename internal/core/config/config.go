package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type TierParams struct {
	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
	TileRadius  int
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string

	// upstream endpoints the gateway proxies to
	OriginURL    string
	TileHosts    []string
	TileTemplate string
	FastAPIHosts []string

	RedisAddr      string
	CacheOpTimeout time.Duration
	FetchTimeout   time.Duration

	// generation versions; bumping one rotates the class on activate
	StaticVersion  int
	RuntimeVersion int
	TilesVersion   int

	CacheTTLDefault time.Duration
	CacheTTLOvr     map[string]time.Duration
	TileFrontSize   int

	AssetsPrefix  string
	ShellManifest []string
	IndexDocument string

	ProbeURL        string
	ProbeInterval   time.Duration
	ProbeBodyURL    string
	FastDownlinkMin float64

	TierPoor      TierParams
	TierModerate  TierParams
	TierGood      TierParams
	TierExcellent TierParams

	BatchMinPriority int
	BatchMaxAttempts int

	PreloadStride int

	SyncJournalPath string

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		OriginURL:    getenv("ORIGIN_URL", "http://localhost:3000"),
		TileHosts:    getlist("TILE_HOSTS", "tile.openstreetmap.org"),
		TileTemplate: getenv("TILE_TEMPLATE", "https://tile.openstreetmap.org/{z}/{x}/{y}.png"),
		FastAPIHosts: getlist("FAST_API_HOSTS", "nominatim.openstreetmap.org"),

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		FetchTimeout:   getduration("FETCH_TIMEOUT", 5*time.Second),

		StaticVersion:  getint("CACHE_STATIC_VERSION", 2),
		RuntimeVersion: getint("CACHE_RUNTIME_VERSION", 2),
		TilesVersion:   getint("CACHE_TILES_VERSION", 1),

		CacheTTLDefault: getduration("CACHE_TTL_DEFAULT", 10*time.Minute),
		CacheTTLOvr:     parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		TileFrontSize:   getint("TILE_FRONT_SIZE", 512),

		AssetsPrefix: getenv("ASSETS_PREFIX", "/assets/"),
		ShellManifest: getlist("SHELL_MANIFEST",
			"/,/index.html,/manifest.json,/icons/icon-192.png,/icons/icon-512.png"),
		IndexDocument: getenv("INDEX_DOCUMENT", "/index.html"),

		ProbeURL:        getenv("PROBE_URL", ""),
		ProbeInterval:   getduration("PROBE_INTERVAL", 15*time.Second),
		ProbeBodyURL:    getenv("PROBE_BODY_URL", ""),
		FastDownlinkMin: getfloat("FAST_DOWNLINK_MIN", 10.0),

		TierPoor: TierParams{
			BatchSize:   getint("TIER_POOR_BATCH_SIZE", 2),
			BatchDelay:  getduration("TIER_POOR_BATCH_DELAY", 5*time.Second),
			Concurrency: getint("TIER_POOR_CONCURRENCY", 1),
			TileRadius:  getint("TIER_POOR_TILE_RADIUS", 0),
		},
		TierModerate: TierParams{
			BatchSize:   getint("TIER_MODERATE_BATCH_SIZE", 4),
			BatchDelay:  getduration("TIER_MODERATE_BATCH_DELAY", 2*time.Second),
			Concurrency: getint("TIER_MODERATE_CONCURRENCY", 2),
			TileRadius:  getint("TIER_MODERATE_TILE_RADIUS", 1),
		},
		TierGood: TierParams{
			BatchSize:   getint("TIER_GOOD_BATCH_SIZE", 8),
			BatchDelay:  getduration("TIER_GOOD_BATCH_DELAY", 500*time.Millisecond),
			Concurrency: getint("TIER_GOOD_CONCURRENCY", 4),
			TileRadius:  getint("TIER_GOOD_TILE_RADIUS", 2),
		},
		TierExcellent: TierParams{
			BatchSize:   getint("TIER_EXCELLENT_BATCH_SIZE", 16),
			BatchDelay:  getduration("TIER_EXCELLENT_BATCH_DELAY", 200*time.Millisecond),
			Concurrency: getint("TIER_EXCELLENT_CONCURRENCY", 8),
			TileRadius:  getint("TIER_EXCELLENT_TILE_RADIUS", 3),
		},

		BatchMinPriority: getint("BATCH_MIN_PRIORITY", 0),
		BatchMaxAttempts: getint("BATCH_MAX_ATTEMPTS", 5),

		PreloadStride: getint("PRELOAD_STRIDE", 3),

		SyncJournalPath: getenv("SYNC_JOURNAL_PATH", ""),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "poi-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "tilegate-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getlist(k, def string) []string {
	raw := getenv(k, def)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "pois=5m,tiles=12h" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.Split(s, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
