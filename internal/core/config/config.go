// Package config reads process settings from the environment and the
// declarative tileset file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type CacheCfg struct {
	// none, memory, file, redis or s3
	Backend           string
	TTL               time.Duration
	OpTimeout         time.Duration
	MemorySize        int
	Dir               string
	RedisAddr         string
	RedisPrefix       string
	// zero values keep the redis store defaults
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3PathStyle       bool
}

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	H3Res   int
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	TilesetsFile    string
	DatasourceDSN   string
	DBMaxOpenConns  int
	Workers         int
	LayerWorkers    int
	MaxAge          time.Duration
	CORSOrigin      string
	MetricsEnabled  bool
	MetricsPath     string
	ShutdownTimeout time.Duration
	Cache           CacheCfg
	Events          EventsCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:            getenv("ADDR", ":6767"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		TilesetsFile:    getenv("TILESETS_FILE", "tilesets.yaml"),
		DatasourceDSN:   getenv("DATASOURCE_DSN", ""),
		DBMaxOpenConns:  getint("DB_MAX_OPEN_CONNS", 8),
		Workers:         getint("GENERATION_WORKERS", 8),
		LayerWorkers:    getint("LAYER_WORKERS", 4),
		MaxAge:          getduration("CACHE_CONTROL_MAX_AGE", 12*time.Hour),
		CORSOrigin:      getenv("CORS_ORIGIN", "*"),
		MetricsEnabled:  getbool("METRICS_ENABLED", true),
		MetricsPath:     getenv("METRICS_PATH", "/metrics"),
		ShutdownTimeout: getduration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Cache: CacheCfg{
			Backend:     strings.ToLower(getenv("CACHE_BACKEND", "memory")),
			TTL:         getduration("CACHE_TTL", 0),
			OpTimeout:   getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			MemorySize:  getint("CACHE_MEMORY_SIZE", 10000),
			Dir:         getenv("CACHE_DIR", "/tmp/mvtcache"),
			RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
			RedisPrefix: getenv("REDIS_PREFIX", "tiles:"),

			RedisPassword:     getenv("REDIS_PASSWORD", ""),
			RedisDB:           getint("REDIS_DB", 0),
			RedisPoolSize:     getint("REDIS_POOL_SIZE", 0),
			RedisMinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 0),
			RedisDialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 0),
			RedisReadTimeout:  getduration("REDIS_READ_TIMEOUT", 0),
			RedisWriteTimeout: getduration("REDIS_WRITE_TIMEOUT", 0),

			S3Bucket:    getenv("S3_BUCKET", ""),
			S3Prefix:    getenv("S3_PREFIX", ""),
			S3Region:    getenv("S3_REGION", ""),
			S3Endpoint:  getenv("S3_ENDPOINT", ""),
			S3PathStyle: getbool("S3_PATH_STYLE", false),
		},
		Events: EventsCfg{
			Enabled: getbool("TILE_EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "tile-events"),
			H3Res:   res,
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

// accepts Go durations ("90s") or bare seconds ("43200")
func getduration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// BrokerList splits the comma separated broker list.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
