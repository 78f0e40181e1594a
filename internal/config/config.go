package config

import (
	"net"
	"os"
	"strconv"
	"time"
)

// Config agrupa toda la configuración por entorno del servicio.
// Valores por defecto pensados para un nodo local con Redis en 6379.
type Config struct {
	RedisHost     string
	RedisPort     string
	RedisPassword string

	ListenAddr string

	Concurrency int    // slots de ejecución del worker
	JobsRoot    string // raíz de workspaces por job
	ConfigDir   string // plantillas de config del launcher
	LauncherBin string // binario del sandbox launcher

	LanguagesFile   string // catálogo TOML opcional (vacío = embebido)
	LauncherLogPat  string // regex de ruido del launcher en stderr
	ResultTTL       time.Duration
	CacheTTL        time.Duration
	RateMax         int
	RateWindow      time.Duration
	RateLimitCached bool // si los cache hits consumen presupuesto
}

// FromEnv lee la configuración del entorno aplicando defaults.
func FromEnv() Config {
	return Config{
		RedisHost:     getenv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getenv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		ListenAddr: getenv("LISTEN_ADDR", ":8080"),

		Concurrency: getenvInt("WORKER_CONCURRENCY", 4),
		JobsRoot:    getenv("SANDBOX_JOBS", "/var/lib/codebox/jobs"),
		ConfigDir:   getenv("SANDBOX_CONFIG_DIR", "/etc/codebox/sandbox"),
		LauncherBin: getenv("LAUNCHER_BIN", "/usr/local/bin/nsjail"),

		LanguagesFile:   os.Getenv("SANDBOX_LANGUAGES"),
		LauncherLogPat:  getenv("LAUNCHER_LOG_PATTERN", `^\[.*nsjail.*`),
		ResultTTL:       getenvSeconds("RESULT_TTL_SECONDS", 300),
		CacheTTL:        getenvSeconds("CACHE_TTL_SECONDS", 3600),
		RateMax:         getenvInt("RATE_LIMIT_MAX", 10),
		RateWindow:      getenvSeconds("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitCached: getenvBool("RATE_LIMIT_CACHED", true),
	}
}

// RedisAddr compone host:puerto para el cliente.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, c.RedisPort)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvSeconds(key string, def int) time.Duration {
	return time.Duration(getenvInt(key, def)) * time.Second
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
