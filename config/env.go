package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load returns the defaults overridden by a .env file (when present) and
// BOOKS_* environment variables.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	cfg := DefaultConfig()

	if v, ok := EnvString("BOOKS_BASE_URL"); ok {
		cfg.BaseURL = v
	}
	if v, ok, err := EnvInt("BOOKS_MAX_PAGES"); err != nil {
		return nil, err
	} else if ok {
		cfg.MaxPages = v
	}
	if v, ok, err := EnvDuration("BOOKS_DELAY"); err != nil {
		return nil, err
	} else if ok {
		cfg.Delay = v
	}
	if v, ok, err := EnvDuration("BOOKS_TIMEOUT"); err != nil {
		return nil, err
	} else if ok {
		cfg.Timeout = v
	}
	if v, ok := EnvString("BOOKS_USER_AGENTS"); ok {
		cfg.UserAgents = splitList(v, "|")
	}
	if v, ok := EnvString("BOOKS_DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := EnvString("BOOKS_EXPORT_FILE"); ok {
		cfg.ExportFile = v
	}
	if v, ok := EnvString("BOOKS_EXPORT_FORMAT"); ok {
		cfg.ExportFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("BOOKS_MODEL_DIR"); ok {
		cfg.ModelDir = v
	}
	if v, ok, err := EnvInt("BOOKS_CLUSTERS"); err != nil {
		return nil, err
	} else if ok {
		cfg.ClusterCount = v
	}
	if v, ok, err := EnvUint64("BOOKS_CLUSTER_SEED"); err != nil {
		return nil, err
	} else if ok {
		cfg.ClusterSeed = v
	}
	if v, ok := EnvString("BOOKS_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := EnvString("BOOKS_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := EnvString("REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok, err := EnvDuration("BOOKS_LOCK_TTL"); err != nil {
		return nil, err
	} else if ok {
		cfg.LockTTL = v
	}

	return cfg, nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, true, nil
}

// EnvUint64 parses key as an unsigned integer.
func EnvUint64(key string) (uint64, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key as a Go duration ("1s", "250ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, true, nil
}

func splitList(v, sep string) []string {
	parts := strings.Split(v, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
