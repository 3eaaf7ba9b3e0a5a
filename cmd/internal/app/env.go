package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envParse reads key through parse. An unset, blank or rejected value yields
// def, so a typo in one CHAT_* variable degrades to its default instead of
// aborting startup.
func envParse[T any](key string, def T, parse func(string) (T, bool)) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if out, ok := parse(v); ok {
		return out
	}
	return def
}

func EnvString(key, def string) string {
	return envParse(key, def, func(v string) (string, bool) { return v, true })
}

func EnvBool(key string, def bool) bool {
	return envParse(key, def, func(v string) (bool, bool) {
		b, err := strconv.ParseBool(v)
		return b, err == nil
	})
}

// EnvInt accepts positive values only (queue sizes, body limits, rate counts).
func EnvInt(key string, def int) int {
	return envParse(key, def, func(v string) (int, bool) {
		n, err := strconv.Atoi(v)
		return n, err == nil && n > 0
	})
}

// EnvInt32 accepts zero, which pgxpool reads as "no idle minimum".
func EnvInt32(key string, def int32) int32 {
	return envParse(key, def, func(v string) (int32, bool) {
		n, err := strconv.ParseInt(v, 10, 32)
		return int32(n), err == nil && n >= 0
	})
}

// EnvDuration accepts positive Go durations ("750ms", "3s").
func EnvDuration(key string, def time.Duration) time.Duration {
	return envParse(key, def, func(v string) (time.Duration, bool) {
		d, err := time.ParseDuration(v)
		return d, err == nil && d > 0
	})
}

// EnvCSV reads a comma-separated list such as CHAT_WS_ALLOWED_ORIGINS; blank
// items are dropped and an all-blank list yields def.
func EnvCSV(key string, def []string) []string {
	return envParse(key, def, func(v string) ([]string, bool) {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, len(out) > 0
	})
}
