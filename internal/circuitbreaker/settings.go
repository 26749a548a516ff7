package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Kind groups dependencies that share breaker tuning.
type Kind string

const (
	KindRedis    Kind = "redis"
	KindDatabase Kind = "db"
	KindHTTP     Kind = "http"
)

var defaults = map[Kind]Settings{
	KindRedis:    {Probes: 5, Window: 30 * time.Second, Cooldown: 15 * time.Second, TripAfter: 3, RecoverAfter: 2},
	KindDatabase: {Probes: 3, Window: 60 * time.Second, Cooldown: 30 * time.Second, TripAfter: 5, RecoverAfter: 2},
	KindHTTP:     {Probes: 5, Window: 30 * time.Second, Cooldown: 15 * time.Second, TripAfter: 3, RecoverAfter: 2},
}

// SettingsFor returns the settings for kind, overridable through
// CB_<KIND>_PROBES, CB_<KIND>_WINDOW, CB_<KIND>_COOLDOWN,
// CB_<KIND>_TRIP_AFTER and CB_<KIND>_RECOVER_AFTER.
func SettingsFor(kind Kind) Settings {
	s, ok := defaults[kind]
	if !ok {
		s = defaults[KindHTTP]
	}
	prefix := "CB_" + strings.ToUpper(string(kind)) + "_"
	s.Probes = envUint32(prefix+"PROBES", s.Probes)
	s.Window = envDuration(prefix+"WINDOW", s.Window)
	s.Cooldown = envDuration(prefix+"COOLDOWN", s.Cooldown)
	s.TripAfter = envUint32(prefix+"TRIP_AFTER", s.TripAfter)
	s.RecoverAfter = envUint32(prefix+"RECOVER_AFTER", s.RecoverAfter)
	return s
}

func envUint32(key string, def uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
