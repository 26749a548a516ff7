package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	HealthPort int `mapstructure:"health_port"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Driver   string `mapstructure:"driver"` // postgres | sqlite3
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	// Path is used by the sqlite3 driver only.
	Path string `mapstructure:"path"`
}

type SessionConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// TTL returns the session inactivity timeout.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

type SchedulesConfig struct {
	Timezone         string `mapstructure:"timezone"`
	WeatherCron      string `mapstructure:"weather_cron"`
	ReconcileOnStart bool   `mapstructure:"reconcile_on_start"`
	PestAlert        struct {
		Enabled bool   `mapstructure:"enabled"`
		Cron    string `mapstructure:"cron"`
		Paused  bool   `mapstructure:"paused"`
	} `mapstructure:"pest_alert"`
}

type CropCycleConfig struct {
	// DemoMode measures event windows in minutes from workflow start instead
	// of days from the planting date.
	DemoMode bool `mapstructure:"demo_mode"`
}

type LLMConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	AgentModel   string        `mapstructure:"agent_model"`
	SummaryModel string        `mapstructure:"summary_model"`
	SpeechModel  string        `mapstructure:"speech_model"`
	SpeechVoice  string        `mapstructure:"speech_voice"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxTurns     int           `mapstructure:"max_turns"`
}

type WhatsAppConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	PhoneID     string  `mapstructure:"phone_id"`
	Token       string  `mapstructure:"token"`
	AppSecret   string  `mapstructure:"app_secret"`
	VerifyToken string  `mapstructure:"verify_token"`
	RatePerSec  float64 `mapstructure:"rate_per_sec"`
	Burst       int     `mapstructure:"burst"`
}

type WeatherConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type FarmbaseConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Organization string `mapstructure:"organization"`
	Token        string `mapstructure:"token"`
}

type PolicyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Mode       string `mapstructure:"mode"` // off | dry-run | enforce
	Path       string `mapstructure:"path"`
	FailClosed bool   `mapstructure:"fail_closed"`
}

type AuthConfig struct {
	SkipAuth     bool          `mapstructure:"skip_auth"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenExpiry  time.Duration `mapstructure:"token_expiry"`
	APIKeyHashes []string      `mapstructure:"api_key_hashes"`
}

type GatewayConfig struct {
	Port               int `mapstructure:"port"`
	RequestsPerMinute  int `mapstructure:"requests_per_minute"`
	StreamRingCapacity int `mapstructure:"stream_ring_capacity"`
	// StreamIdleTTLSeconds is how long a stream without subscribers keeps its
	// replay history.
	StreamIdleTTLSeconds int `mapstructure:"stream_idle_ttl_seconds"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type Features struct {
	Environment   string              `mapstructure:"environment"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Session       SessionConfig       `mapstructure:"session"`
	Schedules     SchedulesConfig     `mapstructure:"schedules"`
	CropCycle     CropCycleConfig     `mapstructure:"crop_cycle"`
	LLM           LLMConfig           `mapstructure:"llm"`
	WhatsApp      WhatsAppConfig      `mapstructure:"whatsapp"`
	Weather       WeatherConfig       `mapstructure:"weather"`
	Farmbase      FarmbaseConfig      `mapstructure:"farmbase"`
	Policy        PolicyConfig        `mapstructure:"policy"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

// IsDev reports whether the process runs in the development environment.
func (f *Features) IsDev() bool {
	return f.Environment == "" || f.Environment == "dev"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.health_port", 8081)

	v.SetDefault("temporal.host", "temporal:7233")
	v.SetDefault("temporal.namespace", "default")

	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.driver", "postgres")
	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "farmbase")
	v.SetDefault("postgres.password", "farmbase")
	v.SetDefault("postgres.database", "farmbase")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.path", "farmbase.db")

	v.SetDefault("session.ttl_seconds", 7200)

	v.SetDefault("schedules.timezone", "Africa/Nairobi")
	v.SetDefault("schedules.weather_cron", "0 7 * * *")
	v.SetDefault("schedules.reconcile_on_start", true)
	v.SetDefault("schedules.pest_alert.enabled", false)
	v.SetDefault("schedules.pest_alert.cron", "0 19 * * *")
	v.SetDefault("schedules.pest_alert.paused", true)

	v.SetDefault("crop_cycle.demo_mode", false)

	v.SetDefault("llm.agent_model", "gpt-4.1")
	v.SetDefault("llm.summary_model", "gpt-4.1-nano")
	v.SetDefault("llm.speech_model", "gpt-4o-mini-tts")
	v.SetDefault("llm.speech_voice", "alloy")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_turns", 10)

	v.SetDefault("whatsapp.base_url", "https://graph.facebook.com/v21.0")
	for _, secret := range []string{"whatsapp.phone_id", "whatsapp.token", "whatsapp.app_secret", "whatsapp.verify_token", "farmbase.token", "redis.password", "llm.api_key"} {
		// Registered so FARMWISE_* env vars reach Unmarshal.
		v.SetDefault(secret, "")
	}
	v.SetDefault("whatsapp.rate_per_sec", 20.0)
	v.SetDefault("whatsapp.burst", 5)

	v.SetDefault("weather.base_url", "https://wttr.in")
	v.SetDefault("weather.timeout", 10*time.Second)

	v.SetDefault("farmbase.base_url", "http://farmbase:8000/api/v1")
	v.SetDefault("farmbase.organization", "default")

	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.mode", "enforce")
	v.SetDefault("policy.fail_closed", false)

	v.SetDefault("auth.skip_auth", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiry", 30*time.Minute)

	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.requests_per_minute", 60)
	v.SetDefault("gateway.stream_ring_capacity", 256)
	v.SetDefault("gateway.stream_idle_ttl_seconds", 1800)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "farmwise-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FARMWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Path returns the features.yaml location from CONFIG_PATH or the container default.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "/app/config/features.yaml"
}

// Load loads features.yaml from CONFIG_PATH or /app/config/features.yaml.
// A missing file is not an error: defaults and FARMWISE_* env vars apply.
func Load() (*Features, error) {
	return LoadFile(Path())
}

// LoadFile loads features from an explicit path.
func LoadFile(path string) (*Features, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Features, error) {
	var f Features
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if f.LLM.APIKey == "" {
		f.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &f, nil
}

// MetricsPort returns port from config or an env override METRICS_PORT, falling back to defaultPort
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var v int
		_, _ = fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			return v
		}
	}
	if f, err := Load(); err == nil {
		if f.Observability.Metrics.Port > 0 {
			return f.Observability.Metrics.Port
		}
	}
	return defaultPort
}
