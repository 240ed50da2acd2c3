package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Backend names accepted in BACKEND.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

type Config struct {
	Port    string `env:"PORT,default=8080"`
	Backend string `env:"BACKEND,default=memory"`

	MongoURI    string `env:"MONGO_URI"`
	DBName      string `env:"DB_NAME,default=food_ordering"`
	DatabaseURL string `env:"DATABASE_URL"`

	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`

	JWTSecret          string `env:"JWT_SECRET"`
	PaymentFunctionURL string `env:"PAYMENT_FUNCTION_URL"`

	ExpoPushURL     string `env:"EXPO_PUSH_URL,default=https://exp.host/--/api/v2/push/send"`
	ExpoAccessToken string `env:"EXPO_ACCESS_TOKEN"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=20"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	QueryCacheSize int `env:"QUERY_CACHE_SIZE,default=512"`
}

// LoadEnv reads .env into the process environment. A missing file is fine.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}
}

// GetEnv returns the value of key or fallback when it is unset.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// Load decodes the environment into a Config and checks that the selected
// backend has what it needs.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	need := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}

	switch c.Backend {
	case BackendMemory:
	case BackendMongo:
		need("MONGO_URI", c.MongoURI)
		need("DB_NAME", c.DBName)
	case BackendPostgres:
		need("DATABASE_URL", c.DatabaseURL)
	case BackendSupabase:
		need("SUPABASE_URL", c.SupabaseURL)
		need("SUPABASE_ANON_KEY", c.SupabaseAnonKey)
	default:
		return fmt.Errorf("unknown BACKEND %q", c.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	return nil
}

// PaymentURL is the payment sheet function endpoint. With the supabase
// backend it defaults to the project's payment-sheet edge function.
func (c *Config) PaymentURL() string {
	if c.PaymentFunctionURL != "" {
		return c.PaymentFunctionURL
	}
	if c.SupabaseURL != "" {
		return strings.TrimRight(c.SupabaseURL, "/") + "/functions/v1/payment-sheet"
	}
	return ""
}
