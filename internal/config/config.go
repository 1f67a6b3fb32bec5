package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"

	"github.com/bcrosbie/evalboard/internal/service"
)

type Config struct {
	GRPCAddr         string `env:"GRPC_ADDR" envDefault:"127.0.0.1:50051"`
	HTTPAddr         string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	StoreDriver      string `env:"STORE_DRIVER" envDefault:"file"`
	DataFile         string `env:"DATA_FILE" envDefault:"./data/evalboard.db.json"`
	DatabaseURL      string `env:"DATABASE_URL"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"./data/evalboard.sqlite"`
	MigrateOnStart   bool   `env:"MIGRATE_ON_START" envDefault:"true"`
	EnableReflection bool   `env:"ENABLE_REFLECTION" envDefault:"false"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`

	AuthTokens  string   `env:"AUTH_TOKENS"`
	PanelRoles  []string `env:"PANEL_ROLES" envDefault:"admin,viewer" envSeparator:","`
	WriterRoles []string `env:"WRITER_ROLES" envDefault:"admin" envSeparator:","`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	EvalModels       []service.Model `env:"EVAL_MODELS"`
	EvaluatorCommand string          `env:"EVALUATOR_COMMAND" envDefault:"evalscope eval"`
	EvaluatorAPIURL  string          `env:"EVALUATOR_API_URL"`
	EvaluatorAPIKey  string          `env:"EVALUATOR_API_KEY"`
	EvaluatorPTY     bool            `env:"EVALUATOR_PTY" envDefault:"false"`
	EvalConcurrency  int             `env:"EVAL_CONCURRENCY" envDefault:"6"`
	EvalTimeout      time.Duration   `env:"EVAL_TIMEOUT" envDefault:"2h"`
	EvalWorkDir      string          `env:"EVAL_WORK_DIR" envDefault:"./data/eval-runs"`
	EvalInterval     time.Duration   `env:"EVAL_INTERVAL" envDefault:"0s"`
	AlertWebhookURL  string          `env:"ALERT_WEBHOOK_URL"`
}

var parseFuncs = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf([]service.Model{}): func(v string) (interface{}, error) {
		return ParseModels(v)
	},
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(environment map[string]string) (Config, error) {
	return load(env.Options{Environment: environment})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithFuncs(&cfg, parseFuncs, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse server config")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case "file", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return errors.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.EvalConcurrency < 1 {
		return errors.Errorf("EVAL_CONCURRENCY must be >= 1, got %d", c.EvalConcurrency)
	}
	if c.EvalInterval < 0 {
		return errors.Errorf("EVAL_INTERVAL must not be negative, got %s", c.EvalInterval)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

// ParseModels reads "id=name" or bare "name" entries separated by commas.
// A bare name is also used as the id. Ids and names must both be unique,
// since selections are keyed by name.
func ParseModels(raw string) ([]service.Model, error) {
	models := []service.Model{}
	seen := map[string]struct{}{}
	names := map[string]struct{}{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, name, found := strings.Cut(entry, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !found {
			name = id
		}
		if id == "" || name == "" {
			return nil, errors.Errorf("invalid EVAL_MODELS entry %q", entry)
		}
		if _, dup := seen[id]; dup {
			return nil, errors.Errorf("duplicate model id %q in EVAL_MODELS", id)
		}
		if _, dup := names[name]; dup {
			return nil, errors.Errorf("duplicate model name %q in EVAL_MODELS", name)
		}
		seen[id] = struct{}{}
		names[name] = struct{}{}
		models = append(models, service.Model{ID: id, Name: name})
	}
	return models, nil
}
