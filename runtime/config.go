package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Package-level validator instance
var configValidator *validator.Validate

// init initializes the validator and registers custom validation functions
func init() {
	configValidator = validator.New()

	registerCustomValidators()
}

// EngineConfig tunes the interpreter.
type EngineConfig struct {
	// MaxAutoSteps bounds how many nodes may run in one caller turn before
	// the turn is failed. It keeps a looping graph from blocking a request.
	MaxAutoSteps    int           `yaml:"max_auto_steps" default:"25" validate:"gte=1,lte=500"`
	WebhookTimeout  time.Duration `yaml:"webhook_timeout" default:"10s" validate:"gte=100ms"`
	ContinueTimeout time.Duration `yaml:"continue_timeout" default:"30s" validate:"gte=1s"`
	NextOpenLayout  string        `yaml:"next_open_layout" default:"Mon 02/01 15:04"`
	Messages        Messages      `yaml:"messages"`
}

// Messages are the fixed user-facing texts of the engine. Node configs may
// override the per-node ones.
type Messages struct {
	End                 string `yaml:"end" default:"Thank you for talking to us. This conversation is now closed."`
	Ticket              string `yaml:"ticket" default:"Your request was registered. An agent will get back to you shortly."`
	Transfer            string `yaml:"transfer" default:"Please hold on, we are transferring you to an agent."`
	TransferClosed      string `yaml:"transfer_closed" default:"Our team is currently out of office."`
	NextOpen            string `yaml:"next_open" default:"We will be back on %s."`
	TransferUnavailable string `yaml:"transfer_unavailable" default:"We could not reach an agent right now. Please send a message to try again."`
	MediaUnavailable    string `yaml:"media_unavailable" default:"Sorry, we could not load this file."`
	InputRequired       string `yaml:"input_required" default:"Please send an answer to continue."`
	InternalError       string `yaml:"internal_error" default:"Sorry, something went wrong. Please try again."`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

// NewLogger builds the process logger from LogConfig.
func NewLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// DefaultEngineConfig returns an EngineConfig with every default applied.
func DefaultEngineConfig() EngineConfig {
	var cfg EngineConfig
	if err := ApplyDefaults(&cfg); err != nil {
		panic(fmt.Sprintf("engine config defaults: %v", err))
	}
	return cfg
}

// SecretResolver resolves config values written as "<scheme>:<name>", such
// as "ssm:/chatflow/prod/dsn".
type SecretResolver interface {
	Scheme() string
	Resolve(ctx context.Context, name string) (string, error)
}

// LoadConfigFile reads a YAML config file into config. String values of the
// form ${VAR} or ${VAR:default} are resolved from the environment before
// defaults are applied and the result is validated.
func LoadConfigFile(path string, config any) error {
	return LoadConfigFileContext(context.Background(), path, config)
}

// LoadConfigFileContext is LoadConfigFile with secret references resolved
// through resolvers after environment expansion.
func LoadConfigFileContext(ctx context.Context, path string, config any, resolvers ...SecretResolver) error {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("error unmarshalling config: %w", err)
		}
	}

	resolved, err := resolveEnvVars(raw)
	if err != nil {
		return err
	}
	if len(resolvers) > 0 {
		if resolved, err = resolveSecrets(ctx, resolved, resolvers); err != nil {
			return err
		}
	}

	m, _ := resolved.(map[string]any)
	return InitializeConfig(config, m)
}

// InitializeConfig combines: defaults → value merging → validation in one call.
func InitializeConfig(config any, rawValues map[string]any) error {
	// Step 1: Apply defaults from struct tags
	if err := ApplyDefaults(config); err != nil {
		slog.Error("Config: failed to apply defaults",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	// Step 2: Merge raw values (env vars + literals from the config file)
	if len(rawValues) > 0 {
		if err := mapToStructFromYAML(rawValues, config); err != nil {
			slog.Error("Config: failed to apply config values",
				"config_type", reflect.TypeOf(config).String(),
				"error", err)
			return fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	// Step 3: Validate final config (AFTER rawValues are merged)
	configValue := reflect.ValueOf(config)
	if configValue.Kind() == reflect.Ptr {
		configValue = configValue.Elem()
	}

	if err := validateConfig(configValue.Interface()); err != nil {
		slog.Error("Config validation failed",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// registerCustomValidators registers framework-provided custom validation functions
func registerCustomValidators() {
	// listen_addr validates "host:port" or ":port" with a numeric port
	configValidator.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		if err != nil || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})

	// url_format validates URL structure
	configValidator.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	})

	// dsn validates database connection string format
	configValidator.RegisterValidation("dsn", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.Contains(s, "://") {
			_, err := url.Parse(s)
			return err == nil
		}
		// key=value form accepted by lib/pq
		return strings.Contains(s, "=")
	})

	// timezone validates an IANA location name
	configValidator.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})
}

func ApplyDefaults(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}

	return nil
}

func validateConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := configValidator.Struct(config); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation: %s (rule: %s)",
					fieldErr.Namespace(),
					fieldErr.Error(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// envVarPattern matches ${VAR} and ${VAR:default} syntax
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// resolveEnvVars walks a decoded YAML document and resolves environment
// references in string leaves.
func resolveEnvVars(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveEnvVar(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := resolveEnvVars(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := resolveEnvVars(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return value, nil
}

func resolveSecrets(ctx context.Context, value any, resolvers []SecretResolver) (any, error) {
	switch v := value.(type) {
	case string:
		for _, r := range resolvers {
			if name, ok := strings.CutPrefix(v, r.Scheme()+":"); ok {
				secret, err := r.Resolve(ctx, name)
				if err != nil {
					return nil, fmt.Errorf("resolving %s secret %s: %w", r.Scheme(), name, err)
				}
				return secret, nil
			}
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := resolveSecrets(ctx, item, resolvers)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := resolveSecrets(ctx, item, resolvers)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return value, nil
}

func resolveEnvVar(value string) (any, error) {
	matches := envVarPattern.FindStringSubmatch(value)
	if matches == nil {
		return value, nil
	}

	varName := matches[1]
	defaultPart := matches[2]

	if envValue, exists := os.LookupEnv(varName); exists {
		return envValue, nil
	}

	if defaultPart != "" {
		return strings.TrimPrefix(defaultPart, ":"), nil
	}

	return nil, fmt.Errorf("required environment variable not set: %s", varName)
}
