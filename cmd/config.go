package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatflow/plugins/businesshours"
	"chatflow/plugins/dynamodb"
	httpplugin "chatflow/plugins/http"
	"chatflow/plugins/media"
	"chatflow/plugins/paramstore"
	"chatflow/plugins/postgres"
	"chatflow/runtime"
	"chatflow/runtime/loader"
	"chatflow/runtime/store/memory"
)

type ServerConfig struct {
	Addr            string        `yaml:"addr" default:":8080" validate:"listen_addr"`
	Mode            string        `yaml:"mode" default:"release" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s" validate:"gte=1s"`
}

type FlowsConfig struct {
	Dir           string `yaml:"dir" default:"flows"`
	DefaultTenant string `yaml:"default_tenant" default:"default" validate:"required"`
	// Seed writes the loaded flows into a persistent definition store on startup.
	Seed bool `yaml:"seed" default:"true"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" default:"memory" validate:"oneof=memory postgres dynamodb"`
}

// AppConfig is the process configuration. Plugin sections stay raw until
// the plugin is actually used, so an unused backend never fails validation.
type AppConfig struct {
	Server  ServerConfig              `yaml:"server"`
	Log     runtime.LogConfig         `yaml:"log"`
	Engine  runtime.EngineConfig      `yaml:"engine"`
	Flows   FlowsConfig               `yaml:"flows"`
	Store   StoreConfig               `yaml:"store"`
	Plugins map[string]map[string]any `yaml:"plugins"`
}

// Plugin section names under "plugins".
const (
	pluginWebhook       = "webhook"
	pluginMedia         = "media"
	pluginBusinessHours = "business_hours"
	pluginOutbound      = "outbound"
	pluginPostgres      = "postgres"
	pluginDynamoDB      = "dynamodb"
)

func loadConfig(ctx context.Context, path, region string) (*AppConfig, error) {
	var cfg AppConfig
	if err := runtime.LoadConfigFileContext(ctx, path, &cfg, paramstore.New(region)); err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) hasPlugin(name string) bool {
	_, ok := c.Plugins[name]
	return ok
}

// pluginConfig initializes target from the plugin's section: defaults,
// then the configured values, then validation.
func (c *AppConfig) pluginConfig(name string, target any) error {
	if err := runtime.InitializeConfig(target, c.Plugins[name]); err != nil {
		return fmt.Errorf("plugin %s: %w", name, err)
	}
	return nil
}

// flowWriter is implemented by definition stores that persist flows.
type flowWriter interface {
	PutFlow(ctx context.Context, f *runtime.Flow) error
}

// buildContainer registers the stores and adapters selected by cfg. The
// returned flows are the ones loaded from the flows directory.
func buildContainer(l *slog.Logger, cfg *AppConfig) (*runtime.Container, []*runtime.Flow, error) {
	flows, err := loader.LoadDir(l, cfg.Flows.Dir, cfg.Flows.DefaultTenant)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading flows from %s: %w", cfg.Flows.Dir, err)
	}
	if len(flows) == 0 {
		l.Warn("No flow files found", "dir", cfg.Flows.Dir)
	}

	c := runtime.NewContainer()
	register := func(name string, adapter any) {
		if err == nil {
			err = c.Register(name, adapter)
		}
	}

	switch cfg.Store.Backend {
	case "postgres":
		var pc postgres.Config
		if err := cfg.pluginConfig(pluginPostgres, &pc); err != nil {
			return nil, nil, err
		}
		register(pluginPostgres, postgres.New(l, pc))
	case "dynamodb":
		var dc dynamodb.Config
		if err := cfg.pluginConfig(pluginDynamoDB, &dc); err != nil {
			return nil, nil, err
		}
		register(pluginDynamoDB, dynamodb.New(l, dc))
	default:
		register("definitions", memory.NewDefinitions(flows...))
		register("instances", memory.NewInstances())
	}

	var wc httpplugin.Config
	if err := cfg.pluginConfig(pluginWebhook, &wc); err != nil {
		return nil, nil, err
	}
	register(pluginWebhook, httpplugin.New(l, wc))

	if cfg.hasPlugin(pluginMedia) {
		var mc media.Config
		if err := cfg.pluginConfig(pluginMedia, &mc); err != nil {
			return nil, nil, err
		}
		register(pluginMedia, media.New(l, mc))
	}

	if cfg.hasPlugin(pluginBusinessHours) {
		var bc businesshours.Config
		if err := cfg.pluginConfig(pluginBusinessHours, &bc); err != nil {
			return nil, nil, err
		}
		register(pluginBusinessHours, businesshours.New(l, bc))
	}

	if cfg.hasPlugin(pluginOutbound) {
		var sc httpplugin.SinkConfig
		if err := cfg.pluginConfig(pluginOutbound, &sc); err != nil {
			return nil, nil, err
		}
		register(pluginOutbound, httpplugin.NewSink(l, sc))
	}

	if err != nil {
		return nil, nil, err
	}
	return c, flows, nil
}

// seedFlows writes flows into the persistent definition store, if any. It
// runs after the container is initialized so store connections are open.
func seedFlows(ctx context.Context, l *slog.Logger, cfg *AppConfig, c *runtime.Container, flows []*runtime.Flow) error {
	if !cfg.Flows.Seed || len(flows) == 0 {
		return nil
	}
	defs, _, err := c.Stores()
	if err != nil {
		return err
	}
	w, ok := defs.(flowWriter)
	if !ok {
		return nil
	}
	for _, f := range flows {
		if err := w.PutFlow(ctx, f); err != nil {
			return fmt.Errorf("error seeding flow %s/%s: %w", f.TenantID, f.ID, err)
		}
	}
	l.Info("Seeded flow definitions", "backend", cfg.Store.Backend, "count", len(flows))
	return nil
}
