package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatflow/runtime"
)

const welcomeFlow = `
id: welcome
triggers: [oi, hello]
nodes:
  - id: start
    type: start
  - id: hi
    type: message
    config:
      text: "Hello!"
  - id: bye
    type: end
edges:
  - {id: e1, source: start, target: hi}
  - {id: e2, source: hi, target: bye}
`

const brokenFlow = `
id: broken
nodes:
  - id: hi
    type: message
edges:
  - {id: e1, source: hi, target: nowhere}
`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatflow.yaml")
	t.Setenv("CHATFLOW_TEST_ADDR", ":9191")
	writeFile(t, path, `
server:
  addr: ${CHATFLOW_TEST_ADDR}
engine:
  max_auto_steps: 40
flows:
  dir: ./flows
  default_tenant: acme
plugins:
  webhook:
    timeout: 5s
  business_hours:
    default:
      timezone: America/Sao_Paulo
      days:
        mon: {open: "09:00", close: "18:00"}
`)

	cfg, err := loadConfig(context.Background(), path, "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9191" || cfg.Server.Mode != "release" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Engine.MaxAutoSteps != 40 || cfg.Engine.Messages.End == "" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Store.Backend != "memory" || cfg.Flows.DefaultTenant != "acme" || !cfg.Flows.Seed {
		t.Errorf("store/flows = %+v %+v", cfg.Store, cfg.Flows)
	}
	if !cfg.hasPlugin(pluginBusinessHours) || cfg.hasPlugin(pluginMedia) {
		t.Errorf("plugins = %v", cfg.Plugins)
	}
}

func TestLoadConfig_InvalidBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatflow.yaml")
	writeFile(t, path, "store:\n  backend: redis\n")
	if _, err := loadConfig(context.Background(), path, ""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBuildContainer_Memory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "welcome.yaml"), welcomeFlow)

	cfg, err := loadConfig(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Flows.Dir = dir
	cfg.Plugins = map[string]map[string]any{
		pluginBusinessHours: {"default": map[string]any{"timezone": "UTC"}},
		pluginOutbound:      {"url": "http://gateway.local/outbound"},
	}

	c, flows, err := buildContainer(discard(), cfg)
	if err != nil {
		t.Fatalf("buildContainer: %v", err)
	}
	if len(flows) != 1 || flows[0].TenantID != "default" {
		t.Fatalf("flows = %v", flows)
	}

	adapters := c.Adapters()
	if adapters.Webhooks == nil || adapters.Hours == nil || adapters.Sink == nil {
		t.Errorf("adapters = %+v", adapters)
	}
	if adapters.Media != nil {
		t.Error("media resolver registered without config")
	}

	app, err := runtime.NewApp(discard(), cfg.Engine, c)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer app.Shutdown(ctx)

	if err := seedFlows(ctx, discard(), cfg, c, flows); err != nil {
		t.Errorf("seeding the memory store should be a no-op, got %v", err)
	}

	key := runtime.ContactKey{TenantID: "default", SessionID: "s", ContactID: "c"}
	res := app.Interpreter.Handle(ctx, key, "oi")
	if res.Text != "Hello!" || !res.AwaitingInput {
		t.Errorf("Handle = %+v", res)
	}
}

func TestBuildContainer_PluginConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		plugins map[string]map[string]any
		want    string
	}{
		{"postgres without dsn", "postgres", nil, "plugin postgres"},
		{"bad timezone", "memory", map[string]map[string]any{
			pluginBusinessHours: {"default": map[string]any{"timezone": "Nowhere/City"}},
		}, "plugin business_hours"},
		{"outbound without url", "memory", map[string]map[string]any{pluginOutbound: {}}, "plugin outbound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(context.Background(), "", "")
			if err != nil {
				t.Fatal(err)
			}
			cfg.Flows.Dir = t.TempDir()
			cfg.Store.Backend = tt.backend
			cfg.Plugins = tt.plugins

			_, _, err = buildContainer(discard(), cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("buildContainer error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "welcome.yaml"), welcomeFlow)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", dir})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("validate: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "ok    default/welcome") {
		t.Errorf("output = %q", out.String())
	}

	writeFile(t, filepath.Join(dir, "broken.yaml"), brokenFlow)
	out.Reset()
	rootCmd.SetArgs([]string{"validate", dir})
	rootCmd.SetErr(io.Discard)
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out.String(), "FAIL") || !strings.Contains(out.String(), "nowhere") {
		t.Errorf("output = %q", out.String())
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "welcome.yaml"), welcomeFlow)

	ctx, cancel := context.WithCancel(context.Background())
	serveFlows, serveAddr = dir, "127.0.0.1:0"
	defer func() { serveFlows, serveAddr = "", "" }()
	serveCmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runServe(serveCmd, nil) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
