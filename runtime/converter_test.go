package runtime

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeConfig_TypedNodeConfigs(t *testing.T) {
	n := &Node{ID: "ask", Kind: NodeInput, Config: map[string]any{
		"variable": "age",
		"format":   "number",
		"required": "true",
		"prompt":   "How old are you?",
	}}
	var input InputConfig
	if err := n.DecodeConfig(&input); err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if input.Variable != "age" || input.Format != "number" || !input.Required || input.Prompt != "How old are you?" {
		t.Errorf("input config = %+v", input)
	}

	n = &Node{ID: "wait", Kind: NodeDelay, Config: map[string]any{"duration": "1m30s"}}
	var delay DelayConfig
	if err := n.DecodeConfig(&delay); err != nil {
		t.Fatal(err)
	}
	if delay.wait() != 90*time.Second {
		t.Errorf("delay = %v", delay.wait())
	}

	n = &Node{ID: "wait", Kind: NodeDelay, Config: map[string]any{"seconds": "5"}}
	delay = DelayConfig{}
	if err := n.DecodeConfig(&delay); err != nil {
		t.Fatal(err)
	}
	if delay.wait() != 5*time.Second {
		t.Errorf("seconds delay = %v", delay.wait())
	}
}

func TestDecodeConfig_Webhook(t *testing.T) {
	n := &Node{ID: "crm", Kind: NodeWebhook, Config: map[string]any{
		"url":     "https://crm.test",
		"headers": map[string]any{"X-Retries": 3},
		"auth":    map[string]any{"type": "bearer", "token": "t"},
		"timeout": "3s",
	}}
	var cfg WebhookConfig
	if err := n.DecodeConfig(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.method() != "POST" || cfg.Timeout != 3*time.Second || cfg.Auth.Type != "bearer" {
		t.Errorf("webhook config = %+v", cfg)
	}
	if ToStringValueMap(cfg.Headers)["X-Retries"] != "3" {
		t.Errorf("headers = %v", cfg.Headers)
	}
}

func TestDecodeConfig_Errors(t *testing.T) {
	n := &Node{ID: "wait", Kind: NodeDelay, Config: map[string]any{"duration": "later"}}
	var delay DelayConfig
	err := n.DecodeConfig(&delay)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "node wait (delay)") {
		t.Errorf("error should name the node, got %v", err)
	}

	empty := &Node{ID: "m", Kind: NodeMessage}
	var msg MessageConfig
	if err := empty.DecodeConfig(&msg); err != nil || !msg.awaits() {
		t.Errorf("empty config = %+v, %v", msg, err)
	}
}

func TestToStringValueMap(t *testing.T) {
	got := ToStringValueMap(map[string]any{
		"s": "x",
		"i": 7,
		"f": 2.5,
		"b": false,
		"n": nil,
		"l": []int{1, 2},
	})
	want := map[string]string{"s": "x", "i": "7", "f": "2.5", "b": "false", "n": "", "l": "[1 2]"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
