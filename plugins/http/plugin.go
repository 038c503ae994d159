package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"chatflow/runtime"
)

// Config holds the webhook invoker configuration with declarative tags
type Config struct {
	Timeout     time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int           `yaml:"max_retries" default:"2" validate:"gte=0,lte=10"`
	Debug       bool          `yaml:"debug" default:"false"`
	RetryWaitMS int           `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
	UserAgent   string        `yaml:"user_agent" default:"chatflow-webhook/1.0"`
}

// Invoker performs webhook calls for webhook nodes with a resty client.
type Invoker struct {
	Config Config
	l      *slog.Logger
	client *resty.Client
}

func New(l *slog.Logger, cfg Config) *Invoker {
	if l == nil {
		l = slog.Default()
	}
	return &Invoker{Config: cfg, l: l}
}

// Initialize implements runtime.Initializer.
func (h *Invoker) Initialize(ctx context.Context) error {
	h.client = resty.New().
		SetTimeout(h.Config.Timeout).
		SetRetryCount(h.Config.MaxRetries).
		SetRetryWaitTime(time.Duration(h.Config.RetryWaitMS)*time.Millisecond).
		SetHeader("User-Agent", h.Config.UserAgent).
		SetDebug(h.Config.Debug)
	return nil
}

// Invoke implements runtime.WebhookInvoker. Transport errors and non-2xx
// statuses are reported through the response.
func (h *Invoker) Invoke(ctx context.Context, req runtime.WebhookRequest) runtime.WebhookResponse {
	if h.client == nil {
		return runtime.WebhookResponse{Err: errors.New("webhook invoker not initialized")}
	}

	r := h.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers)

	if req.Body != nil {
		if req.ContentType == runtime.ContentTypeForm {
			m, ok := req.Body.(map[string]any)
			if !ok {
				return runtime.WebhookResponse{Err: fmt.Errorf("form body must be an object, got %T", req.Body)}
			}
			r.SetFormData(flattenToFormData(m, ""))
		} else {
			r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
		}
	}

	start := time.Now()
	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		h.l.DebugContext(ctx, "webhook transport error", "url", req.URL, "method", req.Method, "error", err)
		return runtime.WebhookResponse{Err: fmt.Errorf("webhook request failed: %w", err)}
	}

	h.l.DebugContext(ctx, "webhook call finished",
		"url", req.URL,
		"method", req.Method,
		"status", resp.StatusCode(),
		"duration", time.Since(start))

	out := runtime.WebhookResponse{
		Success: resp.IsSuccess(),
		Status:  resp.StatusCode(),
		Body:    resp.Body(),
	}
	if !out.Success {
		out.Err = fmt.Errorf("webhook returned %s", resp.Status())
	}
	return out
}

// Shutdown implements runtime.Shutdowner.
func (h *Invoker) Shutdown(ctx context.Context) error {
	// Resty doesn't require explicit cleanup, but we can nil the client
	h.client = nil
	return nil
}

// flattenToFormData flattens nested maps and slices into bracketed form
// keys: {"a": {"b": 1}} becomes a[b]=1 and {"l": ["x"]} becomes l[0]=x.
func flattenToFormData(data map[string]any, prefix string) map[string]string {
	out := make(map[string]string)
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "[" + k + "]"
		}
		flattenValue(out, key, data[k])
	}
	return out
}

func flattenValue(out map[string]string, key string, value any) {
	switch v := value.(type) {
	case map[string]any:
		for fk, fv := range flattenToFormData(v, key) {
			out[fk] = fv
		}
	case []any:
		for i, item := range v {
			flattenValue(out, fmt.Sprintf("%s[%d]", key, i), item)
		}
	case nil:
		out[key] = ""
	default:
		out[key] = runtime.ToStringValueMap(map[string]any{"v": v})["v"]
	}
}
