package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"chatflow/runtime"
)

// SinkConfig points the outbound sink at the messaging gateway endpoint
// that accepts responses produced outside of an inbound request.
type SinkConfig struct {
	URL        string        `yaml:"url" validate:"required,url_format"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout" default:"10s" validate:"gte=100ms"`
	MaxRetries int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
}

type delivery struct {
	TenantID  string         `json:"tenant_id"`
	SessionID string         `json:"session_id"`
	ContactID string         `json:"contact_id"`
	Result    runtime.Result `json:"result"`
}

// Sink implements runtime.OutboundSink by posting delayed results back to
// the gateway.
type Sink struct {
	Config SinkConfig
	l      *slog.Logger
	client *resty.Client
}

func NewSink(l *slog.Logger, cfg SinkConfig) *Sink {
	if l == nil {
		l = slog.Default()
	}
	return &Sink{Config: cfg, l: l}
}

// Initialize implements runtime.Initializer.
func (s *Sink) Initialize(ctx context.Context) error {
	s.client = resty.New().
		SetTimeout(s.Config.Timeout).
		SetRetryCount(s.Config.MaxRetries).
		SetRetryWaitTime(200*time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json")
	if s.Config.Token != "" {
		s.client.SetAuthToken(s.Config.Token)
	}
	return nil
}

// Deliver implements runtime.OutboundSink. Failures are logged; the result
// is lost once retries are exhausted.
func (s *Sink) Deliver(ctx context.Context, key runtime.ContactKey, res runtime.Result) {
	if s.client == nil {
		s.l.ErrorContext(ctx, "Outbound sink not initialized", "instance", res.InstanceID)
		return
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(delivery{
			TenantID:  key.TenantID,
			SessionID: key.SessionID,
			ContactID: key.ContactID,
			Result:    res,
		}).
		Post(s.Config.URL)
	if err != nil {
		s.l.ErrorContext(ctx, "Outbound delivery failed", "contact", key.String(), "instance", res.InstanceID, "error", err)
		return
	}
	if !resp.IsSuccess() {
		s.l.ErrorContext(ctx, "Outbound delivery rejected",
			"contact", key.String(),
			"instance", res.InstanceID,
			"status", resp.StatusCode())
		return
	}
	s.l.DebugContext(ctx, "Outbound delivery sent", "contact", key.String(), "instance", res.InstanceID)
}

// Shutdown implements runtime.Shutdowner.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.client = nil
	return nil
}
