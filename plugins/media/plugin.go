package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config holds the media resolver configuration.
//
// URLTemplate is expanded with {tenant} and {media}, both path-escaped.
// With Probe set, every URL is checked with a HEAD request and a 404 is
// reported as missing media.
type Config struct {
	URLTemplate string        `yaml:"url_template" default:"http://localhost:9000/media/{tenant}/{media}" validate:"required"`
	Probe       bool          `yaml:"probe" default:"false"`
	Timeout     time.Duration `yaml:"timeout" default:"3s" validate:"gte=100ms"`
}

// Resolver implements runtime.MediaResolver over a media server that serves
// files at predictable URLs.
type Resolver struct {
	Config Config
	l      *slog.Logger
	client *resty.Client
}

func New(l *slog.Logger, cfg Config) *Resolver {
	if l == nil {
		l = slog.Default()
	}
	return &Resolver{Config: cfg, l: l}
}

// Initialize implements runtime.Initializer.
func (r *Resolver) Initialize(ctx context.Context) error {
	if !strings.Contains(r.Config.URLTemplate, "{media}") {
		return fmt.Errorf("media: url_template must contain {media}")
	}
	if r.Config.Probe {
		r.client = resty.New().SetTimeout(r.Config.Timeout)
	}
	return nil
}

func (r *Resolver) Resolve(ctx context.Context, mediaID, tenantID string) (string, bool, error) {
	if strings.TrimSpace(mediaID) == "" {
		return "", false, nil
	}

	u := strings.NewReplacer(
		"{tenant}", url.PathEscape(tenantID),
		"{media}", url.PathEscape(mediaID),
	).Replace(r.Config.URLTemplate)

	if r.client == nil {
		return u, true, nil
	}

	resp, err := r.client.R().SetContext(ctx).Head(u)
	if err != nil {
		return "", false, fmt.Errorf("media: probe %s: %w", mediaID, err)
	}
	switch {
	case resp.IsSuccess():
		return u, true, nil
	case resp.StatusCode() == http.StatusNotFound:
		r.l.DebugContext(ctx, "media not found", "media", mediaID, "tenant", tenantID)
		return "", false, nil
	}
	return "", false, errors.New("media: probe returned " + resp.Status())
}

// Shutdown implements runtime.Shutdowner.
func (r *Resolver) Shutdown(ctx context.Context) error {
	r.client = nil
	return nil
}
