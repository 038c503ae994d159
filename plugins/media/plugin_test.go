package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolve_Template(t *testing.T) {
	r := New(nil, Config{URLTemplate: "https://cdn.test/{tenant}/{media}"})
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	u, ok, err := r.Resolve(context.Background(), "menu card.png", "acme")
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if u != "https://cdn.test/acme/menu%20card.png" {
		t.Errorf("url = %q", u)
	}

	if _, ok, _ := r.Resolve(context.Background(), " ", "acme"); ok {
		t.Error("blank media id should not resolve")
	}
}

func TestResolve_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/acme/present.pdf":
			w.WriteHeader(http.StatusOK)
		case "/acme/broken.pdf":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := New(nil, Config{URLTemplate: srv.URL + "/{tenant}/{media}", Probe: true, Timeout: time.Second})
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok, err := r.Resolve(ctx, "present.pdf", "acme"); !ok || err != nil {
		t.Errorf("present: ok=%v err=%v", ok, err)
	}
	if _, ok, err := r.Resolve(ctx, "missing.pdf", "acme"); ok || err != nil {
		t.Errorf("missing: ok=%v err=%v", ok, err)
	}
	if _, ok, err := r.Resolve(ctx, "broken.pdf", "acme"); ok || err == nil {
		t.Errorf("broken: ok=%v err=%v", ok, err)
	}
}

func TestInitialize_RequiresMediaPlaceholder(t *testing.T) {
	r := New(nil, Config{URLTemplate: "https://cdn.test/static"})
	if err := r.Initialize(context.Background()); err == nil {
		t.Error("template without {media} should be rejected")
	}
}
