package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chatflow/runtime"
)

func newSink(t *testing.T, url string) *Sink {
	t.Helper()
	s := NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)), SinkConfig{
		URL:     url,
		Token:   "gw-token",
		Timeout: time.Second,
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSink_PostsResult(t *testing.T) {
	got := make(chan delivery, 1)
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		var d delivery
		_ = json.NewDecoder(r.Body).Decode(&d)
		got <- d
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	key := runtime.ContactKey{TenantID: "acme", SessionID: "wa-1", ContactID: "55119"}
	newSink(t, srv.URL).Deliver(context.Background(), key, runtime.Result{
		Success:    true,
		Text:       "Here it is",
		Ended:      true,
		InstanceID: "i1",
	})

	select {
	case d := <-got:
		if d.ContactID != "55119" || d.TenantID != "acme" || d.Result.Text != "Here it is" || !d.Result.Ended {
			t.Errorf("delivery = %+v", d)
		}
	default:
		t.Fatal("nothing delivered")
	}
	if auth != "Bearer gw-token" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestSink_RetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newSink(t, srv.URL)
	s.client.SetRetryWaitTime(time.Millisecond).SetRetryCount(2)

	s.Deliver(context.Background(), runtime.ContactKey{TenantID: "t"}, runtime.Result{Success: true, Text: "x"})
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestSink_NotInitialized(t *testing.T) {
	s := NewSink(nil, SinkConfig{URL: "http://localhost"})
	// Must not panic.
	s.Deliver(context.Background(), runtime.ContactKey{}, runtime.Result{})
}
