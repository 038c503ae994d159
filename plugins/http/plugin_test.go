package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"chatflow/runtime"
)

func newInvoker(t *testing.T) *Invoker {
	t.Helper()
	inv := New(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Timeout:     2 * time.Second,
		MaxRetries:  0,
		RetryWaitMS: 1,
		UserAgent:   "test-agent",
	})
	if err := inv.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = inv.Shutdown(context.Background()) })
	return inv
}

func TestInvoke_SendsJSONAndHeaders(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotAgent, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","id":42}`))
	}))
	defer srv.Close()

	resp := newInvoker(t).Invoke(context.Background(), runtime.WebhookRequest{
		URL:     srv.URL,
		Method:  "POST",
		Headers: map[string]string{"Authorization": "Bearer abc"},
		Body:    map[string]any{"order": "123"},
	})

	if !resp.Success || resp.Status != http.StatusOK || resp.Err != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if string(resp.Body) != `{"status":"ok","id":42}` {
		t.Errorf("body = %s", resp.Body)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAgent != "test-agent" {
		t.Errorf("User-Agent = %q", gotAgent)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody["order"] != "123" {
		t.Errorf("request body = %v", gotBody)
	}
}

func TestInvoke_FormBody(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp := newInvoker(t).Invoke(context.Background(), runtime.WebhookRequest{
		URL:         srv.URL,
		Method:      "POST",
		ContentType: runtime.ContentTypeForm,
		Body:        map[string]any{"amount": 10, "metadata": map[string]any{"order": "a1"}},
	})

	if !resp.Success {
		t.Fatalf("unexpected failure: %+v", resp)
	}
	if form.Get("amount") != "10" || form.Get("metadata[order]") != "a1" {
		t.Errorf("form = %v", form)
	}
}

func TestInvoke_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp := newInvoker(t).Invoke(context.Background(), runtime.WebhookRequest{URL: srv.URL, Method: "GET"})
	if resp.Success {
		t.Fatal("502 should not be a success")
	}
	if resp.Status != http.StatusBadGateway || resp.Err == nil {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestInvoke_TransportErrorAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp := newInvoker(t).Invoke(ctx, runtime.WebhookRequest{URL: srv.URL, Method: "GET"})
	if resp.Success || resp.Err == nil || resp.Status != 0 {
		t.Errorf("expected a transport failure, got %+v", resp)
	}
}

func TestInvoke_NotInitialized(t *testing.T) {
	resp := (&Invoker{}).Invoke(context.Background(), runtime.WebhookRequest{URL: "http://localhost", Method: "GET"})
	if resp.Success || resp.Err == nil {
		t.Errorf("expected failure, got %+v", resp)
	}
}

func TestFlattenToFormData(t *testing.T) {
	tests := []struct {
		name     string
		input    map[string]any
		expected map[string]string
	}{
		{
			name: "simple values",
			input: map[string]any{
				"amount":   1099,
				"currency": "usd",
			},
			expected: map[string]string{
				"amount":   "1099",
				"currency": "usd",
			},
		},
		{
			name: "nested map",
			input: map[string]any{
				"amount": 1099,
				"metadata": map[string]any{
					"order_id": "12345",
					"user":     "john",
				},
			},
			expected: map[string]string{
				"amount":             "1099",
				"metadata[order_id]": "12345",
				"metadata[user]":     "john",
			},
		},
		{
			name: "deeply nested",
			input: map[string]any{
				"shipping": map[string]any{
					"address": map[string]any{
						"city":    "NYC",
						"country": "US",
					},
				},
			},
			expected: map[string]string{
				"shipping[address][city]":    "NYC",
				"shipping[address][country]": "US",
			},
		},
		{
			name: "array values",
			input: map[string]any{
				"items": []any{"item1", "item2"},
			},
			expected: map[string]string{
				"items[0]": "item1",
				"items[1]": "item2",
			},
		},
		{
			name: "array of objects",
			input: map[string]any{
				"line_items": []any{
					map[string]any{"price": "price_123", "quantity": 2},
					map[string]any{"price": "price_456", "quantity": 1},
				},
			},
			expected: map[string]string{
				"line_items[0][price]":    "price_123",
				"line_items[0][quantity]": "2",
				"line_items[1][price]":    "price_456",
				"line_items[1][quantity]": "1",
			},
		},
		{
			name: "stripe payment intent example",
			input: map[string]any{
				"amount":               1099,
				"currency":             "usd",
				"payment_method_types": []any{"card"},
				"metadata": map[string]any{
					"order_id": "order_123",
				},
			},
			expected: map[string]string{
				"amount":                  "1099",
				"currency":                "usd",
				"payment_method_types[0]": "card",
				"metadata[order_id]":      "order_123",
			},
		},
		{
			name:     "empty map",
			input:    map[string]any{},
			expected: map[string]string{},
		},
		{
			name: "boolean and float",
			input: map[string]any{
				"enabled": true,
				"rate":    0.15,
			},
			expected: map[string]string{
				"enabled": "true",
				"rate":    "0.15",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := flattenToFormData(tt.input, "")

			if len(result) != len(tt.expected) {
				t.Errorf("length mismatch: got %d, want %d\ngot: %v\nwant: %v",
					len(result), len(tt.expected), result, tt.expected)
				return
			}

			for key, expectedVal := range tt.expected {
				if gotVal, ok := result[key]; !ok {
					t.Errorf("missing key %q", key)
				} else if gotVal != expectedVal {
					t.Errorf("key %q: got %q, want %q", key, gotVal, expectedVal)
				}
			}
		})
	}
}
