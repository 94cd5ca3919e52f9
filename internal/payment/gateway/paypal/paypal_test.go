package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/gateway"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "wh-1",
		BaseURL:      server.URL,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client, server
}

func writeToken(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "token-1",
		"expires_in":   3600,
	})
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{ClientID: "only-id"}, zap.NewNop()); !errors.Is(err, domain.ErrAuthConfig) {
		t.Fatalf("expected ErrAuthConfig, got %v", err)
	}
	if _, err := New(Config{ClientSecret: "only-secret"}, zap.NewNop()); !errors.Is(err, domain.ErrAuthConfig) {
		t.Fatalf("expected ErrAuthConfig, got %v", err)
	}
}

func TestCreateOrderSendsIdempotencyKey(t *testing.T) {
	var gotRequestID string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w)
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("PayPal-Request-Id")

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode order body: %v", err)
		}
		if body["intent"] != "CAPTURE" {
			t.Fatalf("expected CAPTURE intent, got %v", body["intent"])
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER-1",
			"status": "CREATED",
			"links": []map[string]string{
				{"rel": "approve", "href": "https://paypal.test/approve/ORDER-1"},
			},
		})
	})

	client, _ := newTestClient(t, mux)
	handle, err := client.CreateOrder(context.Background(), gateway.OrderRequest{
		RequestID: "trx-42",
		Amount:    500,
		Currency:  "EUR",
		Reference: "ticket-3",
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if handle.OrderID != "ORDER-1" {
		t.Fatalf("unexpected order id %q", handle.OrderID)
	}
	if handle.ApprovalURL != "https://paypal.test/approve/ORDER-1" {
		t.Fatalf("unexpected approval url %q", handle.ApprovalURL)
	}
	if gotRequestID != "trx-42" {
		t.Fatalf("expected PayPal-Request-Id trx-42, got %q", gotRequestID)
	}
}

func TestTokenIsCached(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		writeToken(w)
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ORDER-1"})
	})

	client, _ := newTestClient(t, mux)
	for i := 0; i < 3; i++ {
		if _, err := client.CreateOrder(context.Background(), gateway.OrderRequest{
			RequestID: "trx-1", Amount: 100, Currency: "EUR",
		}); err != nil {
			t.Fatalf("CreateOrder returned error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&tokenCalls); got != 1 {
		t.Fatalf("expected a single token call, got %d", got)
	}
}

func TestCaptureOrderParsesResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w)
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER-1",
			"status": "COMPLETED",
			"payer":  map[string]string{"email_address": "buyer@example.com"},
			"purchase_units": []map[string]any{{
				"payments": map[string]any{
					"captures": []map[string]any{{
						"id":     "CAP-1",
						"status": "COMPLETED",
						"amount": map[string]string{"currency_code": "EUR", "value": "5.00"},
					}},
				},
			}},
		})
	})

	client, _ := newTestClient(t, mux)
	result, err := client.CaptureOrder(context.Background(), "ORDER-1", "trx-1")
	if err != nil {
		t.Fatalf("CaptureOrder returned error: %v", err)
	}
	if result.CaptureID != "CAP-1" {
		t.Fatalf("unexpected capture id %q", result.CaptureID)
	}
	if result.Amount != 500 {
		t.Fatalf("expected amount 500, got %d", result.Amount)
	}
	if result.PayerEmail != "buyer@example.com" {
		t.Fatalf("unexpected payer email %q", result.PayerEmail)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"server error is retryable", http.StatusInternalServerError, domain.ErrGatewayUnavailable},
		{"bad gateway is retryable", http.StatusBadGateway, domain.ErrGatewayUnavailable},
		{"unprocessable is terminal", http.StatusUnprocessableEntity, domain.ErrGatewayRejected},
		{"unauthorized is config fault", http.StatusUnauthorized, domain.ErrGatewayAuth},
		{"forbidden is config fault", http.StatusForbidden, domain.ErrGatewayAuth},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
				writeToken(w)
			})
			mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			client, _ := newTestClient(t, mux)
			_, err := client.CreateOrder(context.Background(), gateway.OrderRequest{
				RequestID: "trx-1", Amount: 100, Currency: "EUR",
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
			}
		})
	}
}

func TestVerifyWebhook(t *testing.T) {
	verdict := "SUCCESS"
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w)
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode verify body: %v", err)
		}
		if req["webhook_id"] != "wh-1" {
			t.Fatalf("expected webhook_id wh-1, got %v", req["webhook_id"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": verdict})
	})

	client, _ := newTestClient(t, mux)

	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tid-1")
	headers.Set("Paypal-Transmission-Sig", "sig-1")
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	if err := client.VerifyWebhook(context.Background(), headers, body); err != nil {
		t.Fatalf("VerifyWebhook returned error: %v", err)
	}

	verdict = "WEBHOOK_ERROR"
	if err := client.VerifyWebhook(context.Background(), headers, body); !errors.Is(err, domain.ErrUnverified) {
		t.Fatalf("expected ErrUnverified, got %v", err)
	}

	// Missing transmission headers never reach the verify endpoint.
	if err := client.VerifyWebhook(context.Background(), http.Header{}, body); !errors.Is(err, domain.ErrUnverified) {
		t.Fatalf("expected ErrUnverified for missing headers, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"5.00":  500,
		"9.99":  999,
		"0.01":  1,
		"10":    1000,
		"10.5":  1050,
		"-1.25": -125,
	}
	for in, want := range cases {
		got, err := parseAmount(in)
		if err != nil {
			t.Fatalf("parseAmount(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("parseAmount(%q) = %d, want %d", in, got, want)
		}
	}
}
