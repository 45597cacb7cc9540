package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strike-edge/api/internal/services"
)

type stubReconciliation struct {
	handleFn func(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error)
}

func (s *stubReconciliation) HandleNotification(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error) {
	if s.handleFn == nil {
		return services.Ack{}, errors.New("unexpected HandleNotification call")
	}
	return s.handleFn(ctx, raw, signature, timestamp)
}

func newWebhookRouter(svc services.ReconciliationService, cfg WebhookHandlerConfig) chi.Router {
	handlers := NewWebhookHandlers(svc, cfg)
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func TestWebhookAcksAppliedDelivery(t *testing.T) {
	var gotSignature, gotTimestamp, gotBody string
	svc := &stubReconciliation{
		handleFn: func(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error) {
			gotBody = string(raw)
			gotSignature = signature
			gotTimestamp = timestamp
			return services.Ack{Outcome: services.AckApplied, OrderID: "ord_1", GatewayOrderID: "SE-250901-00042"}, nil
		},
	}
	router := newWebhookRouter(svc, WebhookHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`))
	req.Header.Set("x-webhook-signature", "sig-value")
	req.Header.Set("x-webhook-timestamp", "1756706400")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if gotSignature != "sig-value" || gotTimestamp != "1756706400" {
		t.Fatalf("headers = %q / %q", gotSignature, gotTimestamp)
	}
	if gotBody != `{"type":"PAYMENT_SUCCESS_WEBHOOK"}` {
		t.Fatalf("body = %q, raw bytes must pass through unmodified", gotBody)
	}

	var response webhookAckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Outcome != "applied" || response.OrderID != "ord_1" {
		t.Fatalf("response = %+v", response)
	}
}

func TestWebhookDuplicateStillAcksOK(t *testing.T) {
	svc := &stubReconciliation{
		handleFn: func(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error) {
			return services.Ack{Outcome: services.AckDuplicate, OrderID: "ord_1"}, nil
		},
	}
	router := newWebhookRouter(svc, WebhookHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, duplicates must be acked", rec.Code)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	svc := &stubReconciliation{
		handleFn: func(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error) {
			return services.Ack{}, fmt.Errorf("%w: hmac mismatch", services.ErrInvalidSignature)
		},
	}
	router := newWebhookRouter(svc, WebhookHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookStoreFailureIsNotAcked(t *testing.T) {
	svc := &stubReconciliation{
		handleFn: func(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error) {
			return services.Ack{}, errors.New("firestore unavailable")
		},
	}
	router := newWebhookRouter(svc, WebhookHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, store failures must trigger gateway retry", rec.Code)
	}
}

func TestWebhookHonoursCustomHeaders(t *testing.T) {
	svc := &stubReconciliation{
		handleFn: func(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error) {
			if signature != "custom-sig" {
				t.Fatalf("signature = %q", signature)
			}
			return services.Ack{Outcome: services.AckIgnored}, nil
		},
	}
	router := newWebhookRouter(svc, WebhookHandlerConfig{
		SignatureHeader: "x-cf-signature",
		TimestampHeader: "x-cf-timestamp",
	})

	req := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{}`))
	req.Header.Set("x-cf-signature", "custom-sig")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookRateLimitsPerSource(t *testing.T) {
	svc := &stubReconciliation{
		handleFn: func(ctx context.Context, raw []byte, signature, timestamp string) (services.Ack, error) {
			return services.Ack{Outcome: services.AckIgnored}, nil
		},
	}
	now := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	router := newWebhookRouter(svc, WebhookHandlerConfig{
		RatePerMinute: 2,
		Clock:         func() time.Time { return now },
	})

	// Each connection carries a fresh ephemeral port; the bucket must be
	// keyed by host so the ports share one budget.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{}`))
		req.RemoteAddr = fmt.Sprintf("203.0.113.5:%d", 4711+i)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{}`))
	req.RemoteAddr = "203.0.113.5:4713"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want throttling after the limit", rec.Code)
	}

	// A different source host keeps its own budget.
	other := httptest.NewRequest(http.MethodPost, "/cashfree", strings.NewReader(`{}`))
	other.RemoteAddr = "198.51.100.7:4711"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want separate bucket per host", rec.Code)
	}
}
