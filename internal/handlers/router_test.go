package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/strike-edge/api/internal/domain"
)

func TestRouterServesHealthProbes(t *testing.T) {
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthBuildInfo(map[string]string{"version": "1.2.3"}),
	)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("healthz payload = %v", payload)
	}
	build, ok := payload["build"].(map[string]any)
	if !ok || build["version"] != "1.2.3" {
		t.Fatalf("build info = %v", payload["build"])
	}
}

func TestRouterReadyzReflectsDependencyFailure(t *testing.T) {
	healthy := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthReadiness(func(ctx context.Context) error { return nil }),
	)))
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}

	degraded := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthReadiness(func(ctx context.Context) error {
			return errors.New("dependency firestore: unavailable")
		}),
	)))
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded readyz status = %d", rec.Code)
	}
}

func TestRouterUnknownRouteReturnsNotFound(t *testing.T) {
	router := NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouterUnconfiguredGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/cashfree", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouterMountsRegistrars(t *testing.T) {
	orderHandlers := NewOrderHandlers(nil, &stubOrderService{
		listMineFn: func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			return domain.CursorPage[domain.Order]{}, nil
		},
	})

	router := NewRouter(WithOrderRoutes(orderHandlers.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/", nil)
	req = identityContext(req, "user_1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}
