package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []OrderNotificationMessage
	err      error
	done     chan struct{}
}

func newRecordingPublisher(buffer int) *recordingPublisher {
	return &recordingPublisher{done: make(chan struct{}, buffer)}
}

func (p *recordingPublisher) PublishOrderNotification(ctx context.Context, message OrderNotificationMessage) (string, error) {
	p.mu.Lock()
	p.messages = append(p.messages, message)
	p.mu.Unlock()
	p.done <- struct{}{}
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

func (p *recordingPublisher) wait(t *testing.T) OrderNotificationMessage {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish was not called")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[len(p.messages)-1]
}

type stubUserRepo struct {
	findByIDFn func(ctx context.Context, userID string) (domain.UserProfile, error)
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if s.findByIDFn == nil {
		return domain.UserProfile{}, errors.New("unexpected FindByID call")
	}
	return s.findByIDFn(ctx, userID)
}

func confirmedOrder() domain.Order {
	return domain.Order{
		ID:     "ord_1",
		Code:   "SE-250901-00042",
		UserID: "user_1",
		Status: domain.OrderStatusConfirmed,
		Shipping: domain.ShippingAddress{
			Phone: "9876543210",
		},
		Total:     6599,
		CreatedAt: time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC),
	}
}

func TestDispatchEnrichesMessageFromProfile(t *testing.T) {
	publisher := newRecordingPublisher(1)
	svc, err := NewNotificationService(NotificationServiceDeps{
		Publisher: publisher,
		Users: &stubUserRepo{
			findByIDFn: func(ctx context.Context, userID string) (domain.UserProfile, error) {
				return domain.UserProfile{ID: userID, Email: "asha@example.com", Phone: "9000000000"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}

	svc.DispatchOrderConfirmation(confirmedOrder())

	message := publisher.wait(t)
	if message.OrderCode != "SE-250901-00042" {
		t.Fatalf("order code = %q", message.OrderCode)
	}
	if message.Email != "asha@example.com" {
		t.Fatalf("email = %q", message.Email)
	}
	if message.Phone != "9000000000" {
		t.Fatalf("phone = %q, profile number should win", message.Phone)
	}
	if message.Event != "ORDER_CONFIRMED" {
		t.Fatalf("event = %q", message.Event)
	}
}

func TestDispatchFallsBackToShippingPhone(t *testing.T) {
	publisher := newRecordingPublisher(1)
	svc, err := NewNotificationService(NotificationServiceDeps{
		Publisher: publisher,
		Users: &stubUserRepo{
			findByIDFn: func(ctx context.Context, userID string) (domain.UserProfile, error) {
				return domain.UserProfile{}, errors.New("profile missing")
			},
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}

	svc.DispatchOrderConfirmation(confirmedOrder())

	message := publisher.wait(t)
	if message.Phone != "9876543210" {
		t.Fatalf("phone = %q, want shipping fallback", message.Phone)
	}
	if message.Email != "" {
		t.Fatalf("email = %q, want empty when lookup fails", message.Email)
	}
}

func TestDispatchSwallowsPublishFailures(t *testing.T) {
	publisher := newRecordingPublisher(1)
	publisher.err = errors.New("topic unavailable")

	var logMu sync.Mutex
	events := []string{}
	svc, err := NewNotificationService(NotificationServiceDeps{
		Publisher: publisher,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			logMu.Lock()
			events = append(events, event)
			logMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}

	svc.DispatchOrderConfirmation(confirmedOrder())
	publisher.wait(t)

	deadline := time.After(2 * time.Second)
	for {
		logMu.Lock()
		logged := len(events) > 0 && events[len(events)-1] == "notifications.publish_failed"
		logMu.Unlock()
		if logged {
			return
		}
		select {
		case <-deadline:
			t.Fatal("publish failure was not logged")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewNotificationServiceRequiresPublisher(t *testing.T) {
	if _, err := NewNotificationService(NotificationServiceDeps{}); err == nil {
		t.Fatal("expected constructor error")
	}
}
