// Package notify is the engine's notification sink. Notifications are
// best-effort side effects: a failure here is logged and never propagated to
// the booking/session transition that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"lunex-backend/internal/model"
)

// Notifier is the fire-and-forget sink consumed by the engine components.
type Notifier interface {
	Notify(ctx context.Context, userID string, typ model.NotificationType, title, message string, data map[string]any)
}

// Service stores notifications and hands push delivery to a worker pool.
type Service struct {
	db   *gorm.DB
	pool *WorkerPool
}

// NewService creates the notification service. The pool must be started by
// the caller.
func NewService(db *gorm.DB, webpushOptions *webpush.Options, poolSize int) *Service {
	return &Service{
		db:   db,
		pool: NewWorkerPool(poolSize, db, webpushOptions),
	}
}

// Start launches the push delivery workers.
func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Notify persists an in-app notification row and queues push delivery.
func (s *Service) Notify(ctx context.Context, userID string, typ model.NotificationType, title, message string, data map[string]any) {
	payload := ""
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Printf("notify: could not marshal payload for user %s: %v", userID, err)
		} else {
			payload = string(raw)
		}
	}

	n := model.Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    payload,
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		log.Printf("notify: failed to store notification for user %s: %v", userID, err)
		return
	}

	s.pool.Dispatch(pushJob{UserID: userID, Title: title, Message: message})
}

// Discard is a Notifier that drops everything, for tests and for running
// without push configured.
type Discard struct{}

func (Discard) Notify(context.Context, string, model.NotificationType, string, string, map[string]any) {
}
