// Package push delivers Web Push notifications to offline recipients so
// missed chat messages still surface on their devices.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/repository"
)

// Sender sends Web Push notifications to every subscription a user has
// registered. A nil Sender (push disabled) is handled by the hub.
type Sender struct {
	repo    *repository.PushRepository
	options *webpush.Options
}

// NewSender builds a Sender; returns nil when the key pair is absent so
// callers can treat push as disabled.
func NewSender(repo *repository.PushRepository, subscriber, vapidPublic, vapidPrivate string) *Sender {
	if vapidPublic == "" || vapidPrivate == "" {
		return nil
	}
	return &Sender{
		repo: repo,
		options: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
			TTL:             30,
		},
	}
}

type payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify fans a notification out to the user's subscriptions. Failures are
// logged, and subscriptions reported gone by the push service are pruned.
// Satisfies ws.PushNotifier.
func (s *Sender) Notify(ctx context.Context, userID int64, title, body string, data map[string]string) {
	defer logger.DeferLogDuration("push.Notify", time.Now())()
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push list subscriptions user=%d: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	msg, err := json.Marshal(payload{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push marshal payload: %v", err)
		return
	}

	for _, sub := range subs {
		wsub := &webpush.Subscription{Endpoint: sub.Endpoint}
		wsub.Keys.P256dh = sub.Keys.P256dh
		wsub.Keys.Auth = sub.Keys.Auth

		resp, err := webpush.SendNotificationWithContext(ctx, msg, wsub, s.options)
		if err != nil {
			logger.Errorf("push send user=%d: %v", userID, err)
			continue
		}
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := s.repo.DeleteEndpoint(ctx, sub.Endpoint); err != nil {
				logger.Errorf("push prune endpoint: %v", err)
			}
		}
		resp.Body.Close()
	}
}
