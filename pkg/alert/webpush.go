package alert

import (
	"encoding/json"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPushSubscription is one browser push endpoint to notify.
type WebPushSubscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// WebPushChannel delivers fired alerts as browser push notifications.
type WebPushChannel struct {
	subscriptions []WebPushSubscription
	vapidPublic   string
	vapidPrivate  string
	subscriber    string
}

// NewWebPushChannel constructs a WebPushChannel. subscriber is the
// contact address sent in the VAPID claims (an email or URL).
func NewWebPushChannel(subs []WebPushSubscription, vapidPublic, vapidPrivate, subscriber string) (*WebPushChannel, error) {
	if vapidPublic == "" || vapidPrivate == "" {
		return nil, fmt.Errorf("alert: webpush requires a vapid key pair")
	}
	return &WebPushChannel{subscriptions: subs, vapidPublic: vapidPublic, vapidPrivate: vapidPrivate, subscriber: subscriber}, nil
}

func (w *WebPushChannel) Name() string { return "webpush" }

// Send delivers the alert to every registered subscription, returning
// the first error encountered but still attempting every subscription.
func (w *WebPushChannel) Send(a Alert) error {
	body, err := json.Marshal(map[string]any{
		"title": a.RuleName,
		"body":  fmt.Sprintf("%d matching events in %s", a.Count, a.Window),
		"tag":   a.AlertID,
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, sub := range w.subscriptions {
		resp, err := webpush.SendNotification(body, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, &webpush.Options{
			VAPIDPublicKey:  w.vapidPublic,
			VAPIDPrivateKey: w.vapidPrivate,
			Subscriber:      w.subscriber,
			TTL:             60,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			if firstErr == nil {
				firstErr = fmt.Errorf("alert: webpush endpoint %s returned %d", sub.Endpoint, resp.StatusCode)
			}
		}
	}
	return firstErr
}
