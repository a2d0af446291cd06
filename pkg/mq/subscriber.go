package mq

import (
	"context"

	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/observability"
)

// NotificationSubscriber runs SubscribeNotifications as a supervised service.
// A closed broker channel ends Serve with an error so the supervisor
// resubscribes on a fresh channel.
type NotificationSubscriber struct {
	client *Client
	sink   func(job.Result)
}

func NewNotificationSubscriber(client *Client, sink func(job.Result)) *NotificationSubscriber {
	return &NotificationSubscriber{client: client, sink: sink}
}

func (s *NotificationSubscriber) Serve(ctx context.Context) error {
	return s.client.SubscribeNotifications(ctx, func(r job.Result) {
		observability.NotificationsReceived.Inc()
		s.sink(r)
	})
}

func (s *NotificationSubscriber) String() string { return "notification-subscriber" }
