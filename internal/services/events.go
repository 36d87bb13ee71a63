package services

import (
	"context"
	"log"
	"time"

	"github.com/saeid-a/ChambaBack/internal/changefeed"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/notify"
)

const publishTimeout = 2 * time.Second

type notificationSink interface {
	Fire(notification notify.Notification)
}

// publishChange runs after commit. The write already succeeded, so a feed
// failure is logged and clients converge on their next resync.
func publishChange(
	ctx context.Context,
	feed changefeed.Feed,
	entity changefeed.Entity,
	op changefeed.Op,
	conversation *models.Conversation,
) {
	if feed == nil || conversation == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := changefeed.NewEvent(entity, op, conversation.ID, conversation.ParticipantIDs()...)
	if err := feed.Publish(ctx, event); err != nil {
		log.Printf("changefeed publish %s/%s conversation %d: %v", entity, op, conversation.ID, err)
	}
}

func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
