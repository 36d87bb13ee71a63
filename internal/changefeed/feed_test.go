package changefeed

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFeedDeliversByEntity(t *testing.T) {
	feed := NewMemoryFeed()

	var messages, conversations []Event
	feed.Subscribe(EntityMessages, func(e Event) { messages = append(messages, e) })
	feed.Subscribe(EntityConversations, func(e Event) { conversations = append(conversations, e) })

	require.NoError(t, feed.Publish(context.Background(), NewEvent(EntityMessages, OpInsert, 7, 1, 2)))

	require.Len(t, messages, 1)
	assert.Empty(t, conversations)
	assert.Equal(t, int64(7), messages[0].ConversationID)
	assert.Equal(t, []int64{1, 2}, messages[0].ParticipantIDs)
}

func TestMemoryFeedResyncReachesEverySubscriber(t *testing.T) {
	feed := NewMemoryFeed()

	calls := 0
	feed.Subscribe(EntityMessages, func(Event) { calls++ })
	feed.Subscribe(EntityConversations, func(Event) { calls++ })

	require.NoError(t, feed.Publish(context.Background(), ResyncEvent()))
	assert.Equal(t, 2, calls)
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	feed := NewMemoryFeed()

	calls := 0
	unsubscribe := feed.Subscribe(EntityMessages, func(Event) { calls++ })
	unsubscribe()
	unsubscribe()

	require.NoError(t, feed.Publish(context.Background(), NewEvent(EntityMessages, OpUpdate, 1)))
	assert.Zero(t, calls)
	assert.Zero(t, feed.registry.count())
}

func TestMemoryFeedRejectsPublishAfterClose(t *testing.T) {
	feed := NewMemoryFeed()
	require.NoError(t, feed.Close())

	err := feed.Publish(context.Background(), NewEvent(EntityMessages, OpInsert, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecodeEventRejectsMissingOp(t *testing.T) {
	_, err := decodeEvent([]byte(`{"entity":"messages"}`))
	assert.Error(t, err)

	encoded, err := encodeEvent(NewEvent(EntityConversations, OpUpdate, 3, 4, 5))
	require.NoError(t, err)
	decoded, err := decodeEvent(encoded)
	require.NoError(t, err)
	assert.Equal(t, EntityConversations, decoded.Entity)
	assert.Equal(t, OpUpdate, decoded.Op)
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := &backoff{min: time.Second, max: 5 * time.Second}

	assert.Equal(t, time.Second, b.next())
	assert.Equal(t, 2*time.Second, b.next())
	assert.Equal(t, 4*time.Second, b.next())
	assert.Equal(t, 5*time.Second, b.next())
	assert.Equal(t, 5*time.Second, b.next())

	b.reset()
	assert.Equal(t, time.Second, b.next())
}

func TestBackoffWaitStopsOnCancel(t *testing.T) {
	b := &backoff{min: time.Hour, max: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, b.wait(ctx))
}

type recordingExecer struct {
	mu   sync.Mutex
	sql  string
	args []any
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func TestPostgresFeedPublishUsesPgNotify(t *testing.T) {
	publisher := &recordingExecer{}
	feed := &PostgresFeed{publisher: publisher, channel: DefaultPostgresChannel, registry: newRegistry()}

	event := NewEvent(EntityMessages, OpInsert, 42, 1, 2)
	require.NoError(t, feed.Publish(context.Background(), event))

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Contains(t, publisher.sql, "pg_notify")
	require.Len(t, publisher.args, 2)
	assert.Equal(t, DefaultPostgresChannel, publisher.args[0])

	var sent Event
	require.NoError(t, json.Unmarshal([]byte(publisher.args[1].(string)), &sent))
	assert.Equal(t, event.ID, sent.ID)
}

func TestRedisFeedRoundTrip(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("skipping redis test: REDIS_URL is not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, redisURL)
	require.NoError(t, err)

	feed := NewRedisFeed(client, "chamba:changefeed:test")
	defer feed.Close()

	received := make(chan Event, 1)
	feed.Subscribe(EntityMessages, func(e Event) {
		select {
		case received <- e:
		default:
		}
	})

	event := NewEvent(EntityMessages, OpInsert, 9, 1, 2)
	require.Eventually(t, func() bool {
		if err := feed.Publish(ctx, event); err != nil {
			return false
		}
		select {
		case got := <-received:
			return got.ID == event.ID
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}
