package changefeed

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const DefaultPostgresChannel = "chamba_changefeed"

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresFeed uses LISTEN/NOTIFY. Notifications are published through the
// shared pool and received on a dedicated connection.
type PostgresFeed struct {
	connString string
	publisher  execer
	channel    string
	registry   *registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPostgresFeed(connString string, publisher execer, channel string) *PostgresFeed {
	if channel == "" {
		channel = DefaultPostgresChannel
	}
	ctx, cancel := context.WithCancel(context.Background())
	feed := &PostgresFeed{
		connString: connString,
		publisher:  publisher,
		channel:    channel,
		registry:   newRegistry(),
		cancel:     cancel,
	}

	feed.wg.Add(1)
	go feed.listen(ctx)
	return feed
}

func (f *PostgresFeed) Publish(ctx context.Context, event Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if _, err := f.publisher.Exec(ctx, "SELECT pg_notify($1, $2)", f.channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (f *PostgresFeed) Subscribe(entity Entity, handler Handler) Unsubscribe {
	return f.registry.subscribe(entity, handler)
}

func (f *PostgresFeed) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}

func (f *PostgresFeed) listen(ctx context.Context) {
	defer f.wg.Done()

	retry := newBackoff()
	connected := false
	for ctx.Err() == nil {
		err := f.receive(ctx, func() {
			if connected {
				f.registry.dispatch(ResyncEvent())
			}
			connected = true
			retry.reset()
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("changefeed postgres: listener lost: %v", err)
		if !retry.wait(ctx) {
			return
		}
	}
}

func (f *PostgresFeed) receive(ctx context.Context, onListening func()) error {
	conn, err := pgx.Connect(ctx, f.connString)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	onListening()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		event, err := decodeEvent([]byte(notification.Payload))
		if err != nil {
			log.Printf("changefeed postgres: %v", err)
			continue
		}
		f.registry.dispatch(event)
	}
}
