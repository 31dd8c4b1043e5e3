// Package pubsub backs the job queue with a Google Cloud Pub/Sub topic, so
// API and worker processes can scale independently.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/crawl"
)

// Queue publishes queue items to a topic and, when a subscription is
// configured, receives them for local dequeue.
type Queue struct {
	client *gpubsub.Client
	topic  *gpubsub.Topic
	logger *zap.Logger

	recvOnce sync.Once
	recvMu   sync.Mutex
	recvErr  error
	items    chan crawl.QueueItem
	sub      *gpubsub.Subscription
	cancel   context.CancelFunc
}

// New connects to Pub/Sub with Application Default Credentials and verifies
// the topic exists. subscriptionID may be empty for publish-only use.
func New(ctx context.Context, projectID, topicID, subscriptionID string, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := gpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	q := &Queue{
		client: client,
		topic:  topic,
		logger: logger,
		items:  make(chan crawl.QueueItem),
	}
	if subscriptionID != "" {
		q.sub = client.Subscription(subscriptionID)
	}
	return q, nil
}

// Enqueue publishes the item and waits for the server acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, item crawl.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	result := q.topic.Publish(ctx, &gpubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue returns the next item from the subscription. The first call starts
// the background receive loop; messages are acked once handed to the caller.
func (q *Queue) Dequeue(ctx context.Context) (crawl.QueueItem, error) {
	if q.sub == nil {
		return crawl.QueueItem{}, fmt.Errorf("queue has no subscription configured")
	}
	q.recvOnce.Do(func() { q.startReceive() })

	select {
	case <-ctx.Done():
		return crawl.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.items:
		if !ok {
			if err := q.receiveErr(); err != nil {
				return crawl.QueueItem{}, fmt.Errorf("pubsub receive loop failed: %w", err)
			}
			return crawl.QueueItem{}, fmt.Errorf("pubsub receive loop stopped")
		}
		return item, nil
	}
}

func (q *Queue) receiveErr() error {
	q.recvMu.Lock()
	defer q.recvMu.Unlock()
	return q.recvErr
}

func (q *Queue) startReceive() {
	recvCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	go func() {
		defer close(q.items)
		err := q.sub.Receive(recvCtx, func(ctx context.Context, msg *gpubsub.Message) {
			var item crawl.QueueItem
			if err := json.Unmarshal(msg.Data, &item); err != nil {
				q.logger.Warn("discarding malformed queue message", zap.Error(err))
				msg.Ack()
				return
			}
			select {
			case q.items <- item:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
			}
		})
		if err != nil && recvCtx.Err() == nil {
			q.recvMu.Lock()
			q.recvErr = err
			q.recvMu.Unlock()
			q.logger.Error("pubsub receive loop failed", zap.Error(err))
		}
	}()
}

// Close stops the receive loop and closes the client.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
