package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/kafka"
)

// Monitor consumes the dead letter topic and feeds the Store. It runs with
// auto-committed offsets: the store is an inspection cache, losing a read
// does not lose the message.
type Monitor struct {
	r      *kafkago.Reader
	store  *Store
	logger *zap.Logger
}

func NewMonitor(brokers []string, groupID, topic string, store *Store, logger *zap.Logger) *Monitor {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     fmt.Sprintf("%s-dlq-monitor", groupID),
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	return &Monitor{r: r, store: store, logger: logger}
}

// Run reads dead letters until ctx is cancelled, then closes the reader.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.r.Close()

	for {
		msg, err := m.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			m.logger.Error("dlq monitor read failed", zap.Error(err))
			continue
		}

		var dead kafka.DeadLetterMessage
		if err := json.Unmarshal(msg.Value, &dead); err != nil {
			m.logger.Warn("dlq monitor: malformed dead letter, skipping",
				zap.String("key", string(msg.Key)),
				zap.Error(err))
			continue
		}

		m.store.Put(string(msg.Key), dead)
		m.logger.Info("dead letter recorded",
			zap.String("message_key", string(msg.Key)),
			zap.String("original_topic", dead.OriginalTopic),
			zap.String("error", dead.ErrorReason),
			zap.Int("retry_count", dead.RetryCount))
	}
}
