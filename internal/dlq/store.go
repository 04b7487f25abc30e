package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/samuniv/saga-commerce/internal/errs"
	"github.com/samuniv/saga-commerce/internal/kafka"
)

// retention bounds how long a dead letter stays inspectable.
const retention = 24 * time.Hour

// publisher republishes messages during replay; satisfied by *kafka.Producer.
type publisher interface {
	PublishMessage(ctx context.Context, msg kafkago.Message) error
}

// Store indexes dead-lettered messages by message key and exposes
// inspection and replay. It is fed by the Monitor consuming the dead letter
// topic.
type Store struct {
	pub    publisher
	logger *zap.Logger

	mu       sync.RWMutex
	messages map[string]kafka.DeadLetterMessage
}

func NewStore(pub publisher, logger *zap.Logger) *Store {
	return &Store{
		pub:      pub,
		logger:   logger,
		messages: make(map[string]kafka.DeadLetterMessage),
	}
}

// Put records or refreshes the dead letter for a message key and prunes
// entries past retention.
func (s *Store) Put(key string, msg kafka.DeadLetterMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[key] = msg

	cutoff := time.Now().UTC().Add(-retention)
	for k, m := range s.messages {
		if m.FailedAt.Before(cutoff) {
			delete(s.messages, k)
		}
	}
}

// Get returns the dead letter for a message key.
func (s *Store) Get(key string) (kafka.DeadLetterMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[key]
	return m, ok
}

// MessageSummary is the inspection view of one dead letter.
type MessageSummary struct {
	MessageKey    string    `json:"messageKey"`
	OriginalTopic string    `json:"originalTopic"`
	ErrorReason   string    `json:"errorReason"`
	RetryCount    int       `json:"retryCount"`
	FailedAt      time.Time `json:"failedAt"`
}

// Statistics aggregates the store contents for the admin API.
type Statistics struct {
	TotalMessages        int              `json:"totalMessages"`
	LastHourMessages     int              `json:"lastHourMessages"`
	MessagesByTopic      map[string]int   `json:"messagesByTopic"`
	MessagesByErrorType  map[string]int   `json:"messagesByErrorType"`
	MessagesByRetryCount map[int]int      `json:"messagesByRetryCount"`
	LastMessageFailedAt  time.Time        `json:"lastMessageFailedAt"`
	RecentMessages       []MessageSummary `json:"recentMessages"`
}

// Stats computes counts by topic, error reason and retry count, last-hour
// volume, and the ten most recent failures.
func (s *Store) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	stats := Statistics{
		MessagesByTopic:      make(map[string]int),
		MessagesByErrorType:  make(map[string]int),
		MessagesByRetryCount: make(map[int]int),
	}

	summaries := make([]MessageSummary, 0, len(s.messages))
	for key, m := range s.messages {
		stats.TotalMessages++
		if m.FailedAt.After(now.Add(-time.Hour)) {
			stats.LastHourMessages++
		}
		stats.MessagesByTopic[m.OriginalTopic]++
		stats.MessagesByErrorType[m.ErrorReason]++
		stats.MessagesByRetryCount[m.RetryCount]++
		if m.FailedAt.After(stats.LastMessageFailedAt) {
			stats.LastMessageFailedAt = m.FailedAt
		}
		summaries = append(summaries, MessageSummary{
			MessageKey:    key,
			OriginalTopic: m.OriginalTopic,
			ErrorReason:   m.ErrorReason,
			RetryCount:    m.RetryCount,
			FailedAt:      m.FailedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].FailedAt.After(summaries[j].FailedAt)
	})
	if len(summaries) > 10 {
		summaries = summaries[:10]
	}
	stats.RecentMessages = summaries

	return stats
}

// Replay republishes the dead letter for key to its original topic with its
// original headers, then evicts it from the store.
func (s *Store) Replay(ctx context.Context, key string) error {
	s.mu.RLock()
	msg, ok := s.messages[key]
	s.mu.RUnlock()
	if !ok {
		return errs.NotFound("no dead letter for message key %s", key)
	}

	if err := s.pub.PublishMessage(ctx, msg.OriginalMessage()); err != nil {
		return errs.Wrap(errs.KindTransientChannel, err, "replay %s to %s", key, msg.OriginalTopic)
	}

	s.mu.Lock()
	delete(s.messages, key)
	s.mu.Unlock()

	s.logger.Info("dead letter replayed",
		zap.String("message_key", key),
		zap.String("topic", msg.OriginalTopic))
	return nil
}

// ReplayResult reports the outcome of a bulk replay.
type ReplayResult struct {
	Replayed int               `json:"replayed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// ReplayAll replays every stored message, collecting per-key failures
// instead of aborting on the first one.
func (s *Store) ReplayAll(ctx context.Context) ReplayResult {
	s.mu.RLock()
	keys := make([]string, 0, len(s.messages))
	for k := range s.messages {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	result := ReplayResult{Failed: make(map[string]string)}
	for _, key := range keys {
		if err := s.Replay(ctx, key); err != nil {
			if errs.IsKind(err, errs.KindNotFound) {
				continue // replayed concurrently
			}
			result.Failed[key] = err.Error()
			s.logger.Warn("bulk replay: message failed",
				zap.String("message_key", key),
				zap.Error(err))
			continue
		}
		result.Replayed++
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result
}
