package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetterMessage wraps a message that exhausted its retries, together with
// everything needed to inspect and later replay it.
type DeadLetterMessage struct {
	OriginalTopic string            `json:"originalTopic"`
	MessageKey    string            `json:"messageKey"`
	MessageValue  string            `json:"messageValue"`
	ErrorReason   string            `json:"errorReason"`
	RetryCount    int               `json:"retryCount"`
	FailedAt      time.Time         `json:"failedAt"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// NewDeadLetterMessage captures a failed message and its error context.
func NewDeadLetterMessage(msg kafka.Message, cause error, retryCount int) DeadLetterMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return DeadLetterMessage{
		OriginalTopic: msg.Topic,
		MessageKey:    string(msg.Key),
		MessageValue:  string(msg.Value),
		ErrorReason:   cause.Error(),
		RetryCount:    retryCount,
		FailedAt:      time.Now().UTC(),
		Headers:       headers,
	}
}

// OriginalMessage rebuilds the wrapped message for republication to its
// original topic, headers included. The retry counter is dropped so a
// replayed message starts with a fresh set of attempts.
func (d DeadLetterMessage) OriginalMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(d.Headers))
	for k, v := range d.Headers {
		if k == HeaderRetryCount {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   d.OriginalTopic,
		Key:     []byte(d.MessageKey),
		Value:   []byte(d.MessageValue),
		Headers: headers,
	}
}
